package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"udensfiltri/internal/middleware"
	"udensfiltri/internal/models"
	"udensfiltri/internal/services"
)

// maxWebhookBody bounds webhook payloads.
const maxWebhookBody = 64 << 10

type OrderHandler struct {
	orders *services.OrderService
	log    *zap.Logger
}

func NewOrderHandler(orders *services.OrderService, log *zap.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, log: log.With(zap.String("component", "orders_http"))}
}

// CheckoutItemRequest carries catalog references only. Any price fields sent
// by the client are ignored.
type CheckoutItemRequest struct {
	ProductID *int64 `json:"product_id"`
	ServiceID *int64 `json:"service_id"`
	Qty       *int   `json:"qty"`
}

type CheckoutRequest struct {
	Items    []CheckoutItemRequest `json:"items" binding:"required"`
	Currency string                `json:"currency"`
	Email    string                `json:"email"`
}

type CheckoutResponse struct {
	OrderID     int64  `json:"orderId"`
	CheckoutURL string `json:"checkoutUrl"`
}

// @Summary      Создать Stripe Checkout Session
// @Description  Prices the cart on the server, stores a created order and returns the payment redirect URL
// @Tags         Orders
// @Accept       json
// @Produce      json
// @Param        body  body      CheckoutRequest  true  "Cart"
// @Success      200   {object}  CheckoutResponse
// @Failure      400   {object}  ErrorResponse
// @Failure      401   {object}  ErrorResponse
// @Failure      429   {object}  ErrorResponse
// @Failure      502   {object}  ErrorResponse
// @Router       /orders/payments/create-checkout-session/ [post]
func (h *OrderHandler) CreateCheckoutSession(c *gin.Context) {
	var req CheckoutRequest
	if !bindJSON(c, &req) {
		return
	}
	in := services.CheckoutInput{Email: req.Email, Currency: req.Currency}
	if uid, ok := currentUserID(c); ok {
		in.UserID = &uid
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, services.CheckoutItem{ProductID: it.ProductID, ServiceID: it.ServiceID, Qty: it.Qty})
	}
	res, err := h.orders.CreateCheckout(c.Request.Context(), in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, CheckoutResponse{OrderID: res.Order.ID, CheckoutURL: res.CheckoutURL})
}

// @Summary      Stripe webhook
// @Description  Verifies the Stripe-Signature header and applies checkout events
// @Tags         Orders
// @Accept       json
// @Produce      json
// @Success      200  {object}  OKResponse
// @Failure      400  {object}  ErrorResponse
// @Router       /orders/payments/webhook/ [post]
func (h *OrderHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Detail: "invalid"})
		return
	}
	if err := h.orders.HandlePaymentEvent(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, OKResponse{OK: true})
}

// @Summary      Список заказов
// @Description  Own orders; staff see every order
// @Tags         Orders
// @Produce      json
// @Success      200  {array}   models.Order
// @Failure      401  {object}  ErrorResponse
// @Router       /orders/ [get]
func (h *OrderHandler) List(c *gin.Context) {
	uid, staff, _ := middleware.CurrentUser(c)
	orders, err := h.orders.List(c.Request.Context(), uid, staff)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	c.JSON(http.StatusOK, orders)
}

// @Summary      Заказ по ID
// @Tags         Orders
// @Produce      json
// @Param        id   path      int  true  "Order ID"
// @Success      200  {object}  models.Order
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /orders/{id}/ [get]
func (h *OrderHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, h.log, services.ErrNotFound)
		return
	}
	uid, staff, _ := middleware.CurrentUser(c)
	o, err := h.orders.Get(c.Request.Context(), id, uid, staff)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
