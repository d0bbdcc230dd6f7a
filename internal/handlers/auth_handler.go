package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"udensfiltri/internal/middleware"
	"udensfiltri/internal/models"
	"udensfiltri/internal/services"
	"udensfiltri/internal/throttle"
)

type AuthHandler struct {
	accounts *services.AccountService
	sessions *services.SessionService
	gate     throttle.Gate
	cookies  *CookieWriter
	log      *zap.Logger
}

func NewAuthHandler(accounts *services.AccountService, sessions *services.SessionService, gate throttle.Gate, cookies *CookieWriter, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		sessions: sessions,
		gate:     gate,
		cookies:  cookies,
		log:      log.With(zap.String("component", "auth_http")),
	}
}

type RequestCodeRequest struct {
	Purpose    string `json:"purpose" binding:"required"`
	Identifier string `json:"identifier"`
	Email      string `json:"email"` // старое имя поля, принимается как identifier
}

type RegisterRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
	Code       string `json:"code" binding:"required"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
}

type LoginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

type ProfileRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

type ChangeEmailRequest struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

type ChangePhoneRequest struct {
	NewPhone string `json:"new_phone" binding:"required"`
	Code     string `json:"code" binding:"required"`
}

type ChangePasswordRequest struct {
	NewPassword string `json:"new_password" binding:"required"`
	Code        string `json:"code" binding:"required"`
}

type UserResponse struct {
	User *models.User `json:"user"`
}

// optionalUser loads the signed-in user, or nil for anonymous callers.
func (h *AuthHandler) optionalUser(c *gin.Context) (*models.User, error) {
	uid, ok := currentUserID(c)
	if !ok {
		return nil, nil
	}
	u, err := h.accounts.Me(c.Request.Context(), uid)
	if errors.Is(err, services.ErrUnauthorized) {
		return nil, nil
	}
	return u, err
}

// @Summary      Запросить одноразовый код
// @Description  Issues a 6-digit code for register / change_email / change_phone / change_password
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      RequestCodeRequest  true  "Purpose and identifier"
// @Success      200   {object}  OKResponse
// @Failure      400   {object}  ErrorResponse
// @Failure      401   {object}  ErrorResponse
// @Failure      429   {object}  ErrorResponse
// @Router       /auth/request-code/ [post]
func (h *AuthHandler) RequestCode(c *gin.Context) {
	var req RequestCodeRequest
	if !bindJSON(c, &req) {
		return
	}
	purpose, err := models.ParseCodePurpose(strings.TrimSpace(req.Purpose))
	if err != nil {
		respondError(c, h.log, &services.ValidationError{Field: "purpose", Msg: err.Error()})
		return
	}
	if !middleware.Allow(c, h.gate, throttle.ScopeCodeIP, c.ClientIP(), h.log) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Detail: "Request was throttled."})
		return
	}

	user, err := h.optionalUser(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	identifier := req.Identifier
	if strings.TrimSpace(identifier) == "" {
		identifier = req.Email
	}
	target, err := h.accounts.CodeTarget(purpose, identifier, user)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if !middleware.Allow(c, h.gate, throttle.ScopeCodeIdentifier, target.Value, h.log) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Detail: "Request was throttled."})
		return
	}

	if _, err := h.accounts.RequestCode(c.Request.Context(), purpose, identifier, user); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, OKResponse{OK: true})
}

// @Summary      Регистрация
// @Description  Consumes a register code and creates the account; sets access/refresh cookies
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      RegisterRequest  true  "Registration data"
// @Success      201   {object}  UserResponse
// @Failure      400   {object}  ErrorResponse
// @Failure      429   {object}  ErrorResponse
// @Router       /auth/register/ [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.accounts.Register(c.Request.Context(), services.RegisterInput{
		Identifier: req.Identifier,
		Password:   req.Password,
		Code:       strings.TrimSpace(req.Code),
		Email:      req.Email,
		Phone:      req.Phone,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if !h.startSession(c, user, "register") {
		return
	}
	c.JSON(http.StatusCreated, UserResponse{User: user})
}

// @Summary      Вход в систему
// @Description  Authenticates by email or phone and sets access/refresh cookies
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      LoginRequest  true  "Credentials"
// @Success      200   {object}  UserResponse
// @Failure      400   {object}  ErrorResponse
// @Router       /auth/login/ [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.accounts.Login(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if !h.startSession(c, user, "login") {
		return
	}
	c.JSON(http.StatusOK, UserResponse{User: user})
}

func (h *AuthHandler) startSession(c *gin.Context, user *models.User, reason string) bool {
	pair, err := h.sessions.IssueFor(user, reason)
	if err != nil {
		respondError(c, h.log, err)
		return false
	}
	h.cookies.Set(c, pair)
	return true
}

// @Summary      Обновить токены
// @Description  Rotates the refresh cookie into a new access/refresh pair
// @Tags         Auth
// @Produce      json
// @Success      200  {object}  OKResponse
// @Failure      401  {object}  ErrorResponse
// @Router       /auth/refresh/ [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	token := h.cookies.Refresh(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Detail: "No refresh cookie"})
		return
	}
	pair, user, err := h.sessions.Refresh(c.Request.Context(), token)
	if err != nil {
		h.log.Info("refresh rejected", zap.String("request_id", c.GetString(middleware.CtxRequestID)))
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Detail: "Invalid refresh"})
		return
	}
	h.cookies.Set(c, pair)
	h.log.Info("session refreshed", zap.Int64("user_id", user.ID))
	c.JSON(http.StatusOK, OKResponse{OK: true})
}

// @Summary      Выход
// @Tags         Auth
// @Produce      json
// @Success      200  {object}  OKResponse
// @Failure      401  {object}  ErrorResponse
// @Router       /auth/logout/ [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	h.sessions.RevokeRefresh(c.Request.Context(), h.cookies.Refresh(c))
	h.cookies.Clear(c)
	c.JSON(http.StatusOK, OKResponse{OK: true})
}

// @Summary      Текущий пользователь
// @Tags         Auth
// @Produce      json
// @Success      200  {object}  UserResponse
// @Failure      401  {object}  ErrorResponse
// @Router       /auth/me/ [get]
func (h *AuthHandler) Me(c *gin.Context) {
	uid, _ := currentUserID(c)
	user, err := h.accounts.Me(c.Request.Context(), uid)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, UserResponse{User: user})
}

// @Summary      Обновить профиль
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      ProfileRequest  true  "Names to change"
// @Success      200   {object}  UserResponse
// @Failure      400   {object}  ErrorResponse
// @Failure      401   {object}  ErrorResponse
// @Router       /auth/profile/ [patch]
func (h *AuthHandler) Profile(c *gin.Context) {
	var req ProfileRequest
	if !bindJSON(c, &req) {
		return
	}
	uid, _ := currentUserID(c)
	user, err := h.accounts.UpdateProfile(c.Request.Context(), uid, req.FirstName, req.LastName)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, UserResponse{User: user})
}

// @Summary      Сменить email
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      ChangeEmailRequest  true  "New email and code"
// @Success      200   {object}  UserResponse
// @Failure      400   {object}  ErrorResponse
// @Failure      429   {object}  ErrorResponse
// @Router       /auth/change-email/ [post]
func (h *AuthHandler) ChangeEmail(c *gin.Context) {
	var req ChangeEmailRequest
	if !bindJSON(c, &req) {
		return
	}
	uid, _ := currentUserID(c)
	user, err := h.accounts.ChangeEmail(c.Request.Context(), uid, req.Email, strings.TrimSpace(req.Code))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, UserResponse{User: user})
}

// @Summary      Сменить телефон
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      ChangePhoneRequest  true  "New phone and code"
// @Success      200   {object}  UserResponse
// @Failure      400   {object}  ErrorResponse
// @Failure      429   {object}  ErrorResponse
// @Router       /auth/change-phone/ [post]
func (h *AuthHandler) ChangePhone(c *gin.Context) {
	var req ChangePhoneRequest
	if !bindJSON(c, &req) {
		return
	}
	uid, _ := currentUserID(c)
	user, err := h.accounts.ChangePhone(c.Request.Context(), uid, req.NewPhone, strings.TrimSpace(req.Code))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, UserResponse{User: user})
}

// @Summary      Сменить пароль
// @Description  Clears the session cookies on success
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      ChangePasswordRequest  true  "New password and code"
// @Success      200   {object}  OKResponse
// @Failure      400   {object}  ErrorResponse
// @Failure      429   {object}  ErrorResponse
// @Router       /auth/change-password/ [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	uid, _ := currentUserID(c)
	if err := h.accounts.ChangePassword(c.Request.Context(), uid, req.NewPassword, strings.TrimSpace(req.Code)); err != nil {
		respondError(c, h.log, err)
		return
	}
	h.sessions.RevokeRefresh(c.Request.Context(), h.cookies.Refresh(c))
	h.cookies.Clear(c)
	c.JSON(http.StatusOK, OKResponse{OK: true})
}
