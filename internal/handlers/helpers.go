package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"udensfiltri/internal/middleware"
	"udensfiltri/internal/services"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// OKResponse is returned by endpoints without a payload.
type OKResponse struct {
	OK bool `json:"ok"`
}

const invalidCodeMsg = "Invalid or expired code"

// statusFor maps service errors onto HTTP status and client message.
func statusFor(err error) (int, string) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, services.ErrCodeLocked):
		return http.StatusTooManyRequests, invalidCodeMsg
	case errors.Is(err, services.ErrCodeInvalidOrExpired):
		return http.StatusBadRequest, invalidCodeMsg
	case errors.Is(err, services.ErrRateLimited):
		return http.StatusTooManyRequests, "Please wait before requesting a new code"
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusUnauthorized, "Authentication credentials were not provided."
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusBadRequest, "Invalid credentials"
	case errors.Is(err, services.ErrUserExists):
		return http.StatusBadRequest, "User with this email already exists"
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, services.ErrInvalidItem), errors.Is(err, services.ErrCurrencyMismatch):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrInvalidSignature):
		return http.StatusBadRequest, "invalid"
	case errors.Is(err, services.ErrPaymentProvider):
		return http.StatusBadGateway, "Payment provider error"
	case errors.Is(err, services.ErrDeliveryFailed):
		return http.StatusServiceUnavailable, "Could not deliver the verification code"
	}
	return http.StatusInternalServerError, "internal server error"
}

func respondError(c *gin.Context, log *zap.Logger, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("request_id", c.GetString(middleware.CtxRequestID)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Detail: msg})
}

// bindJSON decodes the body and answers 400 on malformed input.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
		return false
	}
	return true
}

func currentUserID(c *gin.Context) (int64, bool) {
	uid, _, ok := middleware.CurrentUser(c)
	return uid, ok
}
