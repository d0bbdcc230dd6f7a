package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"udensfiltri/internal/config"
	"udensfiltri/internal/services"
)

// CookieWriter sets and clears the http-only session cookies.
type CookieWriter struct {
	cfg config.CookieConfig
}

func NewCookieWriter(cfg config.CookieConfig) *CookieWriter {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return &CookieWriter{cfg: cfg}
}

func (w *CookieWriter) sameSite() http.SameSite {
	switch strings.ToLower(w.cfg.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "lax":
		return http.SameSiteLaxMode
	}
	return http.SameSiteDefaultMode
}

func (w *CookieWriter) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     w.cfg.Path,
		Domain:   w.cfg.Domain,
		HttpOnly: true,
		Secure:   w.cfg.Secure,
		SameSite: w.sameSite(),
	}
}

// Set writes both tokens of pair.
func (w *CookieWriter) Set(c *gin.Context, pair *services.TokenPair) {
	access := w.cookie(w.cfg.AccessName, pair.Access)
	access.Expires = pair.AccessExpires
	refresh := w.cookie(w.cfg.RefreshName, pair.Refresh)
	refresh.Expires = pair.RefreshExpires
	http.SetCookie(c.Writer, access)
	http.SetCookie(c.Writer, refresh)
}

// Clear expires both cookies.
func (w *CookieWriter) Clear(c *gin.Context) {
	for _, name := range []string{w.cfg.AccessName, w.cfg.RefreshName} {
		ck := w.cookie(name, "")
		ck.MaxAge = -1
		http.SetCookie(c.Writer, ck)
	}
}

// Refresh returns the refresh cookie value or "".
func (w *CookieWriter) Refresh(c *gin.Context) string {
	v, err := c.Cookie(w.cfg.RefreshName)
	if err != nil {
		return ""
	}
	return v
}
