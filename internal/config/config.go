package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultPath = "config/config.yaml"

type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Development bool `yaml:"development"`
}

type CodesConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	MinInterval time.Duration `yaml:"min_interval"`
	MaxAttempts int           `yaml:"max_attempts"`
	Lockout     time.Duration `yaml:"lockout"`
	HomeRegion  string        `yaml:"home_region"`
}

type SessionConfig struct {
	Secret                 string        `yaml:"secret"`
	Issuer                 string        `yaml:"issuer"`
	AccessTTL              time.Duration `yaml:"access_ttl"`
	RefreshTTL             time.Duration `yaml:"refresh_ttl"`
	BlacklistAfterRotation bool          `yaml:"blacklist_after_rotation"`
}

type CookieConfig struct {
	AccessName  string `yaml:"access_name"`
	RefreshName string `yaml:"refresh_name"`
	Secure      bool   `yaml:"secure"`
	SameSite    string `yaml:"same_site"`
	Domain      string `yaml:"domain"`
	Path        string `yaml:"path"`
}

// ThrottleRule allows Limit requests per Window for one scope.
type ThrottleRule struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

type ThrottleConfig struct {
	Rules map[string]ThrottleRule `yaml:"rules"`
}

type DeliveryConfig struct {
	Mandatory bool          `yaml:"mandatory"`
	Timeout   time.Duration `yaml:"timeout"`
}

type EmailConfig struct {
	SMTPHost     string   `yaml:"smtp_host"`
	SMTPPort     int      `yaml:"smtp_port"`
	SMTPUser     string   `yaml:"smtp_user"`
	SMTPPassword string   `yaml:"smtp_password"`
	FromEmail    string   `yaml:"from_email"`
	AdminEmails  []string `yaml:"admin_emails"`
}

type MobizonConfig struct {
	APIKey   string `yaml:"api_key"`
	SenderID string `yaml:"sender_id"`
	DryRun   bool   `yaml:"dry_run"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type StripeConfig struct {
	SecretKey       string `yaml:"secret_key"`
	WebhookSecret   string `yaml:"webhook_secret"`
	FrontendBaseURL string `yaml:"frontend_base_url"`
}

type OrdersConfig struct {
	DefaultCurrency    string        `yaml:"default_currency"`
	AllowGuestCheckout bool          `yaml:"allow_guest_checkout"`
	NotifyTimeout      time.Duration `yaml:"notify_timeout"`
}

type PDFConfig struct {
	FontPath string `yaml:"font_path"`
}

type Config struct {
	Server   ServerConfig `yaml:"server"`
	Database struct {
		DSN string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
	Codes    CodesConfig    `yaml:"codes"`
	Session  SessionConfig  `yaml:"session"`
	Cookies  CookieConfig   `yaml:"cookies"`
	Throttle ThrottleConfig `yaml:"throttle"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Email    EmailConfig    `yaml:"email"`
	Mobizon  MobizonConfig  `yaml:"mobizon"`
	Telegram TelegramConfig `yaml:"telegram"`
	Stripe   StripeConfig   `yaml:"stripe"`
	Orders   OrdersConfig   `yaml:"orders"`
	PDF      PDFConfig      `yaml:"pdf"`
}

// LoadConfig reads CONFIG_PATH (or config/config.yaml) and panics on error.
func LoadConfig() *Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultPath
	}
	cfg, err := Load(path)
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}
	return cfg
}

// Load applies, in order: defaults, the YAML file (if it exists), .env and
// the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8000
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Codes = CodesConfig{
		TTL:         10 * time.Minute,
		MinInterval: 60 * time.Second,
		MaxAttempts: 5,
		Lockout:     15 * time.Minute,
		HomeRegion:  "LV",
	}
	cfg.Session = SessionConfig{
		Issuer:     "udensfiltri",
		AccessTTL:  time.Minute,
		RefreshTTL: 3 * time.Minute,
	}
	cfg.Cookies = CookieConfig{
		AccessName:  "access",
		RefreshName: "refresh",
		SameSite:    "Lax",
		Path:        "/",
	}
	cfg.Throttle.Rules = map[string]ThrottleRule{
		"code_ip":         {Limit: 10, Window: time.Minute},
		"code_identifier": {Limit: 3, Window: time.Minute},
		"checkout_user":   {Limit: 20, Window: time.Minute},
	}
	cfg.Delivery = DeliveryConfig{Mandatory: true, Timeout: 10 * time.Second}
	cfg.Email.SMTPPort = 587
	cfg.Email.FromEmail = "no-reply@localhost"
	cfg.Mobizon.DryRun = true
	cfg.Stripe.FrontendBaseURL = "http://localhost:3000"
	cfg.Orders = OrdersConfig{DefaultCurrency: "EUR", NotifyTimeout: 15 * time.Second}
	return cfg
}

func (c *Config) applyEnv() {
	setString(&c.Database.DSN, "DATABASE_URL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Session.Secret, "JWT_SECRET")
	setString(&c.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	setString(&c.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	setString(&c.Stripe.FrontendBaseURL, "FRONTEND_BASE_URL")
	setString(&c.Email.SMTPPassword, "SMTP_PASSWORD")
	setString(&c.Mobizon.APIKey, "MOBIZON_API_KEY")
	setString(&c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("ADMIN_NOTIFICATION_EMAILS"); v != "" {
		c.Email.AdminEmails = splitList(v)
	}
	if v := os.Getenv("AUTH_COOKIE_SECURE"); v != "" {
		c.Cookies.Secure = v == "1" || strings.EqualFold(v, "true")
	}
}

// fillDefaults restores defaults a partial YAML file zeroed out.
func (c *Config) fillDefaults() {
	d := Default()
	if c.Cookies.AccessName == "" {
		c.Cookies.AccessName = d.Cookies.AccessName
	}
	if c.Cookies.RefreshName == "" {
		c.Cookies.RefreshName = d.Cookies.RefreshName
	}
	if c.Cookies.Path == "" {
		c.Cookies.Path = d.Cookies.Path
	}
	if c.Codes.MaxAttempts <= 0 {
		c.Codes.MaxAttempts = d.Codes.MaxAttempts
	}
	if c.Codes.HomeRegion == "" {
		c.Codes.HomeRegion = d.Codes.HomeRegion
	}
	if c.Orders.DefaultCurrency == "" {
		c.Orders.DefaultCurrency = d.Orders.DefaultCurrency
	}
	if c.Delivery.Timeout <= 0 {
		c.Delivery.Timeout = d.Delivery.Timeout
	}
	if c.Orders.NotifyTimeout <= 0 {
		c.Orders.NotifyTimeout = d.Orders.NotifyTimeout
	}
	if c.Throttle.Rules == nil {
		c.Throttle.Rules = d.Throttle.Rules
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Session.Secret) == "" {
		return errors.New("session.secret (JWT_SECRET) is required")
	}
	if c.Session.AccessTTL <= 0 || c.Session.RefreshTTL <= 0 {
		return errors.New("session token lifetimes must be positive")
	}
	if c.Session.AccessTTL >= c.Session.RefreshTTL {
		return fmt.Errorf("session.access_ttl (%s) must be shorter than session.refresh_ttl (%s)",
			c.Session.AccessTTL, c.Session.RefreshTTL)
	}
	if c.Codes.TTL <= 0 || c.Codes.MinInterval <= 0 || c.Codes.Lockout <= 0 {
		return errors.New("codes.ttl, codes.min_interval and codes.lockout must be positive")
	}
	for scope, r := range c.Throttle.Rules {
		if r.Limit <= 0 || r.Window <= 0 {
			return fmt.Errorf("throttle rule %q: limit and window must be positive", scope)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
