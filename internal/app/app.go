package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "udensfiltri/docs"
	"udensfiltri/internal/config"
	"udensfiltri/internal/handlers"
	"udensfiltri/internal/middleware"
	"udensfiltri/internal/migrations"
	"udensfiltri/internal/payments"
	"udensfiltri/internal/pdf"
	"udensfiltri/internal/repositories"
	"udensfiltri/internal/repositories/memory"
	"udensfiltri/internal/routes"
	"udensfiltri/internal/services"
	"udensfiltri/internal/throttle"
	"udensfiltri/internal/utils"
)

const receiptCompany = "Udens Filtri"

type stores struct {
	users   repositories.UserRepository
	codes   repositories.VerificationCodeRepository
	catalog repositories.CatalogRepository
	orders  repositories.OrderRepository
	close   func()
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// openStores connects to PostgreSQL and migrates it. Without a DSN the
// in-memory stores are used.
func openStores(ctx context.Context, dsn string, log *zap.Logger) (*stores, error) {
	if dsn == "" {
		log.Warn("database.url is empty, using in-memory stores")
		return &stores{
			users:   memory.NewUserRepo(),
			codes:   memory.NewCodeRepo(),
			catalog: memory.NewCatalogRepo(),
			orders:  memory.NewOrderRepo(),
			close:   func() {},
		}, nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := migrations.Up(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &stores{
		users:   repositories.NewUserRepository(db),
		codes:   repositories.NewVerificationCodeRepository(db),
		catalog: repositories.NewCatalogRepository(db),
		orders:  repositories.NewOrderRepository(db),
		close: func() {
			if err := db.Close(); err != nil {
				log.Warn("db close", zap.Error(err))
			}
		},
	}, nil
}

// openLimits returns the throttle gate and refresh revocation store, backed
// by redis when an address is configured.
func openLimits(ctx context.Context, cfg *config.Config, log *zap.Logger) (throttle.Gate, services.RevocationStore, func(), error) {
	if cfg.Redis.Addr == "" {
		log.Warn("redis.addr is empty, throttling and revocation are per-process")
		return throttle.NewMemoryGate(cfg.Throttle.Rules), services.NewMemoryRevocationStore(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	closeFn := func() {
		if err := rdb.Close(); err != nil {
			log.Warn("redis close", zap.Error(err))
		}
	}
	return throttle.NewRedisGate(rdb, cfg.Throttle.Rules, log.With(zap.String("component", "throttle"))),
		services.NewRedisRevocationStore(rdb), closeFn, nil
}

func Run() {
	cfg := config.LoadConfig()

	log, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// === Stores ===
	st, err := openStores(ctx, cfg.Database.DSN, log)
	if err != nil {
		log.Fatal("database init failed", zap.Error(err))
	}
	defer st.close()

	gate, revoked, closeRedis, err := openLimits(ctx, cfg, log)
	if err != nil {
		log.Fatal("redis init failed", zap.Error(err))
	}
	defer closeRedis()

	// === Services ===
	norm := utils.NewContactNormalizer(cfg.Codes.HomeRegion)
	emailService := services.NewEmailService(
		cfg.Email.SMTPHost,
		cfg.Email.SMTPPort,
		cfg.Email.SMTPUser,
		cfg.Email.SMTPPassword,
		cfg.Email.FromEmail,
		log,
	)
	smsClient := utils.NewClientWithOptions(cfg.Mobizon.APIKey, cfg.Mobizon.SenderID, cfg.Mobizon.DryRun, cfg.Delivery.Timeout, log)
	telegram := services.NewTelegramService(cfg.Telegram.BotToken, cfg.Telegram.ChatID, "", log)

	delivery := services.NewCodeDelivery(emailService, smsClient, log)
	codes := services.NewCodeService(st.codes, delivery, cfg.Codes, cfg.Delivery, log)
	accounts := services.NewAccountService(st.users, codes, norm, log)
	sessions := services.NewSessionService(cfg.Session, st.users, revoked, log)

	receipts := pdf.NewReceiptGenerator(cfg.PDF.FontPath, receiptCompany)
	notifier := services.NewOrderNotifier(emailService, telegram, receipts, st.users, cfg.Email.AdminEmails, cfg.Orders.NotifyTimeout, log)
	provider := payments.NewStripeProvider(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, "")
	orders := services.NewOrderService(st.orders, st.catalog, st.users, provider, notifier, norm, cfg.Orders, cfg.Stripe.FrontendBaseURL, log)

	// === Gin ===
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	routes.SetupRoutes(router, routes.Deps{
		Auth:         handlers.NewAuthHandler(accounts, sessions, gate, handlers.NewCookieWriter(cfg.Cookies), log),
		Orders:       handlers.NewOrderHandler(orders, log),
		Parser:       sessions,
		AccessCookie: cfg.Cookies.AccessName,
		Gate:         gate,
		Log:          log,
	})

	// === Run ===
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", zap.Error(err))
	}
	notifier.Wait()
}
