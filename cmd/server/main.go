package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forms-api/internal/api"
	"forms-api/internal/config"
	"forms-api/internal/database"
	"forms-api/internal/middleware"
	"forms-api/internal/services"
	"forms-api/pkg/logging"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

func main() {
	// Initialize configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to initialize config:", err)
	}

	// Initialize logging
	logging.InitLogging(cfg.LogLevel, cfg.LogFormat)

	// Initialize Sentry before the rest so startup errors are captured
	if cfg.SentryDSN != "" {
		opts := sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.Mode}
		if host, _ := os.Hostname(); host != "" {
			opts.ServerName = host
		}
		if err := sentry.Init(opts); err != nil {
			logging.Errorf("Sentry initialization failed: %v", err)
		} else {
			sentry.ConfigureScope(func(scope *sentry.Scope) {
				scope.SetTag("service", "forms-api")
			})
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Initialize database
	db, err := database.InitDatabase(cfg)
	if err != nil {
		logging.Logger().Fatalf("Failed to initialize database: %v", err)
	}
	rdb, err := database.InitRedis(cfg)
	if err != nil {
		logging.Logger().Fatalf("Failed to initialize Redis: %v", err)
	}
	defer database.Close(db, rdb)

	// Wire services
	var mailer services.Mailer = services.LogMailer{}
	if cfg.BrevoAPIKey != "" {
		mailer = services.NewBrevoService(cfg.BrevoAPIKey)
	} else {
		logging.Warnf("BREVO_API_KEY is not set, emails are logged instead of sent")
	}

	quotas := services.NewQuotaService(db)
	keys := services.NewAPIKeyService(db, cfg.APIKeyHashCost)
	forms := services.NewFormService(db, quotas)
	submissions := services.NewSubmissionService(db, quotas, cfg.MaxPayloadBytes)
	dispatcher := services.NewDispatcher(db, mailer, services.NewWebhookNotifier(), services.NewTemplateRenderer(), services.DispatcherConfig{
		FromEmail:      cfg.BrevoFromEmail,
		FromName:       cfg.BrevoFromName,
		PublicBaseURL:  cfg.PublicBaseURL,
		ChannelTimeout: cfg.ChannelTimeout,
	})

	intakeOpts := []services.IntakeOption{}
	var limiter middleware.Limiter
	if rdb != nil {
		intakeOpts = append(intakeOpts,
			services.WithAnalytics(services.NewRedisAnalytics(rdb)),
			services.WithIdempotency(services.NewRedisIdempotency(rdb, cfg.IdempotencyTTL)),
		)
		limiter = middleware.NewRedisLimiter(rdb, cfg.RateLimitPerMinute)
	} else {
		local := middleware.NewLocalLimiter(cfg.RateLimitPerMinute)
		defer local.Stop()
		limiter = local
	}

	handler := &api.Handler{
		Intake:       services.NewIntakeService(keys, forms, quotas, submissions, dispatcher, intakeOpts...),
		Keys:         keys,
		Users:        services.NewUserService(db),
		Forms:        forms,
		Quotas:       quotas,
		Submissions:  submissions,
		Dispatcher:   dispatcher,
		Tracking:     services.NewTrackingService(db),
		Unsubscribes: services.NewUnsubscribeService(db),
		MaxBodyBytes: int64(cfg.MaxPayloadBytes) * 2,
		HealthCheck:  pingDatabase(db),
	}

	// Set Gin mode
	gin.SetMode(cfg.Mode)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(sentrygin.New(sentrygin.Options{
		Repanic: true,
		Timeout: 2 * time.Second,
	}))
	r.Use(middleware.Metrics())

	// Setup routes
	api.SetupRoutes(r, handler, api.RouterConfig{
		OwnerJWTSecret: cfg.OwnerJWTSecret,
		Limiter:        limiter,
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Infof("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Logger().Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Infof("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Errorf("Server forced to shutdown: %v", err)
	}
}

func pingDatabase(db *gorm.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}
