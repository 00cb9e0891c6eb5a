package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/P-KIALA/E-Results-20-sub000/cmd/mainconfig"
	"github.com/P-KIALA/E-Results-20-sub000/internal/api/router"
	"github.com/P-KIALA/E-Results-20-sub000/internal/app/bootstrap"
	appconfig "github.com/P-KIALA/E-Results-20-sub000/internal/config"
	"github.com/P-KIALA/E-Results-20-sub000/internal/directory"
	"github.com/P-KIALA/E-Results-20-sub000/internal/dispatch"
	"github.com/P-KIALA/E-Results-20-sub000/internal/doctors"
	"github.com/P-KIALA/E-Results-20-sub000/internal/files"
	httpmiddleware "github.com/P-KIALA/E-Results-20-sub000/internal/http/middleware"
	"github.com/P-KIALA/E-Results-20-sub000/internal/notify"
	"github.com/P-KIALA/E-Results-20-sub000/internal/observability/metrics"
	"github.com/P-KIALA/E-Results-20-sub000/internal/provider"
	"github.com/P-KIALA/E-Results-20-sub000/internal/reconcile"
	"github.com/P-KIALA/E-Results-20-sub000/internal/sendlogs"
	"github.com/P-KIALA/E-Results-20-sub000/pkg/logging"
)

const webhookPath = "/api/webhooks/twilio/status"

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting e-results API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	metricsHandler, dispatchMetrics := setupMetrics()

	doctorRepo := doctors.NewPostgresRepository(pool)
	sendLogStore := sendlogs.NewStore(pool)
	directoryStore := directory.NewStore(pool)
	fileStore := files.NewStore(pool)
	checker := bootstrap.BuildChecker(cfg, logger)

	pipeline, err := bootstrap.BuildEventPipeline(cfg, pool, logger)
	if err != nil {
		logger.Error("failed to set up status events", "error", err)
		os.Exit(1)
	}
	var background sync.WaitGroup
	if pipeline.Deliverer != nil {
		background.Add(1)
		go func() {
			defer background.Done()
			pipeline.Deliverer.Start(ctx)
		}()
	}

	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioWhatsAppFrom == "" {
		logger.Warn("twilio credentials incomplete; sends will fail")
	}
	twilio := provider.NewTwilioClient(provider.TwilioConfig{
		AccountSID:  cfg.TwilioAccountSID,
		AuthToken:   cfg.TwilioAuthToken,
		From:        cfg.TwilioWhatsAppFrom,
		BaseURL:     cfg.TwilioBaseURL,
		Timeout:     cfg.ProviderTimeout,
		MaxAttempts: cfg.ProviderMaxAttempts,
		Backoff:     cfg.ProviderBackoff,
		Metrics:     dispatchMetrics,
	}, logger)

	dispatcherCfg := dispatch.Config{
		Resolver:          dispatch.NewResolver(doctorRepo, checker, cfg.DefaultCountryCode, logger),
		Doctors:           doctorRepo,
		SendLogs:          sendLogStore,
		Sender:            twilio,
		Publisher:         pipeline.Publisher,
		Metrics:           dispatchMetrics,
		StatusCallbackURL: statusCallbackURL(cfg),
		Concurrency:       cfg.DispatchConcurrency,
		Logger:            logger,
	}

	var filesHandler *files.Handler
	if storage, err := setupStorage(ctx, cfg); err != nil {
		logger.Error("failed to set up object storage", "error", err)
		os.Exit(1)
	} else if storage != nil {
		dispatcherCfg.Attachments = files.NewAttachments(fileStore, storage, cfg.S3URLTTL)
		filesHandler = files.NewHandler(files.HandlerConfig{
			Store:    fileStore,
			Storage:  storage,
			MaxBytes: cfg.FilesMaxBytes,
			URLTTL:   cfg.S3URLTTL,
			Logger:   logger,
		})
	} else {
		logger.Warn("S3_BUCKET not set; file routes and attachments disabled")
	}
	dispatcher := dispatch.NewDispatcher(dispatcherCfg)

	var idempotency dispatch.IdempotencyStore
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		idempotency = dispatch.NewRedisIdempotency(redisClient, cfg.IdempotencyTTL, serverWriteTimeout(cfg))
	}

	reconciler := reconcile.NewReconciler(reconcile.Config{
		SendLogs:  sendLogStore,
		Doctors:   doctorRepo,
		Notifier:  setupNotifier(cfg, directoryStore, logger),
		Publisher: pipeline.Publisher,
		Metrics:   dispatchMetrics,
		Logger:    logger,
	})

	limiter := httpmiddleware.NewRateLimiter(cfg.DispatchRateLimitPerSec, cfg.DispatchRateLimitBurst)
	background.Add(1)
	go func() {
		defer background.Done()
		limiter.Run(ctx, 5*time.Minute, 10*time.Minute)
	}()

	// Setup router
	routerCfg := &router.Config{
		Logger: logger,
		DispatchHandler: dispatch.NewHandler(dispatch.HandlerConfig{
			Service:     dispatcher,
			Idempotency: idempotency,
			Logger:      logger,
		}),
		SendLogsHandler: sendlogs.NewHandler(sendlogs.HandlerConfig{
			Store:     sendLogStore,
			Doctors:   doctorRepo,
			Directory: directoryStore,
			Logger:    logger,
		}),
		FilesHandler: filesHandler,
		DoctorsHandler: doctors.NewHandler(doctors.HandlerConfig{
			Repo:               doctorRepo,
			Checker:            checker,
			DefaultCountryCode: cfg.DefaultCountryCode,
			Logger:             logger,
		}),
		StatusWebhook: reconcile.NewWebhookHandler(reconcile.WebhookConfig{
			Reconciler:        reconciler,
			AuthToken:         cfg.TwilioAuthToken,
			ValidateSignature: cfg.TwilioValidateSignature,
			PublicURL:         statusCallbackURL(cfg),
			Logger:            logger,
		}),
		MetricsHandler:     metricsHandler,
		JWTSecret:          cfg.JWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		DispatchLimiter:    limiter,
		HealthCheck:        pool.Ping,
	}
	r := router.New(routerCfg)

	// Create HTTP server
	// Dispatches run inside the request, so the write timeout follows the provider budget.
	writeTimeout := serverWriteTimeout(cfg)
	logger.Info("http write timeout", "timeout", writeTimeout.String(), "recipient_budget", cfg.DispatchWriteBudget)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	background.Wait()
	if pipeline.Close != nil {
		if err := pipeline.Close(); err != nil {
			logger.Warn("failed to close amqp connection", "error", err)
		}
	}

	logger.Info("server stopped")
}

// setupMetrics registers the dispatch metrics on a dedicated registry together
// with the Go runtime collectors.
func setupMetrics() (http.Handler, *metrics.DispatchMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewDispatchMetrics(reg)
}

func setupStorage(ctx context.Context, cfg *appconfig.Config) (*files.S3Storage, error) {
	if strings.TrimSpace(cfg.S3Bucket) == "" {
		return nil, nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client := mainconfig.NewS3Client(awsCfg, cfg)
	return files.NewS3Storage(client, s3.NewPresignClient(client), cfg.S3Bucket), nil
}

func setupNotifier(cfg *appconfig.Config, users directory.Lookup, logger *logging.Logger) reconcile.Notifier {
	notifier := notify.NewFailureNotifier(bootstrap.BuildEmailSender(cfg, logger), users, logger)
	if notifier == nil {
		return nil
	}
	return notifier
}

// statusCallbackURL is where the provider posts delivery updates. An explicit
// setting wins over one derived from PUBLIC_BASE_URL.
const minWriteTimeout = 5 * time.Minute

// serverWriteTimeout is the worst-case time to dispatch DispatchWriteBudget
// recipients when every provider attempt times out, floored at minWriteTimeout.
func serverWriteTimeout(cfg *appconfig.Config) time.Duration {
	if cfg.HTTPWriteTimeout > 0 {
		return cfg.HTTPWriteTimeout
	}
	attempts := max(cfg.ProviderMaxAttempts, 1)
	timeout := cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perRecipient := time.Duration(attempts) * timeout
	for a := 1; a < attempts; a++ {
		perRecipient += time.Duration(a) * max(cfg.ProviderBackoff, 0)
	}
	workers := max(cfg.DispatchConcurrency, 1)
	rounds := (max(cfg.DispatchWriteBudget, 1) + workers - 1) / workers
	return max(perRecipient*time.Duration(rounds), minWriteTimeout)
}

func statusCallbackURL(cfg *appconfig.Config) string {
	if u := strings.TrimSpace(cfg.TwilioStatusCallbackURL); u != "" {
		return u
	}
	if base := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"); base != "" {
		return base + webhookPath
	}
	return ""
}
