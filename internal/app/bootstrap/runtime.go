// Package bootstrap builds the runtime dependencies of the API binary from
// configuration. Optional integrations return nil or a no-op when unset.
package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/P-KIALA/E-Results-20-sub000/internal/config"
	"github.com/P-KIALA/E-Results-20-sub000/internal/notify"
	"github.com/P-KIALA/E-Results-20-sub000/internal/phone"
	"github.com/P-KIALA/E-Results-20-sub000/internal/provider"
	"github.com/P-KIALA/E-Results-20-sub000/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, idempotency keys disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPostgresPool connects and pings the database.
func BuildPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("bootstrap: DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pool, nil
}

// BuildChecker selects the WhatsApp capability check. "lookup" queries Twilio
// Lookup and falls back to the probe; anything else uses the probe alone.
func BuildChecker(cfg *appconfig.Config, logger *logging.Logger) phone.Checker {
	if logger == nil {
		logger = logging.Default()
	}
	probe := phone.NewProbe(cfg.WhatsAppProbePercent)
	if cfg.WhatsAppCheckMode != "lookup" {
		return probe
	}
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" {
		logger.Warn("lookup capability check requested without Twilio credentials; using probe")
		return probe
	}
	return provider.NewLookupChecker(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioLookupBaseURL, cfg.ProviderTimeout, probe, logger)
}

// BuildEmailSender returns SendGrid when configured and a logging sender otherwise.
func BuildEmailSender(cfg *appconfig.Config, logger *logging.Logger) notify.EmailSender {
	sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger)
	if sg == nil {
		return notify.NewLogSender(logger)
	}
	return sg
}
