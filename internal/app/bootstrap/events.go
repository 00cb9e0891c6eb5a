package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	appconfig "github.com/P-KIALA/E-Results-20-sub000/internal/config"
	"github.com/P-KIALA/E-Results-20-sub000/internal/events"
	"github.com/P-KIALA/E-Results-20-sub000/pkg/logging"
)

// EventPipeline is the status-event publishing setup. Deliverer and Close are
// nil when no broker is configured.
type EventPipeline struct {
	Publisher events.Publisher
	Deliverer *events.Deliverer
	Close     func() error
}

// BuildEventPipeline writes status events to the outbox table and relays them
// to the AMQP exchange. Without AMQP_URL events are dropped.
func BuildEventPipeline(cfg *appconfig.Config, pool *pgxpool.Pool, logger *logging.Logger) (*EventPipeline, error) {
	if strings.TrimSpace(cfg.AMQPURL) == "" || pool == nil {
		logger.Info("status events disabled", "reason", "AMQP_URL not set")
		return &EventPipeline{Publisher: events.NopPublisher{}}, nil
	}
	amqpPublisher, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: dial amqp: %w", err)
	}
	store := events.NewOutboxStore(pool)
	deliverer := events.NewDeliverer(store, amqpPublisher, logger).
		WithBatchSize(100).
		WithInterval(2 * time.Second)
	logger.Info("status events enabled", "exchange", cfg.AMQPExchange)
	return &EventPipeline{
		Publisher: events.NewOutboxPublisher(store),
		Deliverer: deliverer,
		Close:     amqpPublisher.Close,
	}, nil
}
