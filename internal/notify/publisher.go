// Package notify fans newly raised inventory alerts out to observers once the
// ledger write that raised them has committed.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pos-ledger/internal/config"
	"pos-ledger/internal/core"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AlertEvent is the message body published for every alert.
type AlertEvent struct {
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	PublishedAt time.Time  `json:"published_at"`
	Alert       core.Alert `json:"alert"`
}

const eventTypeAlertRaised = "inventory.alert.raised"

func newEvents(alerts []core.Alert, now time.Time) []AlertEvent {
	events := make([]AlertEvent, 0, len(alerts))
	for _, a := range alerts {
		events = append(events, AlertEvent{
			EventID:     uuid.NewString(),
			EventType:   eventTypeAlertRaised,
			PublishedAt: now.UTC(),
			Alert:       a,
		})
	}
	return events
}

// ── Redis ────────────────────────────────────────────────────────────────────

// RedisPublisher publishes one JSON AlertEvent per alert on a pub/sub channel.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

// NewRedisClient returns nil when no address is configured.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func (p *RedisPublisher) PublishAlerts(ctx context.Context, alerts []core.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	events := newEvents(alerts, time.Now())

	pipe := p.rdb.Pipeline()
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to encode alert %d: %w", ev.Alert.ID, err)
		}
		pipe.Publish(ctx, p.channel, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish %d alerts to %s: %w", len(events), p.channel, err)
	}
	return nil
}

// ── Log ──────────────────────────────────────────────────────────────────────

// LogPublisher writes alerts to the process log. It is the fallback when
// Redis is not configured, and never fails.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("alerts")}
}

func (p *LogPublisher) PublishAlerts(_ context.Context, alerts []core.Alert) error {
	for _, a := range alerts {
		fields := []zap.Field{
			zap.Int64("alert_id", a.ID),
			zap.Int("product_id", a.ProductID),
			zap.String("type", string(a.Type)),
			zap.String("level", string(a.Level)),
			zap.String("current", a.CurrentValue.String()),
			zap.String("threshold", a.ThresholdValue.String()),
		}
		if a.LotID != nil {
			fields = append(fields, zap.Int("lot_id", *a.LotID))
		}
		if a.Level == core.LevelCritical {
			p.logger.Warn(a.Message, fields...)
		} else {
			p.logger.Info(a.Message, fields...)
		}
	}
	return nil
}

// ── Fan-out ──────────────────────────────────────────────────────────────────

// Multi calls every publisher and joins their errors. One failing observer
// does not stop the others.
type Multi []core.AlertPublisher

func (m Multi) PublishAlerts(ctx context.Context, alerts []core.Alert) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishAlerts(ctx, alerts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New assembles the publisher for a process: always the log, plus Redis when
// a client is given.
func New(rdb *redis.Client, channel string, logger *zap.Logger) core.AlertPublisher {
	pubs := Multi{NewLogPublisher(logger)}
	if rdb != nil {
		pubs = append(pubs, NewRedisPublisher(rdb, channel))
	}
	return pubs
}
