package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"pos-ledger/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingPublisher struct {
	calls int
	err   error
}

func (r *recordingPublisher) PublishAlerts(_ context.Context, alerts []core.Alert) error {
	r.calls++
	return r.err
}

func sampleAlerts() []core.Alert {
	lot := 7
	return []core.Alert{
		{ID: 1, ProductID: 3, Type: core.AlertOutOfStock, Level: core.LevelCritical, Message: "out of stock",
			CurrentValue: decimal.Zero, ThresholdValue: decimal.Zero, Status: core.AlertActive},
		{ID: 2, ProductID: 3, LotID: &lot, Type: core.AlertExpiringSoon, Level: core.LevelWarning, Message: "expiring",
			CurrentValue: decimal.NewFromInt(5), ThresholdValue: decimal.NewFromInt(30), Status: core.AlertActive},
	}
}

func TestNewEvents_UniqueIDs(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	events := newEvents(sampleAlerts(), now)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventID == events[1].EventID {
		t.Error("event ids must differ")
	}
	for _, ev := range events {
		if _, err := uuid.Parse(ev.EventID); err != nil {
			t.Errorf("event id %q is not a uuid: %v", ev.EventID, err)
		}
		if ev.EventType != eventTypeAlertRaised {
			t.Errorf("event type: got %q", ev.EventType)
		}
		if ev.PublishedAt.Location() != time.UTC {
			t.Errorf("published_at should be UTC, got %v", ev.PublishedAt.Location())
		}
	}
}

func TestLogPublisher_LevelsByAlertLevel(t *testing.T) {
	obsCore, logs := observer.New(zap.InfoLevel)
	p := NewLogPublisher(zap.New(obsCore))

	if err := p.PublishAlerts(context.Background(), sampleAlerts()); err != nil {
		t.Fatalf("log publisher returned error: %v", err)
	}
	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != zap.WarnLevel {
		t.Errorf("critical alert should log at warn, got %v", entries[0].Level)
	}
	if entries[1].Level != zap.InfoLevel {
		t.Errorf("warning alert should log at info, got %v", entries[1].Level)
	}
	if _, ok := entries[1].ContextMap()["lot_id"]; !ok {
		t.Error("lot alert should carry lot_id")
	}
}

func TestMulti_CallsEveryPublisherAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &recordingPublisher{err: boom}
	b := &recordingPublisher{}

	err := Multi{a, b}.PublishAlerts(context.Background(), sampleAlerts())
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error to contain boom, got %v", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("every publisher should be called once: a=%d b=%d", a.calls, b.calls)
	}
}

func TestNew_WithoutRedisLogsOnly(t *testing.T) {
	pub := New(nil, "ignored", zap.NewNop())
	m, ok := pub.(Multi)
	if !ok {
		t.Fatalf("expected Multi, got %T", pub)
	}
	if len(m) != 1 {
		t.Errorf("expected only the log publisher, got %d publishers", len(m))
	}
}
