package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"klinewatch.magictradebot.com/models"
)

// Detection is a positive check result waiting for the dedup decision.
type Detection struct {
	Symbol   string
	Type     models.AlertType
	DedupKey string // empty for time-window types
	Payload  map[string]any
}

// Policy selects the dedup rule applied to a detection.
type Policy struct {
	ReminderMinutes int  // time-window rule; 0 disables suppression
	Permanent       bool // permanent-key rule
	DedupEnabled    bool // permanent-key rule only
}

type DedupStore interface {
	LastFired(ctx context.Context, symbol string, t models.AlertType, key string) (time.Time, bool, error)
	KeyExists(ctx context.Context, symbol string, t models.AlertType, key string) (bool, error)
}

// AlertStore persists an accepted alert and its dedup record atomically.
type AlertStore interface {
	Accept(ctx context.Context, a *models.Alert, key string, permanent bool) error
}

// Gate persists detections that pass dedup and hands them to the notifier.
// Delivery is best effort: a failed notification never undoes the persisted alert.
type Gate struct {
	dedup    DedupStore
	alerts   AlertStore
	notifier Notifier
	now      func() time.Time
	log      *logrus.Entry
}

func NewGate(dedup DedupStore, alerts AlertStore, notifier Notifier, log *logrus.Logger) *Gate {
	return &Gate{
		dedup:    dedup,
		alerts:   alerts,
		notifier: notifier,
		now:      time.Now,
		log:      log.WithField("component", "alert"),
	}
}

// WithClock replaces the wall clock, mainly for tests.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// WindowKey is the dedup key used by time-window rules.
func WindowKey(t models.AlertType) string {
	return t.String()
}

// Submit returns the stored alert, or nil when the detection was suppressed.
func (g *Gate) Submit(ctx context.Context, d Detection, p Policy) (*models.Alert, error) {
	now := g.now()
	key := d.DedupKey
	if !p.Permanent || key == "" {
		key = WindowKey(d.Type)
	}

	suppressed, err := g.suppressed(ctx, d, p, key, now)
	if err != nil {
		return nil, err
	}
	if suppressed {
		g.log.WithFields(logrus.Fields{
			"symbol": d.Symbol,
			"type":   d.Type.String(),
			"key":    key,
		}).Debug("🔕 Alert suppressed by dedup")
		return nil, nil
	}

	data, err := json.Marshal(d.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal alert payload: %w", err)
	}
	a := &models.Alert{
		Symbol:    d.Symbol,
		AlertType: d.Type,
		Data:      data,
		CreatedAt: now,
	}
	if err := g.alerts.Accept(ctx, a, key, p.Permanent); err != nil {
		return nil, err
	}

	g.log.WithFields(logrus.Fields{
		"symbol": d.Symbol,
		"type":   d.Type.String(),
		"key":    key,
	}).Info("🚨 Alert fired")

	if g.notifier != nil {
		if err := g.notifier.Deliver(ctx, FormatMessage(d, now)); err != nil {
			g.log.WithFields(logrus.Fields{
				"symbol": d.Symbol,
				"type":   d.Type.String(),
			}).Warnf("📭 Alert notification failed: %v", err)
		}
	}
	return a, nil
}

func (g *Gate) suppressed(ctx context.Context, d Detection, p Policy, key string, now time.Time) (bool, error) {
	if p.Permanent {
		if !p.DedupEnabled {
			return false, nil
		}
		return g.dedup.KeyExists(ctx, d.Symbol, d.Type, key)
	}

	if p.ReminderMinutes <= 0 {
		return false, nil
	}
	last, ok, err := g.dedup.LastFired(ctx, d.Symbol, d.Type, key)
	if err != nil || !ok {
		return false, err
	}
	return now.Sub(last) < time.Duration(p.ReminderMinutes)*time.Minute, nil
}
