package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type Notifier interface {
	Deliver(ctx context.Context, m Message) error
}

// MultiNotifier delivers to every notifier and joins their errors.
type MultiNotifier []Notifier

func (mn MultiNotifier) Deliver(ctx context.Context, m Message) error {
	var errs []error
	for _, n := range mn {
		if err := n.Deliver(ctx, m); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes alerts to the log. Used when no remote channel is configured.
type LogNotifier struct {
	Log *logrus.Logger
}

func (n LogNotifier) Deliver(ctx context.Context, m Message) error {
	n.Log.WithFields(logrus.Fields{
		"component": "alert",
		"symbol":    m.Symbol,
		"type":      m.Type.String(),
	}).Info("📣 " + m.Text)
	return nil
}

// PacedNotifier keeps a chat channel under its per-minute send limit. Deliveries past
// the budget wait for a token instead of being rejected by the remote side.
type PacedNotifier struct {
	next    Notifier
	limiter *rate.Limiter
}

// NewPacedNotifier returns next unchanged when perMinute is not positive.
func NewPacedNotifier(next Notifier, perMinute int) Notifier {
	if perMinute <= 0 {
		return next
	}
	return &PacedNotifier{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

func (n *PacedNotifier) Deliver(ctx context.Context, m Message) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify pacing: %w", err)
	}
	return n.next.Deliver(ctx, m)
}
