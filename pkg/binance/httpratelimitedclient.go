package binance

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"klinewatch.magictradebot.com/pkg/ratelimit"
)

const (
	usedWeightHeader = "X-Mbx-Used-Weight-1m"
	weightLimit      = 1200
)

// WeightTransport records the request weight Binance reports for the current
// minute and turns 429/418 responses into ratelimit.RateLimitError.
type WeightTransport struct {
	base http.RoundTripper
	log  *logrus.Entry

	lock      sync.Mutex
	used      int
	updatedAt time.Time
}

func NewWeightTransport(base http.RoundTripper, log *logrus.Logger) *WeightTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &WeightTransport{
		base: base,
		log:  log.WithField("component", "binance"),
	}
}

func (t *WeightTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	t.updateRateLimits(resp.Header)

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot {
		delay := retryAfter(resp.Header)
		_ = resp.Body.Close()
		t.log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"path":   req.URL.Path,
			"wait":   delay.String(),
		}).Warn("🚦 Rate limited by Binance")
		return nil, &ratelimit.RateLimitError{Status: resp.StatusCode, RetryAfter: delay}
	}
	return resp, nil
}

func (t *WeightTransport) updateRateLimits(headers http.Header) {
	val := headers.Get(usedWeightHeader)
	if val == "" {
		return
	}
	used, err := strconv.Atoi(val)
	if err != nil {
		return
	}

	t.lock.Lock()
	t.used = used
	t.updatedAt = time.Now()
	t.lock.Unlock()

	if nearLimit(used) {
		t.log.WithField("used_weight", used).Warn("⚠️ Request weight close to the per-minute cap")
	}
}

// UsedWeight returns the last weight reported by the server and when it was seen.
func (t *WeightTransport) UsedWeight() (int, time.Time) {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.used, t.updatedAt
}

func nearLimit(used int) bool {
	buffer := int(float64(weightLimit) * 0.1)
	return weightLimit-used <= buffer
}

func retryAfter(headers http.Header) time.Duration {
	if val := headers.Get("Retry-After"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}
