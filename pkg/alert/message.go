package alert

import (
	"fmt"
	"math"
	"strings"
	"time"

	"klinewatch.magictradebot.com/models"
)

// Message is what notifiers deliver.
type Message struct {
	Symbol  string           `json:"symbol"`
	Type    models.AlertType `json:"alert_type"`
	Title   string           `json:"title"`
	Text    string           `json:"text"`
	Payload map[string]any   `json:"payload"`
	At      time.Time        `json:"at"`
}

// FormatMessage renders a detection as a human readable chat message.
func FormatMessage(d Detection, at time.Time) Message {
	m := Message{
		Symbol:  d.Symbol,
		Type:    d.Type,
		Payload: d.Payload,
		At:      at,
	}

	var lines []string
	switch d.Type {
	case models.AlertVolume:
		m.Title = "📊 Volume spike"
		lines = []string{
			fmt.Sprintf("15m volume: %s", num(d.Payload, "volume_15m")),
			fmt.Sprintf("8h volume: %s", num(d.Payload, "volume_8h")),
			fmt.Sprintf("Ratio: %s%% (threshold %s%%)", num(d.Payload, "volume_ratio"), num(d.Payload, "volume_threshold")),
		}
	case models.AlertRise:
		m.Title = "🚀 Price rise"
		lines = []string{
			fmt.Sprintf("Rise: %s%% (threshold %s%%)", num(d.Payload, "rise_percent"), num(d.Payload, "rise_threshold")),
			fmt.Sprintf("From %s to %s", num(d.Payload, "rise_start_price"), num(d.Payload, "rise_end_price")),
		}
	case models.AlertOpenPrice:
		m.Title = fmt.Sprintf("🎯 Open price match [%v]", d.Payload["timeframe"])
		lines = []string{
			fmt.Sprintf("D: %s @ %v", num(d.Payload, "price_d"), d.Payload["time_d"]),
			fmt.Sprintf("E: %s @ %v", num(d.Payload, "price_e"), d.Payload["time_e"]),
			fmt.Sprintf("Error: %s%% (threshold %s%%)", num(d.Payload, "price_error"), num(d.Payload, "price_error_threshold")),
			fmt.Sprintf("Middle: %v, fake: %v (max %v)", d.Payload["middle_count"], d.Payload["fake_count"], d.Payload["middle_count_threshold"]),
		}
	default:
		m.Title = "Alert"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s | %s\n", m.Title, d.Symbol)
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "Time: %s", at.UTC().Format("2006-01-02 15:04:05 UTC"))
	m.Text = sb.String()
	return m
}

func num(p map[string]any, key string) string {
	switch v := p[key].(type) {
	case float64:
		if math.Abs(v) >= 1 {
			return fmt.Sprintf("%.2f", v)
		}
		return fmt.Sprintf("%.6g", v)
	case int:
		return fmt.Sprintf("%d", v)
	case nil:
		return "-"
	default:
		return fmt.Sprintf("%v", v)
	}
}
