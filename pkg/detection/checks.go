package detection

import (
	"fmt"
	"math"
	"time"

	"klinewatch.magictradebot.com/models"
	"klinewatch.magictradebot.com/pkg/market"
)

const (
	shortWindow = 15  // closed 1m candles in the short window
	longWindow  = 480 // closed 1m candles in the 8h window

	// RecentMinuteCandles is how many 1m candles the volume and rise checks load,
	// one more than the long window to allow for the forming candle.
	RecentMinuteCandles = longWindow + 1
)

type VolumeResult struct {
	Triggered bool
	Volume15m float64
	Volume8h  float64
	Ratio     float64 // percent
	Threshold float64 // percent
}

type RiseResult struct {
	Triggered  bool
	Percent    float64
	StartPrice float64
	EndPrice   float64
	Threshold  float64
}

// PatternMatch is a pair of bullish candles with near-equal open prices.
// D is the newest bullish candle, E the older one.
type PatternMatch struct {
	Timeframe   string
	PriceD      float64
	PriceE      float64
	TimeD       int64 // open time, unix ms
	TimeE       int64
	PriceError  float64 // percent
	MiddleCount int
	FakeCount   int
}

// DedupKey identifies the pattern permanently.
func (m PatternMatch) DedupKey() string {
	return PatternDedupKey(m.Timeframe, m.TimeD, m.TimeE)
}

func PatternDedupKey(timeframe string, timeD, timeE int64) string {
	return fmt.Sprintf("%s_%s_%s", timeframe,
		time.UnixMilli(timeD).UTC().Format("200601021504"),
		time.UnixMilli(timeE).UTC().Format("200601021504"))
}

func closedOnly(klines []models.Kline, nowMs int64) []models.Kline {
	n := len(klines)
	for n > 0 && !klines[n-1].IsClosed(nowMs) {
		n--
	}
	return klines[:n]
}

func sumVolume(klines []models.Kline) float64 {
	var total float64
	for _, k := range klines {
		total += k.Volume
	}
	return total
}

// CheckVolume compares the last 15 closed 1m volumes with the last 480.
// klines must be in ascending open time order.
func CheckVolume(klines []models.Kline, nowMs int64, percent float64) VolumeResult {
	res := VolumeResult{Threshold: percent}
	closed := closedOnly(klines, nowMs)
	if len(closed) < shortWindow {
		return res
	}

	long := closed
	if len(long) > longWindow {
		long = long[len(long)-longWindow:]
	}
	res.Volume15m = sumVolume(closed[len(closed)-shortWindow:])
	res.Volume8h = sumVolume(long)
	if res.Volume8h <= 0 {
		return res
	}

	res.Ratio = res.Volume15m / res.Volume8h * 100
	res.Triggered = res.Volume15m >= res.Volume8h*percent/100
	return res
}

// CheckRise measures the move from the open of the first to the close of the
// last of the 15 most recent closed 1m candles.
func CheckRise(klines []models.Kline, nowMs int64, percent float64) RiseResult {
	res := RiseResult{Threshold: percent}
	closed := closedOnly(klines, nowMs)
	if len(closed) < shortWindow {
		return res
	}

	window := closed[len(closed)-shortWindow:]
	first, last := window[0], window[len(window)-1]
	res.StartPrice = first.Open
	res.EndPrice = last.Close
	if first.Open == 0 {
		return res
	}

	res.Percent = (last.Close - first.Open) / first.Open * 100
	res.Triggered = res.Percent >= percent
	return res
}

// MatchOpenPrice looks for an older bullish candle E whose open is within the
// configured error of the newest bullish candle D. bullish must be newest first.
// The first qualifying E wins.
func MatchOpenPrice(bullish []models.Kline, timeframe string, cfg EffectiveConfig) (PatternMatch, bool) {
	if len(bullish) < 2 {
		return PatternMatch{}, false
	}
	tfMinutes, err := market.IntervalMinutes(timeframe)
	if err != nil {
		return PatternMatch{}, false
	}

	d := bullish[0]
	pd := d.Open
	if pd <= 0 {
		return PatternMatch{}, false
	}

	for i := 1; i < len(bullish); i++ {
		if i < cfg.MiddleKlineCount {
			continue
		}
		e := bullish[i]
		pe := e.Open
		if pe <= 0 {
			continue
		}

		priceErr := math.Abs(pd-pe) / math.Min(pd, pe) * 100
		if priceErr > cfg.PriceError {
			continue
		}

		mid := (pd + pe) / 2
		fake := 0
		for j := 1; j < i; j++ {
			if bullish[j].Open < mid {
				fake++
			}
		}
		if fake > cfg.FakeKlineCount {
			continue
		}

		minutes := (d.OpenTime - e.OpenTime) / int64(time.Minute/time.Millisecond)
		return PatternMatch{
			Timeframe:   timeframe,
			PriceD:      pd,
			PriceE:      pe,
			TimeD:       d.OpenTime,
			TimeE:       e.OpenTime,
			PriceError:  priceErr,
			MiddleCount: int(minutes / int64(tfMinutes)),
			FakeCount:   fake,
		}, true
	}
	return PatternMatch{}, false
}
