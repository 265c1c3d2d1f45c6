package market

import (
	"fmt"
	"strconv"

	"klinewatch.magictradebot.com/models"
)

// RawKline is a candle as the exchange returns it: prices and volumes are decimal strings.
type RawKline struct {
	OpenTime            int64
	CloseTime           int64
	Open                string
	High                string
	Low                 string
	Close               string
	Volume              string
	QuoteVolume         string
	TradeCount          int64
	TakerBuyVolume      string
	TakerBuyQuoteVolume string
}

// ParseKline converts a raw exchange candle into a stored kline.
func ParseKline(symbol, interval string, raw RawKline) (models.Kline, error) {
	k := models.Kline{
		Symbol:     symbol,
		Interval:   interval,
		OpenTime:   raw.OpenTime,
		CloseTime:  raw.CloseTime,
		TradeCount: raw.TradeCount,
	}

	fields := []struct {
		name string
		in   string
		out  *float64
	}{
		{"open", raw.Open, &k.Open},
		{"high", raw.High, &k.High},
		{"low", raw.Low, &k.Low},
		{"close", raw.Close, &k.Close},
		{"volume", raw.Volume, &k.Volume},
		{"quote_volume", raw.QuoteVolume, &k.QuoteVolume},
		{"taker_buy_volume", raw.TakerBuyVolume, &k.TakerBuyVolume},
		{"taker_buy_quote_volume", raw.TakerBuyQuoteVolume, &k.TakerBuyQuoteVolume},
	}
	for _, f := range fields {
		if f.in == "" {
			continue
		}
		v, err := strconv.ParseFloat(f.in, 64)
		if err != nil {
			return models.Kline{}, fmt.Errorf("parse %s %q for %s %s@%d: %w", f.name, f.in, symbol, interval, raw.OpenTime, err)
		}
		*f.out = v
	}
	if k.OpenTime <= 0 || k.CloseTime < k.OpenTime {
		return models.Kline{}, fmt.Errorf("invalid candle times for %s %s: open=%d close=%d", symbol, interval, k.OpenTime, k.CloseTime)
	}
	return k, nil
}
