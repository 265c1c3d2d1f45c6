package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/sirupsen/logrus"

	"klinewatch.magictradebot.com/config"
	"klinewatch.magictradebot.com/pkg/market"
	"klinewatch.magictradebot.com/pkg/ratelimit"
)

// FuturesAPI reads USDT-M futures market data through go-binance.
type FuturesAPI struct {
	client    *futures.Client
	transport *WeightTransport
}

func NewFuturesAPI(cfg config.BinanceSettings, log *logrus.Logger) *FuturesAPI {
	transport := NewWeightTransport(nil, log)

	client := futures.NewClient(cfg.ApiKey, cfg.SecretKey)
	client.HTTPClient = &http.Client{
		Transport: transport,
		Timeout:   cfg.RequestTimeout,
	}
	if cfg.BaseURL != "" {
		client.SetApiEndpoint(strings.TrimRight(cfg.BaseURL, "/"))
	}

	log.WithFields(logrus.Fields{
		"component": "binance",
		"base_url":  cfg.BaseURL,
		"timeout":   cfg.RequestTimeout.String(),
	}).Info("🔌 Binance futures client initialized")

	return &FuturesAPI{client: client, transport: transport}
}

func (a *FuturesAPI) FetchKlines(ctx context.Context, symbol, interval string, limit int, start, end *time.Time) ([]market.RawKline, error) {
	svc := a.client.NewKlinesService().Symbol(symbol).Interval(interval)
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	if start != nil {
		svc = svc.StartTime(start.UnixMilli())
	}
	if end != nil {
		svc = svc.EndTime(end.UnixMilli())
	}

	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", symbol, interval, err)
	}

	out := make([]market.RawKline, 0, len(klines))
	for _, k := range klines {
		out = append(out, market.RawKline{
			OpenTime:            k.OpenTime,
			CloseTime:           k.CloseTime,
			Open:                k.Open,
			High:                k.High,
			Low:                 k.Low,
			Close:               k.Close,
			Volume:              k.Volume,
			QuoteVolume:         k.QuoteAssetVolume,
			TradeCount:          k.TradeNum,
			TakerBuyVolume:      k.TakerBuyBaseAssetVolume,
			TakerBuyQuoteVolume: k.TakerBuyQuoteAssetVolume,
		})
	}
	return out, nil
}

// FetchSymbolList returns symbols that are trading USDT perpetual contracts.
func (a *FuturesAPI) FetchSymbolList(ctx context.Context) ([]string, error) {
	info, err := a.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance exchange info: %w", err)
	}

	var symbols []string
	for _, s := range info.Symbols {
		if s.Status != "TRADING" || s.ContractType != futures.ContractTypePerpetual || s.QuoteAsset != "USDT" {
			continue
		}
		symbols = append(symbols, s.Symbol)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// UsedWeight is the last request weight Binance reported for the current minute.
func (a *FuturesAPI) UsedWeight() int {
	used, _ := a.transport.UsedWeight()
	return used
}

// IsRetryable classifies Binance failures. Server-side overload and rate limit
// codes are retried; other API errors are not.
func IsRetryable(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003, // too many requests
			-1015, // too many orders
			-1001, // disconnected
			-1007: // timeout waiting for backend
			return true
		}
		return false
	}
	return ratelimit.DefaultRetryable(err)
}
