package exchanges

import (
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"klinewatch.magictradebot.com/config"
	"klinewatch.magictradebot.com/pkg/binance"
	"klinewatch.magictradebot.com/pkg/market"
	"klinewatch.magictradebot.com/pkg/ratelimit"
)

// WeightReporter is implemented by exchanges that report their own request weight.
type WeightReporter interface {
	UsedWeight() int
}

// Exchange bundles a market data API with the error classifier that fits it.
type Exchange struct {
	Name      string
	API       market.API
	Retryable ratelimit.Classifier
}

// UsedWeight returns the server-reported weight, or -1 when the exchange does not report it.
func (e *Exchange) UsedWeight() int {
	if r, ok := e.API.(WeightReporter); ok {
		return r.UsedWeight()
	}
	return -1
}

// CoreFutures builds the futures market data API for the configured exchange.
func CoreFutures(settings *config.AppSettings, log *logrus.Logger) (*Exchange, error) {
	ex := strings.ToLower(settings.Exchange)
	switch ex {
	case "binance", "":
		return &Exchange{
			Name:      "binance",
			API:       binance.NewFuturesAPI(settings.Binance, log),
			Retryable: binance.IsRetryable,
		}, nil

	default:
		return nil, errors.New("unsupported exchange: " + settings.Exchange)
	}
}
