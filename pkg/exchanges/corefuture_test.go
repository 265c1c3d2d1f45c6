package exchanges

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klinewatch.magictradebot.com/config"
)

func TestCoreFuturesSelectsExchange(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	settings := config.Default()
	ex, err := CoreFutures(settings, log)
	require.NoError(t, err)
	assert.Equal(t, "binance", ex.Name)
	assert.NotNil(t, ex.Retryable)
	assert.Equal(t, 0, ex.UsedWeight())

	settings.Exchange = "okx"
	_, err = CoreFutures(settings, log)
	assert.EqualError(t, err, "unsupported exchange: okx")
}
