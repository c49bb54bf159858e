package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/y3sh/quote-sdk-go/client/websocket"
)

func writeConfig(t *testing.T, contents string) string {
	filename := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(contents), 0o600))

	return filename
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, websocket.DefaultGatewayURL, cfg.URL)
	assert.Equal(t, websocket.DefaultRequestTimeout, cfg.RequestTimeout)
	assert.Equal(t, defaultLogging, cfg.Logging)

	params := cfg.ClientParams()
	assert.Equal(t, &websocket.ReconnectOpts{
		Reconnect:           true,
		Backoff:             true,
		MaxReconnectTimeout: 30 * time.Second,
	}, params.WSParams.ReconnectOpts)
	assert.Equal(t, websocket.QuotaOpts{}, params.Quota)
}

func TestLoadConfig(t *testing.T) {
	filename := writeConfig(t, `
url: ws://10.0.0.1:11111
requestTimeout: 3s
quota:
  subscription: 300
  resubscribeBatch: 50
  pageSize: 200
  pageCap: 500
reconnect:
  backoff: false
  timeout: 2s
  maxTimeout: 10s
logging: "<root>=DEBUG"
dbPath: /tmp/klines.db
`)

	cfg, err := LoadConfig(filename)
	require.NoError(t, err)

	assert.Equal(t, "ws://10.0.0.1:11111", cfg.URL)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "/tmp/klines.db", cfg.DBPath)

	params := cfg.ClientParams()
	assert.Equal(t, "ws://10.0.0.1:11111", params.WSParams.URL)
	assert.Equal(t, &websocket.ReconnectOpts{
		Reconnect:           true,
		Backoff:             false,
		ReconnectTimeout:    2 * time.Second,
		MaxReconnectTimeout: 10 * time.Second,
	}, params.WSParams.ReconnectOpts)
	assert.Equal(t, websocket.QuotaOpts{
		SharedSubscriptionQuota: 300,
		ResubscribeBatchSize:    50,
		DefaultPageSize:         200,
		HistoryPageCap:          500,
	}, params.Quota)

	_, err = websocket.NewQuoteClient(params)
	assert.NoError(t, err)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "unknownKey: 1\n"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "quota:\n  pageSize: 2000\n  pageCap: 1000\n"))
	assert.True(t, errors.IsNotValid(err))

	_, err = LoadConfig(writeConfig(t, "reconnect:\n  timeout: 1m\n  maxTimeout: 10s\n"))
	assert.True(t, errors.IsNotValid(err))

	_, err = LoadConfig(writeConfig(t, "requestTimeout: -1s\n"))
	assert.True(t, errors.IsNotValid(err))
}
