package main

import (
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/y3sh/quote-sdk-go/client/websocket"
	"gopkg.in/yaml.v2"
)

// Config is the contents of the YAML config file; every field is optional.
//
//	url: ws://127.0.0.1:33333
//	requestTimeout: 10s
//	quota:
//	  subscription: 100
//	  resubscribeBatch: 100
//	  pageSize: 1000
//	  pageCap: 1000
//	reconnect:
//	  backoff: true
//	  maxTimeout: 30s
//	logging: "<root>=INFO;quote.websocket=DEBUG"
//	dbPath: klines.db
type Config struct {
	URL            string          `yaml:"url"`
	RequestTimeout time.Duration   `yaml:"requestTimeout"`
	Quota          ConfigQuota     `yaml:"quota"`
	Reconnect      ConfigReconnect `yaml:"reconnect"`

	// Logging is a loggo config string, like "<root>=INFO;quote=DEBUG".
	Logging string `yaml:"logging"`

	// DBPath, if not empty, is the SQLite database where history is saved.
	DBPath string `yaml:"dbPath"`
}

type ConfigQuota struct {
	Subscription     int `yaml:"subscription"`
	ResubscribeBatch int `yaml:"resubscribeBatch"`
	PageSize         int `yaml:"pageSize"`
	PageCap          int `yaml:"pageCap"`
}

type ConfigReconnect struct {
	Disabled bool `yaml:"disabled"`

	// Backoff is true if omitted.
	Backoff    *bool         `yaml:"backoff"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxTimeout time.Duration `yaml:"maxTimeout"`
}

const defaultLogging = "<root>=WARNING"

// LoadConfig reads the config from filename; an empty filename yields the
// defaults.
func LoadConfig(filename string) (*Config, error) {
	var cfg Config

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, errors.Trace(err)
		}

		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return nil, errors.Annotatef(err, "parsing %s", filename)
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Annotatef(err, "config %s", filename)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = websocket.DefaultGatewayURL
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = websocket.DefaultRequestTimeout
	}

	if c.Logging == "" {
		c.Logging = defaultLogging
	}

	if c.Reconnect.Backoff == nil {
		backoff := true
		c.Reconnect.Backoff = &backoff
	}

	if c.Reconnect.MaxTimeout == 0 {
		c.Reconnect.MaxTimeout = 30 * time.Second
	}
}

// Validate checks values which the client would reject anyway, so that the
// error points at the config.
func (c *Config) Validate() error {
	if c.RequestTimeout < 0 {
		return errors.NotValidf("negative requestTimeout %s", c.RequestTimeout)
	}

	q := c.Quota
	if q.Subscription < 0 || q.ResubscribeBatch < 0 || q.PageSize < 0 || q.PageCap < 0 {
		return errors.NotValidf("negative quota %+v", q)
	}

	if q.PageSize > 0 && q.PageCap > 0 && q.PageSize > q.PageCap {
		return errors.NotValidf("quota pageSize %d above pageCap %d", q.PageSize, q.PageCap)
	}

	if c.Reconnect.Timeout < 0 || c.Reconnect.MaxTimeout < c.Reconnect.Timeout {
		return errors.NotValidf("reconnect timeouts %s..%s", c.Reconnect.Timeout, c.Reconnect.MaxTimeout)
	}

	return nil
}

// ClientParams returns params for websocket.NewQuoteClient.
func (c *Config) ClientParams() *websocket.QuoteClientParams {
	return &websocket.QuoteClientParams{
		WSParams: &websocket.WSParams{
			URL: c.URL,
			ReconnectOpts: &websocket.ReconnectOpts{
				Reconnect:           !c.Reconnect.Disabled,
				Backoff:             *c.Reconnect.Backoff,
				ReconnectTimeout:    c.Reconnect.Timeout,
				MaxReconnectTimeout: c.Reconnect.MaxTimeout,
			},
		},
		RequestTimeout: c.RequestTimeout,
		Quota: websocket.QuotaOpts{
			SharedSubscriptionQuota: c.Quota.Subscription,
			ResubscribeBatchSize:    c.Quota.ResubscribeBatch,
			DefaultPageSize:         c.Quota.PageSize,
			HistoryPageCap:          c.Quota.PageCap,
		},
	}
}
