package bus

import (
	"log/slog"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/nats-io/nats.go"

	"flagcache/internal/metrics"
)

// Config holds the NATS connection settings.
type Config struct {
	URL             string
	Name            string
	ReconnectWait   time.Duration
	MaxReconnects   int
	ConnectAttempts int
}

// Conn wraps the NATS connection. Publishes are fire-and-forget: a failed
// publish is logged and counted, never retried here — the sync protocol's
// own timeouts re-request anything that went missing.
type Conn struct {
	nc *nats.Conn
}

func Connect(cfg Config) (*Conn, error) {
	opts := nats.GetDefaultOptions()
	opts.Url = cfg.URL
	opts.Name = cfg.Name
	opts.ReconnectWait = cfg.ReconnectWait
	opts.MaxReconnect = cfg.MaxReconnects

	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}

	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 5
	}

	var nc *nats.Conn
	retrier := retry.NewRetrier(attempts, 100*time.Millisecond, opts.ReconnectWait)
	err := retrier.Run(func() error {
		var err error
		nc, err = opts.Connect()
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("connected to bus", "url", cfg.URL, "name", cfg.Name)
	return &Conn{nc: nc}, nil
}

func (c *Conn) Publish(subject string, data []byte) error {
	if err := c.nc.Publish(subject, data); err != nil {
		metrics.PublishesTotal.WithLabelValues(subject, "error").Inc()
		slog.Error("bus publish failed", "subject", subject, "error", err)
		return err
	}
	metrics.PublishesTotal.WithLabelValues(subject, "ok").Inc()
	return nil
}

func (c *Conn) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.nc.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}
	slog.Debug("subscribed", "subject", subject)
	return sub, nil
}

func (c *Conn) Close() {
	if c.nc != nil {
		c.nc.Drain()
		c.nc.Close()
	}
}
