package configuration

import "time"

type Config struct {
	App     AppProperties     `yaml:"app"`
	Cache   CacheProperties   `yaml:"cache"`
	Nats    NatsProperties    `yaml:"nats"`
	Metrics MetricsProperties `yaml:"metrics"`
}

type AppProperties struct {
	Profile  string `yaml:"profile"`
	LogLevel string `yaml:"log-level"`
}

type CacheProperties struct {
	Name           string `yaml:"name"`
	TimeoutMs      int    `yaml:"timeout-ms"`
	JitterMs       int    `yaml:"jitter-ms"`
	LongTimeoutMs  int    `yaml:"long-timeout-ms"`
	MaxTimeoutMs   int    `yaml:"max-timeout-ms"`
	PublishWorkers int    `yaml:"publish-workers"`
}

type NatsProperties struct {
	URL             string `yaml:"url"`
	Name            string `yaml:"name"`
	ReconnectWaitMs int    `yaml:"reconnect-wait-ms"`
	MaxReconnects   int    `yaml:"max-reconnects"`
	ConnectAttempts int    `yaml:"connect-attempts"`
}

type MetricsProperties struct {
	Addr string `yaml:"addr"`
}

func (c *CacheProperties) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c *CacheProperties) Jitter() time.Duration {
	return time.Duration(c.JitterMs) * time.Millisecond
}

func (c *CacheProperties) LongTimeout() time.Duration {
	return time.Duration(c.LongTimeoutMs) * time.Millisecond
}

func (c *CacheProperties) MaxTimeout() time.Duration {
	return time.Duration(c.MaxTimeoutMs) * time.Millisecond
}

func (n *NatsProperties) ReconnectWait() time.Duration {
	return time.Duration(n.ReconnectWaitMs) * time.Millisecond
}
