package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListenAddr       = ":5002"
	DefaultReadBufferSize   = 1024
	DefaultMaxMessageBytes  = 1 << 20
	DefaultOutboxCapacity   = 16
	DefaultStatusPort       = 8080
	DefaultMetricsPath      = "/metrics"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 4
	DefaultMinConns         = 1
	DefaultBatchSize        = 100
	DefaultFlushInterval    = 1 * time.Second
	DefaultRedisAddr        = "localhost:6379"
	DefaultPresencePrefix   = "srs:presence:"
	DefaultPresenceTTL      = 90 * time.Second
	DefaultRefreshInterval  = 30 * time.Second
	DefaultRefreshWorkers   = 8
	DefaultNATSURL          = "nats://127.0.0.1:4222"
	DefaultEventsSubjPrefix = "srs.clients"
)

// ApplyDefaults fills every unset optional field.
func (c *SyncConfig) ApplyDefaults() {
	// Server defaults
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.ReadBufferSize == 0 {
		c.Server.ReadBufferSize = DefaultReadBufferSize
	}
	if c.Server.MaxMessageBytes == 0 {
		c.Server.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.Server.OutboxCapacity == 0 {
		c.Server.OutboxCapacity = DefaultOutboxCapacity
	}

	// Status defaults
	if c.Status.MetricsPath == "" {
		c.Status.MetricsPath = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	// Journal defaults
	if c.Journal.Port == 0 {
		c.Journal.Port = DefaultDBPort
	}
	if c.Journal.SSLMode == "" {
		c.Journal.SSLMode = DefaultDBSSLMode
	}
	if c.Journal.MaxConns == 0 {
		c.Journal.MaxConns = DefaultMaxConns
	}
	if c.Journal.MinConns == 0 {
		c.Journal.MinConns = DefaultMinConns
	}
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}

	// Presence defaults
	if c.Presence.Addr == "" {
		c.Presence.Addr = DefaultRedisAddr
	}
	if c.Presence.KeyPrefix == "" {
		c.Presence.KeyPrefix = DefaultPresencePrefix
	}
	if c.Presence.TTL == 0 {
		c.Presence.TTL = DefaultPresenceTTL
	}
	if c.Presence.RefreshInterval == 0 {
		c.Presence.RefreshInterval = DefaultRefreshInterval
	}
	if c.Presence.Concurrency == 0 {
		c.Presence.Concurrency = DefaultRefreshWorkers
	}

	// Events defaults
	if c.Events.URL == "" {
		c.Events.URL = DefaultNATSURL
	}
	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = DefaultEventsSubjPrefix
	}
}
