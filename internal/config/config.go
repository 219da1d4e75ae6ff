package config

import "time"

// SyncConfig is the root configuration for a sync server instance.
type SyncConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Status   StatusConfig   `yaml:"status"`
	Logging  LoggingConfig  `yaml:"logging"`
	Journal  JournalConfig  `yaml:"journal"`
	Presence PresenceConfig `yaml:"presence"`
	Events   EventsConfig   `yaml:"events"`
}

// InstanceConfig identifies this server.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds the client-facing TCP listener settings.
type ServerConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	ReadBufferSize  int    `yaml:"read_buffer_size"`
	MaxMessageBytes int    `yaml:"max_message_bytes"` // -1 = no per-frame cap
	NoDelay         *bool  `yaml:"no_delay"`
	OutboxCapacity  int    `yaml:"outbox_capacity"`
}

// StatusConfig holds the HTTP status server settings. Port 0 disables it.
type StatusConfig struct {
	Port        int    `yaml:"port"`
	MetricsPath string `yaml:"metrics_path"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// JournalConfig holds the Postgres session-event journal settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Name          string        `yaml:"name"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	SSLMode       string        `yaml:"ssl_mode"`
	MaxConns      int           `yaml:"max_conns"`
	MinConns      int           `yaml:"min_conns"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// PresenceConfig holds the Redis presence mirror settings.
type PresenceConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	Password        string        `yaml:"password"`
	DB              int           `yaml:"db"`
	KeyPrefix       string        `yaml:"key_prefix"`
	TTL             time.Duration `yaml:"ttl"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Concurrency     int           `yaml:"concurrency"`
}

// EventsConfig holds the NATS roster-change publisher settings.
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// TCPNoDelay reports whether TCP_NODELAY should be set on accepted connections.
func (s ServerConfig) TCPNoDelay() bool {
	return s.NoDelay == nil || *s.NoDelay
}
