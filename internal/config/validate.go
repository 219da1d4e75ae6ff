package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *SyncConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}
	if c.Server.ReadBufferSize < 1 {
		return errors.New("server.read_buffer_size must be >= 1")
	}
	if c.Server.MaxMessageBytes < -1 {
		return errors.New("server.max_message_bytes must be >= -1")
	}
	if c.Server.OutboxCapacity < 1 {
		return errors.New("server.outbox_capacity must be >= 1")
	}

	if c.Status.Port < 0 || c.Status.Port > 65535 {
		return fmt.Errorf("status.port must be between 0 and 65535, got %d", c.Status.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	if c.Journal.Enabled {
		if err := c.Journal.validate("journal"); err != nil {
			return err
		}
	}

	if c.Presence.Enabled {
		if c.Presence.Addr == "" {
			return errors.New("presence.addr is required")
		}
		if c.Presence.TTL <= c.Presence.RefreshInterval {
			return fmt.Errorf("presence.ttl (%s) must exceed presence.refresh_interval (%s)",
				c.Presence.TTL, c.Presence.RefreshInterval)
		}
		if c.Presence.Concurrency < 1 {
			return errors.New("presence.concurrency must be >= 1")
		}
	}

	if c.Events.Enabled {
		if c.Events.URL == "" {
			return errors.New("events.url is required")
		}
		if c.Events.SubjectPrefix == "" {
			return errors.New("events.subject_prefix is required")
		}
	}

	return nil
}

func (j *JournalConfig) validate(prefix string) error {
	if j.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if j.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if j.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if j.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if j.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if j.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if j.MinConns > j.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, j.MinConns, j.MaxConns)
	}
	if j.BatchSize < 1 {
		return fmt.Errorf("%s.batch_size must be >= 1", prefix)
	}
	return nil
}
