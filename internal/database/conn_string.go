package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/srsync/internal/config"
)

// connectTimeoutSeconds bounds each new journal connection.
const connectTimeoutSeconds = 10

// BuildConnString builds a postgres:// URL from cfg. Credentials and the
// database name are escaped, and IPv6 hosts are bracketed.
func BuildConnString(cfg config.JournalConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("connect_timeout", strconv.Itoa(connectTimeoutSeconds))

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
