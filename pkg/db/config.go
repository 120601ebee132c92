package db

import "time"

// Config describes one database target. Type selects the dialect
// ("postgres" or "sqlite"); the sqlite dialect only reads Name.
type Config struct {
	Type     string
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string

	Pool PoolConfig
}

// PoolConfig bounds the sql.DB connection pool. Zero values leave the
// driver defaults untouched.
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c Config) sslMode() string {
	if c.SSLMode == "" {
		return "disable"
	}
	return c.SSLMode
}
