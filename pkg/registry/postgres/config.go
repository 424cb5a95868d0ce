package postgres

import "time"

// Pool sizing defaults. Registry traffic is bursty (one burst per
// extraction request) so a modest pool with short-lived connections
// holds up fine.
const (
	defaultMaxConns        = 25
	defaultMinConns        = 5
	defaultMaxConnLifetime = 5 * time.Minute
)

// Config carries the connection settings for the Postgres-backed
// script registry.
type Config struct {
	// DSN is a pgx connection string, e.g.
	// "postgres://cepheid:secret@db:5432/cepheid?sslmode=require".
	DSN string

	// MaxConns caps the pool size.
	MaxConns int32

	// MinConns keeps that many idle connections warm.
	MinConns int32

	// MaxConnLifetime retires connections older than this.
	MaxConnLifetime time.Duration

	// MigrateOnStart applies pending schema migrations when the store
	// opens.
	MigrateOnStart bool
}

func (c *Config) defaults() {
	if c.MaxConns == 0 {
		c.MaxConns = defaultMaxConns
	}
	if c.MinConns == 0 {
		c.MinConns = defaultMinConns
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = defaultMaxConnLifetime
	}
}
