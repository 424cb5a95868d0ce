package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	// server.port must be positive.
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	// server.max_extractions must be positive.
	if c.Server.MaxExtractions <= 0 {
		errs = append(errs, fmt.Errorf("server.max_extractions must be > 0, got %d", c.Server.MaxExtractions))
	}

	// log.level must be a known value. Case-insensitive so the
	// CEPHEID_LOG_LEVEL convention (uppercase) passes too.
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
		// valid
	default:
		errs = append(errs, fmt.Errorf("log.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", c.Log.Level))
	}

	// log.format must be a known value.
	switch c.Log.Format {
	case "text", "json":
		// valid
	default:
		errs = append(errs, fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format))
	}

	// auth.type must be a known value.
	switch c.Auth.Type {
	case "none", "apikey", "jwt":
		// valid
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	// If auth.type is "jwt", issuer and JWKS URL must be set.
	if c.Auth.Type == "jwt" {
		if c.Auth.JWT.Issuer == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.issuer is required when auth.type is \"jwt\""))
		}
		if c.Auth.JWT.JWKSURL == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.jwks_url is required when auth.type is \"jwt\""))
		}
	}

	// registry.type must be a known value.
	switch c.Registry.Type {
	case "memory", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("registry.type must be \"memory\" or \"postgres\", got %q", c.Registry.Type))
	}

	// If registry.type is "postgres", DSN or DSNFile must be set.
	if c.Registry.Type == "postgres" {
		if c.Registry.Postgres.DSN == "" && c.Registry.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("registry.postgres.dsn or registry.postgres.dsn_file is required when registry.type is \"postgres\""))
		}
	}

	// sandbox.mode must be a known value.
	switch c.Sandbox.Mode {
	case "auto", "docker", "remote", "kubernetes", "none":
		// valid
	default:
		errs = append(errs, fmt.Errorf("sandbox.mode must be \"auto\", \"docker\", \"remote\", \"kubernetes\", or \"none\", got %q", c.Sandbox.Mode))
	}

	// Remote mode needs a sandbox server URL.
	if c.Sandbox.Mode == "remote" && c.Sandbox.Remote.URL == "" {
		errs = append(errs, fmt.Errorf("sandbox.remote.url is required when sandbox.mode is \"remote\""))
	}

	// Kubernetes mode needs a template to claim sandboxes from.
	if c.Sandbox.Mode == "kubernetes" && c.Sandbox.Kubernetes.Template == "" {
		errs = append(errs, fmt.Errorf("sandbox.kubernetes.template is required when sandbox.mode is \"kubernetes\""))
	}

	// sandbox.timeout must be positive.
	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("sandbox.timeout must be > 0, got %v", c.Sandbox.Timeout))
	}

	return errors.Join(errs...)
}
