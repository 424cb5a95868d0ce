// Package config provides unified configuration for the cepheid
// feature-extraction service.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (CEPHEID_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the cepheid service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Auth     AuthConfig     `yaml:"auth"`
	Registry RegistryConfig `yaml:"registry"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Verify   VerifyConfig   `yaml:"verify"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 180s, extractions are slow
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 10 MB
	MaxExtractions  int           `yaml:"max_extractions"`  // concurrent extraction cap, default: 4
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error; default: "info"
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories, default: ""
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type    string         `yaml:"type"`     // "none", "apikey", "jwt", default: "none"
	APIKeys []APIKeyConfig `yaml:"api_keys"` // API key entries for type=apikey
	JWT     JWTConfig      `yaml:"jwt"`      // JWT settings for type=jwt

	// DefaultRPM limits requests per minute per subject when > 0.
	DefaultRPM int `yaml:"default_rpm"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key"`
	KeyFile     string `yaml:"key_file"` // _file variant for key
	Subject     string `yaml:"subject"`
	ProjectID   string `yaml:"project_id"`
	ServiceTier string `yaml:"service_tier"`
}

// JWTConfig holds JWT/OIDC validation settings.
type JWTConfig struct {
	Issuer       string `yaml:"issuer"`
	Audience     string `yaml:"audience"`
	JWKSURL      string `yaml:"jwks_url"`
	UserClaim    string `yaml:"user_claim"`    // default: "sub"
	ProjectClaim string `yaml:"project_claim"` // default: "project_id"
}

// RegistryConfig holds script registry settings.
type RegistryConfig struct {
	Type     string         `yaml:"type"`     // "memory" or "postgres", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for memory registry, default: 1000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// SandboxConfig holds isolated-execution settings.
type SandboxConfig struct {
	// Mode selects the isolation backend: "auto" picks docker when the
	// daemon and image are reachable, "none" disables isolation (user
	// scripts then run on the host, with a warning).
	Mode string `yaml:"mode"` // "auto", "docker", "remote", "kubernetes", "none"; default: "auto"

	Image   string        `yaml:"image"`    // docker sandbox image, default: "cepheid/sandbox:latest"
	BaseDir string        `yaml:"base_dir"` // session dirs, default: system temp
	Timeout time.Duration `yaml:"timeout"`  // per-run budget, default: 120s
	Python  string        `yaml:"python"`   // interpreter for local runs, default: "python3"

	Remote     RemoteConfig     `yaml:"remote"`
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
}

// RemoteConfig holds settings for the remote HTTP sandbox backend.
type RemoteConfig struct {
	URL string `yaml:"url"` // sandbox server base URL, required for mode=remote
}

// KubernetesConfig holds settings for per-run sandbox pod acquisition.
type KubernetesConfig struct {
	Template       string        `yaml:"template"`        // SandboxTemplate name, required for mode=kubernetes
	Namespace      string        `yaml:"namespace"`       // default: "default"
	AcquireTimeout time.Duration `yaml:"acquire_timeout"` // default: 60s
}

// VerifyConfig holds acceptance-testing settings.
type VerifyConfig struct {
	// Enabled runs every newly registered script against the trial
	// battery before it is stored. Default: true.
	Enabled bool `yaml:"enabled"`
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    180 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodySize:     10 << 20,
			MaxExtractions:  4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Registry: RegistryConfig{
			Type:    "memory",
			MaxSize: 1000,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Sandbox: SandboxConfig{
			Mode:    "auto",
			Image:   "cepheid/sandbox:latest",
			Timeout: 120 * time.Second,
			Python:  "python3",
			Kubernetes: KubernetesConfig{
				Namespace:      "default",
				AcquireTimeout: 60 * time.Second,
			},
		},
		Verify: VerifyConfig{
			Enabled: true,
		},
	}
}
