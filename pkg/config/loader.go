package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, CEPHEID_CONFIG env, ./cepheid.yaml, /etc/cepheid/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	// Start with defaults.
	cfg := Defaults()

	// Discover and load YAML config file.
	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	// Apply environment variable overrides.
	applyEnvOverrides(&cfg)

	// Resolve _file references.
	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	// Validate.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. CEPHEID_CONFIG environment variable
// 3. ./cepheid.yaml in the current directory
// 4. /etc/cepheid/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	// Explicit path takes priority.
	if configPath != "" {
		return configPath
	}

	// Check CEPHEID_CONFIG env var.
	if envPath := os.Getenv("CEPHEID_CONFIG"); envPath != "" {
		return envPath
	}

	// Check common locations.
	candidates := []string{
		"cepheid.yaml",
		"/etc/cepheid/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps CEPHEID_* environment variables to config
// fields. Structured values (API keys) are JSON-encoded.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CEPHEID_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CEPHEID_MAX_EXTRACTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MaxExtractions = n
		}
	}
	if v := os.Getenv("CEPHEID_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CEPHEID_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("CEPHEID_DEBUG"); v != "" {
		cfg.Log.Debug = v
	}
	if v := os.Getenv("CEPHEID_AUTH_TYPE"); v != "" {
		cfg.Auth.Type = v
	}
	if v := os.Getenv("CEPHEID_AUTH_DEFAULT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Auth.DefaultRPM = n
		}
	}
	if v := os.Getenv("CEPHEID_JWT_ISSUER"); v != "" {
		cfg.Auth.JWT.Issuer = v
	}
	if v := os.Getenv("CEPHEID_JWT_AUDIENCE"); v != "" {
		cfg.Auth.JWT.Audience = v
	}
	if v := os.Getenv("CEPHEID_JWT_JWKS_URL"); v != "" {
		cfg.Auth.JWT.JWKSURL = v
	}
	if v := os.Getenv("CEPHEID_REGISTRY"); v != "" {
		cfg.Registry.Type = v
	}
	if v := os.Getenv("CEPHEID_REGISTRY_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			cfg.Registry.MaxSize = size
		}
	}
	if v := os.Getenv("CEPHEID_REGISTRY_DSN"); v != "" {
		cfg.Registry.Postgres.DSN = v
	}
	if v := os.Getenv("CEPHEID_REGISTRY_MIGRATE"); v != "" {
		cfg.Registry.Postgres.MigrateOnStart = v == "true" || v == "1"
	}
	if v := os.Getenv("CEPHEID_SANDBOX_MODE"); v != "" {
		cfg.Sandbox.Mode = v
	}
	if v := os.Getenv("CEPHEID_SANDBOX_IMAGE"); v != "" {
		cfg.Sandbox.Image = v
	}
	if v := os.Getenv("CEPHEID_SANDBOX_DIR"); v != "" {
		cfg.Sandbox.BaseDir = v
	}
	if v := os.Getenv("CEPHEID_SANDBOX_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sandbox.Timeout = d
		}
	}
	if v := os.Getenv("CEPHEID_PYTHON"); v != "" {
		cfg.Sandbox.Python = v
	}
	if v := os.Getenv("CEPHEID_SANDBOX_URL"); v != "" {
		cfg.Sandbox.Remote.URL = v
	}
	if v := os.Getenv("CEPHEID_SANDBOX_TEMPLATE"); v != "" {
		cfg.Sandbox.Kubernetes.Template = v
	}
	if v := os.Getenv("CEPHEID_SANDBOX_NAMESPACE"); v != "" {
		cfg.Sandbox.Kubernetes.Namespace = v
	}
	if v := os.Getenv("CEPHEID_VERIFY"); v != "" {
		cfg.Verify.Enabled = v == "true" || v == "1"
	}

	// CEPHEID_API_KEYS: JSON array of API key configs.
	if v := os.Getenv("CEPHEID_API_KEYS"); v != "" {
		keys, err := parseAPIKeysJSON(v)
		if err == nil && len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}
}

// parseAPIKeysJSON parses a JSON array of API key configurations.
func parseAPIKeysJSON(jsonStr string) ([]APIKeyConfig, error) {
	var keys []APIKeyConfig
	if err := json.Unmarshal([]byte(jsonStr), &keys); err != nil {
		return nil, fmt.Errorf("parsing API keys JSON: %w", err)
	}
	return keys, nil
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// registry.postgres.dsn_file -> registry.postgres.dsn
	if cfg.Registry.Postgres.DSNFile != "" && cfg.Registry.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Registry.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("registry.postgres.dsn_file: %w", err)
		}
		cfg.Registry.Postgres.DSN = val
	}

	// auth.api_keys[*].key_file -> auth.api_keys[*].key
	for i := range cfg.Auth.APIKeys {
		if cfg.Auth.APIKeys[i].KeyFile != "" && cfg.Auth.APIKeys[i].Key == "" {
			val, err := readSecretFile(cfg.Auth.APIKeys[i].KeyFile)
			if err != nil {
				return fmt.Errorf("auth.api_keys[%d].key_file: %w", i, err)
			}
			cfg.Auth.APIKeys[i].Key = val
		}
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
