// Package config loads gateway configuration from defaults, YAML and the
// environment using koanf, and validates it before anything is wired.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables before they are mapped onto
// config keys, e.g. GATEWAY_BACKEND_URL -> backend.url.
const EnvPrefix = "GATEWAY_"

// Options controls where Load reads from. The zero value reads config.yaml and
// .env from the working directory plus the process environment.
type Options struct {
	// File is an optional YAML file. Missing files are ignored.
	File string
	// YAML is inline YAML applied after File.
	YAML []byte
	// DotEnv is an optional .env file. Its entries never override real environment variables.
	DotEnv string
	// Environ returns the environment; defaults to os.Environ.
	Environ func() []string
}

// Load loads configuration from multiple sources with priority:
// 1. Environment variables, then .env entries (highest priority)
// 2. Inline YAML, then YAML file
// 3. Default values (lowest priority)
func Load(opts Options) (*Config, error) {
	if opts.File == "" {
		opts.File = "config.yaml"
	}
	if opts.DotEnv == "" {
		opts.DotEnv = ".env"
	}
	if opts.Environ == nil {
		opts.Environ = os.Environ
	}

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", opts.File, err)
	}

	if len(opts.YAML) > 0 {
		if err := k.Load(rawbytes.Provider(opts.YAML), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse inline yaml: %w", err)
		}
	}

	environ, err := withDotEnv(opts.DotEnv, opts.Environ)
	if err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envKey,
		EnvironFunc:   environ,
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// envKey converts GATEWAY_BACKEND_TIMEOUT_CHAT to backend.timeout.chat
func envKey(key, value string) (string, any) {
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "_", "."), value
}

// withDotEnv appends entries from a .env file that are not already set in the environment.
func withDotEnv(path string, environ func() []string) (func() []string, error) {
	entries, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return environ, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return func() []string {
		base := environ()
		set := make(map[string]struct{}, len(base))
		for _, kv := range base {
			name, _, _ := strings.Cut(kv, "=")
			set[name] = struct{}{}
		}
		merged := append([]string(nil), base...)
		for name, value := range entries {
			if _, exists := set[name]; !exists {
				merged = append(merged, name+"="+value)
			}
		}
		return merged
	}, nil
}

func defaults() map[string]any {
	return map[string]any{
		"app.name":    "e2e-gateway",
		"app.version": "v0.1.0",
		"app.env":     EnvDevelopment,
		"app.debug":   false,

		"server.host":             "0.0.0.0",
		"server.port":             8080,
		"server.bodylimit":        "10M",
		"server.ratelimit":        50,
		"server.cors":             "*",
		"server.timeout.read":     "15s",
		"server.timeout.write":    "0s",
		"server.timeout.idle":     "120s",
		"server.timeout.shutdown": "10s",

		"log.level":  "info",
		"log.pretty": false,

		"backend.url":            "http://localhost:8000",
		"backend.timeout.health": "5s",
		"backend.timeout.chat":   "300s",

		"worker.url":              "http://localhost:8787",
		"worker.timeout.health":   "5s",
		"worker.timeout.action":   "60s",
		"worker.timeout.testmin":  "180s",
		"worker.timeout.perstep":  "45s",
		"worker.timeout.overhead": "60s",

		"retry.maxretries": 2,
		"retry.basedelay":  "1s",
		"retry.maxdelay":   "5s",

		"observability.trace.enabled":    false,
		"observability.trace.endpoint":   EndpointStdout,
		"observability.trace.insecure":   true,
		"observability.trace.samplerate": 1.0,
		"observability.metrics.enabled":  true,
		"observability.metrics.path":     "/metrics",
	}
}

// String returns a raw value by key path, for settings not modelled in Config.
func (c *Config) String(path string) string {
	if c.k == nil {
		return ""
	}
	return c.k.String(path)
}

// Exists reports whether a key path was set by any source.
func (c *Config) Exists(path string) bool {
	return c.k != nil && c.k.Exists(path)
}
