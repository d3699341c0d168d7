package config

import (
	"time"

	"github.com/knadh/koanf/v2"
)

// Config represents the overall gateway configuration.
// The embedded koanf instance allows lookups of keys not modelled here.
type Config struct {
	App           AppConfig           `koanf:"app"`
	Server        ServerConfig        `koanf:"server"`
	Log           LogConfig           `koanf:"log"`
	Backend       BackendConfig       `koanf:"backend"`
	Worker        WorkerConfig        `koanf:"worker"`
	Retry         RetryConfig         `koanf:"retry"`
	Observability ObservabilityConfig `koanf:"observability"`

	// k holds the underlying Koanf instance for flexible access to custom configurations
	k *koanf.Koanf `json:"-" yaml:"-" mapstructure:"-"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name    string `koanf:"name" validate:"required"`
	Version string `koanf:"version" validate:"required"`
	Env     string `koanf:"env" validate:"oneof=development staging production"`
	Debug   bool   `koanf:"debug"`
}

// ServerConfig holds inbound HTTP server settings.
type ServerConfig struct {
	Host      string `koanf:"host"`
	Port      int    `koanf:"port" validate:"gte=1,lte=65535"`
	BodyLimit string `koanf:"bodylimit" validate:"required"`
	RateLimit int    `koanf:"ratelimit" validate:"gte=0"`
	// CORS is a comma-separated list of allowed origins, "*" for any.
	CORS    string        `koanf:"cors" validate:"required"`
	Timeout TimeoutConfig `koanf:"timeout"`
}

// TimeoutConfig holds server-side timeouts. Write is zero by default because
// chat responses are long-lived streams.
type TimeoutConfig struct {
	Read     time.Duration `koanf:"read" validate:"gt=0"`
	Write    time.Duration `koanf:"write" validate:"gte=0"`
	Idle     time.Duration `koanf:"idle" validate:"gt=0"`
	Shutdown time.Duration `koanf:"shutdown" validate:"gt=0"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `koanf:"pretty"`
}

// BackendConfig locates the orchestration backend.
type BackendConfig struct {
	URL     string               `koanf:"url" validate:"required,url"`
	Timeout BackendTimeoutConfig `koanf:"timeout"`
}

// BackendTimeoutConfig holds per-call budgets for the orchestration backend.
type BackendTimeoutConfig struct {
	Health time.Duration `koanf:"health" validate:"gt=0"`
	Chat   time.Duration `koanf:"chat" validate:"gt=0"`
}

// WorkerConfig locates the browser-automation worker.
type WorkerConfig struct {
	URL     string              `koanf:"url" validate:"required,url"`
	Timeout WorkerTimeoutConfig `koanf:"timeout"`
}

// WorkerTimeoutConfig holds per-call budgets for the browser-automation worker.
// Multi-step calls use max(TestMin, steps*PerStep+Overhead).
type WorkerTimeoutConfig struct {
	Health   time.Duration `koanf:"health" validate:"gt=0"`
	Action   time.Duration `koanf:"action" validate:"gt=0"`
	TestMin  time.Duration `koanf:"testmin" validate:"gt=0"`
	PerStep  time.Duration `koanf:"perstep" validate:"gt=0"`
	Overhead time.Duration `koanf:"overhead" validate:"gte=0"`
}

// RetryConfig is the single retry policy shared by every mutating call site.
// Health probes always use zero retries.
type RetryConfig struct {
	MaxRetries int           `koanf:"maxretries" validate:"gte=0,lte=10"`
	BaseDelay  time.Duration `koanf:"basedelay" validate:"gt=0"`
	MaxDelay   time.Duration `koanf:"maxdelay" validate:"gtefield=BaseDelay"`
}

// ObservabilityConfig holds tracing and metrics settings.
type ObservabilityConfig struct {
	Trace   TraceConfig   `koanf:"trace"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// TraceConfig selects the span exporter. Endpoint "stdout" prints spans locally;
// anything else is treated as an OTLP/HTTP collector host:port.
type TraceConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint" validate:"required_if=Enabled true"`
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"samplerate" validate:"gte=0,lte=1"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path" validate:"omitempty,startswith=/"`
}
