// Package bootstrap loads process-level configuration from the
// environment, the ambient concern a CLI entry point needs regardless of
// which spec.md components it ends up wiring together.
package bootstrap

import (
	"github.com/caarlos0/env/v11"

	"github.com/openfroyo/garden/pkg/gardenerr"
)

// Config is the process-wide configuration read once at startup.
type Config struct {
	LogLevel    string `env:"GARDEN_LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"GARDEN_LOG_FORMAT" envDefault:"console"`
	Concurrency int    `env:"GARDEN_CONCURRENCY" envDefault:"8"`
	CacheDir    string `env:"GARDEN_CACHE_DIR" envDefault:".garden"`
	KnownHosts  string `env:"GARDEN_KNOWN_HOSTS" envDefault:""`
	StrictHosts bool   `env:"GARDEN_STRICT_HOST_KEYS" envDefault:"true"`
	RunnerPath  string `env:"GARDEN_RUNNER_PATH" envDefault:"garden-micro-runner"`
	PolicyMode  string `env:"GARDEN_POLICY_MODE" envDefault:"advisory"`

	PolicyPaths      []string `env:"GARDEN_POLICY_PATHS" envSeparator:","`
	PolicyBundlePath string   `env:"GARDEN_POLICY_BUNDLE" envDefault:""`
	PolicyWatch      bool     `env:"GARDEN_POLICY_WATCH" envDefault:"false"`

	TracingEnabled  bool   `env:"GARDEN_TRACING_ENABLED" envDefault:"false"`
	TracingExporter string `env:"GARDEN_TRACING_EXPORTER" envDefault:"stdout"`
	MetricsEnabled  bool   `env:"GARDEN_METRICS_ENABLED" envDefault:"false"`
	MetricsAddress  string `env:"GARDEN_METRICS_ADDRESS" envDefault:":9090"`
}

// Load parses Config from the process environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindConfiguration, "failed to parse environment configuration", err)
	}
	return cfg, nil
}
