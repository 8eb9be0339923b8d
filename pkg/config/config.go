package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/warpengine/pkg/evaluator"
	"github.com/cuemby/warpengine/pkg/log"
)

// Config is the top-level daemon/CLI configuration: where data lives, what
// gateway to fetch interactions from, what to listen on, and the evaluation
// options applied to every fold.
type Config struct {
	DataDir     string `yaml:"dataDir"`
	GatewayURL  string `yaml:"gatewayUrl"`
	APIAddr     string `yaml:"apiAddr"`
	MetricsAddr string `yaml:"metricsAddr"`

	LogLevel  log.Level `yaml:"logLevel"`
	LogJSON   bool      `yaml:"logJson"`

	CacheRetain         int           `yaml:"cacheRetain"`
	CachePruneInterval  time.Duration `yaml:"cachePruneInterval"`

	// TLSCertFile and TLSKeyFile, if both set, make warpd terminate TLS on
	// APIAddr directly instead of serving plaintext HTTP.
	TLSCertFile string `yaml:"tlsCertFile"`
	TLSKeyFile  string `yaml:"tlsKeyFile"`

	Evaluator evaluator.Options `yaml:"evaluator"`
}

// Default returns the configuration a fresh install should start from.
func Default() Config {
	return Config{
		DataDir:            "./data",
		APIAddr:            "127.0.0.1:8787",
		MetricsAddr:        "127.0.0.1:9090",
		LogLevel:           log.InfoLevel,
		CacheRetain:        100,
		CachePruneInterval: time.Hour,
		Evaluator:          evaluator.DefaultOptions(),
	}
}

// Load reads and parses a YAML config file, starting from Default() so any
// field the file omits keeps its default value.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return cfg, nil
}
