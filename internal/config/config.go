// Package config loads CLI settings from an optional YAML file.
package config

import (
	"errors"
	"io/fs"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/pzverkov/quantum-shield/internal/constants"
	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
)

// DefaultFile is read when no config path is given and it exists.
const DefaultFile = "quantum-shield.yaml"

// Config holds CLI settings. Command-line flags override file values.
type Config struct {
	Purity        string `yaml:"purity"`
	MaxQubits     int    `yaml:"max_qubits"`
	KDFIterations int    `yaml:"kdf_iterations"`
	StoreDir      string `yaml:"store_dir"`
	StoreBackend  string `yaml:"store_backend"`
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	Tracing       string `yaml:"tracing"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Purity:        constants.PurityBalanced.String(),
		MaxQubits:     constants.DefaultQubitsPerRound,
		KDFIterations: constants.KDFIterations,
		StoreDir:      "quantum-shield-store",
		StoreBackend:  "badger",
		LogLevel:      "info",
		LogFormat:     "text",
		Tracing:       "none",
	}
}

// Load reads path over the defaults. An empty path reads DefaultFile if it
// exists and otherwise returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, qerrors.NewStorageError(path, err)
	}

	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, qerrors.Invalid("config.Load", "%s: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks value ranges. The purity label is checked by the caller
// that parses it.
func (c Config) Validate() error {
	if c.MaxQubits < 1 || c.MaxQubits > constants.MaxQubitsPerRound {
		return qerrors.Invalid("config", "max_qubits %d outside [1, %d]", c.MaxQubits, constants.MaxQubitsPerRound)
	}
	if c.KDFIterations < 1 {
		return qerrors.Invalid("config", "kdf_iterations must be positive")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return qerrors.Invalid("config", "log_format %q is not text or json", c.LogFormat)
	}
	switch c.StoreBackend {
	case "badger", "file":
	default:
		return qerrors.Invalid("config", "store_backend %q is not badger or file", c.StoreBackend)
	}
	switch c.Tracing {
	case "none", "simple", "otel":
	default:
		return qerrors.Invalid("config", "tracing %q is not none, simple or otel", c.Tracing)
	}
	return nil
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
