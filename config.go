package callmeter

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level callmeter configuration.
type Config struct {
	SystemName  string            `yaml:"system_name" validate:"required"`
	Cardinality CardinalityConfig `yaml:"cardinality"`
	ErrorTypes  map[string]string `yaml:"error_types" validate:"omitempty,dive,keys,required,endkeys,required"`
	Log         LogConfig         `yaml:"log"`
	Prometheus  PrometheusConfig  `yaml:"prometheus"`
	OTel        OTelConfig        `yaml:"otel"`
}

// CardinalityConfig bounds label values. Zero disables the bound.
type CardinalityConfig struct {
	MaxValuesPerLabel int `yaml:"max_values_per_label" validate:"gte=0"`
}

// LogConfig configures the log sink.
type LogConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PrometheusConfig configures the Prometheus sink.
type PrometheusConfig struct {
	Enabled   bool      `yaml:"enabled"`
	Namespace string    `yaml:"namespace"`
	Buckets   []float64 `yaml:"buckets" validate:"omitempty,dive,gt=0"`
}

// OTelConfig configures the OpenTelemetry sink.
type OTelConfig struct {
	Enabled   bool      `yaml:"enabled"`
	MeterName string    `yaml:"meter_name"`
	Buckets   []float64 `yaml:"buckets" validate:"omitempty,dive,gt=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("callmeter: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("callmeter: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if strings.TrimSpace(c.SystemName) == "" {
		return fmt.Errorf("%w: system_name is required", ErrInvalidConfiguration)
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalidConfiguration, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	if err := checkBuckets("prometheus.buckets", c.Prometheus.Buckets); err != nil {
		return err
	}
	if err := checkBuckets("otel.buckets", c.OTel.Buckets); err != nil {
		return err
	}

	return nil
}

func checkBuckets(field string, buckets []float64) error {
	for i := 1; i < len(buckets); i++ {
		if buckets[i] <= buckets[i-1] {
			return fmt.Errorf("%w: %s must be strictly increasing", ErrInvalidConfiguration, field)
		}
	}
	return nil
}
