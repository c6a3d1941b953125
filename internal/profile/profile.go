// Package profile loads per-service circuit breaker settings from a YAML
// file. A file carries a defaults section plus named service overrides;
// unset keys fall through to the defaults section and then to the library
// defaults.
package profile

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"

	"github.com/reservify/fuse/internal/circuitbreaker"
)

// Overrides is one profile entry. All fields are optional; durations are
// strings in time.ParseDuration form ("30s", "2m").
type Overrides struct {
	FailureRateThreshold     *float64 `mapstructure:"failure_rate_threshold"`
	MinimumCalls             *uint32  `mapstructure:"minimum_calls"`
	OpenTimeout              *string  `mapstructure:"open_timeout"`
	HalfOpenMaxCalls         *uint32  `mapstructure:"half_open_max_calls"`
	HalfOpenSuccessThreshold *uint32  `mapstructure:"half_open_success_threshold"`
	CallTimeout              *string  `mapstructure:"call_timeout"`
}

// File is the on-disk profile layout.
type File struct {
	Defaults Overrides            `mapstructure:"defaults"`
	Services map[string]Overrides `mapstructure:"services"`
}

func (f *File) Validate() error {
	if err := f.Defaults.Validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	for name, o := range f.Services {
		if err := o.Validate(); err != nil {
			return fmt.Errorf("services.%s: %w", name, err)
		}
	}
	return nil
}

func (o Overrides) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.FailureRateThreshold, validation.By(validateRate)),
		validation.Field(&o.OpenTimeout, validation.By(validateDuration)),
		validation.Field(&o.CallTimeout, validation.By(validateDuration)),
	)
}

// apply copies the set fields onto cfg.
func (o Overrides) apply(cfg *circuitbreaker.Config) error {
	if o.FailureRateThreshold != nil {
		cfg.FailureRateThreshold = *o.FailureRateThreshold
	}
	if o.MinimumCalls != nil {
		cfg.MinimumCalls = *o.MinimumCalls
	}
	if o.OpenTimeout != nil {
		d, err := time.ParseDuration(*o.OpenTimeout)
		if err != nil {
			return fmt.Errorf("open_timeout: %w", err)
		}
		cfg.OpenTimeout = d
	}
	if o.HalfOpenMaxCalls != nil {
		cfg.HalfOpenMaxCalls = *o.HalfOpenMaxCalls
	}
	if o.HalfOpenSuccessThreshold != nil {
		cfg.HalfOpenSuccessThreshold = *o.HalfOpenSuccessThreshold
	}
	if o.CallTimeout != nil {
		d, err := time.ParseDuration(*o.CallTimeout)
		if err != nil {
			return fmt.Errorf("call_timeout: %w", err)
		}
		cfg.CallTimeout = d
	}
	return nil
}

// Store holds resolved breaker configs keyed by service name.
type Store struct {
	defaults circuitbreaker.Config
	services map[string]circuitbreaker.Config
}

// Load reads the profile file at path and resolves every service entry.
// With an empty path it searches for profiles.yaml in ./config and the
// working directory, falling back to defaults when no file exists; an
// explicit path must exist. Environment variables with the FUSE prefix
// override the defaults section (FUSE_DEFAULTS_CALL_TIMEOUT=2s).
func Load(path string) (*Store, error) {
	v := viper.New()

	v.SetDefault("defaults.failure_rate_threshold", 0.5)
	v.SetDefault("defaults.minimum_calls", 10)
	v.SetDefault("defaults.open_timeout", "60s")
	v.SetDefault("defaults.half_open_max_calls", 5)
	v.SetDefault("defaults.half_open_success_threshold", 3)
	v.SetDefault("defaults.call_timeout", "5s")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("profiles")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FUSE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read profiles: %w", err)
		}
		slog.Info("profile file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded profile file", slog.String("file", v.ConfigFileUsed()))
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("unmarshal profiles: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profiles: %w", err)
	}

	return resolve(&f)
}

// resolve flattens the file into per-service configs and rejects any
// profile the breaker itself would refuse.
func resolve(f *File) (*Store, error) {
	var defaults circuitbreaker.Config
	if err := f.Defaults.apply(&defaults); err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}
	if _, err := circuitbreaker.New("defaults", defaults); err != nil {
		return nil, err
	}

	services := make(map[string]circuitbreaker.Config, len(f.Services))
	for name, o := range f.Services {
		cfg := defaults
		if err := o.apply(&cfg); err != nil {
			return nil, fmt.Errorf("services.%s: %w", name, err)
		}
		if _, err := circuitbreaker.New(name, cfg); err != nil {
			return nil, err
		}
		services[name] = cfg
	}

	return &Store{defaults: defaults, services: services}, nil
}

// For returns the resolved config for a service, or the defaults when no
// profile names it. Fields left unset resolve to the library defaults when
// a breaker is built from the config.
func (s *Store) For(name string) circuitbreaker.Config {
	if cfg, ok := s.services[name]; ok {
		return cfg
	}
	return s.defaults
}

// Defaults returns the resolved defaults section.
func (s *Store) Defaults() circuitbreaker.Config {
	return s.defaults
}

// Names returns the profiled service names in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validateRate(value interface{}) error {
	f, ok := value.(*float64)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a number")
	}
	if f == nil {
		return nil
	}
	if *f <= 0 || *f > 1 {
		return validation.NewError("validation_rate_out_of_range", "must be greater than 0 and at most 1")
	}
	return nil
}

func validateDuration(value interface{}) error {
	s, ok := value.(*string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if s == nil {
		return nil
	}
	if _, err := time.ParseDuration(*s); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 30s, 2m)")
	}
	return nil
}
