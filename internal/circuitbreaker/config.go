package circuitbreaker

import (
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config holds the thresholds governing a circuit breaker. A zero value in
// any threshold field means "use the default". The config is copied at
// construction time and never mutated afterwards.
type Config struct {
	// FailureRateThreshold is the fraction (0-1] of completed calls that
	// must fail or time out before the circuit opens.
	// If 0, the threshold is 0.5.
	FailureRateThreshold float64 `json:"failure_rate_threshold"`

	// MinimumCalls is the sample size required before the failure rate
	// is evaluated at all.
	// If 0, 10 calls are required.
	MinimumCalls uint32 `json:"minimum_calls"`

	// OpenTimeout is how long the circuit stays open before the next
	// arriving call is let through as a probe.
	// If 0, the timeout is 60 seconds.
	OpenTimeout time.Duration `json:"open_timeout"`

	// HalfOpenMaxCalls caps the number of probe calls admitted per
	// half-open episode.
	// If 0, 5 probes are admitted.
	HalfOpenMaxCalls uint32 `json:"half_open_max_calls"`

	// HalfOpenSuccessThreshold is the number of consecutive successful
	// probes required to close the circuit again. Must not exceed
	// HalfOpenMaxCalls.
	// If 0, 3 consecutive successes are required.
	HalfOpenSuccessThreshold uint32 `json:"half_open_success_threshold"`

	// CallTimeout is the per-call deadline; a call exceeding it is
	// recorded as a timeout.
	// If 0, the deadline is 5 seconds.
	CallTimeout time.Duration `json:"call_timeout"`

	// Listener receives state-change and call-outcome notifications.
	// A nil Listener is a no-op.
	Listener EventListener `json:"-"`

	// IsSuccessful classifies the error returned by an operation. When it
	// returns true for a non-nil error, the call is recorded as a success
	// and the error is returned to the caller unwrapped.
	// If nil, every non-nil error is a failure.
	IsSuccessful func(err error) bool `json:"-"`

	// Logger receives the breaker's own diagnostics (currently only
	// recovered listener panics). If nil, slog.Default() is used.
	Logger *slog.Logger `json:"-"`
}

// defaultConfig returns the reference configuration.
func defaultConfig() Config {
	return Config{
		FailureRateThreshold:     0.5,
		MinimumCalls:             10,
		OpenTimeout:              60 * time.Second,
		HalfOpenMaxCalls:         5,
		HalfOpenSuccessThreshold: 3,
		CallTimeout:              5 * time.Second,
		IsSuccessful: func(err error) bool {
			// Default: any error is a failure
			return err == nil
		},
	}
}

// withDefaults merges the user config with the default config.
func (c Config) withDefaults() Config {
	config := defaultConfig()

	if c.FailureRateThreshold != 0 {
		config.FailureRateThreshold = c.FailureRateThreshold
	}
	if c.MinimumCalls != 0 {
		config.MinimumCalls = c.MinimumCalls
	}
	if c.OpenTimeout != 0 {
		config.OpenTimeout = c.OpenTimeout
	}
	if c.HalfOpenMaxCalls != 0 {
		config.HalfOpenMaxCalls = c.HalfOpenMaxCalls
	}
	if c.HalfOpenSuccessThreshold != 0 {
		config.HalfOpenSuccessThreshold = c.HalfOpenSuccessThreshold
	}
	if c.CallTimeout != 0 {
		config.CallTimeout = c.CallTimeout
	}

	config.Listener = c.Listener

	if c.IsSuccessful != nil {
		config.IsSuccessful = c.IsSuccessful
	}

	config.Logger = c.Logger
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return config
}

// Validate reports whether the configuration is usable. New validates the
// merged config, so zero fields have already been replaced by defaults;
// the rules here reject values that are nonsensical rather than merely
// absent.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.FailureRateThreshold,
			validation.Min(0.0).Exclusive(),
			validation.Max(1.0),
		),
		validation.Field(&c.OpenTimeout,
			validation.Min(time.Duration(1)),
		),
		validation.Field(&c.CallTimeout,
			validation.Min(time.Duration(1)),
		),
		validation.Field(&c.HalfOpenSuccessThreshold,
			validation.By(c.successThresholdWithinBudget),
		),
	)
}

// successThresholdWithinBudget rejects configs whose close condition can
// never be met within one half-open episode's probe budget.
func (c Config) successThresholdWithinBudget(interface{}) error {
	if c.HalfOpenSuccessThreshold > c.HalfOpenMaxCalls {
		return validation.NewError(
			"validation_success_threshold_exceeds_budget",
			"half_open_success_threshold must not exceed half_open_max_calls",
		)
	}
	return nil
}
