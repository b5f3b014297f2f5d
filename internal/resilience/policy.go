package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Config is the configuration form of a Policy.
type Config struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Retry converts the config to a RetryConfig.
func (c Config) Retry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: time.Duration(c.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(c.MaxBackoffMs) * time.Millisecond,
		JitterFraction: c.JitterFraction,
	}
}

// Breaker converts the config to a BreakerConfig.
func (c Config) Breaker() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: c.FailureThreshold,
		ResetTimeout:     time.Duration(c.ResetTimeoutSecs) * time.Second,
	}
}

// Policy combines a breaker and a retry schedule for one collaborator. The
// breaker wraps the whole retry loop, so one exhausted call counts as one
// failure.
type Policy struct {
	name    string
	breaker *Breaker
	retry   RetryConfig
}

// NewPolicy creates a policy named after the collaborator it guards.
func NewPolicy(name string, cfg Config) *Policy {
	bc := cfg.Breaker()
	bc.OnStateChange = func(from, to CircuitState) {
		zap.L().Warn("circuit breaker state change",
			zap.String("service", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	return &Policy{name: name, breaker: NewBreaker(bc), retry: cfg.Retry()}
}

// Breaker exposes the underlying breaker.
func (p *Policy) Breaker() *Breaker {
	return p.breaker
}

// Call runs fn under the policy.
func Call[T any](ctx context.Context, p *Policy, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	retry := p.retry
	retry.OnRetry = RetryLogger(p.name, operation)

	var out T
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		v, err := Retry(ctx, retry, fn)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
