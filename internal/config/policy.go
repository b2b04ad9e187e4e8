package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Policy holds the tunable retry, cooldown and recognition constants.
type Policy struct {
	HTTPTimeoutSeconds    int `toml:"http_timeout_seconds"`
	TransportRetries      int `toml:"transport_retries"`
	TransportRetryDelayMs int `toml:"transport_retry_delay_ms"`
	RateLimitRetries      int `toml:"rate_limit_retries"`
	RateLimitBackoffMs    int `toml:"rate_limit_backoff_ms"`

	CaptchaAttempts   int     `toml:"captcha_attempts"`
	CaptchaDelayMinMs int     `toml:"captcha_delay_min_ms"`
	CaptchaDelayMaxMs int     `toml:"captcha_delay_max_ms"`
	MinConfidence     float64 `toml:"min_confidence"`

	RateLimitCooldownSeconds       int `toml:"rate_limit_cooldown_seconds"`
	CaptchaCooldownSeconds         int `toml:"captcha_cooldown_seconds"`
	CaptchaRejectedCooldownSeconds int `toml:"captcha_rejected_cooldown_seconds"`

	MaxRetries          int `toml:"max_retries"`
	MaxRounds           int `toml:"max_rounds"`
	RoundDelaySeconds   int `toml:"round_delay_seconds"`
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
}

func DefaultPolicy() Policy {
	return Policy{
		HTTPTimeoutSeconds:    30,
		TransportRetries:      3,
		TransportRetryDelayMs: 2000,
		RateLimitRetries:      5,
		RateLimitBackoffMs:    1000,

		CaptchaAttempts:   4,
		CaptchaDelayMinMs: 1000,
		CaptchaDelayMaxMs: 3000,
		MinConfidence:     0.5,

		RateLimitCooldownSeconds:       60,
		CaptchaCooldownSeconds:         30,
		CaptchaRejectedCooldownSeconds: 5,

		MaxRetries:          5,
		MaxRounds:           20,
		RoundDelaySeconds:   2,
		PollIntervalSeconds: 5,
	}
}

// LoadPolicy overlays the TOML file at path on top of base. A missing file
// leaves base untouched.
func LoadPolicy(path string, base Policy) (Policy, error) {
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return base, err
	}
	policy := base
	if err := toml.Unmarshal(data, &policy); err != nil {
		return base, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	return policy, nil
}

func (p Policy) Validate() error {
	if p.HTTPTimeoutSeconds <= 0 {
		return errors.New("http_timeout_seconds must be positive")
	}
	if p.TransportRetries < 0 || p.RateLimitRetries < 0 {
		return errors.New("retry counts must not be negative")
	}
	if p.CaptchaAttempts <= 0 {
		return errors.New("captcha_attempts must be positive")
	}
	if p.CaptchaDelayMaxMs < p.CaptchaDelayMinMs {
		return errors.New("captcha_delay_max_ms must be >= captcha_delay_min_ms")
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return errors.New("min_confidence must be within [0, 1]")
	}
	if p.RateLimitCooldownSeconds <= 0 || p.CaptchaCooldownSeconds <= 0 || p.CaptchaRejectedCooldownSeconds <= 0 {
		return errors.New("cooldown durations must be positive")
	}
	if p.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}
	if p.MaxRounds <= 0 {
		return errors.New("max_rounds must be positive")
	}
	if p.PollIntervalSeconds <= 0 {
		return errors.New("poll_interval_seconds must be positive")
	}
	return nil
}

func (p Policy) HTTPTimeout() time.Duration {
	return time.Duration(p.HTTPTimeoutSeconds) * time.Second
}

func (p Policy) TransportRetryDelay() time.Duration {
	return time.Duration(p.TransportRetryDelayMs) * time.Millisecond
}

func (p Policy) RateLimitBackoff() time.Duration {
	return time.Duration(p.RateLimitBackoffMs) * time.Millisecond
}

func (p Policy) CaptchaDelayRange() (time.Duration, time.Duration) {
	return time.Duration(p.CaptchaDelayMinMs) * time.Millisecond, time.Duration(p.CaptchaDelayMaxMs) * time.Millisecond
}

func (p Policy) RoundDelay() time.Duration {
	return time.Duration(p.RoundDelaySeconds) * time.Second
}

func (p Policy) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSeconds) * time.Second
}

func (p Policy) RateLimitCooldown() time.Duration {
	return time.Duration(p.RateLimitCooldownSeconds) * time.Second
}

func (p Policy) CaptchaCooldown() time.Duration {
	return time.Duration(p.CaptchaCooldownSeconds) * time.Second
}

func (p Policy) CaptchaRejectedCooldown() time.Duration {
	return time.Duration(p.CaptchaRejectedCooldownSeconds) * time.Second
}
