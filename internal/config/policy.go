package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimitRule is a sliding-window allowance: at most MaxAttempts within Window.
type RateLimitRule struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Window      time.Duration `yaml:"window"`
}

// SecurityPolicy groups validation, upload and rate-limit tunables.
type SecurityPolicy struct {
	DisposableEmailDomains []string      `yaml:"disposable_email_domains"`
	ExtraBlockedExtensions []string      `yaml:"extra_blocked_extensions"`
	CSRFLifetime           time.Duration `yaml:"csrf_lifetime"`
	SubmissionLimit        RateLimitRule `yaml:"submission_limit"`
	UploadLimit            RateLimitRule `yaml:"upload_limit"`
}

// DefaultSecurityPolicy returns the built-in policy.
func DefaultSecurityPolicy() SecurityPolicy {
	return SecurityPolicy{
		DisposableEmailDomains: []string{
			"10minutemail.com", "guerrillamail.com", "mailinator.com", "tempmail.org",
			"yopmail.com", "throwawaymail.com", "trashmail.com", "getnada.com",
			"temp-mail.org", "sharklasers.com", "dispostable.com", "maildrop.cc",
		},
		CSRFLifetime:    time.Hour,
		SubmissionLimit: RateLimitRule{MaxAttempts: 5, Window: 5 * time.Minute},
		UploadLimit:     RateLimitRule{MaxAttempts: 20, Window: 5 * time.Minute},
	}
}

// LoadSecurityPolicy reads a YAML policy file on top of the defaults.
// Keys absent from the file keep their default values.
func LoadSecurityPolicy(path string) (SecurityPolicy, error) {
	policy := DefaultSecurityPolicy()
	b, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("read security policy: %w", err)
	}
	if err := yaml.Unmarshal(b, &policy); err != nil {
		return policy, fmt.Errorf("parse security policy: %w", err)
	}
	if err := policy.validate(); err != nil {
		return policy, fmt.Errorf("invalid security policy: %w", err)
	}
	for i, d := range policy.DisposableEmailDomains {
		policy.DisposableEmailDomains[i] = strings.ToLower(strings.TrimSpace(d))
	}
	return policy, nil
}

func (p SecurityPolicy) validate() error {
	if p.CSRFLifetime <= 0 {
		return fmt.Errorf("csrf_lifetime must be positive")
	}
	for name, r := range map[string]RateLimitRule{"submission_limit": p.SubmissionLimit, "upload_limit": p.UploadLimit} {
		if r.MaxAttempts <= 0 || r.Window <= 0 {
			return fmt.Errorf("%s needs positive max_attempts and window", name)
		}
	}
	return nil
}
