// Package config holds the process-wide engine configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/dhawalhost/wardgate/internal/audit"
)

// ErrValidation is returned for configurations that fail validation.
var ErrValidation = errors.New("config: validation failed")

// Config is the engine configuration. It is loaded once at initialization
// and changed only through Manager.Update.
type Config struct {
	DefaultUserRole  string         `yaml:"default_user_role" json:"default_user_role" validate:"required"`
	SessionTimeout   time.Duration  `yaml:"session_timeout" json:"session_timeout" validate:"gt=0"`
	MaxLoginAttempts int            `yaml:"max_login_attempts" json:"max_login_attempts" validate:"gte=1"`
	PasswordPolicy   PasswordPolicy `yaml:"password_policy" json:"password_policy"`
	MFA              MFAPolicy      `yaml:"mfa" json:"mfa"`
	Audit            AuditPolicy    `yaml:"audit" json:"audit"`
	Access           AccessPolicy   `yaml:"access" json:"access"`
	Report           Thresholds     `yaml:"report" json:"report"`
}

// PasswordPolicy is carried for the embedding authentication system; the
// engine itself never checks passwords.
type PasswordPolicy struct {
	MinLength        int  `yaml:"min_length" json:"min_length" validate:"gte=6"`
	RequireUppercase bool `yaml:"require_uppercase" json:"require_uppercase"`
	RequireLowercase bool `yaml:"require_lowercase" json:"require_lowercase"`
	RequireNumbers   bool `yaml:"require_numbers" json:"require_numbers"`
	RequireSymbols   bool `yaml:"require_symbols" json:"require_symbols"`
	MaxAgeDays       int  `yaml:"max_age_days" json:"max_age_days" validate:"gte=0"`
}

// MFAPolicy controls when a granted decision reports requiresMFA.
type MFAPolicy struct {
	Required           bool     `yaml:"required" json:"required"`
	RequiredForRoles   []string `yaml:"required_for_roles" json:"required_for_roles"`
	RequiredForActions []string `yaml:"required_for_actions" json:"required_for_actions"`
	Methods            []string `yaml:"methods" json:"methods" validate:"dive,oneof=totp sms email webauthn"`
}

// AuditPolicy controls retention and forwarding of audit entries.
type AuditPolicy struct {
	RetentionDays             int  `yaml:"retention_days" json:"retention_days" validate:"gte=0"`
	MaxEntries                int  `yaml:"max_entries" json:"max_entries" validate:"gte=1"`
	LogAllActions             bool `yaml:"log_all_actions" json:"log_all_actions"`
	LogFailedOnly             bool `yaml:"log_failed_only" json:"log_failed_only"`
	AlertOnSuspiciousActivity bool `yaml:"alert_on_suspicious_activity" json:"alert_on_suspicious_activity"`
	AlertRiskThreshold        int  `yaml:"alert_risk_threshold" json:"alert_risk_threshold" validate:"gte=0,lte=100"`
}

// AccessPolicy holds the decision and workflow knobs.
type AccessPolicy struct {
	EvaluationTimeout     time.Duration `yaml:"evaluation_timeout" json:"evaluation_timeout" validate:"gt=0"`
	RequestTTL            time.Duration `yaml:"request_ttl" json:"request_ttl" validate:"gte=0"`
	TransitiveInheritance bool          `yaml:"transitive_inheritance" json:"transitive_inheritance"`
	SweepSchedule         string        `yaml:"sweep_schedule" json:"sweep_schedule" validate:"required"`
}

// Thresholds drive the recommendations of the security report.
type Thresholds struct {
	MaxPendingRequests    int     `yaml:"max_pending_requests" json:"max_pending_requests" validate:"gte=0"`
	MaxFailedLogins       int     `yaml:"max_failed_logins" json:"max_failed_logins" validate:"gte=0"`
	MaxPrivilegedRatio    float64 `yaml:"max_privileged_ratio" json:"max_privileged_ratio" validate:"gte=0,lte=1"`
	MaxSuspiciousActivity int     `yaml:"max_suspicious_activity" json:"max_suspicious_activity" validate:"gte=0"`
	PrivilegedHierarchy   int     `yaml:"privileged_hierarchy" json:"privileged_hierarchy" validate:"gte=1"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		DefaultUserRole:  "user",
		SessionTimeout:   8 * time.Hour,
		MaxLoginAttempts: 5,
		PasswordPolicy: PasswordPolicy{
			MinLength:        12,
			RequireUppercase: true,
			RequireLowercase: true,
			RequireNumbers:   true,
			RequireSymbols:   true,
			MaxAgeDays:       90,
		},
		MFA: MFAPolicy{
			Required:           true,
			RequiredForRoles:   []string{"super_admin", "admin"},
			RequiredForActions: []string{"delete", "manage"},
			Methods:            []string{"totp", "email"},
		},
		Audit: AuditPolicy{
			RetentionDays:             90,
			MaxEntries:                audit.DefaultMaxEntries,
			LogAllActions:             true,
			AlertOnSuspiciousActivity: true,
			AlertRiskThreshold:        70,
		},
		Access: AccessPolicy{
			EvaluationTimeout: 2 * time.Second,
			RequestTTL:        7 * 24 * time.Hour,
			SweepSchedule:     "@every 1m",
		},
		Report: Thresholds{
			MaxPendingRequests:    5,
			MaxFailedLogins:       10,
			MaxPrivilegedRatio:    0.10,
			MaxSuspiciousActivity: 20,
			PrivilegedHierarchy:   8,
		},
	}
}

var validate = validator.New()

// Validate checks field constraints and the sweep schedule syntax.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if _, err := cron.ParseStandard(c.Access.SweepSchedule); err != nil {
		return fmt.Errorf("%w: sweep_schedule: %v", ErrValidation, err)
	}
	return nil
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	c.MFA.RequiredForRoles = slices.Clone(c.MFA.RequiredForRoles)
	c.MFA.RequiredForActions = slices.Clone(c.MFA.RequiredForActions)
	c.MFA.Methods = slices.Clone(c.MFA.Methods)
	return c
}

// AuditPolicy converts the audit section for the audit service.
func (c Config) AuditPolicy() audit.Policy {
	return audit.Policy{
		MaxEntries:                c.Audit.MaxEntries,
		RetentionDays:             c.Audit.RetentionDays,
		LogAllActions:             c.Audit.LogAllActions,
		LogFailedOnly:             c.Audit.LogFailedOnly,
		AlertOnSuspiciousActivity: c.Audit.AlertOnSuspiciousActivity,
		AlertRiskThreshold:        c.Audit.AlertRiskThreshold,
	}
}

// Parse decodes YAML over the defaults, so omitted keys keep their default value.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads path. A missing file yields the defaults.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
