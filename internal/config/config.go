package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name. Unprefixed names are read as a
// fallback, so both TERMBRIDGE_PORT and PORT work.
const Prefix = "TERMBRIDGE"

// Settings holds the bridge configuration.
type Settings struct {
	Port           string   `envconfig:"PORT" default:"8080"`
	InternalToken  string   `envconfig:"INTERNAL_TOKEN"`
	AuthDisabled   bool     `envconfig:"AUTH_DISABLED" default:"false"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`

	WorkspaceBase string `envconfig:"WORKSPACE_BASE" default:"/workspace"`
	RunspacesFile string `envconfig:"RUNSPACES_FILE"`
	ShellPath     string `envconfig:"SHELL_PATH"`

	// Terminal session settings
	GracePeriod     time.Duration `envconfig:"GRACE_PERIOD" default:"5m"`
	ScrollbackBytes int           `envconfig:"SCROLLBACK_BYTES" default:"1048576"`
	MaxMessageBytes int64         `envconfig:"MAX_MESSAGE_BYTES" default:"65536"`
	InputRateLimit  float64       `envconfig:"INPUT_RATE_LIMIT" default:"200"`
	InputRateBurst  int           `envconfig:"INPUT_RATE_BURST" default:"200"`

	GuardInteractive   bool     `envconfig:"GUARD_INTERACTIVE" default:"true"`
	GuardExtraPatterns []string `envconfig:"GUARD_EXTRA_PATTERNS"`

	AuditDBPath string `envconfig:"AUDIT_DB_PATH"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Dev      bool   `envconfig:"DEV" default:"false"`
}

// Load reads Settings from the environment and validates them.
func Load() (Settings, error) {
	s, err := Read()
	if err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Read reads Settings from the environment without validating them.
func Read() (Settings, error) {
	var s Settings
	if err := envconfig.Process(Prefix, &s); err != nil {
		return Settings{}, fmt.Errorf("load config: %w", err)
	}
	return s, nil
}

// Validate rejects settings the bridge cannot run with.
func (s Settings) Validate() error {
	var errs []error
	if s.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if s.GracePeriod <= 0 {
		errs = append(errs, fmt.Errorf("GRACE_PERIOD must be positive, got %s", s.GracePeriod))
	}
	if s.ScrollbackBytes <= 0 {
		errs = append(errs, fmt.Errorf("SCROLLBACK_BYTES must be positive, got %d", s.ScrollbackBytes))
	}
	if s.MaxMessageBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_MESSAGE_BYTES must be positive, got %d", s.MaxMessageBytes))
	}
	if s.InputRateLimit <= 0 || s.InputRateBurst <= 0 {
		errs = append(errs, errors.New("INPUT_RATE_LIMIT and INPUT_RATE_BURST must be positive"))
	}
	if !s.AuthDisabled && s.InternalToken == "" {
		errs = append(errs, errors.New("INTERNAL_TOKEN is required unless AUTH_DISABLED=true"))
	}
	return errors.Join(errs...)
}
