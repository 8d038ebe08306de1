package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lucas/securewss/internal/pki"
)

// Environment overrides, applied after the YAML file.
const (
	EnvExportPassword = "SECUREWSS_EXPORT_PASSWORD"
	EnvCertDir        = "SECUREWSS_CERT_DIR"
	EnvDomain         = "SECUREWSS_DOMAIN"
)

// Loader handles configuration loading and validation.
type Loader struct {
	validate *validator.Validate
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		validate: validator.New(),
	}
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// LoadFile loads and validates configuration from a YAML file.
func (l *Loader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Load(data)
}

// Load parses and validates configuration from YAML bytes.
func (l *Loader) Load(data []byte) (*Config, error) {
	// Start with defaults
	cfg := Defaults()

	// Parse YAML over defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyEnv(cfg)

	// Validate
	if err := l.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overrides configuration values from the environment.
func ApplyEnv(cfg *Config) {
	if v, ok := os.LookupEnv(EnvExportPassword); ok {
		cfg.CA.ExportPassword = v
	}
	if v := os.Getenv(EnvCertDir); v != "" {
		cfg.CA.CertDir = v
	}
	if v, ok := os.LookupEnv(EnvDomain); ok {
		cfg.Node.Domain = strings.Trim(v, ".")
	}
}

// Validate validates a configuration struct.
func (l *Loader) Validate(cfg *Config) error {
	if err := l.validate.Struct(cfg); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return fmt.Errorf("config validation failed: %s", formatValidationErrors(validationErrors))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Additional semantic validations
	if err := l.validateSemantics(cfg); err != nil {
		return err
	}

	return nil
}

// validateSemantics performs additional validation beyond struct tags.
func (l *Loader) validateSemantics(cfg *Config) error {
	if _, err := pki.ParseDistinguishedName(cfg.CA.RootSubject); err != nil {
		return fmt.Errorf("ca.root_subject: %w", err)
	}
	if cfg.CA.LeafSubject != "" {
		if _, err := pki.ParseDistinguishedName(cfg.CA.LeafSubject); err != nil {
			return fmt.Errorf("ca.leaf_subject: %w", err)
		}
	}
	if cfg.CA.RootName == cfg.CA.LeafName {
		return fmt.Errorf("ca.root_name and ca.leaf_name must differ")
	}

	// The renewal window has to fit inside the server certificate lifetime,
	// otherwise every pass would reissue.
	if cfg.CA.RenewBefore <= 0 {
		return fmt.Errorf("ca.renew_before must be positive")
	}
	leafLifetime := time.Duration(cfg.CA.LeafValidityYears) * 365 * 24 * time.Hour
	if cfg.CA.RenewBefore >= leafLifetime {
		return fmt.Errorf("ca.renew_before (%s) must be shorter than the server certificate validity", cfg.CA.RenewBefore)
	}
	if cfg.CA.CheckInterval < time.Minute {
		return fmt.Errorf("ca.check_interval must be at least 1m, got %s", cfg.CA.CheckInterval)
	}

	if cfg.Trust.Enabled {
		if cfg.Trust.Dir == "" {
			return fmt.Errorf("trust enabled but dir not specified")
		}
		if _, _, err := cfg.Trust.TrustTarget(); err != nil {
			return fmt.Errorf("trust: %w", err)
		}
	}

	if cfg.Listener.Enabled {
		if cfg.Listener.HTTP == cfg.Listener.HTTPS {
			return fmt.Errorf("listener.http and listener.https must use different ports")
		}
		if cfg.Listener.WebRoot == "" {
			return fmt.Errorf("listener enabled but web_root not specified")
		}
	}

	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		return fmt.Errorf("journal enabled but path not specified")
	}

	return nil
}

// formatValidationErrors formats validation errors into a readable string.
func formatValidationErrors(errors validator.ValidationErrors) string {
	var result string
	for i, err := range errors {
		if i > 0 {
			result += "; "
		}
		result += fmt.Sprintf("field '%s' failed on '%s' validation", err.Field(), err.Tag())
	}
	return result
}
