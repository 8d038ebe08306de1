// Package config defines the configuration structures for securewss.
package config

import (
	"time"

	"github.com/lucas/securewss/internal/hostinfo"
	"github.com/lucas/securewss/internal/trust"
)

// Config is the root configuration structure for securewss.
type Config struct {
	Version       int            `yaml:"version" validate:"required,eq=1"`
	Node          NodeConfig     `yaml:"node"`
	CA            CAConfig       `yaml:"ca"`
	Trust         TrustConfig    `yaml:"trust"`
	Listener      ListenerConfig `yaml:"listener"`
	Journal       JournalConfig  `yaml:"journal"`
	Observability ObsConfig      `yaml:"observability"`
}

// NodeConfig defines the identity of this host. Empty fields are
// discovered at issuance time.
type NodeConfig struct {
	Hostname  string `yaml:"hostname" validate:"omitempty,hostname_rfc1123"`
	Domain    string `yaml:"domain" validate:"omitempty,fqdn"`
	Address   string `yaml:"address" validate:"omitempty,ip"`
	Interface string `yaml:"interface"`
}

// CAConfig defines the private CA and the server certificate it issues.
type CAConfig struct {
	CertDir        string `yaml:"cert_dir" validate:"required"`
	RootName       string `yaml:"root_name" validate:"required,excludesall=/\\"`
	RootSubject    string `yaml:"root_subject" validate:"required"`
	LeafName       string `yaml:"leaf_name" validate:"required,excludesall=/\\"`
	LeafSubject    string `yaml:"leaf_subject"` // Default: CN=<hostname.domain>
	ExportPassword string `yaml:"export_password"`

	KeyBits                 int `yaml:"key_bits" validate:"min=2048,max=8192"`
	RootValidityYears       int `yaml:"root_validity_years" validate:"min=1,max=100"`
	LeafValidityYears       int `yaml:"leaf_validity_years" validate:"min=1,max=10"`
	SelfSignedValidityYears int `yaml:"self_signed_validity_years" validate:"min=1,max=10"`

	RenewBefore   time.Duration `yaml:"renew_before"`
	CheckInterval time.Duration `yaml:"check_interval"`
	ExtraSANs     []string      `yaml:"extra_sans" validate:"dive,required"`
}

// TrustConfig defines where a newly created root is installed.
type TrustConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	AnchorDir     string `yaml:"anchor_dir"`
	UpdateCommand string `yaml:"update_command"`
	Store         string `yaml:"store"`
	Location      string `yaml:"location"`
}

// ListenerConfig defines the HTTP and HTTPS web endpoints.
type ListenerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address" validate:"omitempty,ip"`
	HTTP    int    `yaml:"http" validate:"min=1,max=65535"`
	HTTPS   int    `yaml:"https" validate:"min=1,max=65535"`
	WebRoot string `yaml:"web_root"`
}

// JournalConfig defines the issuance history database.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ListenConfig defines listen address and port.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// ObsConfig defines observability settings.
type ObsConfig struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Healthcheck HealthcheckConfig `yaml:"healthcheck"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// MetricsConfig defines Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool         `yaml:"enabled"`
	Listen  ListenConfig `yaml:"listen"`
}

// HealthcheckConfig defines healthcheck endpoint settings.
type HealthcheckConfig struct {
	Enabled bool         `yaml:"enabled"`
	Listen  ListenConfig `yaml:"listen"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Version: 1,
		CA: CAConfig{
			CertDir:                 "/var/lib/securewss/certs",
			RootName:                "rootCert",
			RootSubject:             "CN=Cornflake",
			LeafName:                "serverCert",
			ExportPassword:          "password",
			KeyBits:                 2048,
			RootValidityYears:       50,
			LeafValidityYears:       1,
			SelfSignedValidityYears: 2,
			RenewBefore:             72 * time.Hour,
			CheckInterval:           12 * time.Hour,
		},
		Trust: TrustConfig{
			Enabled:       false,
			Dir:           "/var/lib/securewss/trust",
			AnchorDir:     trust.DefaultAnchorDir,
			UpdateCommand: trust.DefaultUpdateCommand,
			Store:         "Root",
			Location:      "LocalMachine",
		},
		Listener: ListenerConfig{
			Enabled: true,
			Address: "0.0.0.0",
			HTTP:    42080,
			HTTPS:   42081,
			WebRoot: "/var/lib/securewss/html",
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "/var/lib/securewss/journal.db",
		},
		Observability: ObsConfig{
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Listen: ListenConfig{
					Address: "127.0.0.1",
					Port:    9109,
				},
			},
			Healthcheck: HealthcheckConfig{
				Enabled: true,
				Listen: ListenConfig{
					Address: "127.0.0.1",
					Port:    9110,
				},
			},
		},
	}
}

// HostOptions returns the host identity overrides.
func (c *Config) HostOptions() hostinfo.Options {
	return hostinfo.Options{
		Hostname:  c.Node.Hostname,
		Domain:    c.Node.Domain,
		Address:   c.Node.Address,
		Interface: c.Node.Interface,
	}
}

// TrustTarget returns the parsed trust store name and location.
func (t *TrustConfig) TrustTarget() (trust.StoreName, trust.StoreLocation, error) {
	name, err := trust.ParseStoreName(t.Store)
	if err != nil {
		return 0, 0, err
	}
	location, err := trust.ParseStoreLocation(t.Location)
	if err != nil {
		return 0, 0, err
	}
	return name, location, nil
}
