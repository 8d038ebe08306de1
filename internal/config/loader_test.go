package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucas/securewss/internal/trust"
)

func TestLoader_Load_ValidConfig(t *testing.T) {
	yaml := `
version: 1
node:
  hostname: "panel"
  domain: "example.local"
ca:
  cert_dir: "/tmp/certs"
  extra_sans:
    - "panel"
`
	loader := NewLoader()
	cfg, err := loader.Load([]byte(yaml))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Node.Hostname != "panel" {
		t.Errorf("expected node.hostname = 'panel', got '%s'", cfg.Node.Hostname)
	}

	if cfg.CA.CertDir != "/tmp/certs" {
		t.Errorf("expected ca.cert_dir = '/tmp/certs', got '%s'", cfg.CA.CertDir)
	}

	if len(cfg.CA.ExtraSANs) != 1 {
		t.Errorf("expected 1 extra SAN, got %d", len(cfg.CA.ExtraSANs))
	}
}

func TestLoader_Load_DefaultValues(t *testing.T) {
	loader := NewLoader()
	cfg, err := loader.Load([]byte("version: 1\n"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	// Check defaults are applied
	if cfg.CA.RootName != "rootCert" || cfg.CA.LeafName != "serverCert" {
		t.Errorf("unexpected default names: %s, %s", cfg.CA.RootName, cfg.CA.LeafName)
	}

	if cfg.CA.RenewBefore != 72*time.Hour {
		t.Errorf("expected default renew_before = 72h, got %s", cfg.CA.RenewBefore)
	}

	if cfg.CA.CheckInterval != 12*time.Hour {
		t.Errorf("expected default check_interval = 12h, got %s", cfg.CA.CheckInterval)
	}

	if cfg.CA.RootValidityYears != 50 || cfg.CA.LeafValidityYears != 1 || cfg.CA.SelfSignedValidityYears != 2 {
		t.Errorf("unexpected default validity years: %d/%d/%d",
			cfg.CA.RootValidityYears, cfg.CA.LeafValidityYears, cfg.CA.SelfSignedValidityYears)
	}

	if cfg.Listener.HTTP != 42080 || cfg.Listener.HTTPS != 42081 {
		t.Errorf("unexpected default ports: %d/%d", cfg.Listener.HTTP, cfg.Listener.HTTPS)
	}

	if cfg.Observability.Logging.Level != "info" {
		t.Errorf("expected default logging.level = 'info', got '%s'", cfg.Observability.Logging.Level)
	}
}

func TestLoader_Load_Durations(t *testing.T) {
	yaml := `
version: 1
ca:
  renew_before: "168h"
  check_interval: "30m"
`
	cfg, err := NewLoader().Load([]byte(yaml))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.CA.RenewBefore != 168*time.Hour {
		t.Errorf("expected renew_before = 168h, got %s", cfg.CA.RenewBefore)
	}
	if cfg.CA.CheckInterval != 30*time.Minute {
		t.Errorf("expected check_interval = 30m, got %s", cfg.CA.CheckInterval)
	}
}

func TestLoader_Load_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing version",
			yaml: "version: 0\n",
			want: "Version",
		},
		{
			name: "weak key",
			yaml: "version: 1\nca:\n  key_bits: 1024\n",
			want: "KeyBits",
		},
		{
			name: "bad root subject",
			yaml: "version: 1\nca:\n  root_subject: \"Cornflake\"\n",
			want: "ca.root_subject",
		},
		{
			name: "same file names",
			yaml: "version: 1\nca:\n  root_name: cert\n  leaf_name: cert\n",
			want: "must differ",
		},
		{
			name: "renew window longer than validity",
			yaml: "version: 1\nca:\n  renew_before: \"9000h\"\n",
			want: "renew_before",
		},
		{
			name: "check interval too short",
			yaml: "version: 1\nca:\n  check_interval: \"10s\"\n",
			want: "check_interval",
		},
		{
			name: "same listener ports",
			yaml: "version: 1\nlistener:\n  http: 8443\n  https: 8443\n",
			want: "different ports",
		},
		{
			name: "unknown trust store",
			yaml: "version: 1\ntrust:\n  enabled: true\n  store: \"9\"\n",
			want: "trust",
		},
		{
			name: "invalid node address",
			yaml: "version: 1\nnode:\n  address: \"10.0.0\"\n",
			want: "Address",
		},
		{
			name: "path in file name",
			yaml: "version: 1\nca:\n  leaf_name: \"../serverCert\"\n",
			want: "LeafName",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().Load([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestLoader_Load_EnvOverrides(t *testing.T) {
	t.Setenv(EnvExportPassword, "s3cret")
	t.Setenv(EnvCertDir, "/data/certs")
	t.Setenv(EnvDomain, "plant.example.")

	cfg, err := NewLoader().Load([]byte("version: 1\nca:\n  cert_dir: /etc/certs\n"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.CA.ExportPassword != "s3cret" {
		t.Errorf("expected export password from env, got '%s'", cfg.CA.ExportPassword)
	}
	if cfg.CA.CertDir != "/data/certs" {
		t.Errorf("expected cert_dir from env, got '%s'", cfg.CA.CertDir)
	}
	if cfg.Node.Domain != "plant.example" {
		t.Errorf("expected domain from env, got '%s'", cfg.Node.Domain)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(EnvCertDir+"=/from/dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvCertDir, "")
	os.Unsetenv(EnvCertDir)

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile() error = %v", err)
	}
	if got := os.Getenv(EnvCertDir); got != "/from/dotenv" {
		t.Errorf("expected %s from dotenv, got '%s'", EnvCertDir, got)
	}

	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing env file should be ignored, got: %v", err)
	}
}

func TestTrustConfig_TrustTarget(t *testing.T) {
	tc := TrustConfig{Store: "6", Location: "LocalMachine"}
	name, location, err := tc.TrustTarget()
	if err != nil {
		t.Fatalf("TrustTarget() error = %v", err)
	}
	if name != trust.Root || location != trust.LocalMachine {
		t.Errorf("TrustTarget() = %s/%s", location, name)
	}
}

func TestLoader_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "securewss.yaml")
	if err := os.WriteFile(path, []byte("version: 1\nnode:\n  hostname: panel\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Node.Hostname != "panel" {
		t.Errorf("unexpected hostname %q", cfg.Node.Hostname)
	}

	if _, err := NewLoader().LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
