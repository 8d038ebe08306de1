// Package app assembles the certificate lifecycle components from
// configuration. Both the daemon and the CLI build on it.
package app

import (
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lucas/securewss/internal/config"
	"github.com/lucas/securewss/internal/hostinfo"
	"github.com/lucas/securewss/internal/journal"
	"github.com/lucas/securewss/internal/lifecycle"
	"github.com/lucas/securewss/internal/pki"
	"github.com/lucas/securewss/internal/store"
	"github.com/lucas/securewss/internal/trust"
)

// Components are the wired lifecycle dependencies.
type Components struct {
	Config  *config.Config
	Store   *store.FileStore
	Trust   *trust.FileStore // nil when disabled
	Journal *journal.Store   // nil when disabled or unavailable
	Manager *lifecycle.Manager
}

// Build wires the store, trust store, journal and lifecycle manager. Extra
// options (listener, recorder) are appended last.
func Build(cfg *config.Config, logger *slog.Logger, extra ...lifecycle.Option) (*Components, error) {
	lcfg, err := LifecycleConfig(cfg)
	if err != nil {
		return nil, err
	}

	c := &Components{
		Config: cfg,
		Store:  store.NewFileStore(cfg.CA.CertDir, cfg.CA.ExportPassword),
	}

	opts := []lifecycle.Option{
		lifecycle.WithLogger(logger),
		lifecycle.WithNameResolver(NameResolver(cfg)),
	}

	if cfg.Trust.Enabled {
		c.Trust = NewTrustStore(cfg, logger)
		opts = append(opts, lifecycle.WithTrust(c.Trust))
	}

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path, false)
		if err != nil {
			// The journal is history only; issuance goes on without it.
			logger.Warn("issuance journal unavailable", "path", cfg.Journal.Path, "error", err)
		} else {
			c.Journal = j
			opts = append(opts, lifecycle.WithJournal(j))
		}
	}

	c.Manager = lifecycle.New(lcfg, c.Store, append(opts, extra...)...)
	return c, nil
}

// Close releases the journal.
func (c *Components) Close() error {
	if c.Journal != nil {
		return c.Journal.Close()
	}
	return nil
}

// NewTrustStore builds the trust store described by cfg.
func NewTrustStore(cfg *config.Config, logger *slog.Logger) *trust.FileStore {
	return trust.NewFileStore(cfg.Trust.Dir,
		trust.WithAnchorDir(cfg.Trust.AnchorDir),
		trust.WithUpdateCommand(cfg.Trust.UpdateCommand),
		trust.WithLogger(logger),
	)
}

// LifecycleConfig translates the configuration into lifecycle parameters.
func LifecycleConfig(cfg *config.Config) (lifecycle.Config, error) {
	rootSubject, err := pki.ParseDistinguishedName(cfg.CA.RootSubject)
	if err != nil {
		return lifecycle.Config{}, fmt.Errorf("invalid root subject: %w", err)
	}

	leafSubject, err := LeafSubject(cfg)
	if err != nil {
		return lifecycle.Config{}, err
	}

	altNames, err := FallbackNames(cfg)
	if err != nil {
		return lifecycle.Config{}, err
	}

	lcfg := lifecycle.Config{
		RootName:        cfg.CA.RootName,
		LeafName:        cfg.CA.LeafName,
		RootSubject:     rootSubject,
		LeafSubject:     leafSubject,
		AltNames:        altNames,
		KeyBits:         cfg.CA.KeyBits,
		RootYears:       cfg.CA.RootValidityYears,
		LeafYears:       cfg.CA.LeafValidityYears,
		SelfSignedYears: cfg.CA.SelfSignedValidityYears,
		RenewBefore:     cfg.CA.RenewBefore,
		RestartPort:     cfg.Listener.HTTPS,
	}

	if cfg.Trust.Enabled {
		lcfg.TrustStore, lcfg.TrustLocation, err = cfg.Trust.TrustTarget()
		if err != nil {
			return lifecycle.Config{}, err
		}
	}
	return lcfg, nil
}

// LeafSubject returns the configured server subject, or CN=<hostname.domain>.
func LeafSubject(cfg *config.Config) (pkix.Name, error) {
	if cfg.CA.LeafSubject != "" {
		name, err := pki.ParseDistinguishedName(cfg.CA.LeafSubject)
		if err != nil {
			return pkix.Name{}, fmt.Errorf("invalid server subject: %w", err)
		}
		return name, nil
	}

	id, err := hostinfo.ResolveHost(cfg.HostOptions())
	if err != nil {
		return pkix.Name{}, err
	}
	if id.FQDN() == "" {
		return pkix.Name{}, errors.New("cannot derive server subject: empty host name")
	}
	return pkix.Name{CommonName: id.FQDN()}, nil
}

// FallbackNames are the SANs used when address discovery fails: the host
// name and the configured extra names.
func FallbackNames(cfg *config.Config) ([]string, error) {
	id, err := hostinfo.ResolveHost(cfg.HostOptions())
	if err != nil {
		return nil, err
	}
	return id.AltNames(cfg.CA.ExtraSANs...), nil
}

// NameResolver discovers the host identity at issuance time so that a
// changed address is picked up by the next certificate.
func NameResolver(cfg *config.Config) lifecycle.NameResolver {
	return func() ([]string, error) {
		id, err := hostinfo.Discover(cfg.HostOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to discover host identity: %w", err)
		}
		return id.AltNames(cfg.CA.ExtraSANs...), nil
	}
}
