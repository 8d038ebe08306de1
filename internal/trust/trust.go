// Package trust installs public certificates into a file based trust store
// and, for machine-wide roots, into the operating system's CA anchors.
package trust

import (
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lucas/securewss/internal/pki"
)

const (
	// DefaultAnchorDir is where Debian-style systems pick up local CA certificates.
	DefaultAnchorDir = "/usr/local/share/ca-certificates"
	// DefaultUpdateCommand refreshes the system bundle after an anchor change.
	DefaultUpdateCommand = "update-ca-certificates"

	anchorPrefix = "securewss-"
)

// CommandRunner executes an external command and returns its combined output.
type CommandRunner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// FileStore keeps one directory per location and store name:
// <dir>/<location>/<store>/<serial>.cer
type FileStore struct {
	dir           string
	anchorDir     string
	updateCommand []string
	run           CommandRunner
	logger        *slog.Logger
}

// Option is a functional option for configuring the FileStore.
type Option func(*FileStore)

// WithAnchorDir sets the OS anchor directory used for LocalMachine roots.
// An empty dir disables anchor installation.
func WithAnchorDir(dir string) Option {
	return func(s *FileStore) {
		s.anchorDir = dir
	}
}

// WithUpdateCommand sets the command run after a new anchor is written.
// An empty command line skips the refresh.
func WithUpdateCommand(cmdline string) Option {
	return func(s *FileStore) {
		s.updateCommand = strings.Fields(cmdline)
	}
}

// WithRunner replaces the command executor.
func WithRunner(run CommandRunner) Option {
	return func(s *FileStore) {
		s.run = run
	}
}

// WithLogger sets the logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *FileStore) {
		s.logger = l
	}
}

// NewFileStore creates a trust store rooted at dir.
func NewFileStore(dir string, opts ...Option) *FileStore {
	s := &FileStore{
		dir:           dir,
		anchorDir:     DefaultAnchorDir,
		updateCommand: []string{DefaultUpdateCommand},
		run:           execRunner,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StorePath returns the directory backing the given store.
func (s *FileStore) StorePath(name StoreName, location StoreLocation) string {
	return filepath.Join(s.dir, location.String(), name.String())
}

// Install adds the public certificate of cred to the store. Installing a
// certificate that is already present rewrites the same file.
func (s *FileStore) Install(cred *pki.Credential, name StoreName, location StoreLocation) error {
	if !name.Valid() || !location.Valid() {
		return fmt.Errorf("%w: %s/%s", ErrInvalidStore, location, name)
	}
	if cred == nil || cred.Certificate == nil {
		return fmt.Errorf("no certificate to install")
	}

	dir := s.StorePath(name, location)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	file := certFileName(cred.Certificate)
	if err := os.WriteFile(filepath.Join(dir, file+".cer"), cred.PEM(), 0o644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	s.logger.Info("certificate installed",
		"store", name.String(),
		"location", location.String(),
		"subject", cred.Subject(),
	)

	if name == Root && location == LocalMachine && s.anchorDir != "" {
		if err := s.installAnchor(cred, file); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) installAnchor(cred *pki.Credential, file string) error {
	if err := os.MkdirAll(s.anchorDir, 0o755); err != nil {
		return fmt.Errorf("failed to create anchor directory: %w", err)
	}
	// update-ca-certificates only picks up .crt files.
	anchor := filepath.Join(s.anchorDir, anchorPrefix+file+".crt")
	if err := os.WriteFile(anchor, cred.PEM(), 0o644); err != nil {
		return fmt.Errorf("failed to write anchor: %w", err)
	}

	if len(s.updateCommand) == 0 {
		return nil
	}
	out, err := s.run(s.updateCommand[0], s.updateCommand[1:]...)
	if err != nil {
		return fmt.Errorf("%s failed: %s - %w", s.updateCommand[0], strings.TrimSpace(string(out)), err)
	}
	s.logger.Debug("system trust refreshed", "anchor", anchor)
	return nil
}

// List returns the certificates of a store that are valid at now, ordered
// by expiry. A store that was never written to is empty.
func (s *FileStore) List(name StoreName, location StoreLocation, now time.Time) ([]*x509.Certificate, error) {
	if !name.Valid() || !location.Valid() {
		return nil, fmt.Errorf("%w: %s/%s", ErrInvalidStore, location, name)
	}

	dir := s.StorePath(name, location)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read store: %w", err)
	}

	var certs []*x509.Certificate
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".cer" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		cert, err := pki.ParseCertificatePEM(data)
		if err != nil {
			s.logger.Warn("skipping unreadable certificate", "file", entry.Name(), "error", err)
			continue
		}
		if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			continue
		}
		certs = append(certs, cert)
	}

	sort.Slice(certs, func(i, j int) bool {
		return certs[i].NotAfter.Before(certs[j].NotAfter)
	})
	return certs, nil
}

func certFileName(cert *x509.Certificate) string {
	return fmt.Sprintf("%x", cert.SerialNumber)
}
