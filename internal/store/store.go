// Package store persists CA and server credentials as a password protected
// PKCS#12 bundle (.pfx) plus a public PEM certificate (.cer).
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/lucas/securewss/internal/pki"
)

const (
	BundleExt = ".pfx"
	PEMExt    = ".cer"

	lockFile = ".securewss.lock"
)

// ErrNotFound is returned by Load when no bundle exists under the name.
var ErrNotFound = errors.New("credential not found")

// SaveError reports the outcome of each artifact written by Save. Either
// field may be nil; a failure of one artifact does not prevent the other
// from being written.
type SaveError struct {
	BundleErr error
	PEMErr    error
}

func (e *SaveError) Error() string {
	return errors.Join(e.BundleErr, e.PEMErr).Error()
}

// Unwrap exposes both artifact errors to errors.Is and errors.As.
func (e *SaveError) Unwrap() []error {
	var errs []error
	if e.BundleErr != nil {
		errs = append(errs, e.BundleErr)
	}
	if e.PEMErr != nil {
		errs = append(errs, e.PEMErr)
	}
	return errs
}

// FileStore keeps credentials in a single directory.
type FileStore struct {
	dir      string
	password string
}

// NewFileStore returns a store rooted at dir. Bundles are written and read
// with password.
func NewFileStore(dir, password string) *FileStore {
	return &FileStore{dir: dir, password: password}
}

// Dir returns the directory the store writes to.
func (s *FileStore) Dir() string {
	return s.dir
}

// Paths returns the bundle and PEM paths for name.
func (s *FileStore) Paths(name string) (bundle, pemPath string) {
	base := filepath.Join(s.dir, name)
	return base + BundleExt, base + PEMExt
}

// Exists reports whether a bundle is present for name.
func (s *FileStore) Exists(name string) bool {
	bundle, _ := s.Paths(name)
	info, err := os.Stat(bundle)
	return err == nil && info.Mode().IsRegular()
}

// Load reads and decodes the bundle stored under name.
func (s *FileStore) Load(name string) (*pki.Credential, error) {
	bundle, _ := s.Paths(name)
	data, err := os.ReadFile(bundle)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, bundle)
		}
		return nil, fmt.Errorf("failed to read %s: %w", bundle, err)
	}

	cred, err := pki.OpenBundle(data, s.password)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", bundle, err)
	}
	return cred, nil
}

// Save writes the bundle and PEM artifacts for cred under name. Existing
// files are replaced atomically. The returned error, if any, is a
// *SaveError.
func (s *FileStore) Save(cred *pki.Credential, name string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		err = fmt.Errorf("failed to create certificate directory: %w", err)
		return &SaveError{BundleErr: err, PEMErr: err}
	}

	bundlePath, pemPath := s.Paths(name)
	var saveErr SaveError

	data, err := cred.Bundle(pki.SecureRandom(), s.password)
	if err == nil {
		err = writeFileAtomic(bundlePath, data, 0o600)
	}
	if err != nil {
		saveErr.BundleErr = fmt.Errorf("failed to write %s: %w", bundlePath, err)
	}

	if err := writeFileAtomic(pemPath, cred.PEM(), 0o644); err != nil {
		saveErr.PEMErr = fmt.Errorf("failed to write %s: %w", pemPath, err)
	}

	if saveErr.BundleErr != nil || saveErr.PEMErr != nil {
		return &saveErr
	}
	return nil
}

// TryLock takes an exclusive advisory lock on the store directory without
// blocking. ok is false when another holder, in this or another process,
// has it. The lock is released by unlock or when the process exits.
func (s *FileStore) TryLock() (unlock func(), ok bool, err error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, false, fmt.Errorf("failed to create certificate directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(s.dir, lockFile), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to lock %s: %w", s.dir, err)
	}

	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, true, nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
