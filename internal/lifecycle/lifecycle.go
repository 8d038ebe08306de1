// Package lifecycle owns the private root CA and keeps the server
// certificate it signs current. A pass loads or creates the root, then
// issues, reissues or keeps the server certificate and restarts the TLS
// listener when a new one was written.
package lifecycle

import (
	"context"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lucas/securewss/internal/journal"
	"github.com/lucas/securewss/internal/pki"
	"github.com/lucas/securewss/internal/store"
	"github.com/lucas/securewss/internal/trust"
)

// ErrRootMissing is returned when no root credential is available after the
// load-or-create step.
var ErrRootMissing = errors.New("root certificate missing")

// ErrPassPanicked is returned in Result.Err when a pass panicked.
var ErrPassPanicked = errors.New("certificate pass panicked")

// CredentialStore persists credentials by name.
type CredentialStore interface {
	Exists(name string) bool
	Load(name string) (*pki.Credential, error)
	Save(cred *pki.Credential, name string) error
}

// Locker is implemented by stores shared between processes. A pass only
// runs while it holds the lock.
type Locker interface {
	TryLock() (unlock func(), ok bool, err error)
}

// Listener is the TLS server that serves the leaf credential.
type Listener interface {
	IsServingTLS() bool
	Restart(port int) error
}

// TrustInstaller adds a certificate to a trust store.
type TrustInstaller interface {
	Install(cred *pki.Credential, name trust.StoreName, location trust.StoreLocation) error
}

// Journal records issued certificates.
type Journal interface {
	Append(rec journal.Record) error
}

// Recorder receives pass metrics.
type Recorder interface {
	PassCompleted(d time.Duration, err error)
	PassSkipped()
	RootCreated()
	LeafIssued(reason string)
	CertificateExpiry(kind string, notAfter time.Time)
}

// NameResolver returns the subject alternative names for a new server
// certificate. On error Config.AltNames is used instead.
type NameResolver func() ([]string, error)

// Config holds the issuance parameters.
type Config struct {
	RootName    string
	LeafName    string
	RootSubject pkix.Name
	LeafSubject pkix.Name
	AltNames    []string

	KeyBits         int
	RootYears       int
	LeafYears       int
	SelfSignedYears int
	RenewBefore     time.Duration

	// RestartPort is passed to Listener.Restart after a new leaf is written.
	RestartPort int

	TrustStore    trust.StoreName
	TrustLocation trust.StoreLocation
}

// Action describes what a pass did with a credential.
type Action string

const (
	ActionNone     Action = "none"
	ActionLoaded   Action = "loaded"
	ActionCreated  Action = "created"
	ActionKept     Action = "kept"
	ActionIssued   Action = "issued"
	ActionReissued Action = "reissued"
)

// Result summarizes one pass.
type Result struct {
	PassID    string
	Root      Action
	Leaf      Action
	Decision  Decision
	NotAfter  time.Time
	Restarted bool
	Duration  time.Duration
	Err       error
}

// Status is a snapshot of the manager.
type Status struct {
	Busy         bool
	Passes       int
	LastRun      time.Time
	Last         Result
	RootSubject  string
	RootNotAfter time.Time
}

// Manager runs lifecycle passes. At most one pass runs at a time.
type Manager struct {
	cfg      Config
	store    CredentialStore
	listener Listener
	trust    TrustInstaller
	journal  Journal
	recorder Recorder
	names    NameResolver

	logger *slog.Logger
	now    func() time.Time
	random io.Reader

	busy atomic.Bool

	mu      sync.RWMutex
	root    *pki.Credential
	last    Result
	lastRun time.Time
	passes  int
}

// Option is a functional option for configuring the Manager.
type Option func(*Manager)

// WithListener sets the TLS listener restarted after reissue.
func WithListener(l Listener) Option {
	return func(m *Manager) {
		m.listener = l
	}
}

// WithTrust installs newly created roots into t.
func WithTrust(t TrustInstaller) Option {
	return func(m *Manager) {
		m.trust = t
	}
}

// WithJournal records every issuance in j.
func WithJournal(j Journal) Option {
	return func(m *Manager) {
		m.journal = j
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithNameResolver resolves alternative names at issuance time instead of
// using Config.AltNames.
func WithNameResolver(fn NameResolver) Option {
	return func(m *Manager) {
		m.names = fn
	}
}

// WithLogger sets the logger for the manager.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithRandom sets the randomness source for keys and serials.
func WithRandom(r io.Reader) Option {
	return func(m *Manager) {
		m.random = r
	}
}

// New creates a Manager persisting to s.
func New(cfg Config, s CredentialStore, opts ...Option) *Manager {
	if cfg.RenewBefore == 0 {
		cfg.RenewBefore = DefaultRenewBefore
	}
	m := &Manager{
		cfg:      cfg,
		store:    s,
		recorder: nopRecorder{},
		logger:   slog.Default(),
		now:      time.Now,
		random:   pki.SecureRandom(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Root returns the root credential held by the manager, or nil before the
// first pass.
func (m *Manager) Root() *pki.Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.root
}

// Status returns a snapshot of the manager state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{
		Busy:    m.busy.Load(),
		Passes:  m.passes,
		LastRun: m.lastRun,
		Last:    m.last,
	}
	if m.root != nil {
		st.RootSubject = m.root.Subject()
		st.RootNotAfter = m.root.NotAfter()
	}
	return st
}

// TryPass runs one lifecycle pass unless another is in progress in this
// process or holds the store lock, in which case it returns immediately with
// ran set to false. Errors, panics included, are reported in the Result and
// logged.
func (m *Manager) TryPass(ctx context.Context) (res Result, ran bool) {
	if !m.busy.CompareAndSwap(false, true) {
		m.logger.Info("certificate pass already in progress, skipping")
		m.recorder.PassSkipped()
		return Result{}, false
	}
	defer m.busy.Store(false)

	if l, ok := m.store.(Locker); ok {
		unlock, locked, err := l.TryLock()
		switch {
		case err != nil:
			m.logger.Warn("failed to lock certificate store", "error", err)
		case !locked:
			m.logger.Info("certificate store locked by another process, skipping")
			m.recorder.PassSkipped()
			return Result{}, false
		default:
			defer unlock()
		}
	}

	start := m.now()
	res = Result{PassID: uuid.NewString(), Root: ActionNone, Leaf: ActionNone}
	logger := m.logger.With("pass_id", res.PassID)

	logger.Debug("starting certificate pass")
	res.Err = m.runPass(ctx, logger, &res)
	res.Duration = m.now().Sub(start)

	if res.Err != nil {
		logger.Error("certificate pass failed", "error", res.Err)
	} else {
		logger.Info("certificate pass complete",
			"root", res.Root,
			"leaf", res.Leaf,
			"restarted", res.Restarted,
		)
	}
	m.recorder.PassCompleted(res.Duration, res.Err)

	m.mu.Lock()
	m.passes++
	m.lastRun = start
	m.last = res
	m.mu.Unlock()

	return res, true
}

// runPass runs pass and turns a panic into ErrPassPanicked.
func (m *Manager) runPass(ctx context.Context, logger *slog.Logger, res *Result) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("certificate pass panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrPassPanicked, r)
		}
	}()
	return m.pass(ctx, logger, res)
}

func (m *Manager) pass(ctx context.Context, logger *slog.Logger, res *Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// 1. Root of trust
	root, action, err := m.ensureRoot(logger, res.PassID)
	if err != nil {
		return err
	}
	res.Root = action
	if !complete(root) {
		return ErrRootMissing
	}
	m.recorder.CertificateExpiry("root", root.NotAfter())

	// 2. Server certificate
	if !m.store.Exists(m.cfg.LeafName) {
		logger.Info("server certificate missing, issuing")
		return m.issueLeaf(logger, root, res, ActionIssued, "missing")
	}

	leaf, err := m.store.Load(m.cfg.LeafName)
	if err != nil {
		logger.Warn("server certificate unreadable, reissuing", "error", err)
		return m.issueLeaf(logger, root, res, ActionReissued, "unreadable")
	}

	if err := leaf.Certificate.CheckSignatureFrom(root.Certificate); err != nil {
		logger.Warn("server certificate not signed by current root, reissuing",
			"issuer", leaf.Certificate.Issuer.String(),
		)
		return m.issueLeaf(logger, root, res, ActionReissued, "issuer-mismatch")
	}

	// 3. Rotation policy
	res.Decision = Evaluate(leaf.NotAfter(), m.now(), m.cfg.RenewBefore)
	if res.Decision.Renew() {
		logger.Info("server certificate due for renewal",
			"decision", res.Decision.String(),
			"not_after", leaf.NotAfter(),
		)
		return m.issueLeaf(logger, root, res, ActionReissued, res.Decision.String())
	}

	res.Leaf = ActionKept
	res.NotAfter = leaf.NotAfter()
	m.recorder.CertificateExpiry("leaf", leaf.NotAfter())
	logger.Info("server certificate valid",
		"subject", leaf.Subject(),
		"not_after", leaf.NotAfter(),
		"remaining", leaf.NotAfter().Sub(m.now()).Round(time.Minute).String(),
	)
	return nil
}

// ensureRoot returns the cached root, loads it from the store, or creates
// and persists a new one when the bundle is absent.
func (m *Manager) ensureRoot(logger *slog.Logger, passID string) (*pki.Credential, Action, error) {
	m.mu.RLock()
	root := m.root
	m.mu.RUnlock()

	exists := m.store.Exists(m.cfg.RootName)
	switch {
	case root != nil && exists:
		return root, ActionNone, nil
	case exists:
		loaded, err := m.store.Load(m.cfg.RootName)
		if err != nil {
			return nil, ActionNone, fmt.Errorf("failed to load root certificate: %w", err)
		}
		if !complete(loaded) {
			return nil, ActionNone, ErrRootMissing
		}
		m.setRoot(loaded)
		logger.Info("root certificate loaded", "subject", loaded.Subject(), "not_after", loaded.NotAfter())
		return loaded, ActionLoaded, nil
	}

	logger.Info("root certificate missing, creating", "subject", m.cfg.RootSubject.String())
	created, err := pki.CreateAuthority(pki.Options{
		Subject:  m.cfg.RootSubject,
		Purposes: pki.DefaultPurposes,
		KeyBits:  m.cfg.KeyBits,
		Years:    m.cfg.RootYears,
		Random:   m.random,
		Now:      m.now(),
	})
	if err != nil {
		return nil, ActionNone, fmt.Errorf("failed to create root certificate: %w", err)
	}

	// The in-memory root stays usable for this process even if persisting fails.
	if err := m.store.Save(created, m.cfg.RootName); err != nil {
		logger.Error("failed to persist root certificate", "error", err)
	}
	m.setRoot(created)
	m.recorder.RootCreated()
	m.record(logger, journal.KindRoot, "missing", created, passID)

	if m.trust != nil {
		if err := m.trust.Install(created, m.cfg.TrustStore, m.cfg.TrustLocation); err != nil {
			logger.Error("failed to install root certificate into trust store", "error", err)
		}
	}

	return created, ActionCreated, nil
}

func (m *Manager) setRoot(cred *pki.Credential) {
	m.mu.Lock()
	m.root = cred
	m.mu.Unlock()
}

// issueLeaf signs a new server certificate, persists it and restarts the
// listener when the bundle was written.
func (m *Manager) issueLeaf(logger *slog.Logger, root *pki.Credential, res *Result, action Action, reason string) error {
	altNames := m.altNames(logger)

	leaf, err := pki.Issue(root, pki.Options{
		Subject:  m.cfg.LeafSubject,
		AltNames: altNames,
		Purposes: pki.DefaultPurposes,
		KeyBits:  m.cfg.KeyBits,
		Years:    m.cfg.LeafYears,
		Random:   m.random,
		Now:      m.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to issue server certificate: %w", err)
	}
	res.Leaf = action
	res.NotAfter = leaf.NotAfter()

	saveErr := m.store.Save(leaf, m.cfg.LeafName)
	bundleWritten := true
	if saveErr != nil {
		var se *store.SaveError
		if !errors.As(saveErr, &se) || se.BundleErr != nil {
			bundleWritten = false
		}
		logger.Error("failed to persist server certificate", "error", saveErr)
	}

	m.recorder.LeafIssued(reason)
	m.recorder.CertificateExpiry("leaf", leaf.NotAfter())
	m.record(logger, journal.KindLeaf, reason, leaf, res.PassID)
	logger.Info("server certificate issued",
		"subject", leaf.Subject(),
		"serial", fmt.Sprintf("%x", leaf.Certificate.SerialNumber),
		"alt_names", altNames,
		"not_after", leaf.NotAfter(),
	)

	if bundleWritten && m.listener != nil && m.listener.IsServingTLS() {
		if err := m.listener.Restart(m.cfg.RestartPort); err != nil {
			logger.Error("failed to restart TLS listener", "port", m.cfg.RestartPort, "error", err)
		} else {
			res.Restarted = true
			logger.Info("TLS listener restarted", "port", m.cfg.RestartPort)
		}
	}
	return saveErr
}

func (m *Manager) record(logger *slog.Logger, kind journal.Kind, reason string, cred *pki.Credential, passID string) {
	if m.journal == nil {
		return
	}
	rec := journal.NewRecord(kind, reason, cred.Certificate, m.now())
	rec.PassID = passID
	if err := m.journal.Append(rec); err != nil {
		logger.Warn("failed to append issuance journal", "error", err)
	}
}

// CreateSelfSigned writes a self-signed server credential under name,
// independent of the root. It is an operator action and does not touch the
// listener.
func (m *Manager) CreateSelfSigned(name string) (*pki.Credential, error) {
	altNames := m.altNames(m.logger)

	cred, err := pki.CreateSelfSigned(pki.Options{
		Subject:  m.cfg.LeafSubject,
		AltNames: altNames,
		Purposes: pki.DefaultPurposes,
		KeyBits:  m.cfg.KeyBits,
		Years:    m.cfg.SelfSignedYears,
		Random:   m.random,
		Now:      m.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create self-signed certificate: %w", err)
	}
	if err := m.store.Save(cred, name); err != nil {
		return cred, err
	}
	m.record(m.logger, journal.KindSelfSigned, "operator", cred, "")
	return cred, nil
}

// altNames asks the resolver for the current names and falls back to the
// configured ones when it fails.
func (m *Manager) altNames(logger *slog.Logger) []string {
	if m.names == nil {
		return m.cfg.AltNames
	}
	names, err := m.names()
	if err != nil {
		logger.Warn("failed to resolve server names, using configured names",
			"error", err,
			"alt_names", m.cfg.AltNames,
		)
		return m.cfg.AltNames
	}
	return names
}

func complete(cred *pki.Credential) bool {
	return cred != nil && cred.Certificate != nil && cred.PrivateKey != nil
}

type nopRecorder struct{}

func (nopRecorder) PassCompleted(time.Duration, error) {}
func (nopRecorder) PassSkipped() {}
func (nopRecorder) RootCreated() {}
func (nopRecorder) LeafIssued(string) {}
func (nopRecorder) CertificateExpiry(string, time.Time) {}
