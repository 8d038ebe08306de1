// Package listener runs the HTTP and HTTPS web endpoints that serve the
// panel's static content. The HTTPS endpoint presents the server
// certificate maintained by the lifecycle manager and is restarted when
// that certificate is replaced.
package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Config holds the listener settings.
type Config struct {
	Address   string
	HTTPPort  int
	HTTPSPort int
	WebRoot   string
	// CertName is the store name of the server credential.
	CertName string
}

type endpoint struct {
	srv *http.Server
	ln  net.Listener
}

// Server manages the HTTP and HTTPS endpoints.
type Server struct {
	cfg     Config
	loader  CredentialLoader
	handler http.Handler
	logger  *slog.Logger

	mu    sync.Mutex
	http  *endpoint
	https *endpoint
}

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithHandler replaces the static file router.
func WithHandler(h http.Handler) Option {
	return func(s *Server) {
		s.handler = h
	}
}

// New creates a listener. loader supplies the server credential for HTTPS.
func New(cfg Config, loader CredentialLoader, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		loader: loader,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.handler == nil {
		s.handler = NewRouter(cfg.WebRoot)
	}
	return s
}

// Start starts both endpoints. A missing server certificate leaves HTTPS
// down without failing Start; a later Restart picks it up.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.startHTTPLocked(); err != nil {
		return err
	}
	if err := s.startHTTPSLocked(); err != nil {
		s.logger.Warn("HTTPS endpoint not started", "error", err)
	}
	return nil
}

// Stop shuts both endpoints down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return errors.Join(
		s.stopLocked(ctx, &s.http, "HTTP"),
		s.stopLocked(ctx, &s.https, "HTTPS"),
	)
}

// IsServingTLS reports whether the HTTPS endpoint is up.
func (s *Server) IsServingTLS() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.https != nil
}

// Restart restarts the endpoint bound to port: the HTTPS port restarts only
// HTTPS, the HTTP port only HTTP, any other value restarts both. HTTPS
// reloads the server certificate on start.
func (s *Server) Restart(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	restartHTTP, restartHTTPS := true, true
	switch port {
	case s.cfg.HTTPSPort:
		restartHTTP = false
	case s.cfg.HTTPPort:
		restartHTTPS = false
	}

	switch {
	case restartHTTP && restartHTTPS:
		s.logger.Debug("restarting HTTP and HTTPS endpoints")
	case restartHTTPS:
		s.logger.Debug("restarting HTTPS endpoint")
	default:
		s.logger.Debug("restarting HTTP endpoint")
	}

	var errs []error
	if restartHTTP {
		errs = append(errs, s.stopLocked(ctx, &s.http, "HTTP"))
	}
	if restartHTTPS {
		errs = append(errs, s.stopLocked(ctx, &s.https, "HTTPS"))
	}
	if restartHTTP {
		errs = append(errs, s.startHTTPLocked())
	}
	if restartHTTPS {
		errs = append(errs, s.startHTTPSLocked())
	}
	return errors.Join(errs...)
}

// Addr returns the bound address of an endpoint, or "" when it is down.
func (s *Server) Addr(secure bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep := s.http
	if secure {
		ep = s.https
	}
	if ep == nil {
		return ""
	}
	return ep.ln.Addr().String()
}

func (s *Server) startHTTPLocked() error {
	if s.cfg.HTTPPort < 0 || s.http != nil {
		return nil
	}
	ep, err := s.serve("HTTP", s.cfg.HTTPPort, nil)
	if err != nil {
		return err
	}
	s.http = ep
	return nil
}

func (s *Server) startHTTPSLocked() error {
	if s.cfg.HTTPSPort < 0 || s.https != nil {
		return nil
	}
	tlsCfg, err := loadServerTLSConfig(s.loader, s.cfg.CertName)
	if err != nil {
		return err
	}
	ep, err := s.serve("HTTPS", s.cfg.HTTPSPort, tlsCfg)
	if err != nil {
		return err
	}
	s.https = ep
	return nil
}

func (s *Server) serve(name string, port int, tlsCfg *tls.Config) (*endpoint, error) {
	addr := net.JoinHostPort(s.cfg.Address, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("web server error", "endpoint", name, "error", err)
		}
	}()

	s.logger.Info("web endpoint started", "endpoint", name, "address", ln.Addr().String())
	return &endpoint{srv: srv, ln: ln}, nil
}

func (s *Server) stopLocked(ctx context.Context, ep **endpoint, name string) error {
	if *ep == nil {
		return nil
	}
	err := (*ep).srv.Shutdown(ctx)
	*ep = nil
	if err != nil {
		return fmt.Errorf("failed to stop %s endpoint: %w", name, err)
	}
	s.logger.Info("web endpoint stopped", "endpoint", name)
	return nil
}
