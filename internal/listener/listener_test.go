package listener

import (
	"context"
	"crypto/tls"
	"crypto/x509/pkix"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucas/securewss/internal/pki"
	"github.com/lucas/securewss/internal/store"
)

func writeWebRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>panel</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))
	return dir
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func saveServerCert(t *testing.T, s *store.FileStore) *pki.Credential {
	t.Helper()
	cred, err := pki.CreateSelfSigned(pki.Options{
		Subject:  pkix.Name{CommonName: "127.0.0.1"},
		AltNames: []string{"127.0.0.1"},
		Purposes: pki.DefaultPurposes,
	})
	require.NoError(t, err)
	require.NoError(t, s.Save(cred, "serverCert"))
	return cred
}

func servedSerial(t *testing.T, addr string) string {
	t.Helper()
	conn, err := tls.Dial("tcp", addr, &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	defer conn.Close()
	return conn.ConnectionState().PeerCertificates[0].SerialNumber.String()
}

func TestRouter_ServesIndexWithCORS(t *testing.T) {
	h := NewRouter(writeWebRoot(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<h1>panel</h1>", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestRouter_ContentTypeAndNotFound(t *testing.T) {
	h := NewRouter(writeWebRoot(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing.txt", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Path not found /missing.txt", rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/anything", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/html", contentType("/README"))
	assert.Equal(t, "text/html", contentType("/file.unknownext"))
	assert.Contains(t, contentType("/style.css"), "text/css")
}

func newTestServer(t *testing.T, certs *store.FileStore) *Server {
	t.Helper()
	s := New(Config{
		Address:   "127.0.0.1",
		HTTPPort:  freePort(t),
		HTTPSPort: freePort(t),
		WebRoot:   writeWebRoot(t),
		CertName:  "serverCert",
	}, certs, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s
}

func TestServer_HTTPSWaitsForCertificate(t *testing.T) {
	certs := store.NewFileStore(t.TempDir(), "password")
	s := newTestServer(t, certs)

	require.NoError(t, s.Start())
	assert.False(t, s.IsServingTLS())
	assert.NotEmpty(t, s.Addr(false))
	assert.Empty(t, s.Addr(true))

	resp, err := http.Get("http://" + s.Addr(false) + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cred := saveServerCert(t, certs)
	require.NoError(t, s.Restart(s.cfg.HTTPSPort))
	require.True(t, s.IsServingTLS())
	assert.Equal(t, cred.Certificate.SerialNumber.String(), servedSerial(t, s.Addr(true)))
}

func TestServer_RestartIsPortSelective(t *testing.T) {
	certs := store.NewFileStore(t.TempDir(), "password")
	saveServerCert(t, certs)
	s := newTestServer(t, certs)
	require.NoError(t, s.Start())
	require.True(t, s.IsServingTLS())

	httpEP, httpsEP := s.http, s.https

	require.NoError(t, s.Restart(s.cfg.HTTPSPort))
	assert.Same(t, httpEP, s.http)
	assert.NotSame(t, httpsEP, s.https)

	httpEP, httpsEP = s.http, s.https
	require.NoError(t, s.Restart(s.cfg.HTTPPort))
	assert.NotSame(t, httpEP, s.http)
	assert.Same(t, httpsEP, s.https)

	httpEP, httpsEP = s.http, s.https
	require.NoError(t, s.Restart(0))
	assert.NotSame(t, httpEP, s.http)
	assert.NotSame(t, httpsEP, s.https)
}

func TestServer_RestartServesNewCertificate(t *testing.T) {
	certs := store.NewFileStore(t.TempDir(), "password")
	first := saveServerCert(t, certs)
	s := newTestServer(t, certs)
	require.NoError(t, s.Start())
	assert.Equal(t, first.Certificate.SerialNumber.String(), servedSerial(t, s.Addr(true)))

	second := saveServerCert(t, certs)
	require.NoError(t, s.Restart(s.cfg.HTTPSPort))
	assert.Equal(t, second.Certificate.SerialNumber.String(), servedSerial(t, s.Addr(true)))
}

func TestServer_Stop(t *testing.T) {
	certs := store.NewFileStore(t.TempDir(), "password")
	saveServerCert(t, certs)
	s := newTestServer(t, certs)
	require.NoError(t, s.Start())

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.IsServingTLS())
	assert.Empty(t, s.Addr(false))
}
