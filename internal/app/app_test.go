package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucas/securewss/internal/config"
	"github.com/lucas/securewss/internal/lifecycle"
	"github.com/lucas/securewss/internal/trust"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Defaults()
	cfg.Node = config.NodeConfig{Hostname: "panel", Domain: "example.local", Address: "10.0.0.5"}
	cfg.CA.CertDir = filepath.Join(dir, "certs")
	cfg.CA.ExtraSANs = []string{"panel"}
	cfg.Trust = config.TrustConfig{
		Enabled:  true,
		Dir:      filepath.Join(dir, "trust"),
		Store:    "Root",
		Location: "CurrentUser",
	}
	cfg.Journal.Path = filepath.Join(dir, "journal.db")
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLifecycleConfig(t *testing.T) {
	cfg := testConfig(t)

	lcfg, err := LifecycleConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "rootCert", lcfg.RootName)
	assert.Equal(t, "serverCert", lcfg.LeafName)
	assert.Equal(t, "Cornflake", lcfg.RootSubject.CommonName)
	assert.Equal(t, "panel.example.local", lcfg.LeafSubject.CommonName)
	assert.Equal(t, 42081, lcfg.RestartPort)
	assert.Equal(t, []string{"panel.example.local", "panel"}, lcfg.AltNames)
	assert.Equal(t, 72*time.Hour, lcfg.RenewBefore)
	assert.Equal(t, trust.Root, lcfg.TrustStore)
	assert.Equal(t, trust.CurrentUser, lcfg.TrustLocation)
}

func TestLeafSubject_Configured(t *testing.T) {
	cfg := testConfig(t)
	cfg.CA.LeafSubject = "CN=panel,O=Acme"

	name, err := LeafSubject(cfg)
	require.NoError(t, err)
	assert.Equal(t, "panel", name.CommonName)
	assert.Equal(t, []string{"Acme"}, name.Organization)
}

func TestNameResolver(t *testing.T) {
	names, err := NameResolver(testConfig(t))()
	require.NoError(t, err)
	assert.Equal(t, []string{"panel.example.local", "10.0.0.5", "panel"}, names)
}

func TestBuild_RunsPass(t *testing.T) {
	cfg := testConfig(t)

	c, err := Build(cfg, quietLogger())
	require.NoError(t, err)
	defer c.Close()
	require.NotNil(t, c.Trust)
	require.NotNil(t, c.Journal)

	res, ran := c.Manager.TryPass(context.Background())
	require.True(t, ran)
	require.NoError(t, res.Err)
	assert.Equal(t, lifecycle.ActionCreated, res.Root)
	assert.Equal(t, lifecycle.ActionIssued, res.Leaf)

	leaf, err := c.Store.Load("serverCert")
	require.NoError(t, err)
	assert.Equal(t, "panel.example.local", leaf.Certificate.Subject.CommonName)
	assert.Equal(t, []string{"panel.example.local", "panel"}, leaf.Certificate.DNSNames)

	installed, err := c.Trust.List(trust.Root, trust.CurrentUser, time.Now())
	require.NoError(t, err)
	require.Len(t, installed, 1)
	assert.Equal(t, "Cornflake", installed[0].Subject.CommonName)

	records, err := c.Journal.List(0)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestBuild_IssuesWhenAddressDiscoveryFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Node.Address = ""
	cfg.Node.Interface = "securewss-none0"

	c, err := Build(cfg, quietLogger())
	require.NoError(t, err)
	defer c.Close()

	res, ran := c.Manager.TryPass(context.Background())
	require.True(t, ran)
	require.NoError(t, res.Err)
	assert.Equal(t, lifecycle.ActionIssued, res.Leaf)

	leaf, err := c.Store.Load("serverCert")
	require.NoError(t, err)
	assert.Equal(t, []string{"panel.example.local", "panel"}, leaf.Certificate.DNSNames)
	assert.Empty(t, leaf.Certificate.IPAddresses)
}
