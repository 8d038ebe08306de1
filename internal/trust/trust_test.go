package trust

import (
	"crypto/x509/pkix"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucas/securewss/internal/pki"
)

type recorder struct {
	calls [][]string
	err   error
}

func (r *recorder) run(name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	if r.err != nil {
		return []byte("boom"), r.err
	}
	return nil, nil
}

func newCred(t *testing.T, cn string, now time.Time) *pki.Credential {
	t.Helper()
	cred, err := pki.CreateAuthority(pki.Options{
		Subject: pkix.Name{CommonName: cn},
		Years:   1,
		Now:     now,
	})
	require.NoError(t, err)
	return cred
}

func TestParseStoreName(t *testing.T) {
	tests := []struct {
		in      string
		want    StoreName
		wantErr bool
	}{
		{in: "1", want: AddressBook},
		{in: "6", want: Root},
		{in: "8", want: TrustedPublisher},
		{in: "root", want: Root},
		{in: "TrustedPeople", want: TrustedPeople},
		{in: "0", wantErr: true},
		{in: "9", wantErr: true},
		{in: "Personal", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStoreName(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidStore)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseStoreLocation(t *testing.T) {
	loc, err := ParseStoreLocation("2")
	require.NoError(t, err)
	assert.Equal(t, LocalMachine, loc)

	loc, err = ParseStoreLocation("currentuser")
	require.NoError(t, err)
	assert.Equal(t, CurrentUser, loc)

	_, err = ParseStoreLocation("3")
	assert.ErrorIs(t, err, ErrInvalidStore)
}

func TestInstall_RootLocalMachineRefreshesSystemTrust(t *testing.T) {
	dir := t.TempDir()
	anchors := t.TempDir()
	rec := &recorder{}
	s := NewFileStore(dir, WithAnchorDir(anchors), WithUpdateCommand("update-ca-certificates --fresh"), WithRunner(rec.run))

	cred := newCred(t, "Cornflake", time.Now())
	require.NoError(t, s.Install(cred, Root, LocalMachine))

	entries, err := os.ReadDir(s.StorePath(Root, LocalMachine))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	anchorEntries, err := os.ReadDir(anchors)
	require.NoError(t, err)
	require.Len(t, anchorEntries, 1)
	assert.Equal(t, ".crt", filepath.Ext(anchorEntries[0].Name()))

	require.Len(t, rec.calls, 1)
	assert.Equal(t, []string{"update-ca-certificates", "--fresh"}, rec.calls[0])
}

func TestInstall_OtherStoresSkipAnchor(t *testing.T) {
	anchors := t.TempDir()
	rec := &recorder{}
	s := NewFileStore(t.TempDir(), WithAnchorDir(anchors), WithRunner(rec.run))

	require.NoError(t, s.Install(newCred(t, "peer", time.Now()), TrustedPeople, CurrentUser))

	anchorEntries, err := os.ReadDir(anchors)
	require.NoError(t, err)
	assert.Empty(t, anchorEntries)
	assert.Empty(t, rec.calls)
}

func TestInstall_UpdateFailure(t *testing.T) {
	rec := &recorder{err: errors.New("exit status 1")}
	s := NewFileStore(t.TempDir(), WithAnchorDir(t.TempDir()), WithRunner(rec.run))

	err := s.Install(newCred(t, "Cornflake", time.Now()), Root, LocalMachine)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update-ca-certificates")
}

func TestInstall_InvalidStore(t *testing.T) {
	s := NewFileStore(t.TempDir())
	err := s.Install(newCred(t, "x", time.Now()), StoreName(9), CurrentUser)
	assert.ErrorIs(t, err, ErrInvalidStore)
}

func TestList_ReturnsOnlyCurrentlyValid(t *testing.T) {
	now := time.Now()
	s := NewFileStore(t.TempDir(), WithAnchorDir(""))

	valid := newCred(t, "valid", now)
	expired := newCred(t, "expired", now.AddDate(-2, 0, 0))
	future := newCred(t, "future", now.Add(48*time.Hour))
	for _, c := range []*pki.Credential{valid, expired, future} {
		require.NoError(t, s.Install(c, CertificateAuthority, CurrentUser))
	}

	certs, err := s.List(CertificateAuthority, CurrentUser, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, "valid", certs[0].Subject.CommonName)

	empty, err := s.List(Disallowed, LocalMachine, now)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
