package listener

import (
	"crypto/tls"
	"fmt"

	"github.com/lucas/securewss/internal/pki"
)

// CredentialLoader reads the server credential the HTTPS endpoint serves.
type CredentialLoader interface {
	Load(name string) (*pki.Credential, error)
}

// loadServerTLSConfig builds the HTTPS server configuration from the stored
// server bundle. Client certificates are not requested.
func loadServerTLSConfig(loader CredentialLoader, name string) (*tls.Config, error) {
	cred, err := loader.Load(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{cred.Certificate.Raw},
		PrivateKey:  cred.PrivateKey,
		Leaf:        cred.Certificate,
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
