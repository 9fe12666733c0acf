package crypto

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/margo/trusted-tally/shared-lib/certs/pki"
)

// Client certificate policies accepted by ServerTLSConfig.
const (
	ClientAuthNone    = "none"
	ClientAuthRequest = "request"
	ClientAuthRequire = "require"
)

// LoadCustomCA loads a custom CA certificate and returns a TLS config whose
// root pool is the system pool plus that CA.
func LoadCustomCA(caPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate from %s: %w", caPath, err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil || caCertPool == nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate from %s", caPath)
	}

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// ClientTLSConfig builds the TLS config for outbound calls. An empty caPath
// trusts the system pool only.
func ClientTLSConfig(caPath string, insecureSkipVerify bool) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caPath != "" {
		var err error
		if cfg, err = LoadCustomCA(caPath); err != nil {
			return nil, err
		}
	}
	cfg.InsecureSkipVerify = insecureSkipVerify
	return cfg, nil
}

// ServerTLSConfig builds a listener config from a validated trust bundle.
// The bundle root is the only CA accepted for client certificates.
func ServerTLSConfig(bundle *pki.TrustBundle, clientAuth string) (*tls.Config, error) {
	if bundle == nil || bundle.Leaf == nil || bundle.Root == nil || bundle.Key == nil {
		return nil, fmt.Errorf("trust bundle is incomplete")
	}

	var mode tls.ClientAuthType
	switch strings.ToLower(clientAuth) {
	case "", ClientAuthNone:
		mode = tls.NoClientCert
	case ClientAuthRequest:
		mode = tls.VerifyClientCertIfGiven
	case ClientAuthRequire:
		mode = tls.RequireAndVerifyClientCert
	default:
		return nil, fmt.Errorf("unsupported client auth mode: %s", clientAuth)
	}

	clientCAs := x509.NewCertPool()
	clientCAs.AddCert(bundle.Root)

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{bundle.Leaf.Raw, bundle.Root.Raw},
			PrivateKey:  bundle.Key.PrivateKey,
			Leaf:        bundle.Leaf,
		}},
		ClientAuth: mode,
		ClientCAs:  clientCAs,
		MinVersion: tls.VersionTLS12,
	}, nil
}
