package auth

import (
	"context"
	"crypto/x509"
	"fmt"
	"net/http"

	"github.com/margo/trusted-tally/shared-lib/certs/pki"
)

// ClientCertAuthorizer admits requests whose TLS client certificate chains
// to the root and is within its validity window, so participants that
// already hold a leaf can re-enroll.
type ClientCertAuthorizer struct {
	certManager *pki.CertificateManager
}

func NewClientCertAuthorizer(rootPEM []byte) (*ClientCertAuthorizer, error) {
	if len(rootPEM) == 0 {
		return nil, fmt.Errorf("clientCert authorization requires the root certificate")
	}
	cm, err := pki.NewCertificateManager(rootPEM)
	if err != nil {
		return nil, err
	}
	return &ClientCertAuthorizer{certManager: cm}, nil
}

func (a *ClientCertAuthorizer) Authorize(ctx context.Context, req *http.Request) error {
	if req.TLS == nil || len(req.TLS.PeerCertificates) == 0 {
		return deny("no client certificate presented")
	}
	cert := req.TLS.PeerCertificates[0]
	if err := a.certManager.VerifyCertificateChain(cert, x509.ExtKeyUsageClientAuth); err != nil {
		return deny("certificate chain validation failed: %v", err)
	}
	return nil
}

func (a *ClientCertAuthorizer) Type() AuthType {
	return ClientCertAuth
}
