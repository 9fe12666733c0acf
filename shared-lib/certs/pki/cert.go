package pki

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"
)

var (
	ErrIssuerMismatch  = errors.New("leaf issuer does not match root subject")
	ErrNotYetValid     = errors.New("certificate not yet valid")
	ErrExpired         = errors.New("certificate has expired")
	ErrKeyMismatch     = errors.New("certificate public key does not match private key")
	ErrUnsupportedAlgo = errors.New("unsupported public key algorithm")
)

// CertificateManager holds the trusted roots and answers chain and expiry
// questions about certificates presented to it.
type CertificateManager struct {
	trustedCAs []*x509.Certificate
	now        func() time.Time
}

// NewCertificateManager creates a certificate manager trusting the given PEM roots.
func NewCertificateManager(caPEMs ...[]byte) (*CertificateManager, error) {
	var cas []*x509.Certificate
	for _, caPEM := range caPEMs {
		ca, err := ParseCertificatePEM(caPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
		}
		cas = append(cas, ca)
	}
	return &CertificateManager{trustedCAs: cas, now: time.Now}, nil
}

// Pool returns the trusted roots as a certificate pool.
func (cm *CertificateManager) Pool() *x509.CertPool {
	roots := x509.NewCertPool()
	for _, ca := range cm.trustedCAs {
		roots.AddCert(ca)
	}
	return roots
}

// VerifyCertificateChain verifies cert against the trusted roots for the given usage.
func (cm *CertificateManager) VerifyCertificateChain(cert *x509.Certificate, usage x509.ExtKeyUsage) error {
	opts := x509.VerifyOptions{
		Roots:       cm.Pool(),
		CurrentTime: cm.now(),
		KeyUsages:   []x509.ExtKeyUsage{usage},
	}
	_, err := cert.Verify(opts)
	return err
}

// ValidateCertificateExpiry checks that now lies inside the certificate's validity window.
func ValidateCertificateExpiry(cert *x509.Certificate, now time.Time) error {
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("%w: valid from %s", ErrNotYetValid, cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("%w: expired at %s", ErrExpired, cert.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// Validate checks the bundle invariant: the leaf was issued by the root (by
// name and by signature), it belongs to our key, and now is inside its window.
func (tb *TrustBundle) Validate(now time.Time) error {
	if tb.Leaf == nil || tb.Root == nil || tb.Key == nil {
		return fmt.Errorf("incomplete trust bundle")
	}
	if !bytes.Equal(tb.Leaf.RawIssuer, tb.Root.RawSubject) {
		return fmt.Errorf("%w: issuer %q, root %q", ErrIssuerMismatch, tb.Leaf.Issuer, tb.Root.Subject)
	}
	if err := tb.Leaf.CheckSignatureFrom(tb.Root); err != nil {
		return fmt.Errorf("leaf signature does not verify under root: %w", err)
	}
	if !SamePublicKey(tb.Key.Public(), tb.Leaf.PublicKey) {
		return ErrKeyMismatch
	}
	return ValidateCertificateExpiry(tb.Leaf, now)
}

// ParseCertificatePEM parses a PEM-encoded certificate block into an X.509 certificate.
func ParseCertificatePEM(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != PEMTypeCertificate {
		return nil, fmt.Errorf("failed to decode PEM certificate")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// ParseCertificateRequestPEM parses a CSR and checks its self-signature and
// key algorithm. Only RSA and ECDSA requests are accepted.
func ParseCertificateRequestPEM(csrPEM []byte) (*x509.CertificateRequest, error) {
	block, _ := pem.Decode(csrPEM)
	if block == nil || block.Type != PEMTypeCertificateRequest {
		return nil, fmt.Errorf("failed to decode PEM certificate request")
	}

	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate request: %w", err)
	}
	switch csr.PublicKeyAlgorithm {
	case x509.RSA, x509.ECDSA:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgo, csr.PublicKeyAlgorithm)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("certificate request signature invalid: %w", err)
	}
	return csr, nil
}

// EncodeCertificatePEM wraps DER bytes in a CERTIFICATE block.
func EncodeCertificatePEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: PEMTypeCertificate, Bytes: der})
}
