package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// Toolchain is the narrow surface through which the authority and the
// participants reach the cryptographic library. Everything it returns is
// structured data or PEM bytes ready to persist.
type Toolchain interface {
	GenerateKey() (*KeyMaterial, error)
	CreateRequest(key *KeyMaterial, subject Subject) ([]byte, error)
	SelfSign(key *KeyMaterial, subject Subject, serial *big.Int, validity time.Duration) ([]byte, error)
	SignRequest(csrPEM []byte, issuerKey *KeyMaterial, issuer *x509.Certificate, serial *big.Int, notBefore time.Time, validity time.Duration) ([]byte, error)
}

// X509Toolchain implements Toolchain with crypto/x509.
type X509Toolchain struct {
	Spec KeySpec
}

// NewX509Toolchain returns a toolchain generating keys of the given algorithm and size.
func NewX509Toolchain(spec KeySpec) *X509Toolchain {
	return &X509Toolchain{Spec: spec}
}

func (t *X509Toolchain) GenerateKey() (*KeyMaterial, error) {
	key, err := GenerateKey(t.Spec)
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s key: %w", t.Spec.Algorithm, err)
	}
	return &KeyMaterial{PrivateKey: key}, nil
}

func (t *X509Toolchain) CreateRequest(key *KeyMaterial, subject Subject) ([]byte, error) {
	template := x509.CertificateRequest{
		Subject:     subject.Name(),
		DNSNames:    subject.DNSNames,
		IPAddresses: subject.IPs(),
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, &template, key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate request: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: PEMTypeCertificateRequest, Bytes: der}), nil
}

func (t *X509Toolchain) SelfSign(key *KeyMaterial, subject Subject, serial *big.Int, validity time.Duration) ([]byte, error) {
	now := time.Now()
	skid, err := subjectKeyID(key.Public())
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject.Name(),
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
		SubjectKeyId:          skid,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to self-sign root certificate: %w", err)
	}
	return EncodeCertificatePEM(der), nil
}

func (t *X509Toolchain) SignRequest(csrPEM []byte, issuerKey *KeyMaterial, issuer *x509.Certificate, serial *big.Int, notBefore time.Time, validity time.Duration) ([]byte, error) {
	csr, err := ParseCertificateRequestPEM(csrPEM)
	if err != nil {
		return nil, err
	}
	skid, err := subjectKeyID(csr.PublicKey)
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               csr.Subject,
		DNSNames:              csr.DNSNames,
		IPAddresses:           csr.IPAddresses,
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		SubjectKeyId:          skid,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, issuer, csr.PublicKey, issuerKey.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign certificate request: %w", err)
	}
	return EncodeCertificatePEM(der), nil
}

// subjectKeyID follows RFC 5280 §4.2.1.2 method 1.
func subjectKeyID(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	var info struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(der, &info); err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	sum := sha1.Sum(info.PublicKey.Bytes)
	return sum[:], nil
}
