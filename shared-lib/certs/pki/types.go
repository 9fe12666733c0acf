// Package pki provides the in-process certificate toolchain used by the root
// authority and by participants bootstrapping trust: key generation, encrypted
// key storage, certificate requests, signing and chain validation.
package pki

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"net"
	"time"
)

// PEM block types produced and accepted by this package.
const (
	PEMTypeCertificate        = "CERTIFICATE"
	PEMTypeCertificateRequest = "CERTIFICATE REQUEST"
	PEMTypeEncryptedKey       = "ENCRYPTED PRIVATE KEY"
	PEMTypePrivateKey         = "PRIVATE KEY"
	PEMTypeRSAPrivateKey      = "RSA PRIVATE KEY"
	PEMTypeECPrivateKey       = "EC PRIVATE KEY"
)

// KeyAlgorithm names a supported asymmetric key algorithm.
type KeyAlgorithm string

const (
	KeyAlgorithmRSA   KeyAlgorithm = "rsa"
	KeyAlgorithmECDSA KeyAlgorithm = "ecdsa"
)

// KeySpec describes the key pairs a toolchain generates.
type KeySpec struct {
	Algorithm KeyAlgorithm
	Bits      int // RSA modulus size, ignored for ECDSA (always P-256)
}

// DefaultKeySpec matches the RSA keys the deployment has always used.
var DefaultKeySpec = KeySpec{Algorithm: KeyAlgorithmRSA, Bits: 2048}

// KeyMaterial is an asymmetric key pair plus the passphrase protecting the
// private half at rest. It never leaves the process that generated it.
type KeyMaterial struct {
	PrivateKey crypto.Signer
	Passphrase []byte
}

// Public returns the public half of the key pair.
func (km *KeyMaterial) Public() crypto.PublicKey {
	return km.PrivateKey.Public()
}

// Subject is the identity bound into requests and certificates.
type Subject struct {
	Country            string   `mapstructure:"country" yaml:"country"`
	Province           string   `mapstructure:"province" yaml:"province"`
	Locality           string   `mapstructure:"locality" yaml:"locality"`
	Organization       string   `mapstructure:"organization" yaml:"organization"`
	OrganizationalUnit string   `mapstructure:"organizationalUnit" yaml:"organizationalUnit"`
	CommonName         string   `mapstructure:"commonName" yaml:"commonName" validate:"required"`
	DNSNames           []string `mapstructure:"dnsNames" yaml:"dnsNames"`
	IPAddresses        []string `mapstructure:"ipAddresses" yaml:"ipAddresses"`
}

// Name converts the subject into an X.509 distinguished name.
func (s Subject) Name() pkix.Name {
	name := pkix.Name{CommonName: s.CommonName}
	if s.Country != "" {
		name.Country = []string{s.Country}
	}
	if s.Province != "" {
		name.Province = []string{s.Province}
	}
	if s.Locality != "" {
		name.Locality = []string{s.Locality}
	}
	if s.Organization != "" {
		name.Organization = []string{s.Organization}
	}
	if s.OrganizationalUnit != "" {
		name.OrganizationalUnit = []string{s.OrganizationalUnit}
	}
	return name
}

// IPs parses the configured IP SANs, skipping anything unparsable.
func (s Subject) IPs() []net.IP {
	var ips []net.IP
	for _, raw := range s.IPAddresses {
		if ip := net.ParseIP(raw); ip != nil {
			ips = append(ips, ip)
		}
	}
	return ips
}

// MatchesRequest reports whether csr was made for this subject: same
// distinguished name and the same DNS and IP SANs in any order.
func (s Subject) MatchesRequest(csr *x509.CertificateRequest) bool {
	if csr.Subject.String() != s.Name().String() {
		return false
	}
	if !sameSet(s.DNSNames, csr.DNSNames) {
		return false
	}
	want := make([]string, 0, len(s.IPAddresses))
	for _, ip := range s.IPs() {
		want = append(want, ip.String())
	}
	got := make([]string, 0, len(csr.IPAddresses))
	for _, ip := range csr.IPAddresses {
		got = append(got, ip.String())
	}
	return sameSet(want, got)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, v := range a {
		counts[v]++
	}
	for _, v := range b {
		if counts[v] == 0 {
			return false
		}
		counts[v]--
	}
	return true
}

// Issued is the outcome of signing a request: the new leaf certificate and
// the root that vouches for it, both PEM encoded.
type Issued struct {
	CertificatePEM     []byte
	RootCertificatePEM []byte
	SerialNumber       string
	NotAfter           time.Time
}

// TrustBundle is everything a participant needs to open a secure listener.
type TrustBundle struct {
	Key  *KeyMaterial
	Leaf *x509.Certificate
	Root *x509.Certificate
}
