package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/youmark/pkcs8"
)

// ErrWrongPassphrase is returned when an encrypted key cannot be unlocked.
var ErrWrongPassphrase = errors.New("private key could not be decrypted with the given passphrase")

// GenerateKey creates a new key pair according to spec.
func GenerateKey(spec KeySpec) (crypto.Signer, error) {
	switch spec.Algorithm {
	case KeyAlgorithmRSA, "":
		bits := spec.Bits
		if bits == 0 {
			bits = DefaultKeySpec.Bits
		}
		return rsa.GenerateKey(rand.Reader, bits)
	case KeyAlgorithmECDSA:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	default:
		return nil, fmt.Errorf("unsupported key algorithm: %s", spec.Algorithm)
	}
}

// EncodePrivateKeyPEM serialises the key as PKCS#8. With a non-empty
// passphrase the result is an ENCRYPTED PRIVATE KEY block (PBKDF2 + AES-256),
// the same shape `openssl genpkey -aes256` writes.
func EncodePrivateKeyPEM(key crypto.Signer, passphrase []byte) ([]byte, error) {
	der, err := pkcs8.MarshalPrivateKey(key, passphrase, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	blockType := PEMTypePrivateKey
	if len(passphrase) > 0 {
		blockType = PEMTypeEncryptedKey
	}
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), nil
}

// ParsePrivateKeyPEM parses a PEM-encoded private key in encrypted PKCS#8,
// PKCS#8, PKCS#1 or SEC1 form.
func ParsePrivateKeyPEM(privateKeyPEM, passphrase []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM private key")
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case PEMTypeEncryptedKey:
		if len(passphrase) == 0 {
			return nil, fmt.Errorf("%w: key is encrypted but no passphrase is configured", ErrWrongPassphrase)
		}
		key, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes, passphrase)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWrongPassphrase, err)
		}
	case PEMTypeRSAPrivateKey:
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case PEMTypeECPrivateKey:
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, fmt.Errorf("unsupported or invalid private key PEM (type=%s): %w", block.Type, err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type: %T", key)
	}
	switch signer.(type) {
	case *rsa.PrivateKey, *ecdsa.PrivateKey:
		return signer, nil
	default:
		return nil, fmt.Errorf("unsupported private key type: %T", key)
	}
}

// SamePublicKey reports whether two public keys are identical.
func SamePublicKey(a, b crypto.PublicKey) bool {
	type equaler interface {
		Equal(crypto.PublicKey) bool
	}
	ea, ok := a.(equaler)
	return ok && ea.Equal(b)
}
