// Package authority implements the root certificate authority: it owns the
// root key and self-signed root certificate and signs participants'
// certificate requests.
package authority

import (
	"context"
	"crypto/x509"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/margo/trusted-tally/poc/types"
	"github.com/margo/trusted-tally/shared-lib/certs/pki"
	"github.com/margo/trusted-tally/shared-lib/store"
)

// Config locates the root identity and fixes its policy.
type Config struct {
	RootKeyPath  string
	RootCertPath string
	SerialPath   string
	Passphrase   []byte
	RootSubject  pki.Subject
	RootValidity time.Duration
	LeafValidity time.Duration
}

// ConfigFrom adapts the service configuration.
func ConfigFrom(c *types.CAConfig) Config {
	return Config{
		RootKeyPath:  c.RootKeyPath,
		RootCertPath: c.RootCertPath,
		SerialPath:   c.SerialPath,
		Passphrase:   []byte(c.Passphrase),
		RootSubject:  c.RootSubject,
		RootValidity: c.RootValidity(),
		LeafValidity: c.LeafValidity(),
	}
}

type Authority struct {
	cfg       Config
	toolchain pki.Toolchain
	serials   *SerialCounter
	logger    *zap.SugaredLogger
	now       func() time.Time

	// serialises root identity creation
	initMu sync.Mutex
}

func New(cfg Config, toolchain pki.Toolchain, logger *zap.SugaredLogger) *Authority {
	return &Authority{
		cfg:       cfg,
		toolchain: toolchain,
		serials:   NewSerialCounter(cfg.SerialPath),
		logger:    logger,
		now:       time.Now,
	}
}

// EnsureRootIdentity creates whatever part of the root identity is missing
// and checks that the parts on disk belong together. Safe on every start.
// A root certificate without its key is fatal; no replacement key is made.
func (a *Authority) EnsureRootIdentity(ctx context.Context) error {
	a.initMu.Lock()
	defer a.initMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	certExists, err := store.Exists(a.cfg.RootCertPath)
	if err != nil {
		return a.rootError(types.ErrPersistenceFailure, err)
	}
	key, err := a.ensureRootKey(certExists)
	if err != nil {
		return err
	}
	return a.ensureRootCertificate(key, certExists)
}

func (a *Authority) ensureRootKey(certExists bool) (*pki.KeyMaterial, error) {
	exists, err := store.Exists(a.cfg.RootKeyPath)
	if err != nil {
		return nil, a.rootError(types.ErrPersistenceFailure, err)
	}
	if exists {
		return a.loadRootKey()
	}
	if certExists {
		return nil, a.rootError(types.ErrSigningUnavailable,
			fmt.Errorf("root certificate %s exists but root key %s is missing", a.cfg.RootCertPath, a.cfg.RootKeyPath))
	}

	key, err := a.toolchain.GenerateKey()
	if err != nil {
		return nil, a.rootError(types.ErrSigningUnavailable, err)
	}
	key.Passphrase = a.cfg.Passphrase
	keyPEM, err := pki.EncodePrivateKeyPEM(key.PrivateKey, key.Passphrase)
	if err != nil {
		return nil, a.rootError(types.ErrSigningUnavailable, err)
	}
	if err := store.WriteAtomic(a.cfg.RootKeyPath, keyPEM, store.ModeSecret); err != nil {
		return nil, a.rootError(types.ErrPersistenceFailure, err)
	}
	a.logger.Infow("Generated root key", "path", a.cfg.RootKeyPath)
	return key, nil
}

func (a *Authority) ensureRootCertificate(key *pki.KeyMaterial, exists bool) error {
	if exists {
		cert, _, err := a.loadRootCertificate()
		if err != nil {
			return err
		}
		if !pki.SamePublicKey(key.Public(), cert.PublicKey) {
			return a.rootError(types.ErrSigningUnavailable,
				fmt.Errorf("root certificate %s does not match root key %s", a.cfg.RootCertPath, a.cfg.RootKeyPath))
		}
		a.logger.Infow("Root identity present",
			"subject", cert.Subject.String(),
			"notAfter", cert.NotAfter)
		return nil
	}

	serial, err := a.serials.Next()
	if err != nil {
		return a.serialError(err)
	}
	certPEM, err := a.toolchain.SelfSign(key, a.cfg.RootSubject, serial, a.cfg.RootValidity)
	if err != nil {
		return a.rootError(types.ErrSigningUnavailable, err)
	}
	if err := store.WriteAtomic(a.cfg.RootCertPath, certPEM, store.ModePublic); err != nil {
		return a.rootError(types.ErrPersistenceFailure, err)
	}
	a.logger.Infow("Created self-signed root certificate",
		"path", a.cfg.RootCertPath,
		"subject", a.cfg.RootSubject.Name().String(),
		"serial", formatSerial(serial),
		"validity", a.cfg.RootValidity)
	return nil
}

// Sign issues a leaf certificate for csrPEM under the root.
func (a *Authority) Sign(ctx context.Context, csrPEM []byte) (*pki.Issued, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	csr, err := pki.ParseCertificateRequestPEM(csrPEM)
	if err != nil {
		return nil, a.signError(types.ErrMalformedRequest, err, false)
	}

	key, err := a.loadRootKey()
	if err != nil {
		return nil, err
	}
	root, rootPEM, err := a.loadRootCertificate()
	if err != nil {
		return nil, err
	}

	serial, err := a.serials.Next()
	if err != nil {
		return nil, a.serialError(err)
	}

	notBefore := a.now()
	leafPEM, err := a.toolchain.SignRequest(csrPEM, key, root, serial, notBefore, a.cfg.LeafValidity)
	if err != nil {
		return nil, a.signError(types.ErrSigningUnavailable, err, false)
	}

	issued := &pki.Issued{
		CertificatePEM:     leafPEM,
		RootCertificatePEM: rootPEM,
		SerialNumber:       formatSerial(serial),
		NotAfter:           notBefore.Add(a.cfg.LeafValidity),
	}
	a.logger.Infow("Signed certificate request",
		"subject", csr.Subject.String(),
		"serial", issued.SerialNumber,
		"notAfter", issued.NotAfter)
	return issued, nil
}

// RootCertificatePEM returns the root certificate as stored on disk.
func (a *Authority) RootCertificatePEM() ([]byte, error) {
	_, rootPEM, err := a.loadRootCertificate()
	return rootPEM, err
}

// LastSerial reports the most recently issued serial number.
func (a *Authority) LastSerial() (string, error) {
	serial, err := a.serials.Current()
	if err != nil {
		return "", a.serialError(err)
	}
	return formatSerial(serial), nil
}

func (a *Authority) loadRootKey() (*pki.KeyMaterial, error) {
	keyPEM, err := store.Read(a.cfg.RootKeyPath)
	if err != nil {
		return nil, a.signError(types.ErrSigningUnavailable, fmt.Errorf("root key unavailable: %w", err), false)
	}
	key, err := pki.ParsePrivateKeyPEM(keyPEM, a.cfg.Passphrase)
	if err != nil {
		return nil, a.signError(types.ErrSigningUnavailable, fmt.Errorf("root key cannot be unlocked: %w", err), false)
	}
	return &pki.KeyMaterial{PrivateKey: key, Passphrase: a.cfg.Passphrase}, nil
}

func (a *Authority) loadRootCertificate() (*x509.Certificate, []byte, error) {
	certPEM, err := store.Read(a.cfg.RootCertPath)
	if err != nil {
		return nil, nil, a.signError(types.ErrSigningUnavailable, fmt.Errorf("root certificate unavailable: %w", err), false)
	}
	cert, err := pki.ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, nil, a.signError(types.ErrSigningUnavailable, err, false)
	}
	return cert, certPEM, nil
}

func (a *Authority) rootError(kind, err error) error {
	return types.NewTallyError(types.ComponentAuthority, types.OperationEnsureRootIdentity, kind, err, false)
}

func (a *Authority) serialError(err error) error {
	return types.NewTallyError(types.ComponentAuthority, types.OperationDrawSerial, types.ErrPersistenceFailure, err, true).
		WithContext("path", a.cfg.SerialPath)
}

func (a *Authority) signError(kind, err error, retryable bool) error {
	return types.NewTallyError(types.ComponentAuthority, types.OperationSign, kind, err, retryable)
}
