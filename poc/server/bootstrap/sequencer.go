// Package bootstrap takes a participant from nothing on disk to a validated
// trust bundle: key, certificate request, signature from the root authority,
// installed certificates.
package bootstrap

import (
	"bytes"
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

// Paths locates the participant's persisted artifacts.
type Paths struct {
	Key           string
	Request       string
	Certificate   string
	CACertificate string
}

type Config struct {
	Paths      Paths
	Passphrase []byte
	Subject    pki.Subject
}

// ConfigFrom adapts the service configuration.
func ConfigFrom(c *types.ServerConfig) Config {
	return Config{
		Paths: Paths{
			Key:           c.KeyPath,
			Request:       c.CSRPath,
			Certificate:   c.CertPath,
			CACertificate: c.CACertPath,
		},
		Passphrase: []byte(c.Passphrase),
		Subject:    c.Subject,
	}
}

// SigningChannel submits a certificate request to the root authority.
type SigningChannel interface {
	RequestSignature(ctx context.Context, csrPEM []byte) (*types.SignResponse, error)
}

// Sequencer drives NoKey → HasKey → HasRequest → AwaitingSignature → Trusted.
type Sequencer struct {
	cfg       Config
	toolchain pki.Toolchain
	channel   SigningChannel
	logger    *zap.SugaredLogger
	now       func() time.Time

	mu    sync.Mutex
	state State
}

func NewSequencer(cfg Config, toolchain pki.Toolchain, channel SigningChannel, logger *zap.SugaredLogger) *Sequencer {
	return &Sequencer{
		cfg:       cfg,
		toolchain: toolchain,
		channel:   channel,
		logger:    logger,
		now:       time.Now,
	}
}

// State reports where the last Run got to.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sequencer) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.logger.Debugw("Bootstrap state", "state", st.String())
}

// Run establishes trust and returns the validated bundle. When a leaf and a
// root are already installed it only loads and validates them.
func (s *Sequencer) Run(ctx context.Context) (*pki.TrustBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.fail(types.OperationRequestSignature, err, true)
	}

	installed, err := s.installed()
	if err != nil {
		return nil, s.fail(types.OperationLoadBundle, err, false)
	}
	if installed {
		return s.loadInstalled()
	}

	key, err := s.ensureKey()
	if err != nil {
		return nil, err
	}
	s.setState(HasKey)

	csrPEM, err := s.ensureRequest(key)
	if err != nil {
		return nil, err
	}
	s.setState(HasRequest)

	s.setState(AwaitingSignature)
	resp, err := s.channel.RequestSignature(ctx, csrPEM)
	if err != nil {
		s.setState(HasRequest)
		return nil, s.fail(types.OperationRequestSignature, err, true)
	}

	bundle, err := s.install(key, resp)
	if err != nil {
		s.setState(HasRequest)
		return nil, err
	}
	s.setState(Trusted)
	s.logger.Infow("Trust established",
		"subject", bundle.Leaf.Subject.String(),
		"issuer", bundle.Root.Subject.String(),
		"serial", fmt.Sprintf("%X", bundle.Leaf.SerialNumber),
		"notAfter", bundle.Leaf.NotAfter)
	return bundle, nil
}

func (s *Sequencer) installed() (bool, error) {
	leaf, err := store.Exists(s.cfg.Paths.Certificate)
	if err != nil {
		return false, err
	}
	root, err := store.Exists(s.cfg.Paths.CACertificate)
	if err != nil {
		return false, err
	}
	return leaf && root, nil
}

// loadInstalled never deletes or rewrites what it finds; a bundle that does
// not validate is reported and left for the operator.
func (s *Sequencer) loadInstalled() (*pki.TrustBundle, error) {
	keyPEM, err := store.Read(s.cfg.Paths.Key)
	if err != nil {
		return nil, s.fail(types.OperationLoadBundle, err, false)
	}
	key, err := pki.ParsePrivateKeyPEM(keyPEM, s.cfg.Passphrase)
	if err != nil {
		return nil, s.fail(types.OperationLoadBundle, err, false)
	}
	leafPEM, err := store.Read(s.cfg.Paths.Certificate)
	if err != nil {
		return nil, s.fail(types.OperationLoadBundle, err, false)
	}
	rootPEM, err := store.Read(s.cfg.Paths.CACertificate)
	if err != nil {
		return nil, s.fail(types.OperationLoadBundle, err, false)
	}

	bundle, err := s.assemble(&pki.KeyMaterial{PrivateKey: key, Passphrase: s.cfg.Passphrase}, leafPEM, rootPEM)
	if err != nil {
		s.logger.Errorw("Installed certificates do not form a valid trust bundle",
			"certificate", s.cfg.Paths.Certificate,
			"caCertificate", s.cfg.Paths.CACertificate,
			"error", err)
		return nil, s.fail(types.OperationLoadBundle, err, false)
	}
	s.setState(Trusted)
	s.logger.Infow("Loaded installed trust bundle",
		"subject", bundle.Leaf.Subject.String(),
		"notAfter", bundle.Leaf.NotAfter)
	return bundle, nil
}

func (s *Sequencer) ensureKey() (*pki.KeyMaterial, error) {
	path := s.cfg.Paths.Key
	exists, err := store.Exists(path)
	if err != nil {
		return nil, s.fail(types.OperationGenerateKey, err, false)
	}
	if exists {
		keyPEM, err := store.Read(path)
		if err != nil {
			return nil, s.fail(types.OperationGenerateKey, err, false)
		}
		key, err := pki.ParsePrivateKeyPEM(keyPEM, s.cfg.Passphrase)
		if err != nil {
			return nil, s.fail(types.OperationGenerateKey, fmt.Errorf("existing key %s: %w", path, err), false)
		}
		return &pki.KeyMaterial{PrivateKey: key, Passphrase: s.cfg.Passphrase}, nil
	}

	key, err := s.toolchain.GenerateKey()
	if err != nil {
		return nil, s.fail(types.OperationGenerateKey, err, false)
	}
	key.Passphrase = s.cfg.Passphrase
	keyPEM, err := pki.EncodePrivateKeyPEM(key.PrivateKey, key.Passphrase)
	if err != nil {
		return nil, s.fail(types.OperationGenerateKey, err, false)
	}
	written, err := store.WriteIfAbsent(path, keyPEM, store.ModeSecret)
	if err != nil {
		return nil, s.fail(types.OperationGenerateKey, err, false)
	}
	if !written {
		return nil, s.fail(types.OperationGenerateKey, fmt.Errorf("key %s appeared while generating", path), true)
	}
	s.logger.Infow("Generated private key", "path", path, "encrypted", len(key.Passphrase) > 0)
	return key, nil
}

// ensureRequest reuses a stored request made for the current key and the
// configured subject, and re-derives it otherwise. The request carries no secret, so rewriting it is
// always safe.
func (s *Sequencer) ensureRequest(key *pki.KeyMaterial) ([]byte, error) {
	path := s.cfg.Paths.Request
	exists, err := store.Exists(path)
	if err != nil {
		return nil, s.fail(types.OperationCreateRequest, err, false)
	}
	if exists {
		csrPEM, err := store.Read(path)
		if err != nil {
			return nil, s.fail(types.OperationCreateRequest, err, false)
		}
		csr, perr := pki.ParseCertificateRequestPEM(csrPEM)
		switch {
		case perr != nil:
			s.logger.Warnw("Stored certificate request unusable, deriving a new one", "path", path, "error", perr)
		case !pki.SamePublicKey(key.Public(), csr.PublicKey):
			s.logger.Warnw("Stored certificate request is for another key, deriving a new one", "path", path)
		case !s.cfg.Subject.MatchesRequest(csr):
			s.logger.Infow("Configured subject changed, deriving a new certificate request",
				"path", path,
				"stored", csr.Subject.String(),
				"configured", s.cfg.Subject.Name().String())
		default:
			return csrPEM, nil
		}
	}

	csrPEM, err := s.toolchain.CreateRequest(key, s.cfg.Subject)
	if err != nil {
		return nil, s.fail(types.OperationCreateRequest, err, false)
	}
	if err := store.WriteAtomic(path, csrPEM, store.ModePublic); err != nil {
		return nil, s.fail(types.OperationCreateRequest, err, false)
	}
	s.logger.Infow("Created certificate request", "path", path, "subject", s.cfg.Subject.Name().String())
	return csrPEM, nil
}

func (s *Sequencer) install(key *pki.KeyMaterial, resp *types.SignResponse) (*pki.TrustBundle, error) {
	leafPEM := []byte(resp.SignedCert)
	rootPEM := []byte(resp.CACert)

	bundle, err := s.assemble(key, leafPEM, rootPEM)
	if err != nil {
		return nil, s.fail(types.OperationInstallCertificates, err, false)
	}

	if err := store.WriteAtomic(s.cfg.Paths.Certificate, leafPEM, store.ModePublic); err != nil {
		return nil, s.fail(types.OperationInstallCertificates, err, false)
	}
	if err := store.WriteAtomic(s.cfg.Paths.CACertificate, rootPEM, store.ModePublic); err != nil {
		return nil, s.fail(types.OperationInstallCertificates, err, false)
	}
	return bundle, nil
}

func (s *Sequencer) assemble(key *pki.KeyMaterial, leafPEM, rootPEM []byte) (*pki.TrustBundle, error) {
	leaf, err := pki.ParseCertificatePEM(leafPEM)
	if err != nil {
		return nil, fmt.Errorf("leaf certificate: %w", err)
	}
	root, err := pki.ParseCertificatePEM(rootPEM)
	if err != nil {
		return nil, fmt.Errorf("root certificate: %w", err)
	}
	if err := checkRoot(root); err != nil {
		return nil, err
	}

	bundle := &pki.TrustBundle{Key: key, Leaf: leaf, Root: root}
	if err := bundle.Validate(s.now()); err != nil {
		return nil, err
	}
	return bundle, nil
}

// checkRoot requires a self-issued CA certificate.
func checkRoot(root *x509.Certificate) error {
	if !root.IsCA {
		return fmt.Errorf("root certificate %q is not a CA", root.Subject)
	}
	if !bytes.Equal(root.RawIssuer, root.RawSubject) {
		return fmt.Errorf("root certificate %q is not self-issued", root.Subject)
	}
	return nil
}

func (s *Sequencer) fail(op types.Operation, err error, retryable bool) error {
	return types.NewTallyError(types.ComponentBootstrap, op, types.ErrTrustEstablishmentFailed, err, retryable)
}
