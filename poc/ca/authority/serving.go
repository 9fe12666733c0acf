package authority

import (
	"context"
	"crypto/x509"

	"github.com/margo/trusted-tally/poc/types"
	"github.com/margo/trusted-tally/shared-lib/certs/pki"
	"github.com/margo/trusted-tally/shared-lib/store"
)

// ServingBundle returns the key and leaf the authority's own HTTPS listener
// presents. The leaf is issued from the root like any participant's and is
// reissued when it no longer validates against the current root.
func (a *Authority) ServingBundle(ctx context.Context, keyPath, certPath string, subject pki.Subject) (*pki.TrustBundle, error) {
	root, _, err := a.loadRootCertificate()
	if err != nil {
		return nil, err
	}

	if bundle, err := a.loadServingBundle(keyPath, certPath, root); err == nil {
		verr := bundle.Validate(a.now())
		if verr == nil {
			return bundle, nil
		}
		a.logger.Warnw("Serving certificate no longer valid, reissuing",
			"path", certPath,
			"error", verr)
	}

	key, err := a.toolchain.GenerateKey()
	if err != nil {
		return nil, a.signError(types.ErrSigningUnavailable, err, false)
	}
	key.Passphrase = a.cfg.Passphrase
	csrPEM, err := a.toolchain.CreateRequest(key, subject)
	if err != nil {
		return nil, a.signError(types.ErrSigningUnavailable, err, false)
	}
	issued, err := a.Sign(ctx, csrPEM)
	if err != nil {
		return nil, err
	}

	keyPEM, err := pki.EncodePrivateKeyPEM(key.PrivateKey, key.Passphrase)
	if err != nil {
		return nil, a.signError(types.ErrSigningUnavailable, err, false)
	}
	if err := store.WriteAtomic(keyPath, keyPEM, store.ModeSecret); err != nil {
		return nil, a.signError(types.ErrPersistenceFailure, err, false)
	}
	if err := store.WriteAtomic(certPath, issued.CertificatePEM, store.ModePublic); err != nil {
		return nil, a.signError(types.ErrPersistenceFailure, err, false)
	}

	leaf, err := pki.ParseCertificatePEM(issued.CertificatePEM)
	if err != nil {
		return nil, a.signError(types.ErrSigningUnavailable, err, false)
	}
	a.logger.Infow("Issued serving certificate",
		"path", certPath,
		"subject", leaf.Subject.String(),
		"serial", issued.SerialNumber)

	return &pki.TrustBundle{Key: key, Leaf: leaf, Root: root}, nil
}

func (a *Authority) loadServingBundle(keyPath, certPath string, root *x509.Certificate) (*pki.TrustBundle, error) {
	keyPEM, err := store.Read(keyPath)
	if err != nil {
		return nil, err
	}
	certPEM, err := store.Read(certPath)
	if err != nil {
		return nil, err
	}
	key, err := pki.ParsePrivateKeyPEM(keyPEM, a.cfg.Passphrase)
	if err != nil {
		return nil, err
	}
	leaf, err := pki.ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}
	return &pki.TrustBundle{
		Key:  &pki.KeyMaterial{PrivateKey: key, Passphrase: a.cfg.Passphrase},
		Leaf: leaf,
		Root: root,
	}, nil
}
