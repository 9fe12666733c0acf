package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/margo/trusted-tally/poc/ca/authority"
	"github.com/margo/trusted-tally/poc/types"
	"github.com/margo/trusted-tally/shared-lib/certs/pki"
)

var testToolchain = pki.NewX509Toolchain(pki.KeySpec{Algorithm: pki.KeyAlgorithmECDSA})

func newAuthority(t *testing.T) *authority.Authority {
	t.Helper()
	dir := t.TempDir()
	a := authority.New(authority.Config{
		RootKeyPath:  filepath.Join(dir, "myCA.key"),
		RootCertPath: filepath.Join(dir, "myCA.pem"),
		SerialPath:   filepath.Join(dir, "myCA.srl"),
		Passphrase:   []byte("mysecurepassword"),
		RootSubject:  pki.Subject{CommonName: "trusted-tally-root"},
		RootValidity: 3650 * 24 * time.Hour,
		LeafValidity: 365 * 24 * time.Hour,
	}, testToolchain, zap.NewNop().Sugar())
	require.NoError(t, a.EnsureRootIdentity(context.Background()))
	return a
}

// authorityChannel signs in-process and counts calls.
type authorityChannel struct {
	ca    *authority.Authority
	calls atomic.Int32
	err   error
}

func (c *authorityChannel) RequestSignature(ctx context.Context, csrPEM []byte) (*types.SignResponse, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	issued, err := c.ca.Sign(ctx, csrPEM)
	if err != nil {
		return nil, err
	}
	return &types.SignResponse{
		SignedCert: string(issued.CertificatePEM),
		CACert:     string(issued.RootCertificatePEM),
	}, nil
}

// fixedChannel answers with a canned response.
type fixedChannel struct {
	resp *types.SignResponse
}

func (c *fixedChannel) RequestSignature(ctx context.Context, csrPEM []byte) (*types.SignResponse, error) {
	return c.resp, nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		Paths: Paths{
			Key:           filepath.Join(dir, "server.key"),
			Request:       filepath.Join(dir, "server.csr"),
			Certificate:   filepath.Join(dir, "server.crt"),
			CACertificate: filepath.Join(dir, "myCA.pem"),
		},
		Passphrase: []byte("mysecurepassword"),
		Subject: pki.Subject{
			Country:      "US",
			Organization: "MyOrg",
			CommonName:   "localhost",
			DNSNames:     []string{"localhost"},
			IPAddresses:  []string{"127.0.0.1"},
		},
	}
}

func newSequencer(cfg Config, ch SigningChannel) *Sequencer {
	return NewSequencer(cfg, testToolchain, ch, zap.NewNop().Sugar())
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestRunEstablishesTrust(t *testing.T) {
	cfg := testConfig(t)
	ca := newAuthority(t)
	ch := &authorityChannel{ca: ca}
	seq := newSequencer(cfg, ch)
	assert.Equal(t, NoKey, seq.State())

	bundle, err := seq.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Trusted, seq.State())
	assert.Equal(t, int32(1), ch.calls.Load())

	require.NoError(t, bundle.Validate(time.Now()))
	assert.Equal(t, "localhost", bundle.Leaf.Subject.CommonName)
	assert.Equal(t, []string{"localhost"}, bundle.Leaf.DNSNames)
	assert.Equal(t, "trusted-tally-root", bundle.Root.Subject.CommonName)

	rootPEM, err := ca.RootCertificatePEM()
	require.NoError(t, err)
	assert.Equal(t, rootPEM, readFile(t, cfg.Paths.CACertificate))
	installed, err := pki.ParseCertificatePEM(readFile(t, cfg.Paths.Certificate))
	require.NoError(t, err)
	assert.Equal(t, bundle.Leaf.Raw, installed.Raw)

	info, err := os.Stat(cfg.Paths.Key)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.Contains(t, string(readFile(t, cfg.Paths.Key)), pki.PEMTypeEncryptedKey)

	in, err := seq.Inspect()
	require.NoError(t, err)
	assert.Equal(t, Trusted, in.State)
}

func TestRunIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	ch := &authorityChannel{ca: newAuthority(t)}

	first, err := newSequencer(cfg, ch).Run(context.Background())
	require.NoError(t, err)
	keyBefore := readFile(t, cfg.Paths.Key)

	second, err := newSequencer(cfg, ch).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), ch.calls.Load(), "second run must not contact the authority")
	assert.Equal(t, keyBefore, readFile(t, cfg.Paths.Key))
	assert.Equal(t, first.Leaf.Raw, second.Leaf.Raw)
	assert.True(t, first.Leaf.Equal(second.Leaf))
}

func TestRunKeepsExistingKey(t *testing.T) {
	cfg := testConfig(t)
	key, err := testToolchain.GenerateKey()
	require.NoError(t, err)
	keyPEM, err := pki.EncodePrivateKeyPEM(key.PrivateKey, cfg.Passphrase)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg.Paths.Key, keyPEM, 0o600))

	bundle, err := newSequencer(cfg, &authorityChannel{ca: newAuthority(t)}).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, pki.SamePublicKey(key.Public(), bundle.Leaf.PublicKey))
	assert.Equal(t, keyPEM, readFile(t, cfg.Paths.Key))
}

func TestRunExistingKeyWrongPassphrase(t *testing.T) {
	cfg := testConfig(t)
	key, err := testToolchain.GenerateKey()
	require.NoError(t, err)
	keyPEM, err := pki.EncodePrivateKeyPEM(key.PrivateKey, []byte("another"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg.Paths.Key, keyPEM, 0o600))

	ch := &authorityChannel{ca: newAuthority(t)}
	_, err = newSequencer(cfg, ch).Run(context.Background())
	assert.ErrorIs(t, err, types.ErrTrustEstablishmentFailed)
	assert.ErrorIs(t, err, pki.ErrWrongPassphrase)
	assert.Equal(t, int32(0), ch.calls.Load())
	assert.Equal(t, keyPEM, readFile(t, cfg.Paths.Key))
}

func TestRunChannelFailureThenRecovery(t *testing.T) {
	cfg := testConfig(t)
	ch := &authorityChannel{ca: newAuthority(t), err: errors.New("connection refused")}
	seq := newSequencer(cfg, ch)

	_, err := seq.Run(context.Background())
	assert.ErrorIs(t, err, types.ErrTrustEstablishmentFailed)
	var te types.TallyError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, types.OperationRequestSignature, te.Operation)
	assert.True(t, te.Retryable)
	assert.Equal(t, HasRequest, seq.State())

	in, err := seq.Inspect()
	require.NoError(t, err)
	assert.Equal(t, HasRequest, in.State)
	assert.False(t, in.Certificate.Present)
	keyBefore := readFile(t, cfg.Paths.Key)
	csrBefore := readFile(t, cfg.Paths.Request)

	ch.err = nil
	bundle, err := seq.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, keyBefore, readFile(t, cfg.Paths.Key))
	assert.Equal(t, csrBefore, readFile(t, cfg.Paths.Request), "request for the same key is reused")
	assert.Equal(t, Trusted, seq.State())
	assert.NotNil(t, bundle)
}

func TestRunRejectsLeafForAnotherKey(t *testing.T) {
	cfg := testConfig(t)
	ca := newAuthority(t)

	other, err := testToolchain.GenerateKey()
	require.NoError(t, err)
	otherCSR, err := testToolchain.CreateRequest(other, cfg.Subject)
	require.NoError(t, err)
	issued, err := ca.Sign(context.Background(), otherCSR)
	require.NoError(t, err)

	_, err = newSequencer(cfg, &fixedChannel{resp: &types.SignResponse{
		SignedCert: string(issued.CertificatePEM),
		CACert:     string(issued.RootCertificatePEM),
	}}).Run(context.Background())
	assert.ErrorIs(t, err, types.ErrTrustEstablishmentFailed)
	assert.ErrorIs(t, err, pki.ErrKeyMismatch)
	assert.NoFileExists(t, cfg.Paths.Certificate)
	assert.NoFileExists(t, cfg.Paths.CACertificate)
}

func TestRunRejectsForeignRoot(t *testing.T) {
	cfg := testConfig(t)
	ca := newAuthority(t)
	foreignRoot, err := newAuthority(t).RootCertificatePEM()
	require.NoError(t, err)

	signing := &authorityChannel{ca: ca}
	seq := newSequencer(cfg, &swapRootChannel{inner: signing, root: foreignRoot})
	_, err = seq.Run(context.Background())
	assert.ErrorIs(t, err, types.ErrTrustEstablishmentFailed)
	assert.NoFileExists(t, cfg.Paths.Certificate)
}

func TestRunRejectsGarbageResponse(t *testing.T) {
	cfg := testConfig(t)
	_, err := newSequencer(cfg, &fixedChannel{resp: &types.SignResponse{
		SignedCert: "not a certificate",
		CACert:     "nor this",
	}}).Run(context.Background())
	assert.ErrorIs(t, err, types.ErrTrustEstablishmentFailed)
	assert.NoFileExists(t, cfg.Paths.Certificate)
}

type swapRootChannel struct {
	inner SigningChannel
	root  []byte
}

func (c *swapRootChannel) RequestSignature(ctx context.Context, csrPEM []byte) (*types.SignResponse, error) {
	resp, err := c.inner.RequestSignature(ctx, csrPEM)
	if err != nil {
		return nil, err
	}
	resp.CACert = string(c.root)
	return resp, nil
}

func TestRunInvalidInstalledBundleIsNotRepaired(t *testing.T) {
	cfg := testConfig(t)
	ch := &authorityChannel{ca: newAuthority(t)}
	_, err := newSequencer(cfg, ch).Run(context.Background())
	require.NoError(t, err)

	foreignRoot, err := newAuthority(t).RootCertificatePEM()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg.Paths.CACertificate, foreignRoot, 0o644))
	leafBefore := readFile(t, cfg.Paths.Certificate)

	_, err = newSequencer(cfg, ch).Run(context.Background())
	assert.ErrorIs(t, err, types.ErrTrustEstablishmentFailed)
	var te types.TallyError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, types.OperationLoadBundle, te.Operation)

	assert.Equal(t, int32(1), ch.calls.Load())
	assert.Equal(t, foreignRoot, readFile(t, cfg.Paths.CACertificate))
	assert.Equal(t, leafBefore, readFile(t, cfg.Paths.Certificate))
}

func TestRunExpiredInstalledBundle(t *testing.T) {
	cfg := testConfig(t)
	ch := &authorityChannel{ca: newAuthority(t)}
	_, err := newSequencer(cfg, ch).Run(context.Background())
	require.NoError(t, err)

	seq := newSequencer(cfg, ch)
	seq.now = func() time.Time { return time.Now().Add(2 * 365 * 24 * time.Hour) }
	_, err = seq.Run(context.Background())
	assert.ErrorIs(t, err, types.ErrTrustEstablishmentFailed)
	assert.ErrorIs(t, err, pki.ErrExpired)
	assert.Equal(t, int32(1), ch.calls.Load())
}

func TestRunReplacesStaleRequest(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Paths.Request, []byte("garbage"), 0o644))

	_, err := newSequencer(cfg, &authorityChannel{ca: newAuthority(t)}).Run(context.Background())
	require.NoError(t, err)

	csr, err := pki.ParseCertificateRequestPEM(readFile(t, cfg.Paths.Request))
	require.NoError(t, err)
	assert.Equal(t, "localhost", csr.Subject.CommonName)
}

func TestRunRederivesRequestAfterSubjectChange(t *testing.T) {
	cfg := testConfig(t)
	_, err := newSequencer(cfg, &fixedChannel{resp: &types.SignResponse{}}).Run(context.Background())
	require.Error(t, err)
	stale := readFile(t, cfg.Paths.Request)

	cfg.Subject.CommonName = "tally.example.com"
	cfg.Subject.DNSNames = []string{"tally.example.com"}
	ch := &authorityChannel{ca: newAuthority(t)}
	bundle, err := newSequencer(cfg, ch).Run(context.Background())
	require.NoError(t, err)

	fresh := readFile(t, cfg.Paths.Request)
	assert.NotEqual(t, stale, fresh)
	csr, err := pki.ParseCertificateRequestPEM(fresh)
	require.NoError(t, err)
	assert.Equal(t, "tally.example.com", csr.Subject.CommonName)
	assert.Equal(t, []string{"tally.example.com"}, csr.DNSNames)
	assert.Equal(t, "tally.example.com", bundle.Leaf.Subject.CommonName)
	assert.Equal(t, []string{"tally.example.com"}, bundle.Leaf.DNSNames)
}

func TestRunCanceledContext(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := &authorityChannel{ca: newAuthority(t)}
	_, err := newSequencer(cfg, ch).Run(ctx)
	assert.ErrorIs(t, err, types.ErrTrustEstablishmentFailed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), ch.calls.Load())
}

func TestInspect(t *testing.T) {
	cfg := testConfig(t)
	p := cfg.Paths

	in, err := Inspect(p)
	require.NoError(t, err)
	assert.Equal(t, NoKey, in.State)

	require.NoError(t, os.WriteFile(p.Key, []byte("k"), 0o600))
	in, err = Inspect(p)
	require.NoError(t, err)
	assert.Equal(t, HasKey, in.State)

	require.NoError(t, os.WriteFile(p.Request, []byte("r"), 0o644))
	in, err = Inspect(p)
	require.NoError(t, err)
	assert.Equal(t, HasRequest, in.State)

	require.NoError(t, os.WriteFile(p.Certificate, []byte("c"), 0o644))
	in, err = Inspect(p)
	require.NoError(t, err)
	assert.Equal(t, HasRequest, in.State, "a leaf without its root is not trusted")

	require.NoError(t, os.WriteFile(p.CACertificate, []byte("ca"), 0o644))
	in, err = Inspect(p)
	require.NoError(t, err)
	assert.Equal(t, Trusted, in.State)
	assert.True(t, in.Key.Present)
	assert.Equal(t, p.Key, in.Key.Path)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "NoKey", NoKey.String())
	assert.Equal(t, "AwaitingSignature", AwaitingSignature.String())
	assert.Equal(t, "Trusted", Trusted.String())
	assert.Equal(t, "Unknown", State(42).String())
}
