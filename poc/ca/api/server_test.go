package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/margo/trusted-tally/poc/ca/authority"
	"github.com/margo/trusted-tally/poc/types"
	"github.com/margo/trusted-tally/shared-lib/auth"
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

func newCSR(t *testing.T) []byte {
	t.Helper()
	key, err := testToolchain.GenerateKey()
	require.NoError(t, err)
	csr, err := testToolchain.CreateRequest(key, pki.Subject{CommonName: "localhost"})
	require.NoError(t, err)
	return csr
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestSignEndpoint(t *testing.T) {
	s := NewServer(newAuthority(t), auth.NewNoAuthorizer(), Config{}, zap.NewNop().Sugar())

	req := httptest.NewRequest(http.MethodPost, "/sign", bytes.NewReader(newCSR(t)))
	req.Header.Set("Content-Type", "application/x-pem-file")
	w := serve(s, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp types.SignResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	leaf, err := pki.ParseCertificatePEM([]byte(resp.SignedCert))
	require.NoError(t, err)
	root, err := pki.ParseCertificatePEM([]byte(resp.CACert))
	require.NoError(t, err)
	assert.Equal(t, root.Subject.String(), leaf.Issuer.String())
	assert.NoError(t, leaf.CheckSignatureFrom(root))
}

func TestSignEndpointMalformed(t *testing.T) {
	s := NewServer(newAuthority(t), auth.NewNoAuthorizer(), Config{}, zap.NewNop().Sugar())

	w := serve(s, httptest.NewRequest(http.MethodPost, "/sign", strings.NewReader("definitely not a csr")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSignEndpointBodyLimit(t *testing.T) {
	s := NewServer(newAuthority(t), auth.NewNoAuthorizer(), Config{MaxRequestBytes: 16}, zap.NewNop().Sugar())

	w := serve(s, httptest.NewRequest(http.MethodPost, "/sign", bytes.NewReader(newCSR(t))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestSignEndpointUnauthorized(t *testing.T) {
	authorizer, err := auth.NewTokenAuthorizer("enroll")
	require.NoError(t, err)
	s := NewServer(newAuthority(t), authorizer, Config{}, zap.NewNop().Sugar())

	w := serve(s, httptest.NewRequest(http.MethodPost, "/sign", bytes.NewReader(newCSR(t))))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/sign", bytes.NewReader(newCSR(t)))
	req.Header.Set("Authorization", "Bearer enroll")
	w = serve(s, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSignEndpointDenialIsStructured(t *testing.T) {
	authorizer, err := auth.NewTokenAuthorizer("enroll")
	require.NoError(t, err)
	core, logs := observer.New(zapcore.WarnLevel)
	s := NewServer(newAuthority(t), authorizer, Config{}, zap.New(core).Sugar())

	w := serve(s, httptest.NewRequest(http.MethodPost, "/sign", bytes.NewReader(newCSR(t))))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Unauthorized", w.Body.String())

	denials := logs.FilterMessage("Signing request not authorized").All()
	require.Len(t, denials, 1)
	logged, ok := denials[0].ContextMap()["error"].(string)
	require.True(t, ok)
	assert.Contains(t, logged, "[signing-channel:authorize] unauthorized")
	assert.Contains(t, logged, "mode:token")

	w = serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), `tally_ca_sign_requests_total{outcome="unauthorized"} 1`)
}

type brokenAuthority struct{}

func (brokenAuthority) Sign(context.Context, []byte) (*pki.Issued, error) {
	return nil, types.NewTallyError(types.ComponentAuthority, types.OperationSign, types.ErrSigningUnavailable, errors.New("root key cannot be unlocked"), false)
}

func (brokenAuthority) RootCertificatePEM() ([]byte, error) {
	return nil, types.NewTallyError(types.ComponentAuthority, types.OperationSign, types.ErrSigningUnavailable, errors.New("missing"), false)
}

func TestSignEndpointSigningUnavailable(t *testing.T) {
	s := NewServer(brokenAuthority{}, auth.NewNoAuthorizer(), Config{}, zap.NewNop().Sugar())

	w := serve(s, httptest.NewRequest(http.MethodPost, "/sign", bytes.NewReader(newCSR(t))))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Error signing CSR", w.Body.String())

	w = serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/ca-cert", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRootCertificateEndpoint(t *testing.T) {
	a := newAuthority(t)
	s := NewServer(a, auth.NewNoAuthorizer(), Config{}, zap.NewNop().Sugar())

	w := serve(s, httptest.NewRequest(http.MethodGet, "/ca-cert", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-pem-file", w.Header().Get("Content-Type"))

	rootPEM, err := a.RootCertificatePEM()
	require.NoError(t, err)
	assert.Equal(t, rootPEM, w.Body.Bytes())
}

func TestUnknownRoutes(t *testing.T) {
	s := NewServer(newAuthority(t), auth.NewNoAuthorizer(), Config{}, zap.NewNop().Sugar())

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/sign", nil),
		httptest.NewRequest(http.MethodPost, "/elsewhere", nil),
	} {
		w := serve(s, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "Not Found", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := NewServer(newAuthority(t), auth.NewNoAuthorizer(), Config{}, zap.NewNop().Sugar())
	serve(s, httptest.NewRequest(http.MethodPost, "/sign", bytes.NewReader(newCSR(t))))
	serve(s, httptest.NewRequest(http.MethodPost, "/sign", strings.NewReader("junk")))

	w := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `tally_ca_sign_requests_total{outcome="issued"} 1`)
	assert.Contains(t, w.Body.String(), `tally_ca_sign_requests_total{outcome="malformed"} 1`)
}
