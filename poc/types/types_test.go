package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTallyErrorMatchesKindAndCause(t *testing.T) {
	cause := os.ErrPermission
	err := NewTallyError(ComponentAuthority, OperationDrawSerial, ErrPersistenceFailure, cause, true)

	assert.ErrorIs(t, err, ErrPersistenceFailure)
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.NotErrorIs(t, err, ErrSigningUnavailable)
	assert.Contains(t, err.Error(), "[authority:draw-serial]")

	wrapped := fmt.Errorf("startup: %w", err)
	var te TallyError
	require.True(t, errors.As(wrapped, &te))
	assert.True(t, te.Retryable)
	assert.Equal(t, ComponentAuthority, te.Component)
}

func TestTallyErrorWithContext(t *testing.T) {
	base := NewTallyError(ComponentRelay, OperationSubmitAggregate, ErrAuthorityRejected, nil, false)
	withStatus := base.WithContext("status", 503)

	assert.Nil(t, base.Context)
	assert.Equal(t, 503, withStatus.Context["status"])
	assert.Contains(t, withStatus.Error(), "context")
}

func TestInvalidBallotFormatIsMalformed(t *testing.T) {
	assert.ErrorIs(t, ErrInvalidBallotFormat, ErrMalformedRequest)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{NewTallyError(ComponentSigningChannel, OperationAuthorize, ErrUnauthorized, nil, false), http.StatusUnauthorized},
		{NewTallyError(ComponentAuthority, OperationSign, ErrMalformedRequest, nil, false), http.StatusBadRequest},
		{NewTallyError(ComponentBallotStore, OperationSubmitBallot, ErrInvalidBallotFormat, nil, false), http.StatusBadRequest},
		{NewTallyError(ComponentBallotStore, OperationCombine, ErrEmptyBallotSet, nil, false), http.StatusBadRequest},
		{NewTallyError(ComponentRelay, OperationLatestResponse, ErrNotAvailable, nil, false), http.StatusNotFound},
		{NewTallyError(ComponentRelay, OperationSubmitAggregate, ErrAuthorityUnreachable, nil, true), http.StatusInternalServerError},
		{NewTallyError(ComponentAuthority, OperationSign, ErrSigningUnavailable, nil, false), http.StatusInternalServerError},
		{errors.New("unclassified"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "%v", tt.err)
	}
}

func TestLoadCAConfigDefaults(t *testing.T) {
	t.Setenv("TALLY_PASSPHRASE", "mysecurepassword")

	cfg, err := NewConfigManager("").LoadCAConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8443", cfg.ListenAddress)
	assert.Equal(t, "data/ca/myCA.key", cfg.RootKeyPath)
	assert.Equal(t, "data/ca/myCA.pem", cfg.RootCertPath)
	assert.Equal(t, "data/ca/myCA.srl", cfg.SerialPath)
	assert.Equal(t, "mysecurepassword", cfg.Passphrase)
	assert.Equal(t, "IIITVICD", cfg.RootSubject.Organization)
	assert.Equal(t, 3650*24*time.Hour, cfg.RootValidity())
	assert.Equal(t, 365*24*time.Hour, cfg.LeafValidity())
	assert.EqualValues(t, "none", cfg.Auth.Mode)
	assert.Equal(t, int64(64<<10), cfg.MaxRequestBytes)
	assert.True(t, cfg.TLS.Enabled)
}

func TestLoadCAConfigRequiresPassphrase(t *testing.T) {
	_, err := NewConfigManager("").LoadCAConfig()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedRequest)
}

func TestLoadCAConfigRejectsLeafOutlivingRoot(t *testing.T) {
	path := writeConfig(t, `
passphrase: secret
rootValidityDays: 30
leafValidityDays: 365
`)
	_, err := NewConfigManager(path).LoadCAConfig()
	assert.ErrorIs(t, err, ErrMalformedRequest)
}

func TestLoadServerConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
listenAddress: ":3443"
passphrase: server-secret
subject:
  commonName: ballots.example.org
  dnsNames: [ballots.example.org]
ca:
  url: https://ca.example.org:8443
  timeout: 3s
  auth:
    type: bearer
    token: enroll
authority:
  url: http://authority.example.org:5000/api/receive-votes
ballot:
  modulus: "467"
tls:
  clientAuth: request
`)
	cfg, err := NewConfigManager(path).LoadServerConfig()
	require.NoError(t, err)

	assert.Equal(t, ":3443", cfg.ListenAddress)
	assert.Equal(t, "ballots.example.org", cfg.Subject.CommonName)
	assert.Equal(t, []string{"ballots.example.org"}, cfg.Subject.DNSNames)
	assert.Equal(t, "https://ca.example.org:8443", cfg.CA.URL)
	assert.Equal(t, "/sign", cfg.CA.SignPath)
	assert.Equal(t, 3*time.Second, cfg.CA.Timeout)
	assert.Equal(t, 1, cfg.CA.MaxRetries)
	assert.Equal(t, "enroll", cfg.CA.Auth.Token)
	assert.Equal(t, "467", cfg.Ballot.Modulus)
	assert.Equal(t, "5", cfg.Ballot.Generator)
	assert.Equal(t, "request", cfg.TLS.ClientAuth)
	assert.Equal(t, "data/server/server.key", cfg.KeyPath)

	red := cfg.Redacted()
	assert.Equal(t, "******", red.Passphrase)
	assert.Equal(t, "******", red.CA.Auth.Token)
	assert.Equal(t, "enroll", cfg.CA.Auth.Token)
}

func TestLoadServerConfigEnvOverride(t *testing.T) {
	t.Setenv("TALLY_AUTHORITY_URL", "http://tally.internal:5000/api/receive-votes")
	cfg, err := NewConfigManager("").LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://tally.internal:5000/api/receive-votes", cfg.Authority.URL)
	assert.Equal(t, "localhost", cfg.Subject.CommonName)
	assert.Equal(t, "MyOrg", cfg.Subject.Organization)
}

func TestLoadServerConfigValidation(t *testing.T) {
	path := writeConfig(t, `
tls:
  clientAuth: sometimes
`)
	_, err := NewConfigManager(path).LoadServerConfig()
	assert.ErrorIs(t, err, ErrMalformedRequest)

	_, err = NewConfigManager(filepath.Join(t.TempDir(), "missing.yaml")).LoadServerConfig()
	assert.Error(t, err)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVoteRequestAcceptsStringsAndIntegers(t *testing.T) {
	tests := []struct {
		body   string
		c1, c2 string
	}{
		{`{"c1":"2","c2":"3"}`, "2", "3"},
		{`{"c1":2,"c2":3}`, "2", "3"},
		{`{"c1":123456789012345678901234567890,"c2":"5"}`, "123456789012345678901234567890", "5"},
		{`{"c2":"5"}`, "", "5"},
		{`{"c1":null,"c2":"5"}`, "", "5"},
	}
	for _, tt := range tests {
		var req VoteRequest
		require.NoError(t, json.Unmarshal([]byte(tt.body), &req), tt.body)
		assert.Equal(t, tt.c1, string(req.C1), tt.body)
		assert.Equal(t, tt.c2, string(req.C2), tt.body)
	}

	var req VoteRequest
	assert.Error(t, json.Unmarshal([]byte(`{"c1":{"x":1},"c2":"5"}`), &req))
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.True(t, logger.Desugar().Core().Enabled(-1))

	logger, err = NewLogger(LogConfig{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Desugar().Core().Enabled(0))

	_, err = NewLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
}
