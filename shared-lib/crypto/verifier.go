package crypto

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/lestrrat-go/htmsig"
	htmsighttp "github.com/lestrrat-go/htmsig/http"
	"github.com/lestrrat-go/htmsig/input"
)

// HTTPVerifier verifies inbound requests.
type HTTPVerifier interface {
	VerifyRequest(ctx context.Context, req *http.Request) error
}

// RequestVerifier checks signatures produced by RequestSigner against a
// single trusted public key.
type RequestVerifier struct {
	verifier HTTPVerifier
}

// NewVerifier parses a PEM "PUBLIC KEY" block.
func NewVerifier(publicKeyPEM []byte) (*RequestVerifier, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode public key PEM")
	}
	parsedKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key PEM: %w", err)
	}

	resolver := htmsighttp.StaticKeyResolver(parsedKey)
	verifier := htmsighttp.NewVerifier(resolver, htmsighttp.WithValidateExpires(true))
	return &RequestVerifier{verifier: verifier}, nil
}

// NewVerifierFromFile reads the trusted public key from disk.
func NewVerifierFromFile(path string) (*RequestVerifier, error) {
	publicKeyPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read verifier key from %s: %w", path, err)
	}
	return NewVerifier(publicKeyPEM)
}

// VerifyRequest requires a Content-Digest header matching the body (empty
// bodies included), a signature input that covers every component the
// signer covers, and then a valid message signature.
func (v *RequestVerifier) VerifyRequest(ctx context.Context, req *http.Request) error {
	var bodyBytes []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return fmt.Errorf("failed to read request body for digest: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	digest := req.Header.Get(ContentDigestHeader)
	if digest == "" {
		return fmt.Errorf("missing %s header", ContentDigestHeader)
	}
	if err := VerifyContentDigest(digest, bodyBytes); err != nil {
		return err
	}
	if err := checkCoverage(req.Header.Get(htmsig.SignatureInputHeader)); err != nil {
		return err
	}
	return v.verifier.VerifyRequest(ctx, req)
}

func checkCoverage(signatureInput string) error {
	if signatureInput == "" {
		return fmt.Errorf("missing %s header", htmsig.SignatureInputHeader)
	}
	parsed, err := input.Parse([]byte(signatureInput))
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", htmsig.SignatureInputHeader, err)
	}
	defs := parsed.Definitions()
	if len(defs) == 0 {
		return fmt.Errorf("%s lists no signatures", htmsig.SignatureInputHeader)
	}
	for _, def := range defs {
		covered := make(map[string]struct{}, len(def.Components()))
		for _, c := range def.Components() {
			covered[c.Name()] = struct{}{}
		}
		for _, want := range coveredComponents() {
			if _, ok := covered[want.Name()]; !ok {
				return fmt.Errorf("signature %q does not cover %s", def.Label(), want.Name())
			}
		}
	}
	return nil
}
