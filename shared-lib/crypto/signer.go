package crypto

import (
	"bytes"
	"context"
	"crypto"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/lestrrat-go/htmsig/component"
	htmsighttp "github.com/lestrrat-go/htmsig/http"

	"github.com/margo/trusted-tally/shared-lib/certs/pki"
)

// HTTPSigner signs outbound requests.
type HTTPSigner interface {
	SignRequest(ctx context.Context, req *http.Request) error
}

// RequestSigner produces RFC 9421 HTTP message signatures over the method,
// target URI, authority and Content-Digest of a request. The digest is
// stamped for every request, empty bodies included.
type RequestSigner struct {
	keyID  string
	signer HTTPSigner
}

// NewSigner creates a signer for an RSA or ECDSA key. The keyid is derived
// from the public key so the verifier can tell enrollment keys apart.
func NewSigner(key crypto.Signer) (*RequestSigner, error) {
	keyID, err := KeyID(key.Public())
	if err != nil {
		return nil, fmt.Errorf("failed to derive keyid: %w", err)
	}

	var parsedKey any = key
	requestSigner := htmsighttp.NewSigner(
		parsedKey,
		keyID,
		htmsighttp.WithComponents(coveredComponents()...))

	return &RequestSigner{keyID: keyID, signer: requestSigner}, nil
}

// NewSignerFromFile loads a (possibly encrypted) private key from disk.
func NewSignerFromFile(path string, passphrase []byte) (*RequestSigner, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request signer key from %s: %w", path, err)
	}
	key, err := pki.ParsePrivateKeyPEM(keyBytes, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load request signer key from %s: %w", path, err)
	}
	return NewSigner(key)
}

// ContentDigestHeader carries the RFC 9530 digest of the request body.
const ContentDigestHeader = "Content-Digest"

// coveredComponents lists what every signature must cover. Content-Digest
// binds the body to the signature.
func coveredComponents() []component.Identifier {
	return []component.Identifier{
		component.Method(),
		component.TargetURI(),
		component.Authority(),
		component.New("content-digest"),
	}
}

// KeyID returns the identifier placed in produced signatures.
func (s *RequestSigner) KeyID() string {
	return s.keyID
}

func (s *RequestSigner) SignRequest(ctx context.Context, req *http.Request) error {
	var bodyBytes []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return fmt.Errorf("failed to read request body for digest: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}
	req.Header.Set(ContentDigestHeader, ContentDigest(bodyBytes))

	return s.signer.SignRequest(ctx, req)
}
