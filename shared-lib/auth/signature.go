package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/margo/trusted-tally/shared-lib/crypto"
)

// SignatureAuthorizer admits requests bearing a valid HTTP message signature
// made with the enrollment key.
type SignatureAuthorizer struct {
	verifier crypto.HTTPVerifier
}

func NewSignatureAuthorizer(verifier crypto.HTTPVerifier) *SignatureAuthorizer {
	return &SignatureAuthorizer{verifier: verifier}
}

func NewSignatureAuthorizerFromFile(publicKeyPath string) (*SignatureAuthorizer, error) {
	if publicKeyPath == "" {
		return nil, fmt.Errorf("signature authorization requires publicKeyPath")
	}
	verifier, err := crypto.NewVerifierFromFile(publicKeyPath)
	if err != nil {
		return nil, err
	}
	return NewSignatureAuthorizer(verifier), nil
}

func (a *SignatureAuthorizer) Authorize(ctx context.Context, req *http.Request) error {
	if req.Header.Get("Signature") == "" {
		return deny("missing message signature")
	}
	if err := a.verifier.VerifyRequest(ctx, req); err != nil {
		return deny("message signature rejected: %v", err)
	}
	return nil
}

func (a *SignatureAuthorizer) Type() AuthType {
	return SignatureAuth
}
