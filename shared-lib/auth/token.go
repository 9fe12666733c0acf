package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

// TokenAuthorizer admits requests carrying the shared enrollment token as
// "Authorization: Bearer <token>".
type TokenAuthorizer struct {
	token []byte
}

func NewTokenAuthorizer(token string) (*TokenAuthorizer, error) {
	if token == "" {
		return nil, fmt.Errorf("token authorization requires a non-empty token")
	}
	return &TokenAuthorizer{token: []byte(token)}, nil
}

func (a *TokenAuthorizer) Authorize(ctx context.Context, req *http.Request) error {
	header := req.Header.Get("Authorization")
	scheme, presented, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return deny("missing bearer token")
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), a.token) != 1 {
		return deny("invalid enrollment token")
	}
	return nil
}

func (a *TokenAuthorizer) Type() AuthType {
	return TokenAuth
}
