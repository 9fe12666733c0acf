package auth

import (
	"context"
	"net/http"
)

// NoAuthorizer admits every request (trust on first use).
type NoAuthorizer struct{}

func NewNoAuthorizer() *NoAuthorizer {
	return &NoAuthorizer{}
}

func (n *NoAuthorizer) Authorize(ctx context.Context, req *http.Request) error {
	return nil
}

func (n *NoAuthorizer) Type() AuthType {
	return NoAuth
}
