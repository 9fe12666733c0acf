// Package auth decides whether an inbound request may use a protected
// operation, such as having a certificate request signed by the root
// authority.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is wrapped by every denial.
var ErrUnauthorized = errors.New("unauthorized")

type AuthType string

const (
	NoAuth         AuthType = "none"
	TokenAuth      AuthType = "token"
	SignatureAuth  AuthType = "signature"
	ClientCertAuth AuthType = "clientCert"
)

// Authorizer is consulted before a protected operation runs.
type Authorizer interface {
	Authorize(ctx context.Context, req *http.Request) error
	Type() AuthType
}

// Config selects and configures an Authorizer.
type Config struct {
	Mode AuthType `mapstructure:"mode" yaml:"mode" validate:"omitempty,oneof=none token signature clientCert"`
	// Token is the shared enrollment token for the token mode.
	Token string `mapstructure:"token" yaml:"token,omitempty"`
	// PublicKeyPath points at the PEM enrollment key for the signature mode.
	PublicKeyPath string `mapstructure:"publicKeyPath" yaml:"publicKeyPath,omitempty"`
}

// New builds the Authorizer for cfg. rootPEM is the trust anchor client
// certificates must chain to in the clientCert mode.
func New(cfg Config, rootPEM []byte) (Authorizer, error) {
	switch cfg.Mode {
	case "", NoAuth:
		return NewNoAuthorizer(), nil
	case TokenAuth:
		return NewTokenAuthorizer(cfg.Token)
	case SignatureAuth:
		return NewSignatureAuthorizerFromFile(cfg.PublicKeyPath)
	case ClientCertAuth:
		return NewClientCertAuthorizer(rootPEM)
	default:
		return nil, fmt.Errorf("unsupported authorization mode: %s", cfg.Mode)
	}
}

func deny(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}
