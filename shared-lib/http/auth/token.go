// Package auth describes the credentials attached to outbound requests.
package auth

import (
	"fmt"
	"net/http"
)

// AuthConfig holds authentication configuration for an outbound endpoint.
type AuthConfig struct {
	Type     AuthType          `mapstructure:"type" yaml:"type" json:"type" validate:"omitempty,oneof=none basic bearer apikey custom"`
	Username string            `mapstructure:"username" yaml:"username,omitempty" json:"username,omitempty"`
	Password string            `mapstructure:"password" yaml:"password,omitempty" json:"password,omitempty"`
	Token    string            `mapstructure:"token" yaml:"token,omitempty" json:"token,omitempty"`
	APIKey   string            `mapstructure:"apiKey" yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	Headers  map[string]string `mapstructure:"headers" yaml:"headers,omitempty" json:"headers,omitempty"`
}

type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeBasic  AuthType = "basic"
	AuthTypeBearer AuthType = "bearer"
	AuthTypeAPIKey AuthType = "apikey"
	AuthTypeCustom AuthType = "custom"
)

// Apply sets the configured credentials on req. A nil config or an empty
// type leaves the request untouched.
func (c *AuthConfig) Apply(req *http.Request) error {
	if c == nil {
		return nil
	}

	switch c.Type {
	case "", AuthTypeNone:
		return nil

	case AuthTypeBasic:
		if c.Username == "" || c.Password == "" {
			return fmt.Errorf("username and password required for basic authentication")
		}
		req.SetBasicAuth(c.Username, c.Password)

	case AuthTypeBearer:
		if c.Token == "" {
			return fmt.Errorf("token required for bearer authentication")
		}
		req.Header.Set("Authorization", "Bearer "+c.Token)

	case AuthTypeAPIKey:
		if c.APIKey == "" {
			return fmt.Errorf("API key required for API key authentication")
		}
		req.Header.Set("X-API-Key", c.APIKey)

	case AuthTypeCustom:
		if len(c.Headers) == 0 {
			return fmt.Errorf("custom headers required for custom authentication")
		}
		for key, value := range c.Headers {
			if key != "" && value != "" {
				req.Header.Set(key, value)
			}
		}

	default:
		return fmt.Errorf("unsupported authentication type: %s", c.Type)
	}

	return nil
}

// Redacted returns a copy safe to print: secrets are masked.
func (c AuthConfig) Redacted() AuthConfig {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "******"
	}
	out := c
	out.Password = mask(c.Password)
	out.Token = mask(c.Token)
	out.APIKey = mask(c.APIKey)
	if len(c.Headers) > 0 {
		out.Headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			out.Headers[k] = mask(v)
		}
	}
	return out
}
