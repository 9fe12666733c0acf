// Package http builds and sends the outbound requests of the tally
// services: CSR submission to the root authority and aggregate submission
// to the tally authority.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/margo/trusted-tally/shared-lib/http/auth"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypePEM  = "application/x-pem-file"
)

const userAgent = "trusted-tally/1.0"

// NewPostRequest creates a new POST HTTP request with authentication and body
func NewPostRequest(ctx context.Context, url string, authCfg *auth.AuthConfig, body any, contentType string) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		var err error
		bodyReader, err = prepareRequestBody(body, contentType)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create POST request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	} else if body != nil {
		req.Header.Set("Content-Type", ContentTypeJSON)
	}

	if err := authCfg.Apply(req); err != nil {
		return nil, fmt.Errorf("failed to apply authentication: %w", err)
	}

	setDefaultHeaders(req)
	return req, nil
}

// NewGetRequest creates a new GET HTTP request with authentication
func NewGetRequest(ctx context.Context, url string, authCfg *auth.AuthConfig) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET request: %w", err)
	}
	if err := authCfg.Apply(req); err != nil {
		return nil, fmt.Errorf("failed to apply authentication: %w", err)
	}
	setDefaultHeaders(req)
	return req, nil
}

// Raw bytes and strings are sent as-is; anything else for a JSON (or unset)
// content type is marshalled.
func prepareRequestBody(body any, contentType string) (io.Reader, error) {
	switch v := body.(type) {
	case []byte:
		return bytes.NewReader(v), nil
	case string:
		return strings.NewReader(v), nil
	case io.Reader:
		return v, nil
	}

	if contentType == "" || strings.Contains(contentType, ContentTypeJSON) {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON body: %w", err)
		}
		return bytes.NewReader(jsonData), nil
	}
	return nil, fmt.Errorf("body of type %T cannot be sent as %s", body, contentType)
}

func setDefaultHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
}
