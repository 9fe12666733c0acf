package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ErrTransport marks failures where no HTTP response was obtained.
var ErrTransport = errors.New("transport failure")

const maxResponseBody = 1 << 20

// RequestSigner signs a fully built request before it is sent.
type RequestSigner interface {
	SignRequest(ctx context.Context, req *http.Request) error
}

// ClientConfig bounds every outbound call.
type ClientConfig struct {
	Timeout    time.Duration // per attempt
	MaxRetries int
	RetryDelay time.Duration
	TLS        *tls.Config
	Signer     RequestSigner
}

// DefaultClientConfig allows one retry after a short pause.
var DefaultClientConfig = ClientConfig{
	Timeout:    10 * time.Second,
	MaxRetries: 1,
	RetryDelay: 500 * time.Millisecond,
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// RequestFactory builds a fresh request for each attempt, bound to the
// attempt's context.
type RequestFactory func(ctx context.Context) (*http.Request, error)

// Client sends requests with a per-attempt timeout and a bounded number of
// retries on transport errors and 5xx responses. 4xx responses are final.
type Client struct {
	http   *http.Client
	cfg    ClientConfig
	logger *zap.SugaredLogger
}

func NewClient(cfg ClientConfig, logger *zap.SugaredLogger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultClientConfig.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 10
	transport.IdleConnTimeout = 30 * time.Second
	if cfg.TLS != nil {
		transport.TLSClientConfig = cfg.TLS
	}
	return &Client{
		http:   &http.Client{Transport: transport},
		cfg:    cfg,
		logger: logger,
	}
}

// Do runs newRequest until it yields a non-5xx response or the retry budget
// is spent. A 5xx on the last attempt is returned as a response, not an error.
func (c *Client) Do(ctx context.Context, newRequest RequestFactory) (*Response, error) {
	var (
		last     *Response
		attempts int
	)

	operation := func() error {
		attempts++
		last = nil

		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		req, err := newRequest(attemptCtx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if c.cfg.Signer != nil {
			if err := c.cfg.Signer.SignRequest(attemptCtx, req); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to sign request: %w", err))
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Warnw("Outbound request failed",
				"url", req.URL.String(),
				"attempt", attempts,
				"error", err)
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return fmt.Errorf("%w: failed to read response body: %v", ErrTransport, err)
		}

		last = &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
		if resp.StatusCode >= http.StatusInternalServerError {
			c.logger.Warnw("Outbound request returned server error",
				"url", req.URL.String(),
				"attempt", attempts,
				"status", resp.StatusCode)
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryDelay), uint64(c.cfg.MaxRetries)),
		ctx)

	err := backoff.Retry(operation, policy)
	if last != nil {
		last.Attempts = attempts
		return last, nil
	}
	if err != nil && !errors.Is(err, ErrTransport) && ctx.Err() != nil {
		err = fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil, err
}
