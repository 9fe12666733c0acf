// Package relay forwards the combined ballot to the external tally authority
// and remembers the authority's most recent answer.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/margo/trusted-tally/poc/server/ballot"
	"github.com/margo/trusted-tally/poc/types"
	"github.com/margo/trusted-tally/shared-lib/crypto"
	tallyhttp "github.com/margo/trusted-tally/shared-lib/http"
	httpauth "github.com/margo/trusted-tally/shared-lib/http/auth"
)

const maxErrorBody = 512

// AuthorityResponse is the last successful answer from the tally authority.
// Body is the authority's JSON as received; a non-JSON answer is kept as a
// JSON string.
type AuthorityResponse struct {
	Body       json.RawMessage
	StatusCode int
	ReceivedAt time.Time
}

type Relay struct {
	url    string
	auth   httpauth.AuthConfig
	client *tallyhttp.Client
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	latest *AuthorityResponse
}

// New builds a relay for cfg. The TLS client trusts the system pool plus
// cfg.CACertPath when set.
func New(cfg types.AuthorityConfig, logger *zap.SugaredLogger) (*Relay, error) {
	tlsConfig, err := crypto.ClientTLSConfig(cfg.CACertPath, cfg.InsecureSkipVerify)
	if err != nil {
		return nil, fmt.Errorf("authority TLS: %w", err)
	}
	if cfg.InsecureSkipVerify {
		logger.Warnw("Tally authority certificate is not verified", "url", cfg.URL)
	}
	client := tallyhttp.NewClient(tallyhttp.ClientConfig{
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		TLS:        tlsConfig,
	}, logger)

	return &Relay{
		url:    cfg.URL,
		auth:   cfg.Auth,
		client: client,
		logger: logger,
	}, nil
}

// Submit posts the aggregate to the authority. Only a 2xx answer replaces
// the cached response; failures leave the cache as it was.
func (r *Relay) Submit(ctx context.Context, agg ballot.AggregateBallot) (*AuthorityResponse, error) {
	body := types.AuthorityVote{Vote: types.AggregateVote{
		C1: agg.C1.String(),
		C2: agg.C2.String(),
	}}

	resp, err := r.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return tallyhttp.NewPostRequest(ctx, r.url, &r.auth, body, tallyhttp.ContentTypeJSON)
	})
	if err != nil {
		r.logger.Errorw("Tally authority unreachable", "url", r.url, "error", err)
		return nil, types.NewTallyError(types.ComponentRelay, types.OperationSubmitAggregate,
			types.ErrAuthorityUnreachable, err, errors.Is(err, tallyhttp.ErrTransport))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Errorw("Tally authority rejected the aggregate",
			"url", r.url,
			"status", resp.StatusCode,
			"attempts", resp.Attempts)
		return nil, types.NewTallyError(types.ComponentRelay, types.OperationSubmitAggregate,
			types.ErrAuthorityRejected, fmt.Errorf("status %d", resp.StatusCode),
			resp.StatusCode >= http.StatusInternalServerError).
			WithContext("status", resp.StatusCode).
			WithContext("body", truncate(resp.Body))
	}

	out := &AuthorityResponse{
		Body:       asJSON(resp.Body),
		StatusCode: resp.StatusCode,
		ReceivedAt: time.Now(),
	}

	r.mu.Lock()
	r.latest = out
	r.mu.Unlock()

	r.logger.Infow("Aggregate accepted by tally authority",
		"url", r.url,
		"ballots", agg.Count,
		"status", resp.StatusCode)
	return out, nil
}

// Latest returns the cached response, or NotAvailable before the first
// successful submission.
func (r *Relay) Latest() (*AuthorityResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.latest == nil {
		return nil, types.NewTallyError(types.ComponentRelay, types.OperationLatestResponse, types.ErrNotAvailable, nil, false)
	}
	return r.latest, nil
}

func asJSON(body []byte) json.RawMessage {
	if len(body) > 0 && json.Valid(body) {
		return json.RawMessage(body)
	}
	wrapped, _ := json.Marshal(string(body))
	return wrapped
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
