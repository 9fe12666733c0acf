package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/margo/trusted-tally/poc/types"
	"github.com/margo/trusted-tally/shared-lib/crypto"
	tallyhttp "github.com/margo/trusted-tally/shared-lib/http"
	httpauth "github.com/margo/trusted-tally/shared-lib/http/auth"
)

const maxErrorBody = 256

// HTTPSigningClient submits certificate requests to the root authority's
// signing endpoint.
type HTTPSigningClient struct {
	url    string
	auth   httpauth.AuthConfig
	client *tallyhttp.Client
	logger *zap.SugaredLogger
}

func NewHTTPSigningClient(cfg types.SigningChannelConfig, logger *zap.SugaredLogger) (*HTTPSigningClient, error) {
	tlsConfig, err := crypto.ClientTLSConfig(cfg.CACertPath, cfg.InsecureSkipVerify)
	if err != nil {
		return nil, fmt.Errorf("signing channel TLS: %w", err)
	}
	if cfg.InsecureSkipVerify && strings.HasPrefix(cfg.URL, "https://") {
		logger.Warnw("Authority certificate is not verified on first contact; the returned bundle is still validated",
			"url", cfg.URL)
	}

	clientCfg := tallyhttp.ClientConfig{
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		TLS:        tlsConfig,
	}
	if cfg.SignerKeyPath != "" {
		signer, err := crypto.NewSignerFromFile(cfg.SignerKeyPath, []byte(cfg.SignerPassphrase))
		if err != nil {
			return nil, err
		}
		clientCfg.Signer = signer
		logger.Infow("Signing enrollment requests", "keyid", signer.KeyID())
	}

	return &HTTPSigningClient{
		url:    strings.TrimRight(cfg.URL, "/") + cfg.SignPath,
		auth:   cfg.Auth,
		client: tallyhttp.NewClient(clientCfg, logger),
		logger: logger,
	}, nil
}

func (c *HTTPSigningClient) RequestSignature(ctx context.Context, csrPEM []byte) (*types.SignResponse, error) {
	resp, err := c.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return tallyhttp.NewPostRequest(ctx, c.url, &c.auth, csrPEM, tallyhttp.ContentTypePEM)
	})
	if err != nil {
		return nil, fmt.Errorf("signing channel %s: %w", c.url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("signing channel %s returned %d: %s", c.url, resp.StatusCode, truncate(resp.Body))
	}

	var out types.SignResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode signing response: %w", err)
	}
	if out.SignedCert == "" || out.CACert == "" {
		return nil, fmt.Errorf("signing response is missing signedCert or caCert")
	}
	c.logger.Debugw("Certificate request signed", "url", c.url, "attempts", resp.Attempts)
	return &out, nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
