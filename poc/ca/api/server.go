// Package api exposes the root authority over HTTP: the signing channel
// plus read-only introspection.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/margo/trusted-tally/shared-lib/auth"
	"github.com/margo/trusted-tally/shared-lib/certs/pki"
	"github.com/margo/trusted-tally/shared-lib/http/middleware"
)

// DefaultMaxRequestBytes bounds a CSR upload.
const DefaultMaxRequestBytes = 64 << 10

// CertificateAuthority is what the signing channel needs from the authority.
type CertificateAuthority interface {
	Sign(ctx context.Context, csrPEM []byte) (*pki.Issued, error)
	RootCertificatePEM() ([]byte, error)
}

type Config struct {
	MaxRequestBytes int64
}

type Server struct {
	authority  CertificateAuthority
	authorizer auth.Authorizer
	logger     *zap.SugaredLogger
	cfg        Config
	registry   *prometheus.Registry
	metrics    *signMetrics
	engine     *gin.Engine
}

func NewServer(authority CertificateAuthority, authorizer auth.Authorizer, cfg Config, logger *zap.SugaredLogger) *Server {
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = DefaultMaxRequestBytes
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &Server{
		authority:  authority,
		authorizer: authorizer,
		logger:     logger,
		cfg:        cfg,
		registry:   registry,
		metrics:    newSignMetrics(registry),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.NewHTTPMetrics("tally_ca", registry).Handler(),
	)
	s.registerRoutes(r)
	s.engine = r
	return s
}

// Handler returns the routed handler, ready for an http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}
