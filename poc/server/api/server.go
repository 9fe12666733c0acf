// Package api is the secure ballot service: ballot intake, aggregate
// submission to the tally authority and certificate introspection.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/margo/trusted-tally/poc/server/ballot"
	"github.com/margo/trusted-tally/poc/server/relay"
	"github.com/margo/trusted-tally/shared-lib/certs/pki"
	"github.com/margo/trusted-tally/shared-lib/http/middleware"
)

// DefaultMaxRequestBytes bounds a ballot submission.
const DefaultMaxRequestBytes = 64 << 10

// BallotStore is the ballot sequence the service appends to and combines.
type BallotStore interface {
	Submit(b ballot.Ballot) int
	Combine() (ballot.AggregateBallot, error)
	Len() int
	Scheme() ballot.Scheme
}

// AuthorityRelay forwards aggregates to the tally authority.
type AuthorityRelay interface {
	Submit(ctx context.Context, agg ballot.AggregateBallot) (*relay.AuthorityResponse, error)
	Latest() (*relay.AuthorityResponse, error)
}

type Config struct {
	CertificatePath   string
	CACertificatePath string
	IndexFile         string
	MaxRequestBytes   int64
}

type Server struct {
	bundle   *pki.TrustBundle
	store    BallotStore
	relay    AuthorityRelay
	cfg      Config
	logger   *zap.SugaredLogger
	registry *prometheus.Registry
	metrics  *tallyMetrics
	engine   *gin.Engine
	now      func() time.Time
}

func NewServer(bundle *pki.TrustBundle, store BallotStore, relay AuthorityRelay, cfg Config, logger *zap.SugaredLogger) *Server {
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = DefaultMaxRequestBytes
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &Server{
		bundle:   bundle,
		store:    store,
		relay:    relay,
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  newTallyMetrics(registry, store),
		now:      time.Now,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.NewHTTPMetrics("tally_server", registry).Handler(),
	)
	s.registerRoutes(r)
	s.engine = r
	return s
}

// Handler returns the routed handler, ready for an http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}
