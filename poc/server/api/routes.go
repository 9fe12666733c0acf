package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/margo/trusted-tally/poc/server/ballot"
	"github.com/margo/trusted-tally/poc/types"
	tallyhttp "github.com/margo/trusted-tally/shared-lib/http"
	"github.com/margo/trusted-tally/shared-lib/http/middleware"
	"github.com/margo/trusted-tally/shared-lib/store"
)

func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/", s.handleIndex)

	g := r.Group("/api")
	g.POST("/vote", s.handleVote)
	g.POST("/submit-votes", s.handleSubmitVotes)
	g.GET("/authority-response", s.handleAuthorityResponse)
	g.GET("/certificate", s.servePEM(func() string { return s.cfg.CertificatePath }))
	g.GET("/ca-cert", s.servePEM(func() string { return s.cfg.CACertificatePath }))
	g.GET("/scheme", s.handleScheme)

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", middleware.MetricsEndpoint(s.registry))

	r.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "404 Not Found\n")
	})
}

func (s *Server) handleVote(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxRequestBytes)

	var req types.VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.metrics.rejected.WithLabelValues(rejectBody).Inc()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}
	if req.C1 == "" || req.C2 == "" {
		s.metrics.rejected.WithLabelValues(rejectMissing).Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Both c1 and c2 are required"})
		return
	}

	b, err := ballot.ParseBallot(string(req.C1), string(req.C2))
	if err != nil {
		s.metrics.rejected.WithLabelValues(rejectInvalid).Inc()
		c.JSON(types.HTTPStatus(err), gin.H{"error": "Invalid ballot format", "detail": cause(err).Error()})
		return
	}

	position := s.store.Submit(b)
	s.metrics.received.Inc()
	s.logger.Debugw("Ballot received",
		"position", position,
		"requestID", middleware.GetRequestID(c))
	c.JSON(http.StatusOK, gin.H{"message": "Vote received successfully", "position": position})
}

func (s *Server) handleSubmitVotes(c *gin.Context) {
	agg, err := s.store.Combine()
	if err != nil {
		_ = c.Error(err)
		if errors.Is(err, types.ErrEmptyBallotSet) {
			s.metrics.submissions.WithLabelValues(submitEmpty).Inc()
			c.JSON(types.HTTPStatus(err), gin.H{"error": "No votes to submit"})
			return
		}
		s.metrics.submissions.WithLabelValues(submitFailed).Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to combine votes"})
		return
	}

	resp, err := s.relay.Submit(c.Request.Context(), agg)
	if err != nil {
		_ = c.Error(err)
		s.metrics.submissions.WithLabelValues(submitFailed).Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit votes to authority"})
		return
	}

	s.metrics.submissions.WithLabelValues(submitAccepted).Inc()
	c.JSON(http.StatusOK, gin.H{
		"message":           "Votes submitted successfully",
		"authorityResponse": resp.Body,
	})
}

func (s *Server) handleAuthorityResponse(c *gin.Context) {
	resp, err := s.relay.Latest()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "No response from authority yet."})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", resp.Body)
}

func (s *Server) servePEM(path func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := store.Read(path())
		if err != nil {
			_ = c.Error(err)
			c.String(http.StatusInternalServerError, "Internal Server Error")
			return
		}
		c.Data(http.StatusOK, tallyhttp.ContentTypePEM, data)
	}
}

func (s *Server) handleScheme(c *gin.Context) {
	scheme := s.store.Scheme()
	c.JSON(http.StatusOK, gin.H{
		"modulus":   scheme.Modulus.String(),
		"generator": scheme.Generator.String(),
		"ballots":   s.store.Len(),
	})
}

func (s *Server) handleIndex(c *gin.Context) {
	if s.cfg.IndexFile == "" {
		c.String(http.StatusNotFound, "404 Not Found\n")
		return
	}
	ok, err := store.Exists(s.cfg.IndexFile)
	if err != nil {
		_ = c.Error(err)
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if !ok {
		c.String(http.StatusNotFound, "404 Not Found\n")
		return
	}
	data, err := store.Read(s.cfg.IndexFile)
	if err != nil {
		_ = c.Error(err)
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", data)
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.bundle == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "untrusted"})
		return
	}
	if err := s.bundle.Validate(s.now()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "untrusted", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"subject":  s.bundle.Leaf.Subject.String(),
		"notAfter": s.bundle.Leaf.NotAfter,
		"ballots":  s.store.Len(),
	})
}

// cause strips the component prefix from a TallyError for client display.
func cause(err error) error {
	var te types.TallyError
	if errors.As(err, &te) && te.Err != nil {
		return te.Err
	}
	return err
}
