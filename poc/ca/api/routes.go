package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/margo/trusted-tally/poc/types"
	tallyhttp "github.com/margo/trusted-tally/shared-lib/http"
	"github.com/margo/trusted-tally/shared-lib/http/middleware"
)

func (s *Server) registerRoutes(r *gin.Engine) {
	r.POST("/sign", s.handleSign)
	r.GET("/ca-cert", s.handleRootCertificate)
	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", middleware.MetricsEndpoint(s.registry))

	r.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "Not Found")
	})
}

func (s *Server) handleSign(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.metrics.observe(outcomeMalformed)
			c.String(http.StatusRequestEntityTooLarge, "Certificate request too large")
			return
		}
		s.metrics.observe(outcomeMalformed)
		c.String(http.StatusBadRequest, "Could not read certificate request")
		return
	}
	// authorizers may inspect the body (content digest)
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	if err := s.authorizer.Authorize(c.Request.Context(), c.Request); err != nil {
		denied := types.NewTallyError(types.ComponentSigningChannel, types.OperationAuthorize, types.ErrUnauthorized, err, false).
			WithContext("mode", string(s.authorizer.Type()))
		_ = c.Error(denied)
		s.metrics.observe(outcomeUnauthorized)
		s.logger.Warnw("Signing request not authorized",
			"clientIP", c.ClientIP(),
			"requestID", middleware.GetRequestID(c),
			"error", denied)
		c.String(types.HTTPStatus(denied), "Unauthorized")
		return
	}

	issued, err := s.authority.Sign(c.Request.Context(), body)
	if err != nil {
		_ = c.Error(err)
		if types.HTTPStatus(err) == http.StatusBadRequest {
			s.metrics.observe(outcomeMalformed)
			c.String(http.StatusBadRequest, "Malformed certificate request")
			return
		}
		s.metrics.observe(outcomeFailed)
		c.String(http.StatusInternalServerError, "Error signing CSR")
		return
	}

	s.metrics.observe(outcomeIssued)
	c.JSON(http.StatusOK, types.SignResponse{
		SignedCert: string(issued.CertificatePEM),
		CACert:     string(issued.RootCertificatePEM),
	})
}

func (s *Server) handleRootCertificate(c *gin.Context) {
	rootPEM, err := s.authority.RootCertificatePEM()
	if err != nil {
		_ = c.Error(err)
		c.String(http.StatusInternalServerError, "Root certificate unavailable")
		return
	}
	c.Data(http.StatusOK, tallyhttp.ContentTypePEM, rootPEM)
}

func (s *Server) handleHealth(c *gin.Context) {
	if _, err := s.authority.RootCertificatePEM(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
