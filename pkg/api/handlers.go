package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/telekom/email-dispatcher/pkg/apiresponses"
	"github.com/telekom/email-dispatcher/pkg/history"
	"github.com/telekom/email-dispatcher/pkg/retry"
	"github.com/telekom/email-dispatcher/pkg/system"
	"github.com/telekom/email-dispatcher/pkg/version"
)

type healthResponse struct {
	Status string            `json:"status"`
	Build  version.BuildInfo `json:"build"`
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{Status: "ok", Build: version.GetBuildInfo()})
}

// listEmails handles GET /api/emails?status=ERROR.
func (s *Server) listEmails(c *gin.Context) {
	raw := c.Query("status")
	if raw == "" {
		apiresponses.RespondBadRequestWithDetails(c, "status query parameter is required", "one of PENDING, SENT, ERROR")
		return
	}
	status, err := history.ParseStatus(raw)
	if err != nil {
		apiresponses.RespondBadRequestWithDetails(c, err.Error(), "one of PENDING, SENT, ERROR")
		return
	}

	recs, err := s.store.FindByStatus(c.Request.Context(), status)
	if err != nil {
		apiresponses.RespondInternalError(c, "list emails", err, system.GetReqLogger(c, s.log))
		return
	}
	if recs == nil {
		recs = []history.EmailHistory{}
	}
	c.JSON(http.StatusOK, recs)
}

func (s *Server) getEmail(c *gin.Context) {
	id := c.Param("id")
	rec, ok, err := s.store.FindByID(c.Request.Context(), id)
	if err != nil {
		apiresponses.RespondInternalError(c, "load email", err, system.GetReqLogger(c, s.log))
		return
	}
	if !ok {
		apiresponses.RespondNotFound(c, "email", id)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// triggerRetry runs one sweep now. The sweep is detached from the request so
// a disconnecting client does not abort it halfway.
func (s *Server) triggerRetry(c *gin.Context) {
	log := system.GetReqLogger(c, s.log)
	sum, err := s.sweeper.RunOnce(context.WithoutCancel(c.Request.Context()))
	switch {
	case errors.Is(err, retry.ErrSweepInProgress):
		apiresponses.RespondConflict(c, err.Error())
		return
	case err != nil:
		apiresponses.RespondInternalError(c, "run retry sweep", err, log)
		return
	}
	log.Infow("Manual retry sweep finished", "found", sum.Found, "sent", sum.Sent, "failed", sum.Failed)
	c.JSON(http.StatusOK, sum)
}
