package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/heraldo/internal/apperr"
	"github.com/zulandar/heraldo/internal/dispatch"
	"github.com/zulandar/heraldo/internal/session"
	"github.com/zulandar/heraldo/internal/store"
	"github.com/zulandar/heraldo/internal/transport"
)

// fail writes err as a JSON error. Unclassified errors are logged and
// answered with a generic message.
func (s *Server) fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	body := gin.H{"success": false, "error": apperr.PublicMessage(err)}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body["kind"] = ae.Kind
		if ae.Kind == apperr.QuotaExceeded {
			body["remaining"] = ae.Remaining
		}
	}
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("tenant", tenantOf(c)).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, body)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"status":   "ok",
		"version":  s.version,
		"sessions": s.sessions.Len(),
	})
}

// statusLabel collapses the session state into the coarse status clients
// render.
func statusLabel(st session.State) string {
	switch st {
	case session.Connecting, session.Authenticating:
		return "connecting"
	case session.AwaitingScan:
		return "waiting_scan"
	case session.Ready:
		return "ready"
	default:
		return "disconnected"
	}
}

func (s *Server) handleConnect(c *gin.Context) {
	tenant := tenantOf(c)
	if s.scheduler.Running(tenant) {
		s.fail(c, apperr.New(apperr.Conflict, "api.connect", "a bulk job is running; wait for it to finish or disconnect"))
		return
	}
	in := s.sessions.GetOrCreate(tenant)
	err := in.Connect(c.Request.Context())
	if errors.Is(err, session.ErrRemoved) {
		// Swept between lookup and connect.
		in = s.sessions.GetOrCreate(tenant)
		err = in.Connect(c.Request.Context())
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	sum := in.Summary()
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "connecting",
		"status":       statusLabel(sum.State),
		"isConnecting": true,
		"session":      sum,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	tenant := tenantOf(c)
	in, ok := s.sessions.Get(tenant)
	if !ok {
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"tenantId":  tenant,
			"state":     session.Idle,
			"status":    statusLabel(session.Idle),
			"isReady":   false,
			"hasQR":     false,
			"hasClient": false,
			"timestamp": s.now().UTC(),
		})
		return
	}

	in.Reconcile(c.Request.Context())
	sum := in.Summary()
	qr := in.QR()

	key := fmt.Sprintf("state:%s qr:%t client:%t", sum.State, sum.HasQR, sum.HasClient)
	if in.ObserveSummary(key) {
		s.log.Info().Str("tenant", tenant).Str("status", key).Msg("session status changed")
	}

	body := gin.H{
		"success":      true,
		"tenantId":     tenant,
		"state":        sum.State,
		"status":       statusLabel(sum.State),
		"isReady":      sum.Ready,
		"isConnecting": sum.State == session.Connecting || sum.State == session.Authenticating,
		"hasQR":        sum.HasQR,
		"hasClient":    sum.HasClient,
		"jobRunning":   s.scheduler.Running(tenant),
		"timestamp":    s.now().UTC(),
	}
	if qr != "" {
		body["qrCode"] = qr
	}
	if s.quota != nil {
		if d, err := s.quota.Status(c.Request.Context(), tenant); err == nil {
			body["quota"] = d
		} else {
			s.log.Warn().Err(err).Str("tenant", tenant).Msg("quota status")
		}
	}
	c.JSON(http.StatusOK, body)
}

type sendBulkRequest struct {
	Contacts    []dispatch.Contact `json:"contacts"`
	Message     string             `json:"message"`
	ImageBase64 string             `json:"imageBase64"`
}

func (s *Server) handleSendBulk(c *gin.Context) {
	var req sendBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, apperr.Validationf("api.sendBulk", "invalid request body: %v", err))
		return
	}
	job, err := s.scheduler.Submit(c.Request.Context(), dispatch.Request{
		TenantID:    tenantOf(c),
		Contacts:    req.Contacts,
		Message:     req.Message,
		ImageBase64: req.ImageBase64,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"message":     fmt.Sprintf("bulk send started: %d messages are being sent in the background", len(job.Targets)),
		"jobId":       job.ID,
		"totalToSend": len(job.Targets),
		"withImage":   job.Image != nil,
	})
}

func (s *Server) handleProgress(c *gin.Context) {
	v, ok := s.tracker.Snapshot(tenantOf(c))
	if !ok {
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"hasJob":     false,
			"inProgress": false,
			"message":    "no bulk send has run",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"hasJob":     true,
		"inProgress": v.InProgress,
		"progress":   v,
	})
}

// release cancels the tenant's job, disconnects and forgets the session.
func (s *Server) release(ctx context.Context, tenant string, purge bool) error {
	if s.scheduler.Cancel(tenant) {
		s.log.Info().Str("tenant", tenant).Msg("running bulk job cancelled by disconnect")
	}
	in, ok := s.sessions.Get(tenant)
	if !ok {
		if purge {
			// Credentials may outlive the in-memory session.
			return s.sessions.PurgeCredentials(ctx, tenant)
		}
		return nil
	}
	err := in.Disconnect(ctx, purge)
	s.sessions.Remove(tenant)
	return err
}

func (s *Server) handleDisconnect(c *gin.Context) {
	tenant := tenantOf(c)
	if err := s.release(c.Request.Context(), tenant, false); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "session closed", "tenantId": tenant})
}

func (s *Server) handleForceNewSession(c *gin.Context) {
	tenant := tenantOf(c)
	if err := s.release(c.Request.Context(), tenant, true); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "stored session removed; connect again to get a fresh QR code",
		"tenantId": tenant,
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	q := store.HistoryQuery{Date: c.Query("fecha")}
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.fail(c, apperr.Validationf("api.history", "page must be a positive integer"))
			return
		}
		q.Page = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.fail(c, apperr.Validationf("api.history", "limit must be a positive integer"))
			return
		}
		q.PageSize = n
	}

	page, err := s.history.History(c.Request.Context(), tenantOf(c), q)
	if err != nil {
		s.fail(c, err)
		return
	}

	records := make([]gin.H, len(page.Records))
	for i, r := range page.Records {
		records[i] = gin.H{
			"id":          r.ID,
			"jobId":       r.JobID,
			"address":     r.Address,
			"contactName": r.ContactName,
			"message":     r.Message,
			"status":      r.Status,
			"success":     r.Success,
			"error":       r.Error,
			"sentAt":      r.SentAt,
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"history":    records,
		"total":      page.Total,
		"page":       page.Page,
		"limit":      page.PageSize,
		"totalPages": page.TotalPages,
	})
}

func (s *Server) handleActiveSessions(c *gin.Context) {
	tenant := tenantOf(c)
	list := s.sessions.List()
	out := make([]gin.H, len(list))
	for i, sum := range list {
		out[i] = gin.H{
			"tenantId":      sum.TenantID,
			"isCurrentUser": sum.TenantID == tenant,
			"state":         sum.State,
			"isReady":       sum.Ready,
			"hasClient":     sum.HasClient,
			"hasQR":         sum.HasQR,
			"lastActivity":  sum.LastActivity,
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"currentUserId": tenant,
		"totalSessions": len(out),
		"sessions":      out,
	})
}

func (s *Server) handleDebug(c *gin.Context) {
	tenant := tenantOf(c)
	debug := gin.H{
		"tenantId":       tenant,
		"totalInstances": s.sessions.Len(),
		"jobRunning":     s.scheduler.Running(tenant),
		"timestamp":      s.now().UTC(),
	}

	in, ok := s.sessions.Get(tenant)
	if !ok {
		debug["cached"] = nil
		debug["live"] = nil
		debug["inSync"] = false
		c.JSON(http.StatusOK, gin.H{"success": true, "debug": debug})
		return
	}

	sum := in.Summary()
	debug["cached"] = sum
	inSync := !sum.Ready
	if cl := in.Client(); cl != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		live, err := cl.State(ctx)
		cancel()
		if err != nil {
			debug["live"] = gin.H{"error": err.Error()}
			inSync = false
		} else {
			debug["live"] = gin.H{"state": live}
			inSync = sum.Ready == (live == transport.StateConnected)
		}
	} else {
		debug["live"] = nil
	}
	debug["inSync"] = inSync
	if v, ok := s.tracker.Snapshot(tenant); ok {
		debug["progress"] = v
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "debug": debug})
}
