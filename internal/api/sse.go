package api

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

// handleProgressStream pushes the tenant's progress as server-sent events
// until the client goes away or the job reports it is no longer in
// progress.
func (s *Server) handleProgressStream(c *gin.Context) {
	tenant := tenantOf(c)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	views, unsubscribe := s.tracker.Subscribe(tenant)
	defer unsubscribe()

	// The subscription starts with the current snapshot, if any.
	writeSSE(c.Writer, "connected", map[string]string{"tenantId": tenant})
	c.Writer.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": s.now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case v, ok := <-views:
			if !ok {
				return
			}
			writeSSE(c.Writer, "progress", v)
			if !v.InProgress {
				writeSSE(c.Writer, "done", v)
				c.Writer.Flush()
				return
			}
			c.Writer.Flush()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
