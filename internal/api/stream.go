package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StreamProposal pushes the caller's view of a proposal whenever it changes.
// It only reads: each tick reloads the row and recomputes the actions.
func (r *Router) StreamProposal(c *gin.Context) {
	principal, ok := r.principal(c)
	if !ok {
		return
	}
	id := c.Param("id")
	ctx := c.Request.Context()

	// Fail fast with a normal status code before switching to SSE.
	if _, err := r.proposals.Get(ctx, principal, id); err != nil {
		r.writeError(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	headers := c.Writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")

	c.Status(http.StatusOK)
	if _, err := fmt.Fprint(c.Writer, "retry: 3000\n\n"); err == nil {
		flusher.Flush()
	}

	pollTicker := time.NewTicker(r.streamPoll)
	heartbeatTicker := time.NewTicker(r.streamHeartbeat)
	defer pollTicker.Stop()
	defer heartbeatTicker.Stop()

	var lastPayload string
	publish := func() bool {
		view, err := r.proposals.Get(ctx, principal, id)
		if err != nil {
			r.logger.Warn("stream_proposal_failed", zap.Error(err), zap.String("proposal_id", id))
			_, werr := fmt.Fprintf(c.Writer, "event: error\ndata: %q\n\n", err.Error())
			flusher.Flush()
			return werr == nil
		}

		encoded, err := json.Marshal(view)
		if err != nil {
			r.logger.Warn("stream_proposal_encode_failed", zap.Error(err), zap.String("proposal_id", id))
			return true
		}

		next := string(encoded)
		if next == lastPayload {
			return true
		}
		lastPayload = next

		if _, err := fmt.Fprintf(c.Writer, "event: proposal\ndata: %s\n\n", next); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !publish() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			if !publish() {
				return
			}
		case <-heartbeatTicker.C:
			if _, err := fmt.Fprint(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
