package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func queryLimit(c *gin.Context, def int) int {
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}

func (r *Router) ListFailedSync(c *gin.Context) {
	items, err := r.queue.ListFailed(c.Request.Context(), queryLimit(c, 100))
	if err != nil {
		r.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (r *Router) SyncStats(c *gin.Context) {
	counts, err := r.queue.CountByStatus(c.Request.Context())
	if err != nil {
		r.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (r *Router) GetSyncGroup(c *gin.Context) {
	items, err := r.queue.ListGroup(c.Request.Context(), c.Param("correlation_id"))
	if err != nil {
		r.writeError(c, err)
		return
	}
	if len(items) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (r *Router) ListProposalSync(c *gin.Context) {
	items, err := r.queue.ListByProposal(c.Request.Context(), c.Param("id"), queryLimit(c, 50))
	if err != nil {
		r.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (r *Router) RequeueSyncItem(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	if err := r.queue.Requeue(c.Request.Context(), id); err != nil {
		r.writeError(c, err)
		return
	}
	r.logger.Info("sync_item_requeued", zap.Int64("item_id", id))
	c.JSON(http.StatusOK, gin.H{"status": "requeued", "id": id})
}

func (r *Router) ResolveSyncItem(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}

	var req struct {
		Operator string `json:"operator"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Operator) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operator is required"})
		return
	}

	if err := r.queue.Resolve(c.Request.Context(), id, strings.TrimSpace(req.Operator)); err != nil {
		r.writeError(c, err)
		return
	}
	r.logger.Info("sync_item_resolved", zap.Int64("item_id", id), zap.String("operator", req.Operator))
	c.JSON(http.StatusOK, gin.H{"status": "resolved", "id": id})
}

func itemID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("item_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return 0, false
	}
	return id, true
}
