package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/splitlease/proposal-sync/internal/auth"
	"github.com/splitlease/proposal-sync/internal/domain/proposal"
	"github.com/splitlease/proposal-sync/internal/usecase/negotiation"
)

type transitionRequest struct {
	ExpectedVersion int64            `json:"expected_version"`
	Payload         proposal.Payload `json:"payload"`
}

func (r *Router) principal(c *gin.Context) (proposal.Principal, bool) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return proposal.Principal{}, false
	}
	return p, true
}

func (r *Router) CreateProposal(c *gin.Context) {
	principal, ok := r.principal(c)
	if !ok {
		return
	}

	var req negotiation.CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	out, err := r.proposals.Create(c.Request.Context(), principal, req)
	if err != nil {
		r.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (r *Router) ListProposals(c *gin.Context) {
	principal, ok := r.principal(c)
	if !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	views, err := r.proposals.ListMine(c.Request.Context(), principal, limit)
	if err != nil {
		r.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (r *Router) GetProposal(c *gin.Context) {
	principal, ok := r.principal(c)
	if !ok {
		return
	}

	view, err := r.proposals.Get(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		r.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// TransitionProposal applies the action named in the path. The body is
// optional; expected_version guards against acting on a stale view.
func (r *Router) TransitionProposal(c *gin.Context) {
	principal, ok := r.principal(c)
	if !ok {
		return
	}

	var req transitionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
	}

	out, err := r.proposals.Transition(
		c.Request.Context(),
		principal,
		c.Param("id"),
		proposal.Action(c.Param("action")),
		req.Payload,
		req.ExpectedVersion,
	)
	if err != nil {
		r.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
