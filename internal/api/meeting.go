package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/splitlease/proposal-sync/internal/domain/proposal"
)

type meetingRequest struct {
	ProposedTimes []time.Time `json:"proposed_times"`
}

type meetingResponseRequest struct {
	Accept      bool       `json:"accept"`
	BookedTime  *time.Time `json:"booked_time"`
	MeetingLink string     `json:"meeting_link"`
}

func (r *Router) RequestMeeting(c *gin.Context) {
	principal, ok := r.principal(c)
	if !ok {
		return
	}

	var req meetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	view, err := r.proposals.RequestMeeting(c.Request.Context(), principal, c.Param("id"), req.ProposedTimes)
	if err != nil {
		r.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (r *Router) RespondMeeting(c *gin.Context) {
	principal, ok := r.principal(c)
	if !ok {
		return
	}

	var req meetingResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	view, err := r.proposals.RespondMeeting(c.Request.Context(), principal, c.Param("id"), proposal.MeetingResponse{
		Accept:      req.Accept,
		BookedTime:  req.BookedTime,
		MeetingLink: req.MeetingLink,
	})
	if err != nil {
		r.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (r *Router) CancelMeeting(c *gin.Context) {
	principal, ok := r.principal(c)
	if !ok {
		return
	}

	view, err := r.proposals.CancelMeeting(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		r.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
