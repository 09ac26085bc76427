package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/splitlease/proposal-sync/internal/domain/proposal"
	"github.com/splitlease/proposal-sync/internal/outbox"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError maps domain failures onto HTTP responses. Anything unmapped is
// logged and reported as internal.
func (r *Router) writeError(c *gin.Context, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		r.logger.Error("request_failed",
			zap.Error(err),
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString("request_id")),
		)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func classify(err error) (int, errorBody) {
	switch {
	case errors.Is(err, proposal.ErrUnauthorized):
		return http.StatusForbidden, errorBody{Error: "forbidden", Message: "you are not a party to this proposal"}
	case errors.Is(err, proposal.ErrConcurrentModification):
		return http.StatusConflict, errorBody{Error: "concurrent_modification", Message: "this proposal changed since you loaded it, refresh"}
	case errors.Is(err, proposal.ErrInvalidTransition):
		return http.StatusConflict, errorBody{Error: "action_unavailable", Message: "this action is no longer available, refresh"}
	case errors.Is(err, proposal.ErrValidation):
		return http.StatusUnprocessableEntity, errorBody{Error: "validation_failed", Message: err.Error()}
	case errors.Is(err, proposal.ErrNotFound), errors.Is(err, proposal.ErrMeetingNotFound), errors.Is(err, outbox.ErrItemNotFound):
		return http.StatusNotFound, errorBody{Error: "not_found", Message: err.Error()}
	case errors.Is(err, outbox.ErrItemState):
		return http.StatusConflict, errorBody{Error: "invalid_item_state", Message: err.Error()}
	case errors.Is(err, proposal.ErrUnknownStatus):
		return http.StatusInternalServerError, errorBody{Error: "unknown_status", Message: "proposal is in an unrecognized state"}
	}
	return http.StatusInternalServerError, errorBody{Error: "internal_error", Message: "internal error"}
}
