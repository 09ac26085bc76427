package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetMe returns the caller as the proposal endpoints see them.
func (r *Router) GetMe(c *gin.Context) {
	principal, ok := r.principal(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id": principal.UserID,
		"auth_id": principal.AuthID,
		"service": principal.Service,
	})
}
