package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/splitlease/proposal-sync/internal/config"
	"github.com/splitlease/proposal-sync/internal/domain/proposal"
	"github.com/splitlease/proposal-sync/internal/user"
)

const (
	principalKey       = "principal"
	ServiceTokenHeader = "X-Service-Token"
)

// UserProvisioner maps a verified identity onto a marketplace user.
type UserProvisioner interface {
	EnsureUser(ctx context.Context, authID, email string) (*user.User, error)
}

type Middleware struct {
	cfg    *config.Config
	users  UserProvisioner
	logger *zap.Logger
}

func NewMiddleware(cfg *config.Config, users *user.Service, logger *zap.Logger) *Middleware {
	return newMiddleware(cfg, users, logger)
}

func newMiddleware(cfg *config.Config, users UserProvisioner, logger *zap.Logger) *Middleware {
	return &Middleware{cfg: cfg, users: users, logger: logger.Named("auth")}
}

// Handler authenticates the caller and stores a proposal.Principal on the
// context. Agents present the service token; people present a signed JWT.
func (m *Middleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := strings.TrimSpace(c.GetHeader(ServiceTokenHeader)); token != "" {
			if !m.validServiceToken(token) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_service_token"})
				return
			}
			c.Set(principalKey, proposal.Principal{Service: true})
			c.Next()
			return
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}
		tokenString := strings.TrimSpace(authHeader[7:])

		sub, email, err := m.verify(tokenString)
		if err != nil {
			m.logger.Debug("token_rejected", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}

		u, err := m.users.EnsureUser(c.Request.Context(), sub, email)
		if err != nil {
			m.logger.Error("user_mapping_failed", zap.Error(err), zap.String("auth_id", sub))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "user_mapping_failed"})
			return
		}

		c.Set(principalKey, proposal.Principal{UserID: u.ExternalUserID, AuthID: sub})
		c.Next()
	}
}

func (m *Middleware) validServiceToken(token string) bool {
	expected := strings.TrimSpace(m.cfg.AgentServiceToken)
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

func (m *Middleware) verify(tokenString string) (sub, email string, err error) {
	secret := m.cfg.AuthJWTSecret
	if secret == "" {
		return "", "", errors.New("jwt secret not configured")
	}

	token, err := jwt.Parse(tokenString, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", errors.New("unexpected claims type")
	}
	sub, err = claims.GetSubject()
	if err != nil || sub == "" {
		return "", "", errors.New("token has no subject")
	}
	email, _ = claims["email"].(string)
	return sub, email, nil
}

// PrincipalFrom returns the caller stored by Handler.
func PrincipalFrom(c *gin.Context) (proposal.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return proposal.Principal{}, false
	}
	p, ok := v.(proposal.Principal)
	return p, ok
}
