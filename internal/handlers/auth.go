package handlers

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/fabcam/internal/middleware"
	"github.com/mossy-p/fabcam/internal/models"
	"github.com/rs/zerolog/log"
)

const tokenTTL = 24 * time.Hour

// Login exchanges the shared agent key for a signed token that the
// broadcaster, viewer and scoring agents present on /signal.
func Login(jwtSecret, agentKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(req.Key), []byte(agentKey)) != 1 {
			log.Warn().Str("module", "handlers.auth").Str("name", req.Name).Msg("rejected login")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid agent key",
			})
			return
		}

		tokenString, err := middleware.IssueToken(jwtSecret, req.Name, req.Role, tokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate token",
			})
			return
		}

		log.Info().Str("module", "handlers.auth").Str("name", req.Name).Str("role", req.Role).Msg("issued token")
		c.JSON(http.StatusOK, models.LoginResponse{
			Token:     tokenString,
			ExpiresAt: time.Now().Add(tokenTTL),
		})
	}
}
