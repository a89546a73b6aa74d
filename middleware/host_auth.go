package middleware

import (
	"strings"

	"revealroom/handlers"
	"revealroom/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RoomResolver finds the room a request acts on.
type RoomResolver func(c *gin.Context) (string, error)

// RoomFromParam reads the room id from a path parameter.
func RoomFromParam(name string) RoomResolver {
	return func(c *gin.Context) (string, error) {
		return c.Param(name), nil
	}
}

// RoomOfVote resolves the room of the vote named by the :id parameter.
func RoomOfVote(votes *services.VoteService) RoomResolver {
	return func(c *gin.Context) (string, error) {
		return votes.RoomOf(c.Request.Context(), c.Param("id"))
	}
}

// RequireHost admits requests carrying a host token for the resolved room.
// A missing token is 401; a token for another room or an expired one is 403.
func RequireHost(tokens *services.HostTokenIssuer, resolve RoomResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			handlers.HandleError(c, services.Unauthorized("Host token required"), "")
			return
		}

		roomID, err := resolve(c)
		if err != nil {
			handlers.HandleError(c, err, "Failed to authorize request")
			return
		}

		claims, err := tokens.Authorize(raw, roomID)
		if err != nil {
			log.Debug().Err(err).Str("room_id", roomID).Str("path", c.FullPath()).Msg("host authorization failed")
			handlers.HandleError(c, err, "Failed to authorize request")
			return
		}

		c.Set(handlers.HostClaimsKey, claims)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
