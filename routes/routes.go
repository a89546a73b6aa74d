package routes

import (
	"revealroom/handlers"
	"revealroom/middleware"
	"revealroom/services"

	"github.com/gin-gonic/gin"
)

// Handlers groups everything SetupRoutes wires.
type Handlers struct {
	Users    *handlers.UserHandler
	Rooms    *handlers.RoomHandler
	Votes    *handlers.VoteHandler
	Roulette *handlers.RouletteHandler
	Realtime *handlers.RealtimeHandler
}

func SetupRoutes(
	router *gin.Engine,
	h Handlers,
	tokens *services.HostTokenIssuer,
	voteService *services.VoteService,
	voteLimiter *middleware.IPRateLimiter,
) {
	handlers.RegisterFieldNames()

	router.GET("/health", handlers.Health)

	hostOfRoom := middleware.RequireHost(tokens, middleware.RoomFromParam("id"))
	hostOfVote := middleware.RequireHost(tokens, middleware.RoomOfVote(voteService))

	users := router.Group("/users")
	{
		users.POST("", h.Users.CreateUser)
		users.GET("", h.Users.ListUsers)
		users.GET("/:id", h.Users.GetUser)
		users.PATCH("/:id", h.Users.UpdateUser)
	}

	rooms := router.Group("/rooms")
	{
		rooms.POST("", h.Rooms.CreateRoom)
		rooms.GET("", h.Rooms.ListRooms)
		rooms.GET("/:id", h.Rooms.GetRoom)
		rooms.GET("/:id/public", h.Rooms.GetPublicRoom)
		rooms.POST("/:id/verify-pin", h.Rooms.VerifyPin)
		rooms.GET("/:id/roulette", h.Roulette.State)

		// Host-only routes
		rooms.PATCH("/:id", hostOfRoom, h.Rooms.UpdateRoom)
		rooms.PATCH("/:id/close-room", hostOfRoom, h.Rooms.CloseRoom)
		rooms.DELETE("/:id", hostOfRoom, h.Rooms.DeleteRoom)
		rooms.POST("/:id/reveal", hostOfRoom, h.Rooms.Reveal)
		rooms.POST("/:id/roulette", hostOfRoom, h.Roulette.Start)
		rooms.POST("/:id/roulette/spin", hostOfRoom, h.Roulette.Spin)
		rooms.POST("/:id/roulette/reset", hostOfRoom, h.Roulette.Reset)
	}

	votes := router.Group("/votes")
	{
		if voteLimiter != nil {
			votes.POST("", middleware.RateLimitByIP(voteLimiter), h.Votes.CastVote)
		} else {
			votes.POST("", h.Votes.CastVote)
		}
		votes.GET("", h.Votes.ListVotes)
		votes.GET("/:id", h.Votes.GetVote)
		votes.PATCH("/:id", hostOfVote, h.Votes.UpdateVote)
		votes.DELETE("/:id", hostOfVote, h.Votes.DeleteVote)
	}

	// WebSocket endpoint for live room updates
	router.GET("/ws", h.Realtime.Connect)
	realtime := router.Group("/realtime")
	{
		realtime.GET("/config", h.Realtime.Config)
		realtime.GET("/stats", h.Realtime.Stats)
	}
}
