package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"revealroom/config"
	"revealroom/handlers"
	"revealroom/middleware"
	"revealroom/models"
	"revealroom/routes"
	"revealroom/services"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	config.InitLogger(cfg)

	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	redisClient := config.InitRedis(cfg)
	defer redisClient.Close()

	broadcaster := newBroadcaster(cfg, redisClient)
	defer broadcaster.Close()

	clock := clockwork.NewRealClock()
	tokens, err := services.NewHostTokenIssuer(cfg.HostTokenSecret, cfg.HostTokenTTL, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up host tokens")
	}

	// Initialize services
	userService := services.NewUserService(db)
	roomService := services.NewRoomService(db, broadcaster, tokens, cfg.AppURL, clock)
	voteService := services.NewVoteService(db, broadcaster, clock)
	rouletteService := services.NewRouletteService(redisClient, roomService, voteService, broadcaster, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize WebSocket hub and feed it from the fabric
	hub := services.NewHub(roomService.Exists, services.DefaultHubConfig())
	go hub.Run(ctx)
	go hub.Relay(ctx, broadcaster)

	voteLimiter := middleware.NewIPRateLimiter(cfg.VoteRatePerMin, cfg.VoteRateBurst, 5*time.Minute, clock)
	go voteLimiter.Cleanup(time.Minute, ctx.Done())

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(), middleware.CORS(cfg.AllowedOrigins))

	routes.SetupRoutes(router, routes.Handlers{
		Users:    handlers.NewUserHandler(userService),
		Rooms:    handlers.NewRoomHandler(roomService, rouletteService),
		Votes:    handlers.NewVoteHandler(voteService),
		Roulette: handlers.NewRouletteHandler(rouletteService),
		Realtime: handlers.NewRealtimeHandler(hub, broadcaster, middleware.OriginMatcher(cfg.AllowedOrigins)),
	}, tokens, voteService, voteLimiter)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.BindAddress, cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("db_driver", cfg.DBDriver).
			Str("broadcast_driver", broadcaster.Driver()).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	cancel()

	log.Info().Msg("server stopped")
}

// newBroadcaster picks the fan-out fabric. A fabric that cannot be reached at
// startup disables realtime instead of failing the process.
func newBroadcaster(cfg *config.Config, redisClient *redis.Client) services.Broadcaster {
	switch cfg.BroadcastDriver {
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, realtime disabled")
			return services.DisabledBroadcaster{}
		}
		return services.NewRedisBroadcaster(redisClient)

	case "nats":
		b, err := services.NewNATSBroadcaster(services.DefaultNATSConfig(cfg.NATSURL))
		if err != nil {
			log.Warn().Err(err).Msg("NATS unreachable, realtime disabled")
			return services.DisabledBroadcaster{}
		}
		return b

	default:
		log.Info().Msg("realtime disabled by configuration")
		return services.DisabledBroadcaster{}
	}
}
