package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/roto-sim/internal/api"
	"github.com/stitts-dev/roto-sim/internal/api/handlers"
	"github.com/stitts-dev/roto-sim/internal/api/middleware"
	"github.com/stitts-dev/roto-sim/internal/league"
	"github.com/stitts-dev/roto-sim/internal/providers"
	"github.com/stitts-dev/roto-sim/internal/services"
	"github.com/stitts-dev/roto-sim/internal/store"
	"github.com/stitts-dev/roto-sim/pkg/config"
	"github.com/stitts-dev/roto-sim/pkg/database"
	"github.com/stitts-dev/roto-sim/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logger
	structuredLogger := logger.InitLogger(cfg.LogLevel, cfg.IsDevelopment())

	// Setup Gin mode
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect to database
	db, err := database.NewConnection(cfg.DatabaseURL, cfg.IsDevelopment())
	if err != nil {
		logger.WithComponent("server").Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Connect to Redis. The cache is an optimization, not a dependency: a
	// missing or unreachable Redis downgrades to direct reads.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.WithComponent("server").Fatalf("Failed to parse Redis URL: %v", err)
		}
		redisClient = redis.NewClient(opt)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.WithComponent("server").Warnf("Redis unreachable, continuing without cache: %v", err)
			redisClient.Close()
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
		cancel()
	} else {
		logger.WithComponent("server").Info("Redis not configured, caching disabled")
	}

	// Initialize services
	cacheService := services.NewCacheService(redisClient)
	breakers := services.NewCircuitBreakerService(cfg.CircuitBreakerThreshold, cfg.ExternalAPITimeout, structuredLogger)
	webSocketHub := services.NewWebSocketHub()
	go webSocketHub.Run()

	st := store.New(db, structuredLogger)

	// Initialize the stats feed
	feed := providers.NewBallDontLieClient(providers.Options{
		APIKey:          cfg.BallDontLieAPIKey,
		BaseURL:         cfg.BallDontLieBaseURL,
		RequestInterval: cfg.BallDontLieInterval,
		Cache:           cacheService,
		Breaker:         breakers,
		Logger:          structuredLogger,
	})
	stats := store.NewCachingStatsProvider(st, feed, cfg.StatMaxAge, structuredLogger)

	// Initialize the fantasy league client when credentials are present
	var leagueClient *league.YahooClient
	if cfg.YahooClientID != "" && cfg.YahooClientSecret != "" {
		leagueClient = league.NewYahooClient(league.Options{
			ClientID:     cfg.YahooClientID,
			ClientSecret: cfg.YahooClientSecret,
			RedirectURI:  cfg.YahooRedirectURI,
			LeagueID:     cfg.YahooLeagueKey,
			Tokens:       st.TokensFor("yahoo"),
			Breaker:      breakers,
			Logger:       structuredLogger,
		})
	} else {
		logger.WithComponent("server").Info("League credentials not set, league endpoints disabled")
	}

	// A nil *YahooClient must stay a nil interface inside the service.
	var projectionLeague services.LeagueClient
	if leagueClient != nil {
		projectionLeague = leagueClient
	}
	projections := services.NewProjectionService(st, stats, feed, projectionLeague, cacheService, webSocketHub, cfg, structuredLogger)

	// Background stat sync keeps tracked players' game lines warm
	if cfg.EnableStatSync {
		statSync := services.NewStatSyncService(st, feed, cfg, structuredLogger)
		if err := statSync.Start(); err != nil {
			logger.WithComponent("server").Errorf("Failed to start stat sync: %v", err)
		}
		defer statSync.Stop()
	}

	// Setup Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(structuredLogger))
	router.Use(middleware.CORS(cfg.CorsOrigins))

	// Health check endpoint
	healthHandler := handlers.NewHealthHandler(db, redisClient, breakers)
	router.GET("/health", healthHandler.GetHealth)

	// Setup API routes under /api/v1
	apiV1 := router.Group("/api/v1")
	api.SetupRoutes(apiV1, st, stats, feed, leagueClient, projections, cacheService, cfg, structuredLogger)

	// Setup WebSocket endpoint at root level (not under /api/v1)
	wsHandler := handlers.NewWebSocketHandler(webSocketHub, structuredLogger)
	router.GET("/ws", wsHandler.HandleWebSocket)

	// Log all registered routes
	structuredLogger.Info("=== REGISTERED ROUTES ===")
	for _, route := range router.Routes() {
		structuredLogger.Infof("%s %s", route.Method, route.Path)
	}
	structuredLogger.Info("=========================")

	// Setup server. The write timeout covers synchronous projection runs,
	// which may sit behind the rate-limited stats feed on a cold start.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.WithComponent("server").WithField("port", cfg.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithComponent("server").Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.WithComponent("server").Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithComponent("server").Errorf("Server forced to shutdown: %v", err)
	}

	logger.WithComponent("server").Info("Server exited")
}
