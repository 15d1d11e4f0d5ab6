package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/roto-sim/internal/api/handlers"
	"github.com/stitts-dev/roto-sim/internal/league"
	"github.com/stitts-dev/roto-sim/internal/providers"
	"github.com/stitts-dev/roto-sim/internal/services"
	"github.com/stitts-dev/roto-sim/internal/store"
	"github.com/stitts-dev/roto-sim/pkg/config"
)

// SetupRoutes configures all API routes on the given router group
func SetupRoutes(
	group *gin.RouterGroup,
	st *store.Store,
	stats *store.CachingStatsProvider,
	feed *providers.BallDontLieClient,
	leagueClient *league.YahooClient,
	projections *services.ProjectionService,
	cache *services.CacheService,
	cfg *config.Config,
	logger *logrus.Logger,
) {
	// Initialize handlers
	projectionHandler := handlers.NewProjectionHandler(projections)
	playerHandler := handlers.NewPlayerHandler(st, stats, feed, cfg, logger)
	leagueHandler := handlers.NewLeagueHandler(leagueClient, cache, cfg, logger)

	// Projection endpoints
	group.POST("/projections", projectionHandler.CreateProjection)
	group.GET("/projections", projectionHandler.ListProjections)
	group.GET("/projections/:id", projectionHandler.GetProjection)

	// Player endpoints
	group.GET("/players/search", playerHandler.SearchPlayers)
	group.GET("/players/:id/gamelog", playerHandler.GetGameLog)

	// Schedule endpoints
	group.GET("/schedule/:team", playerHandler.GetSchedule)
	group.GET("/schedule/:team/count", playerHandler.CountScheduledGames)

	// League endpoints
	group.GET("/league/auth/url", leagueHandler.GetAuthURL)
	group.GET("/league/auth/callback", leagueHandler.AuthCallback)
	group.GET("/league/teams", leagueHandler.GetTeams)
	group.GET("/league/teams/:team/roster", leagueHandler.GetRoster)
	group.GET("/league/teams/:team/matchups", leagueHandler.GetMatchups)
}
