package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/roto-sim/internal/league"
	"github.com/stitts-dev/roto-sim/internal/services"
	"github.com/stitts-dev/roto-sim/internal/simulator"
	"github.com/stitts-dev/roto-sim/pkg/config"
	"github.com/stitts-dev/roto-sim/pkg/utils"
)

type LeagueHandler struct {
	client *league.YahooClient
	cache  *services.CacheService
	cfg    *config.Config
	logger *logrus.Logger
}

func NewLeagueHandler(client *league.YahooClient, cache *services.CacheService, cfg *config.Config, logger *logrus.Logger) *LeagueHandler {
	return &LeagueHandler{
		client: client,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
	}
}

// notConfigured answers requests when no league credentials are set.
func (h *LeagueHandler) notConfigured(c *gin.Context) bool {
	if h.client == nil {
		utils.SendServiceUnavailable(c, "League integration is not configured")
		return true
	}
	return false
}

// GetAuthURL returns the URL the league manager visits to grant access.
func (h *LeagueHandler) GetAuthURL(c *gin.Context) {
	if h.notConfigured(c) {
		return
	}

	utils.SendSuccess(c, gin.H{
		"auth_url": h.client.AuthCodeURL(),
	})
}

// AuthCallback exchanges the verification code for a token and stores it.
func (h *LeagueHandler) AuthCallback(c *gin.Context) {
	if h.notConfigured(c) {
		return
	}

	code := c.Query("code")
	if code == "" {
		utils.SendValidationError(c, "Missing code parameter", "")
		return
	}

	if err := h.client.Authorize(c.Request.Context(), code); err != nil {
		h.logger.WithError(err).Warn("League authorization failed")
		utils.SendError(c, 401, utils.NewAppError(utils.ErrCodeLeagueAuth, "Authorization failed", err.Error()))
		return
	}

	utils.SendSuccess(c, gin.H{"authorized": true})
}

// GetTeams lists the league's teams keyed by their normalized name.
func (h *LeagueHandler) GetTeams(c *gin.Context) {
	if h.notConfigured(c) {
		return
	}

	ctx := c.Request.Context()
	cacheKey := services.LeagueTeamsCacheKey()

	var cached map[string]string
	if h.cache != nil {
		if err := h.cache.Get(ctx, cacheKey, &cached); err == nil {
			utils.SendSuccess(c, gin.H{"teams": cached})
			return
		}
	}

	teams, err := h.client.GetTeams(ctx)
	if err != nil {
		h.sendLeagueError(c, err, "Failed to fetch league teams")
		return
	}

	if h.cache != nil {
		h.cache.Set(ctx, cacheKey, teams, time.Duration(h.cfg.CacheTTLGames)*time.Second)
	}

	utils.SendSuccess(c, gin.H{"teams": teams})
}

// GetRoster returns a team's current roster. ?exclude_unavailable=true drops
// players ruled out for the period.
func (h *LeagueHandler) GetRoster(c *gin.Context) {
	if h.notConfigured(c) {
		return
	}

	team := c.Param("team")
	excludeUnavailable := c.Query("exclude_unavailable") == "true"

	ctx := c.Request.Context()
	cacheKey := services.LeagueRosterCacheKey(team)

	var roster []simulator.PlayerIdentity
	if h.cache != nil && !excludeUnavailable {
		if err := h.cache.Get(ctx, cacheKey, &roster); err == nil {
			utils.SendSuccess(c, rosterResponse(team, roster))
			return
		}
	}

	roster, err := h.client.GetRoster(ctx, team, excludeUnavailable)
	if err != nil {
		h.sendLeagueError(c, err, "Failed to fetch roster")
		return
	}

	if h.cache != nil && !excludeUnavailable {
		h.cache.Set(ctx, cacheKey, roster, time.Duration(h.cfg.CacheTTLGames)*time.Second)
	}

	utils.SendSuccess(c, rosterResponse(team, roster))
}

// GetMatchups returns the team's schedule of weekly opponents.
func (h *LeagueHandler) GetMatchups(c *gin.Context) {
	if h.notConfigured(c) {
		return
	}

	team := c.Param("team")
	matchups, err := h.client.GetMatchups(c.Request.Context(), team)
	if err != nil {
		h.sendLeagueError(c, err, "Failed to fetch matchups")
		return
	}

	utils.SendSuccess(c, gin.H{
		"team":     team,
		"matchups": matchups,
	})
}

func (h *LeagueHandler) sendLeagueError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, league.ErrNotAuthorized):
		utils.SendError(c, 401, utils.NewAppError(utils.ErrCodeLeagueAuth,
			"Not authorized with the league, visit /league/auth/url first", err.Error()))
	case errors.Is(err, league.ErrUnknownTeam):
		utils.SendNotFound(c, "Unknown league team")
	case errors.Is(err, context.DeadlineExceeded):
		utils.SendServiceUnavailable(c, "League API timed out")
	default:
		h.logger.WithError(err).Warn(fallback)
		utils.SendServiceUnavailable(c, fallback)
	}
}

func rosterResponse(team string, roster []simulator.PlayerIdentity) gin.H {
	players := make([]gin.H, 0, len(roster))
	for _, p := range roster {
		players = append(players, gin.H{
			"first_name": p.FirstName,
			"last_name":  p.LastName,
			"team":       p.Team,
			"status":     p.Status,
		})
	}
	return gin.H{
		"team":    team,
		"count":   len(players),
		"players": players,
	}
}
