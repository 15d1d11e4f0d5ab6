package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/stitts-dev/roto-sim/internal/providers"
	"github.com/stitts-dev/roto-sim/internal/simulator"
	"github.com/stitts-dev/roto-sim/internal/store"
	"github.com/stitts-dev/roto-sim/pkg/config"
	"github.com/stitts-dev/roto-sim/pkg/utils"
)

type PlayerHandler struct {
	store  *store.Store
	stats  *store.CachingStatsProvider
	feed   *providers.BallDontLieClient
	cfg    *config.Config
	logger *logrus.Logger
}

func NewPlayerHandler(st *store.Store, stats *store.CachingStatsProvider, feed *providers.BallDontLieClient, cfg *config.Config, logger *logrus.Logger) *PlayerHandler {
	return &PlayerHandler{
		store:  st,
		stats:  stats,
		feed:   feed,
		cfg:    cfg,
		logger: logger,
	}
}

// SearchPlayers looks up tracked players by name fragment and/or team.
func (h *PlayerHandler) SearchPlayers(c *gin.Context) {
	name := c.Query("name")
	team := c.Query("team")
	if name == "" && team == "" {
		utils.SendValidationError(c, "A name or team query is required", "")
		return
	}

	limit := 25
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 || parsed > 100 {
			utils.SendValidationError(c, "Invalid limit", "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	players, err := h.store.SearchPlayers(c.Request.Context(), name, team, limit)
	if err != nil {
		utils.SendInternalError(c, "Failed to search players")
		return
	}

	utils.SendSuccess(c, gin.H{
		"players": players,
		"count":   len(players),
	})
}

// GetGameLog returns a player's per-game box scores from ?since= onward,
// fetching through to the stats feed when the stored copy is stale.
func (h *PlayerHandler) GetGameLog(c *gin.Context) {
	externalID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		utils.SendValidationError(c, "Invalid player ID", err.Error())
		return
	}

	since := time.Now().UTC().AddDate(0, 0, -h.cfg.StatCutoffDays)
	if sinceStr := c.Query("since"); sinceStr != "" {
		parsed, err := time.Parse(dateLayout, sinceStr)
		if err != nil {
			utils.SendValidationError(c, "Invalid since date, expected YYYY-MM-DD", err.Error())
			return
		}
		since = parsed
	}

	identity, err := h.resolveIdentity(c, externalID)
	if err != nil {
		if errors.Is(err, providers.ErrPlayerNotFound) {
			utils.SendNotFound(c, "Player not found")
		} else {
			utils.SendServiceUnavailable(c, "Stats feed unavailable")
		}
		return
	}

	table, err := h.stats.FetchHistoricalLines(c.Request.Context(), identity, since)
	if err != nil {
		h.logger.WithError(err).WithField("player_id", externalID).Warn("Game log fetch failed")
		utils.SendServiceUnavailable(c, "Stats feed unavailable")
		return
	}

	games := make([]gin.H, 0, len(table.Rows))
	for _, row := range table.Rows {
		games = append(games, gin.H{
			"date":   row.Date.Format(dateLayout),
			"values": row.Values,
		})
	}

	utils.SendSuccess(c, gin.H{
		"player": gin.H{
			"first_name":  identity.FirstName,
			"last_name":   identity.LastName,
			"team":        identity.Team,
			"external_id": identity.ExternalID,
		},
		"since": since.Format(dateLayout),
		"count": len(games),
		"games": games,
	})
}

// resolveIdentity prefers the stored player row and falls back to the feed
// for ids this deployment has never tracked.
func (h *PlayerHandler) resolveIdentity(c *gin.Context, externalID int) (simulator.PlayerIdentity, error) {
	player, err := h.store.GetPlayerByExternalID(c.Request.Context(), externalID)
	if err == nil {
		return player.ToIdentity(), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return simulator.PlayerIdentity{}, err
	}
	return h.feed.GetPlayer(c.Request.Context(), externalID)
}

// GetSchedule lists a team's games inside a window.
func (h *PlayerHandler) GetSchedule(c *gin.Context) {
	team := c.Param("team")
	start, end, ok := h.parseWindow(c)
	if !ok {
		return
	}

	games, err := h.feed.GetSchedule(c.Request.Context(), team, start, end)
	if err != nil {
		if errors.Is(err, providers.ErrTeamNotFound) {
			utils.SendNotFound(c, "Unknown team abbreviation")
		} else {
			utils.SendServiceUnavailable(c, "Schedule feed unavailable")
		}
		return
	}

	utils.SendSuccess(c, gin.H{
		"team":  team,
		"start": start.Format(dateLayout),
		"end":   end.Format(dateLayout),
		"count": len(games),
		"games": games,
	})
}

// CountScheduledGames returns how many games a team plays inside a window.
func (h *PlayerHandler) CountScheduledGames(c *gin.Context) {
	team := c.Param("team")
	start, end, ok := h.parseWindow(c)
	if !ok {
		return
	}

	count, err := h.feed.CountGames(c.Request.Context(), team, start, end)
	if err != nil {
		if errors.Is(err, providers.ErrTeamNotFound) {
			utils.SendNotFound(c, "Unknown team abbreviation")
		} else {
			utils.SendServiceUnavailable(c, "Schedule feed unavailable")
		}
		return
	}

	utils.SendSuccess(c, gin.H{
		"team":  team,
		"start": start.Format(dateLayout),
		"end":   end.Format(dateLayout),
		"games": count,
	})
}

func (h *PlayerHandler) parseWindow(c *gin.Context) (time.Time, time.Time, bool) {
	start, err := time.Parse(dateLayout, c.Query("start"))
	if err != nil {
		utils.SendValidationError(c, "Invalid start date, expected YYYY-MM-DD", err.Error())
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(dateLayout, c.Query("end"))
	if err != nil {
		utils.SendValidationError(c, "Invalid end date, expected YYYY-MM-DD", err.Error())
		return time.Time{}, time.Time{}, false
	}
	if end.Before(start) {
		utils.SendValidationError(c, "end must not be before start", "")
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}
