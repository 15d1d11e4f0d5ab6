package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stitts-dev/roto-sim/internal/models"
	"github.com/stitts-dev/roto-sim/internal/services"
	"github.com/stitts-dev/roto-sim/internal/simulator"
	"github.com/stitts-dev/roto-sim/pkg/utils"
)

const dateLayout = "2006-01-02"

type ProjectionHandler struct {
	projections *services.ProjectionService
}

func NewProjectionHandler(projections *services.ProjectionService) *ProjectionHandler {
	return &ProjectionHandler{
		projections: projections,
	}
}

type rosterEntry struct {
	FirstName  string `json:"first_name" binding:"required"`
	LastName   string `json:"last_name" binding:"required"`
	Team       string `json:"team" binding:"required"`
	Status     string `json:"status"`
	ExternalID string `json:"external_id"`
}

// CreateProjection starts a Monte Carlo projection for a roster over a date
// range. With async=true it answers 202 immediately and the run reports over
// the websocket topic for its id; otherwise it blocks until the run is done.
func (h *ProjectionHandler) CreateProjection(c *gin.Context) {
	var req struct {
		LeagueTeam         string        `json:"league_team"`
		Roster             []rosterEntry `json:"roster" binding:"omitempty,dive"`
		ExcludeUnavailable bool          `json:"exclude_unavailable"`
		StartDate          string        `json:"start_date" binding:"required"`
		EndDate            string        `json:"end_date" binding:"required"`
		Categories         []string      `json:"categories" binding:"required,min=1"`
		Runs               int           `json:"runs" binding:"omitempty,min=100,max=100000"`
		UseBootstrap       bool          `json:"use_bootstrap"`
		Seed               int64         `json:"seed"`
		Async              bool          `json:"async"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, "Invalid request body", err.Error())
		return
	}

	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		utils.SendValidationError(c, "Invalid start_date, expected YYYY-MM-DD", err.Error())
		return
	}
	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		utils.SendValidationError(c, "Invalid end_date, expected YYYY-MM-DD", err.Error())
		return
	}

	roster := make([]simulator.PlayerIdentity, 0, len(req.Roster))
	for _, entry := range req.Roster {
		roster = append(roster, simulator.PlayerIdentity{
			FirstName:  entry.FirstName,
			LastName:   entry.LastName,
			Team:       entry.Team,
			Status:     entry.Status,
			ExternalID: entry.ExternalID,
		})
	}

	params := services.ProjectionParams{
		Roster:             roster,
		LeagueTeam:         req.LeagueTeam,
		ExcludeUnavailable: req.ExcludeUnavailable,
		Start:              start,
		End:                end,
		Categories:         req.Categories,
		Runs:               req.Runs,
		UseBootstrap:       req.UseBootstrap,
		Seed:               req.Seed,
	}

	if req.Async {
		projection, err := h.projections.StartProjection(c.Request.Context(), params)
		if err != nil {
			utils.SendValidationError(c, "Could not start projection", err.Error())
			return
		}
		utils.SendAccepted(c, projection)
		return
	}

	projection, err := h.projections.RunProjection(c.Request.Context(), params)
	if err != nil {
		utils.SendValidationError(c, "Could not start projection", err.Error())
		return
	}
	if projection.Status == models.ProjectionFailed {
		utils.SendError(c, http.StatusInternalServerError,
			utils.NewAppError(utils.ErrCodeProjection, "Projection failed", projection.Error))
		return
	}
	utils.SendSuccess(c, projection)
}

// GetProjection returns one projection, completed or not.
func (h *ProjectionHandler) GetProjection(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendValidationError(c, "Invalid projection ID", err.Error())
		return
	}

	projection, err := h.projections.GetProjection(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendNotFound(c, "Projection not found")
		} else {
			utils.SendInternalError(c, "Failed to fetch projection")
		}
		return
	}

	utils.SendSuccess(c, projection)
}

// ListProjections pages through past runs, newest first. ?before= takes the
// created_at of the last row from the previous page.
func (h *ProjectionHandler) ListProjections(c *gin.Context) {
	limit := 20
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 || parsed > 100 {
			utils.SendValidationError(c, "Invalid limit", "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	var before time.Time
	if beforeStr := c.Query("before"); beforeStr != "" {
		parsed, err := time.Parse(time.RFC3339, beforeStr)
		if err != nil {
			utils.SendValidationError(c, "Invalid before cursor, expected RFC3339", err.Error())
			return
		}
		before = parsed
	}

	projections, err := h.projections.ListProjections(c.Request.Context(), limit, before)
	if err != nil {
		utils.SendInternalError(c, "Failed to list projections")
		return
	}

	response := gin.H{
		"projections": projections,
		"count":       len(projections),
	}
	if len(projections) == limit {
		response["next_before"] = projections[len(projections)-1].CreatedAt.Format(time.RFC3339Nano)
	}

	utils.SendSuccess(c, response)
}
