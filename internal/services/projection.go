package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/stitts-dev/roto-sim/internal/models"
	"github.com/stitts-dev/roto-sim/internal/providers"
	"github.com/stitts-dev/roto-sim/internal/simulator"
	"github.com/stitts-dev/roto-sim/internal/store"
	"github.com/stitts-dev/roto-sim/pkg/config"
)

// LeagueClient is the slice of the fantasy league adapter the projection
// service needs to resolve a roster by team name.
type LeagueClient interface {
	GetRoster(ctx context.Context, team string, excludeUnavailable bool) ([]simulator.PlayerIdentity, error)
}

// ProjectionParams describes one projection run. Roster and LeagueTeam are
// alternatives: an explicit roster wins, otherwise the league adapter
// resolves the team name.
type ProjectionParams struct {
	Roster             []simulator.PlayerIdentity
	LeagueTeam         string
	ExcludeUnavailable bool
	Start              time.Time
	End                time.Time
	Categories         []string
	Runs               int
	UseBootstrap       bool
	Seed               int64
}

// ProjectionService orchestrates projection runs: it validates the request,
// resolves the roster, runs the period simulator in the background and
// persists, caches and broadcasts the outcome.
type ProjectionService struct {
	store    *store.Store
	stats    simulator.StatsProvider
	schedule simulator.ScheduleProvider
	league   LeagueClient
	cache    *CacheService
	hub      *WebSocketHub
	cfg      *config.Config
	logger   *logrus.Logger
}

// NewProjectionService creates a new projection service
func NewProjectionService(
	st *store.Store,
	stats simulator.StatsProvider,
	schedule simulator.ScheduleProvider,
	league LeagueClient,
	cache *CacheService,
	hub *WebSocketHub,
	cfg *config.Config,
	logger *logrus.Logger,
) *ProjectionService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ProjectionService{
		store:    st,
		stats:    stats,
		schedule: schedule,
		league:   league,
		cache:    cache,
		hub:      hub,
		cfg:      cfg,
		logger:   logger,
	}
}

// StartProjection validates the request, persists a pending projection row
// and launches the run in the background. The returned projection carries
// the id clients subscribe to for progress events.
func (s *ProjectionService) StartProjection(ctx context.Context, params ProjectionParams) (*models.Projection, error) {
	projection, roster, params, err := s.prepare(ctx, params)
	if err != nil {
		return nil, err
	}

	// The caller gets a snapshot so the run can mutate the row freely. The
	// request context dies once the handler answers 202, so the run gets
	// its own.
	snapshot := *projection
	go s.run(context.Background(), projection, roster, params)

	return &snapshot, nil
}

// RunProjection is the synchronous variant: it blocks until the run
// finishes and returns the completed (or failed) projection.
func (s *ProjectionService) RunProjection(ctx context.Context, params ProjectionParams) (*models.Projection, error) {
	projection, roster, params, err := s.prepare(ctx, params)
	if err != nil {
		return nil, err
	}

	s.run(ctx, projection, roster, params)

	return projection, nil
}

// prepare validates the request, resolves the roster and persists the
// pending projection row.
func (s *ProjectionService) prepare(ctx context.Context, params ProjectionParams) (*models.Projection, []simulator.PlayerIdentity, ProjectionParams, error) {
	fail := func(err error) (*models.Projection, []simulator.PlayerIdentity, ProjectionParams, error) {
		return nil, nil, params, err
	}

	if params.Runs <= 0 {
		params.Runs = s.cfg.SimRuns
	}
	if params.Runs > s.cfg.MaxSimRuns {
		return fail(fmt.Errorf("runs %d exceeds the maximum of %d", params.Runs, s.cfg.MaxSimRuns))
	}
	if len(params.Categories) == 0 {
		return fail(fmt.Errorf("at least one stat category is required"))
	}
	if err := providers.ValidateCategories(params.Categories); err != nil {
		return fail(err)
	}
	if !params.End.After(params.Start) {
		return fail(fmt.Errorf("end date must be after start date"))
	}

	roster := params.Roster
	if len(roster) == 0 {
		if params.LeagueTeam == "" {
			return fail(fmt.Errorf("either a roster or a league team is required"))
		}
		if s.league == nil {
			return fail(fmt.Errorf("league integration is not configured"))
		}
		var err error
		roster, err = s.league.GetRoster(ctx, params.LeagueTeam, params.ExcludeUnavailable)
		if err != nil {
			return fail(fmt.Errorf("failed to resolve roster for %q: %w", params.LeagueTeam, err))
		}
	}
	if len(roster) == 0 {
		return fail(fmt.Errorf("roster is empty"))
	}

	rosterJSON, err := json.Marshal(roster)
	if err != nil {
		return fail(fmt.Errorf("failed to encode roster: %w", err))
	}

	projection := &models.Projection{
		LeagueTeam:   params.LeagueTeam,
		StartDate:    params.Start,
		EndDate:      params.End,
		Categories:   append([]string(nil), params.Categories...),
		Runs:         params.Runs,
		UseBootstrap: params.UseBootstrap,
		Status:       models.ProjectionPending,
		Roster:       datatypes.JSON(rosterJSON),
	}
	if err := s.store.CreateProjection(ctx, projection); err != nil {
		return fail(fmt.Errorf("failed to create projection: %w", err))
	}

	return projection, roster, params, nil
}

// run executes one projection to completion and owns the projection row
// from here on.
func (s *ProjectionService) run(ctx context.Context, projection *models.Projection, roster []simulator.PlayerIdentity, params ProjectionParams) {
	logger := s.logger.WithFields(logrus.Fields{
		"projection_id": projection.ID.String(),
		"players":       len(roster),
		"runs":          params.Runs,
	})

	projection.Status = models.ProjectionRunning
	if err := s.store.SaveProjection(ctx, projection); err != nil {
		logger.WithError(err).Error("Failed to mark projection running")
	}
	if s.hub != nil {
		s.hub.BroadcastProjectionEvent(projection.ID.String(), "projection_started", projection)
	}

	seed := params.Seed
	if seed == 0 {
		seed = s.cfg.SimSeed
	}
	sim := simulator.NewPeriodSimulator(s.stats, s.schedule, simulator.Config{
		Workers: s.cfg.SimWorkers,
		Seed:    seed,
	}, s.logger)

	players := make([]*simulator.Player, 0, len(roster))
	for i := range roster {
		players = append(players, simulator.NewPlayer(&roster[i]))
	}

	statCutoff := params.Start.AddDate(0, 0, -s.cfg.StatCutoffDays)
	started := time.Now()
	result, err := sim.GenerateStatTotals(ctx, players, params.Start, params.End,
		params.Categories, statCutoff, params.Runs, params.UseBootstrap)
	projection.DurationMs = time.Since(started).Milliseconds()

	if err != nil {
		logger.WithError(err).Error("Projection run failed")
		projection.Status = models.ProjectionFailed
		projection.Error = err.Error()
		if saveErr := s.store.SaveProjection(ctx, projection); saveErr != nil {
			logger.WithError(saveErr).Error("Failed to persist failed projection")
		}
		if s.hub != nil {
			s.hub.BroadcastProjectionEvent(projection.ID.String(), "projection_failed", projection)
		}
		return
	}

	summary, err := summaryJSONMap(result.Summarize())
	if err != nil {
		logger.WithError(err).Error("Failed to encode projection summary")
		projection.Status = models.ProjectionFailed
		projection.Error = err.Error()
	} else {
		projection.Status = models.ProjectionCompleted
		projection.Summary = summary
	}

	if err := s.store.SaveProjection(ctx, projection); err != nil {
		logger.WithError(err).Error("Failed to persist completed projection")
	}

	if s.cache != nil && projection.Status == models.ProjectionCompleted {
		ttl := time.Duration(s.cfg.CacheTTLProjections) * time.Second
		if err := s.cache.Set(ctx, ProjectionCacheKey(projection.ID.String()), projection, ttl); err != nil {
			logger.WithError(err).Debug("Failed to cache projection")
		}
	}

	if s.hub != nil {
		event := "projection_completed"
		if projection.Status == models.ProjectionFailed {
			event = "projection_failed"
		}
		s.hub.BroadcastProjectionEvent(projection.ID.String(), event, projection)
	}
	logger.WithField("duration_ms", projection.DurationMs).Info("Projection finished")
}

// GetProjection returns one projection, serving completed ones from cache
// when possible.
func (s *ProjectionService) GetProjection(ctx context.Context, id uuid.UUID) (*models.Projection, error) {
	if s.cache != nil {
		var cached models.Projection
		if err := s.cache.Get(ctx, ProjectionCacheKey(id.String()), &cached); err == nil {
			return &cached, nil
		}
	}
	return s.store.GetProjection(ctx, id)
}

// ListProjections pages through projection history, newest first.
func (s *ProjectionService) ListProjections(ctx context.Context, limit int, before time.Time) ([]models.Projection, error) {
	return s.store.ListProjections(ctx, limit, before)
}

func summaryJSONMap(summary simulator.Summary) (datatypes.JSONMap, error) {
	blob, err := json.Marshal(summary)
	if err != nil {
		return nil, err
	}
	out := datatypes.JSONMap{}
	if err := json.Unmarshal(blob, &out); err != nil {
		return nil, err
	}
	return out, nil
}
