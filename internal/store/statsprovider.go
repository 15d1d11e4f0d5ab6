package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/roto-sim/internal/models"
	"github.com/stitts-dev/roto-sim/internal/providers"
	"github.com/stitts-dev/roto-sim/internal/simulator"
)

// UpstreamStats is the slice of the stats-feed client the caching provider
// needs.
type UpstreamStats interface {
	ResolvePlayerID(ctx context.Context, player simulator.PlayerIdentity) (int, error)
	FetchHistoricalLines(ctx context.Context, player simulator.PlayerIdentity, since time.Time) (simulator.StatTable, error)
}

// CachingStatsProvider serves historical lines from the database when they
// are fresh, refreshing them from the upstream feed otherwise. When the feed
// is down it falls back to whatever is stored. It implements
// simulator.StatsProvider.
type CachingStatsProvider struct {
	store    *Store
	upstream UpstreamStats
	maxAge   time.Duration
	logger   *logrus.Logger
}

// NewCachingStatsProvider creates a new fetch-through stats provider
func NewCachingStatsProvider(store *Store, upstream UpstreamStats, maxAge time.Duration, logger *logrus.Logger) *CachingStatsProvider {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CachingStatsProvider{
		store:    store,
		upstream: upstream,
		maxAge:   maxAge,
		logger:   logger,
	}
}

// FetchHistoricalLines implements simulator.StatsProvider.
func (p *CachingStatsProvider) FetchHistoricalLines(ctx context.Context, identity simulator.PlayerIdentity, since time.Time) (simulator.StatTable, error) {
	externalID, err := p.upstream.ResolvePlayerID(ctx, identity)
	if err != nil {
		if errors.Is(err, providers.ErrPlayerNotFound) {
			p.logger.Warnf("No stats source for %s, skipping", identity.DisplayName())
			return simulator.StatTable{}, nil
		}
		return simulator.StatTable{}, err
	}

	player, err := p.store.EnsurePlayer(ctx, externalID, identity)
	if err != nil {
		return simulator.StatTable{}, err
	}

	if player.LastSyncedAt != nil && time.Since(*player.LastSyncedAt) < p.maxAge {
		lines, err := p.store.GameLinesSince(ctx, player.ID, since)
		if err == nil {
			return linesTable(lines), nil
		}
		p.logger.WithError(err).Warn("Failed to read stored game lines, refetching")
	}

	identity.ExternalID = strconv.Itoa(externalID)
	table, err := p.upstream.FetchHistoricalLines(ctx, identity, since)
	if err != nil {
		lines, storeErr := p.store.GameLinesSince(ctx, player.ID, since)
		if storeErr == nil && len(lines) > 0 {
			p.logger.WithError(err).Warnf("Stats feed unavailable, serving %d stored lines for %s",
				len(lines), identity.DisplayName())
			return linesTable(lines), nil
		}
		return simulator.StatTable{}, err
	}

	if _, err := p.store.SaveGameLines(ctx, player.ID, table); err != nil {
		p.logger.WithError(err).Warn("Failed to persist game lines")
	} else if err := p.store.MarkPlayerSynced(ctx, player.ID, time.Now()); err != nil {
		p.logger.WithError(err).Warn("Failed to stamp player sync time")
	}
	return table, nil
}

func linesTable(lines []models.GameLine) simulator.StatTable {
	rows := make([]simulator.StatRow, 0, len(lines))
	for i := range lines {
		rows = append(rows, simulator.StatRow{
			Date:   lines[i].GameDate,
			Values: lines[i].StatValues(),
		})
	}
	return simulator.StatTable{
		Columns: append([]string(nil), providers.StatCategories...),
		Rows:    rows,
	}
}
