package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/roto-sim/internal/store"
	"github.com/stitts-dev/roto-sim/pkg/config"
)

// StatSyncService keeps tracked players' game lines fresh on a schedule so
// projection runs mostly hit the database instead of the rate-limited feed.
type StatSyncService struct {
	store     *store.Store
	upstream  store.UpstreamStats
	cfg       *config.Config
	logger    *logrus.Logger
	cron      *cron.Cron
	mu        sync.Mutex
	isRunning bool
}

// NewStatSyncService creates a new stat sync service
func NewStatSyncService(st *store.Store, upstream store.UpstreamStats, cfg *config.Config, logger *logrus.Logger) *StatSyncService {
	return &StatSyncService{
		store:    st,
		upstream: upstream,
		cfg:      cfg,
		logger:   logger,
		cron:     cron.New(),
	}
}

// Start begins the scheduled stat syncing
func (s *StatSyncService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("stat sync is already running")
	}

	// Refresh stale players regularly
	schedule := fmt.Sprintf("@every %s", s.cfg.StatSyncInterval.String())
	_, err := s.cron.AddFunc(schedule, s.syncStale)
	if err != nil {
		return fmt.Errorf("failed to schedule stat sync: %w", err)
	}

	// Full sweep overnight, after West Coast games have posted
	_, err = s.cron.AddFunc("0 4 * * *", s.syncAll)
	if err != nil {
		return fmt.Errorf("failed to schedule nightly sweep: %w", err)
	}

	s.cron.Start()
	s.isRunning = true

	// Run initial sync
	go s.syncStale()

	s.logger.Info("Stat sync service started")
	return nil
}

// Stop halts the scheduled stat syncing
func (s *StatSyncService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.isRunning = false
	s.logger.Info("Stat sync service stopped")
}

func (s *StatSyncService) syncStale() {
	s.sync(false)
}

func (s *StatSyncService) syncAll() {
	s.sync(true)
}

// sync refreshes game lines for tracked players. With force, every player
// is refreshed; otherwise players inside the freshness window are skipped.
func (s *StatSyncService) sync(force bool) {
	ctx := context.Background()

	players, err := s.store.ListPlayers(ctx)
	if err != nil {
		s.logger.Errorf("Stat sync failed to list players: %v", err)
		return
	}
	if len(players) == 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.cfg.StatCutoffDays)
	synced, skipped, failed := 0, 0, 0

	for i := range players {
		player := &players[i]
		if !force && player.LastSyncedAt != nil && time.Since(*player.LastSyncedAt) < s.cfg.StatMaxAge {
			skipped++
			continue
		}

		table, err := s.upstream.FetchHistoricalLines(ctx, player.ToIdentity(), cutoff)
		if err != nil {
			s.logger.Warnf("Stat sync failed for %s: %v", player.FullName(), err)
			failed++
			continue
		}

		created, err := s.store.SaveGameLines(ctx, player.ID, table)
		if err != nil {
			s.logger.Errorf("Failed to save game lines for %s: %v", player.FullName(), err)
			failed++
			continue
		}
		if err := s.store.MarkPlayerSynced(ctx, player.ID, time.Now()); err != nil {
			s.logger.Warnf("Failed to stamp sync time for %s: %v", player.FullName(), err)
		}

		if created > 0 {
			s.logger.Infof("Synced %d new game lines for %s", created, player.FullName())
		}
		synced++
	}

	s.logger.WithFields(logrus.Fields{
		"synced":  synced,
		"skipped": skipped,
		"failed":  failed,
	}).Info("Stat sync pass complete")
}
