package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/stitts-dev/roto-sim/internal/models"
	"github.com/stitts-dev/roto-sim/internal/simulator"
	"github.com/stitts-dev/roto-sim/pkg/database"
)

// Store is the persistence layer for players, game lines, projections and
// OAuth tokens.
type Store struct {
	db     *database.DB
	logger *logrus.Logger
}

// New creates a new Store
func New(db *database.DB, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{db: db, logger: logger}
}

// EnsurePlayer finds the player row for a stats-feed id, creating it on
// first sight and refreshing team/status when the roster disagrees.
func (s *Store) EnsurePlayer(ctx context.Context, externalID int, identity simulator.PlayerIdentity) (*models.Player, error) {
	var player models.Player
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&player).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		player = models.Player{
			ExternalID: externalID,
			FirstName:  identity.FirstName,
			LastName:   identity.LastName,
			Team:       identity.Team,
			Status:     identity.Status,
		}
		if player.Status == "" {
			player.Status = "NP"
		}
		if err := s.db.WithContext(ctx).Create(&player).Error; err != nil {
			return nil, fmt.Errorf("failed to create player: %w", err)
		}
		s.logger.Debugf("Created player %s (%d)", player.FullName(), externalID)
		return &player, nil
	}
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if identity.Team != "" && identity.Team != player.Team {
		updates["team"] = identity.Team
	}
	if identity.Status != "" && identity.Status != player.Status {
		updates["status"] = identity.Status
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&player).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return &player, nil
}

// GetPlayerByExternalID looks up a player by its stats-feed id.
func (s *Store) GetPlayerByExternalID(ctx context.Context, externalID int) (*models.Player, error) {
	var player models.Player
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&player).Error
	if err != nil {
		return nil, err
	}
	return &player, nil
}

// ListPlayers returns every tracked player ordered by name.
func (s *Store) ListPlayers(ctx context.Context) ([]models.Player, error) {
	var players []models.Player
	err := s.db.WithContext(ctx).Order("last_name ASC, first_name ASC").Find(&players).Error
	return players, err
}

// SearchPlayers finds tracked players by a case-insensitive name fragment,
// optionally narrowed to a team abbreviation.
func (s *Store) SearchPlayers(ctx context.Context, name, team string, limit int) ([]models.Player, error) {
	if limit <= 0 {
		limit = 25
	}
	query := s.db.WithContext(ctx).Order("last_name ASC, first_name ASC").Limit(limit)
	if name != "" {
		pattern := "%" + strings.ToLower(name) + "%"
		query = query.Where("LOWER(first_name || ' ' || last_name) LIKE ?", pattern)
	}
	if team != "" {
		query = query.Where("UPPER(team) = ?", strings.ToUpper(team))
	}

	var players []models.Player
	err := query.Find(&players).Error
	return players, err
}

// MarkPlayerSynced stamps the time the player's game lines were last
// refreshed from the stats feed.
func (s *Store) MarkPlayerSynced(ctx context.Context, playerID uint, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Player{}).
		Where("id = ?", playerID).
		Update("last_synced_at", at).Error
}

// SaveGameLines inserts table rows that are not stored yet. Existing
// player+date rows are left alone. Returns the number of new rows.
func (s *Store) SaveGameLines(ctx context.Context, playerID uint, table simulator.StatTable) (int, error) {
	created := 0
	for _, row := range table.Rows {
		var existing models.GameLine
		err := s.db.WithContext(ctx).
			Where("player_id = ? AND game_date = ?", playerID, row.Date).
			First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return created, err
		}

		line := models.GameLine{
			PlayerID: playerID,
			GameDate: row.Date,
			Season:   models.SeasonForDate(row.Date),
			Values:   models.GameLineValues(row.Values),
		}
		if err := s.db.WithContext(ctx).Create(&line).Error; err != nil {
			return created, fmt.Errorf("failed to save game line: %w", err)
		}
		created++
	}
	return created, nil
}

// GameLinesSince returns a player's stored box scores from a date onward,
// oldest first.
func (s *Store) GameLinesSince(ctx context.Context, playerID uint, since time.Time) ([]models.GameLine, error) {
	var lines []models.GameLine
	err := s.db.WithContext(ctx).
		Where("player_id = ? AND game_date >= ?", playerID, since).
		Order("game_date ASC").
		Find(&lines).Error
	return lines, err
}

// CreateProjection persists a new projection row.
func (s *Store) CreateProjection(ctx context.Context, projection *models.Projection) error {
	return s.db.WithContext(ctx).Create(projection).Error
}

// SaveProjection writes back all fields of an existing projection.
func (s *Store) SaveProjection(ctx context.Context, projection *models.Projection) error {
	return s.db.WithContext(ctx).Save(projection).Error
}

// GetProjection loads one projection by id.
func (s *Store) GetProjection(ctx context.Context, id uuid.UUID) (*models.Projection, error) {
	var projection models.Projection
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&projection).Error
	if err != nil {
		return nil, err
	}
	return &projection, nil
}

// ListProjections pages through projection history, newest first. A zero
// before time means "from the top".
func (s *Store) ListProjections(ctx context.Context, limit int, before time.Time) ([]models.Projection, error) {
	if limit <= 0 {
		limit = 20
	}
	query := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if !before.IsZero() {
		query = query.Where("created_at < ?", before)
	}

	var projections []models.Projection
	err := query.Find(&projections).Error
	return projections, err
}

// SaveToken stores one provider's OAuth grant, replacing any previous one.
func (s *Store) SaveToken(ctx context.Context, provider string, token *oauth2.Token) error {
	blob, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	var existing models.OAuthToken
	err = s.db.WithContext(ctx).Where("provider = ?", provider).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).Create(&models.OAuthToken{
			Provider: provider,
			Token:    datatypes.JSON(blob),
		}).Error
	}
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&existing).Update("token", datatypes.JSON(blob)).Error
}

// LoadToken retrieves one provider's stored OAuth grant.
func (s *Store) LoadToken(ctx context.Context, provider string) (*oauth2.Token, error) {
	var row models.OAuthToken
	err := s.db.WithContext(ctx).Where("provider = ?", provider).First(&row).Error
	if err != nil {
		return nil, fmt.Errorf("no %s token stored: %w", provider, err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(row.Token, &token); err != nil {
		return nil, fmt.Errorf("failed to decode %s token: %w", provider, err)
	}
	return &token, nil
}

// ProviderTokens binds the store to a single provider so it can serve as a
// token store for that provider's client.
type ProviderTokens struct {
	store    *Store
	provider string
}

// TokensFor returns a provider-bound token store.
func (s *Store) TokensFor(provider string) *ProviderTokens {
	return &ProviderTokens{store: s, provider: provider}
}

func (t *ProviderTokens) SaveToken(ctx context.Context, token *oauth2.Token) error {
	return t.store.SaveToken(ctx, t.provider, token)
}

func (t *ProviderTokens) LoadToken(ctx context.Context) (*oauth2.Token, error) {
	return t.store.LoadToken(ctx, t.provider)
}
