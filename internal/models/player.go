package models

import (
	"strconv"
	"time"

	"gorm.io/datatypes"

	"github.com/stitts-dev/roto-sim/internal/simulator"
)

// Player represents an NBA player tracked for projections
type Player struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	ExternalID   int        `gorm:"uniqueIndex;not null" json:"external_id"`
	FirstName    string     `gorm:"not null" json:"first_name"`
	LastName     string     `gorm:"not null" json:"last_name"`
	Team         string     `gorm:"type:varchar(10);index" json:"team"`
	Position     string     `gorm:"type:varchar(10)" json:"position"`
	Status       string     `gorm:"type:varchar(10);default:'NP'" json:"status"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// Associations
	GameLines []GameLine `gorm:"foreignKey:PlayerID" json:"game_lines,omitempty"`
}

// TableName specifies the table name for GORM
func (Player) TableName() string {
	return "players"
}

// FullName returns the player's display name
func (p *Player) FullName() string {
	return p.FirstName + " " + p.LastName
}

// ToIdentity converts the stored player into a roster identity.
func (p *Player) ToIdentity() simulator.PlayerIdentity {
	externalID := ""
	if p.ExternalID != 0 {
		externalID = strconv.Itoa(p.ExternalID)
	}
	return simulator.PlayerIdentity{
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Team:       p.Team,
		Status:     p.Status,
		ExternalID: externalID,
	}
}

// GameLine represents one player box score, keyed by player and game date
type GameLine struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	PlayerID  uint              `gorm:"not null;uniqueIndex:idx_player_game_date,priority:1" json:"player_id"`
	Player    *Player           `gorm:"foreignKey:PlayerID" json:"player,omitempty"`
	GameDate  time.Time         `gorm:"not null;uniqueIndex:idx_player_game_date,priority:2;index" json:"game_date"`
	Season    int               `gorm:"index" json:"season"`
	Values    datatypes.JSONMap `gorm:"type:jsonb" json:"values"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (GameLine) TableName() string {
	return "game_lines"
}

// StatValues converts the stored JSON values into a simulator stat line.
// Numbers come back from jsonb as float64; anything else is skipped.
func (g *GameLine) StatValues() simulator.StatLine {
	line := make(simulator.StatLine, len(g.Values))
	for k, v := range g.Values {
		switch n := v.(type) {
		case float64:
			line[k] = n
		case int64:
			line[k] = float64(n)
		case int:
			line[k] = float64(n)
		}
	}
	return line
}

// GameLineValues builds the jsonb payload for a stat line.
func GameLineValues(line simulator.StatLine) datatypes.JSONMap {
	values := make(datatypes.JSONMap, len(line))
	for k, v := range line {
		values[k] = v
	}
	return values
}

// SeasonForDate maps a game date to its NBA season start year. October
// onward belongs to the season that opened that fall.
func SeasonForDate(date time.Time) int {
	if date.Month() >= time.October {
		return date.Year()
	}
	return date.Year() - 1
}
