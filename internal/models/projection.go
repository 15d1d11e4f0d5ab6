package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProjectionStatus represents the lifecycle state of a projection run
type ProjectionStatus string

const (
	ProjectionPending   ProjectionStatus = "pending"
	ProjectionRunning   ProjectionStatus = "running"
	ProjectionCompleted ProjectionStatus = "completed"
	ProjectionFailed    ProjectionStatus = "failed"
)

// Projection represents one Monte Carlo projection request and its outcome
type Projection struct {
	ID           uuid.UUID         `gorm:"type:uuid;primary_key" json:"id"`
	LeagueTeam   string            `gorm:"index" json:"league_team,omitempty"`
	StartDate    time.Time         `gorm:"not null" json:"start_date"`
	EndDate      time.Time         `gorm:"not null" json:"end_date"`
	Categories   pq.StringArray    `gorm:"type:text[]" json:"categories"`
	Runs         int               `gorm:"not null" json:"runs"`
	UseBootstrap bool              `gorm:"default:false" json:"use_bootstrap"`
	Status       ProjectionStatus  `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	Roster       datatypes.JSON    `gorm:"type:jsonb" json:"roster,omitempty"`
	Summary      datatypes.JSONMap `gorm:"type:jsonb" json:"summary,omitempty"`
	Error        string            `json:"error,omitempty"`
	DurationMs   int64             `json:"duration_ms"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Projection) TableName() string {
	return "projections"
}

// BeforeCreate assigns the id so inserts work on databases without a
// server-side uuid generator.
func (p *Projection) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// IsFinished reports whether the run reached a terminal state.
func (p *Projection) IsFinished() bool {
	return p.Status == ProjectionCompleted || p.Status == ProjectionFailed
}
