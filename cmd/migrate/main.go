package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/stitts-dev/roto-sim/internal/models"
	"github.com/stitts-dev/roto-sim/pkg/config"
	"github.com/stitts-dev/roto-sim/pkg/database"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: migrate [up|down|seed]")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	db, err := database.NewConnection(cfg.DatabaseURL, cfg.IsDevelopment())
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	command := os.Args[1]

	switch command {
	case "up":
		if err := runMigrations(db); err != nil {
			logrus.Fatalf("Failed to run migrations: %v", err)
		}
		logrus.Info("Migrations completed successfully")

	case "down":
		if err := dropTables(db); err != nil {
			logrus.Fatalf("Failed to drop tables: %v", err)
		}
		logrus.Info("Tables dropped successfully")

	case "seed":
		if err := seedData(db); err != nil {
			logrus.Fatalf("Failed to seed data: %v", err)
		}
		logrus.Info("Data seeded successfully")

	default:
		log.Fatalf("Unknown command: %s", command)
	}
}

func runMigrations(db *database.DB) error {
	// Auto migrate all models
	if err := db.AutoMigrate(
		&models.Player{},
		&models.GameLine{},
		&models.Projection{},
		&models.OAuthToken{},
	); err != nil {
		return fmt.Errorf("failed to migrate models: %w", err)
	}

	// Create indexes gorm tags cannot express
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_projections_created_at ON projections(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_players_name_lower ON players(LOWER(first_name || ' ' || last_name))",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

func dropTables(db *database.DB) error {
	// Drop tables in reverse order to handle foreign key constraints
	tables := []string{
		"oauth_tokens",
		"projections",
		"game_lines",
		"players",
	}

	for _, table := range tables {
		if err := db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", table)).Error; err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}

	return nil
}

// seedData loads a small roster with three weeks of game lines so
// projections work locally before the stats feed has ever been hit.
func seedData(db *database.DB) error {
	type seedPlayer struct {
		externalID int
		first      string
		last       string
		team       string
		position   string
		pts, reb   float64
		ast        float64
		stl, blk   float64
		fg3m       float64
		turnover   float64
	}

	roster := []seedPlayer{
		{115, "Stephen", "Curry", "GSW", "G", 26.8, 4.4, 5.1, 0.9, 0.4, 4.8, 2.9},
		{246, "Nikola", "Jokic", "DEN", "C", 26.1, 12.3, 9.0, 1.4, 0.9, 1.1, 3.0},
		{140, "Luka", "Doncic", "DAL", "G", 33.9, 9.2, 9.8, 1.4, 0.5, 4.1, 4.0},
		{434, "Giannis", "Antetokounmpo", "MIL", "F", 30.4, 11.5, 6.5, 1.2, 1.1, 0.5, 3.4},
		{79, "Jayson", "Tatum", "BOS", "F", 26.9, 8.1, 4.9, 1.0, 0.6, 3.1, 2.5},
		{132, "Anthony", "Edwards", "MIN", "G", 25.9, 5.4, 5.1, 1.3, 0.5, 3.0, 3.1},
	}

	season := time.Now().Year()
	if time.Now().Month() < time.October {
		season--
	}

	for _, sp := range roster {
		player := &models.Player{
			ExternalID: sp.externalID,
			FirstName:  sp.first,
			LastName:   sp.last,
			Team:       sp.team,
			Position:   sp.position,
			Status:     "P",
		}
		if err := db.Create(player).Error; err != nil {
			return fmt.Errorf("failed to create player %s: %w", sp.last, err)
		}

		// Ten games over three weeks, oscillating around the averages so
		// the sampled distributions are not degenerate.
		lines := make([]models.GameLine, 0, 10)
		for g := 0; g < 10; g++ {
			swing := float64(g%5) - 2 // -2..+2
			gameDate := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -(21 - 2*g))
			lines = append(lines, models.GameLine{
				PlayerID: player.ID,
				GameDate: gameDate,
				Season:   season,
				Values: datatypes.JSONMap{
					"pts":      sp.pts + 2.5*swing,
					"reb":      sp.reb + 0.8*swing,
					"ast":      sp.ast + 0.7*swing,
					"stl":      sp.stl + 0.2*swing,
					"blk":      sp.blk + 0.2*swing,
					"fg3m":     sp.fg3m + 0.2*swing,
					"turnover": sp.turnover + 0.4*swing,
					"min":      34.0 + swing,
				},
			})
		}
		if err := db.Create(&lines).Error; err != nil {
			return fmt.Errorf("failed to create game lines for %s: %w", sp.last, err)
		}

		now := time.Now().UTC()
		if err := db.Model(player).Update("last_synced_at", now).Error; err != nil {
			return fmt.Errorf("failed to mark %s synced: %w", sp.last, err)
		}

		logrus.Infof("Seeded %s %s (%d games)", sp.first, sp.last, len(lines))
	}

	return nil
}
