package simulator

import (
	"context"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// StatsProvider supplies historical per-game lines for one player, filtered
// to games on or after since. Rows carry at least the tracked category
// columns. Implementations may hit the network; errors propagate to the
// simulation caller untouched.
type StatsProvider interface {
	FetchHistoricalLines(ctx context.Context, player PlayerIdentity, since time.Time) (StatTable, error)
}

// ScheduleProvider counts a team's scheduled games within [start, end]
// inclusive. Only the calendar date of the bounds is significant.
type ScheduleProvider interface {
	CountGames(ctx context.Context, team string, start, end time.Time) (int, error)
}

// GamesColumn is the synthetic column appended to every simulated total,
// counting the per-game rows summed into that total.
const GamesColumn = "games"

// Config tunes the simulation pass pool. Workers <= 0 means runtime.NumCPU.
// Seed 0 means time-based; any other value makes runs reproducible (exactly
// so with Workers set to 1, distributionally otherwise since pass-to-worker
// assignment is scheduling-dependent).
type Config struct {
	Workers int
	Seed    int64
}

// Run is one simulated period total: every requested category summed across
// all players and games of one pass, plus the games counter.
type Run = StatLine

// Result is the empirical output distribution: numRuns total rows sharing
// one fixed column set. Row order is not meaningful.
type Result struct {
	Columns []string
	Runs    []Run
}

// PeriodSimulator orchestrates a projection: initializes every roster
// player's model from historical data, resolves per-team game counts for the
// simulated window, then runs repeated passes summing generated statlines
// into period totals.
type PeriodSimulator struct {
	stats    StatsProvider
	schedule ScheduleProvider
	config   Config
	logger   *logrus.Logger
}

// NewPeriodSimulator creates a simulator over the two data collaborators.
func NewPeriodSimulator(stats StatsProvider, schedule ScheduleProvider, config Config, logger *logrus.Logger) *PeriodSimulator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PeriodSimulator{
		stats:    stats,
		schedule: schedule,
		config:   config,
		logger:   logger,
	}
}

// GenerateStatTotals projects period totals for the roster over
// [simStart, simEnd].
//
// Per roster player it fetches historical lines on or after statCutoff and
// feeds them to the player's model; per distinct roster team it fetches the
// scheduled game count once. It then executes numRuns independent passes: in
// each pass every player generates one line per scheduled team game for the
// requested categories, and all lines are summed into a single total row
// with an appended games counter. Collaborator errors and category
// validation errors abort the projection; players without usable history are
// logged and contribute zero. A zero-length roster yields numRuns all-zero
// rows.
//
// Fetches fully resolve before the first pass starts; passes are pure
// computation fanned out across the configured worker pool.
func (ps *PeriodSimulator) GenerateStatTotals(ctx context.Context, roster []*Player, simStart, simEnd time.Time, categories []string, statCutoff time.Time, numRuns int, useBootstrap bool) (Result, error) {
	if numRuns < 0 {
		return Result{}, &ValidationError{Msg: "numRuns must not be negative"}
	}

	start := time.Now()
	columns := make([]string, 0, len(categories)+1)
	columns = append(columns, categories...)
	columns = append(columns, GamesColumn)

	// Resolve every player's history before simulating.
	for _, p := range roster {
		table, err := ps.stats.FetchHistoricalLines(ctx, *p.Identity, statCutoff)
		if err != nil {
			return Result{}, err
		}
		p.SetStats(table)
	}

	// One schedule lookup per distinct team, shared by its players.
	counts := make(map[string]int)
	for _, p := range roster {
		team := p.Identity.Team
		if _, ok := counts[team]; ok {
			continue
		}
		n, err := ps.schedule.CountGames(ctx, team, simStart, simEnd)
		if err != nil {
			return Result{}, err
		}
		counts[team] = n
	}

	// Players without usable state degrade to zero contribution, once, here.
	// Category validation for the rest fails the whole projection up front so
	// the pass loop below cannot error.
	active := make([]*Player, 0, len(roster))
	for _, p := range roster {
		if p.Readiness() == StateUninitialized {
			ps.logger.Warnf("No usable history for %s, contributing zero to totals", p.Identity.DisplayName())
			continue
		}
		if useBootstrap && p.Readiness() != StateBootstrap {
			ps.logger.Warnf("No game log for %s, contributing zero to totals", p.Identity.DisplayName())
			continue
		}
		if err := p.CheckCategories(categories); err != nil {
			return Result{}, err
		}
		active = append(active, p)
	}

	workers := ps.config.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > numRuns && numRuns > 0 {
		workers = numRuns
	}
	seed := ps.config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	passChan := make(chan int, numRuns)
	resultsChan := make(chan Run, numRuns)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			// Local RNG per worker; passes share no mutable state.
			rng := rand.New(rand.NewSource(seed + int64(workerID)))
			for range passChan {
				resultsChan <- ps.runPass(active, counts, categories, useBootstrap, rng)
			}
		}(w)
	}

	for i := 0; i < numRuns; i++ {
		if ctx.Err() != nil {
			break
		}
		passChan <- i
	}
	close(passChan)
	wg.Wait()
	close(resultsChan)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	rows := make([]Run, 0, numRuns)
	for row := range resultsChan {
		rows = append(rows, row)
	}

	ps.logger.WithFields(logrus.Fields{
		"runs":      len(rows),
		"players":   len(roster),
		"active":    len(active),
		"bootstrap": useBootstrap,
		"workers":   workers,
		"duration":  time.Since(start),
	}).Info("Period simulation complete")

	return Result{Columns: columns, Runs: rows}, nil
}

// runPass produces one period-total row. Every error path was ruled out
// before the pass pool started, so a failed generation simply contributes
// nothing, matching the degrade-to-zero contract.
func (ps *PeriodSimulator) runPass(active []*Player, counts map[string]int, categories []string, useBootstrap bool, rng *rand.Rand) Run {
	total := make(Run, len(categories)+1)
	for _, c := range categories {
		total[c] = 0
	}
	total[GamesColumn] = 0

	for _, p := range active {
		lines, err := p.GenerateStatline(categories, counts[p.Identity.Team], useBootstrap, rng)
		if err != nil {
			continue
		}
		for _, line := range lines {
			for _, c := range categories {
				total[c] += line[c]
			}
			total[GamesColumn]++
		}
	}
	return total
}
