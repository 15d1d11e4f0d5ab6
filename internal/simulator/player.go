package simulator

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// PlayerIdentity names a rostered player. It is owned by the caller and
// referenced, not copied, by the model; it never changes during a simulation.
type PlayerIdentity struct {
	FirstName  string
	LastName   string
	Team       string
	Status     string
	ExternalID string
}

// DisplayName returns "First Last" for logs and error messages.
func (id PlayerIdentity) DisplayName() string {
	return strings.TrimSpace(id.FirstName + " " + id.LastName)
}

// Readiness is the model's statistical state. Parametric-ready means a usable
// mean/stdev pair per category; bootstrap-ready additionally means a retained
// game log to resample from.
type Readiness int

const (
	StateUninitialized Readiness = iota
	StateParametric
	StateBootstrap
)

func (r Readiness) String() string {
	switch r {
	case StateParametric:
		return "parametric"
	case StateBootstrap:
		return "bootstrap"
	default:
		return "uninitialized"
	}
}

// Player is the per-player statistical model: an identity plus a distribution
// over stat categories, and optionally the historical game log the
// distribution was derived from. Created bare; statistics are attached later
// through SetDistribution or SetStats. Once attached, generation methods are
// read-only and safe to call from concurrent simulation passes.
type Player struct {
	Identity *PlayerIdentity

	state   Readiness
	dist    Distribution
	gameLog StatTable
	columns []string
	tracked map[string]struct{}
}

// NewPlayer creates an uninitialized model for the given identity.
func NewPlayer(identity *PlayerIdentity) *Player {
	return &Player{Identity: identity}
}

// Readiness reports the model's current statistical state.
func (p *Player) Readiness() Readiness {
	return p.state
}

// AvailableCategories returns the categories the model can currently
// generate, in sorted order. Empty until statistics are attached.
func (p *Player) AvailableCategories() []string {
	return append([]string(nil), p.columns...)
}

// Distribution returns a copy of the model's current per-category means and
// standard deviations.
func (p *Player) Distribution() Distribution {
	means := make(map[string]float64, len(p.dist.Means))
	stdevs := make(map[string]float64, len(p.dist.Stdevs))
	for k, v := range p.dist.Means {
		means[k] = v
	}
	for k, v := range p.dist.Stdevs {
		stdevs[k] = v
	}
	return Distribution{Means: means, Stdevs: stdevs}
}

// GameLog returns the retained, DNP-filtered historical table. Empty unless
// the model was initialized through SetStats.
func (p *Player) GameLog() StatTable {
	return p.gameLog
}

// SetDistribution initializes the model directly from per-category means and
// standard deviations, skipping history entirely. The two key sets must be
// identical. Any previously retained game log is discarded, so the model can
// no longer bootstrap-sample. The available-category set becomes exactly the
// supplied key set.
func (p *Player) SetDistribution(means, stdevs map[string]float64) error {
	dist, err := NewDistribution(means, stdevs)
	if err != nil {
		return err
	}

	p.gameLog = StatTable{}
	p.dist = dist
	p.setColumns(dist.Categories())
	if len(p.columns) == 0 {
		p.state = StateUninitialized
	} else {
		p.state = StateParametric
	}
	return nil
}

// SetStats initializes the model from a historical table. All-zero rows are
// treated as games the player did not play and dropped before anything else.
// The filtered table is retained for bootstrap sampling and a distribution is
// derived from it: per category, the sample mean and the unbiased (n-1)
// sample standard deviation. A single remaining row gives a standard
// deviation of zero, so parametric draws collapse to the mean rather than
// propagating NaN. A table with no usable rows leaves the model
// uninitialized with an empty available-category set.
//
// The available-category set becomes exactly the table's column set,
// replacing whatever a previous SetDistribution or SetStats installed.
func (p *Player) SetStats(table StatTable) {
	filtered := table.WithoutDNPGames()
	if filtered.IsEmpty() {
		p.gameLog = StatTable{}
		p.dist = Distribution{}
		p.setColumns(nil)
		p.state = StateUninitialized
		return
	}

	means := make(map[string]float64, len(filtered.Columns))
	stdevs := make(map[string]float64, len(filtered.Columns))
	for _, c := range filtered.Columns {
		vals := filtered.columnValues(c)
		means[c] = stat.Mean(vals, nil)
		if len(vals) < 2 {
			stdevs[c] = 0
		} else {
			stdevs[c] = stat.StdDev(vals, nil)
		}
	}

	p.gameLog = filtered
	p.dist = Distribution{Means: means, Stdevs: stdevs}
	p.setColumns(append([]string(nil), filtered.Columns...))
	p.state = StateBootstrap
}

func (p *Player) setColumns(columns []string) {
	p.columns = columns
	p.tracked = make(map[string]struct{}, len(columns))
	for _, c := range columns {
		p.tracked[c] = struct{}{}
	}
}

// CheckCategories verifies that every requested category is in the model's
// available set, returning a ValidationError naming the offenders otherwise.
func (p *Player) CheckCategories(categories []string) error {
	var missing []string
	for _, c := range categories {
		if _, ok := p.tracked[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{
			Msg: fmt.Sprintf("categories %v not tracked for %s (available: %v)",
				missing, p.Identity.DisplayName(), p.columns),
		}
	}
	return nil
}

// GenerateStatline synthesizes numGames per-game lines for the requested
// categories.
//
// With useBootstrap false, each line draws every category independently from
// a normal distribution with the stored mean and standard deviation. With
// useBootstrap true, each line is a whole historical row drawn uniformly with
// replacement, which preserves cross-category correlation within a game.
//
// An uninitialized model returns ErrUninitialized; a bootstrap request
// without a retained game log returns ErrNoGameLog. Both are recoverable
// "nothing to sample" states the caller should treat as an empty sequence.
// A requested category outside the available set is a ValidationError.
//
// rng may be nil for one-off use; pass an owned *rand.Rand when calling from
// concurrent workers or when reproducibility matters.
func (p *Player) GenerateStatline(categories []string, numGames int, useBootstrap bool, rng *rand.Rand) ([]StatLine, error) {
	if p.state == StateUninitialized {
		logrus.Warnf("No statistics initialized for %s, generating no statlines", p.Identity.DisplayName())
		return nil, fmt.Errorf("%s: %w", p.Identity.DisplayName(), ErrUninitialized)
	}
	if err := p.CheckCategories(categories); err != nil {
		return nil, err
	}
	if useBootstrap && p.state != StateBootstrap {
		logrus.Warnf("No game log retained for %s, generating no statlines", p.Identity.DisplayName())
		return nil, fmt.Errorf("%s: %w", p.Identity.DisplayName(), ErrNoGameLog)
	}

	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	lines := make([]StatLine, 0, numGames)
	if useBootstrap {
		for i := 0; i < numGames; i++ {
			row := p.gameLog.Rows[rng.Intn(len(p.gameLog.Rows))]
			line := make(StatLine, len(categories))
			for _, c := range categories {
				line[c] = row.Values[c]
			}
			lines = append(lines, line)
		}
		return lines, nil
	}

	for i := 0; i < numGames; i++ {
		line := make(StatLine, len(categories))
		for _, c := range categories {
			line[c] = rng.NormFloat64()*p.dist.Stdevs[c] + p.dist.Means[c]
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// GenerateStatlineAll is GenerateStatline over the full available-category
// set.
func (p *Player) GenerateStatlineAll(numGames int, useBootstrap bool, rng *rand.Rand) ([]StatLine, error) {
	return p.GenerateStatline(p.columns, numGames, useBootstrap, rng)
}
