package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/stitts-dev/roto-sim/internal/simulator"
)

// StatCategories is every per-game category the BALLDONTLIE box scores carry,
// and therefore the full column set of the tables this provider produces.
var StatCategories = []string{
	"ast", "blk", "dreb", "fg3_pct", "fg3a", "fg3m", "fg_pct", "fga", "fgm",
	"ft_pct", "fta", "ftm", "min", "oreb", "pf", "pts", "reb", "stl", "turnover",
}

var statCategorySet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(StatCategories))
	for _, c := range StatCategories {
		set[c] = struct{}{}
	}
	return set
}()

// ValidateCategories reports the first requested category the box-score feed
// does not carry.
func ValidateCategories(categories []string) error {
	for _, c := range categories {
		if _, ok := statCategorySet[c]; !ok {
			return fmt.Errorf("category %q is not tracked by the stats feed", c)
		}
	}
	return nil
}

// CacheProvider interface for cache operations
type CacheProvider interface {
	SetSimple(key string, value interface{}, expiration time.Duration) error
	GetSimple(key string, dest interface{}) error
}

// Breaker wraps outbound calls with circuit-breaker protection.
type Breaker interface {
	Execute(service string, fn func() (interface{}, error)) (interface{}, error)
}

var (
	ErrPlayerNotFound = errors.New("player not found")
	ErrTeamNotFound   = errors.New("team not found")
)

// ScheduledGame is one entry of a team's schedule within a window.
type ScheduledGame struct {
	Date     time.Time `json:"date"`
	Opponent string    `json:"opponent"`
	Home     bool      `json:"home"`
}

// Options configures a BallDontLieClient. Zero values take production
// defaults; tests point BaseURL at a local server and shrink the interval.
type Options struct {
	APIKey          string
	BaseURL         string
	RequestInterval time.Duration
	Timeout         time.Duration
	Cache           CacheProvider
	Breaker         Breaker
	Logger          *logrus.Logger
}

// BallDontLieClient talks to the BALLDONTLIE API. It implements both
// simulator.StatsProvider and simulator.ScheduleProvider.
type BallDontLieClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	cache       CacheProvider
	breaker     Breaker
	logger      *logrus.Logger
	rateLimiter *rate.Limiter

	teamsMu sync.Mutex
	teamIDs map[string]int
}

// NewBallDontLieClient creates a new BALLDONTLIE API client
func NewBallDontLieClient(opts Options) *BallDontLieClient {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.balldontlie.io/v1"
	}
	if opts.RequestInterval <= 0 {
		opts.RequestInterval = 12 * time.Second // 5 requests per minute for free tier
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &BallDontLieClient{
		httpClient:  &http.Client{Timeout: opts.Timeout},
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		cache:       opts.Cache,
		breaker:     opts.Breaker,
		logger:      opts.Logger,
		rateLimiter: rate.NewLimiter(rate.Every(opts.RequestInterval), 1),
	}
}

// BALLDONTLIE API response structures
type ballDontLiePlayersResponse struct {
	Data []ballDontLiePlayer `json:"data"`
	Meta ballDontLieMeta     `json:"meta"`
}

type ballDontLiePlayer struct {
	ID        int             `json:"id"`
	FirstName string          `json:"first_name"`
	LastName  string          `json:"last_name"`
	Position  string          `json:"position"`
	Team      ballDontLieTeam `json:"team"`
}

type ballDontLieTeam struct {
	ID           int    `json:"id"`
	Conference   string `json:"conference"`
	Division     string `json:"division"`
	City         string `json:"city"`
	Name         string `json:"name"`
	FullName     string `json:"full_name"`
	Abbreviation string `json:"abbreviation"`
}

type ballDontLiePlayerResponse struct {
	Data ballDontLiePlayer `json:"data"`
}

type ballDontLieMeta struct {
	NextCursor int64 `json:"next_cursor"`
	PerPage    int   `json:"per_page"`
}

type ballDontLieStatsResponse struct {
	Data []ballDontLieStats `json:"data"`
	Meta ballDontLieMeta    `json:"meta"`
}

type ballDontLieStats struct {
	ID       int               `json:"id"`
	Player   ballDontLiePlayer `json:"player"`
	Game     ballDontLieGame   `json:"game"`
	Team     ballDontLieTeam   `json:"team"`
	Min      string            `json:"min"`
	Fgm      int               `json:"fgm"`
	Fga      int               `json:"fga"`
	FgPct    float64           `json:"fg_pct"`
	Fg3m     int               `json:"fg3m"`
	Fg3a     int               `json:"fg3a"`
	Fg3Pct   float64           `json:"fg3_pct"`
	Ftm      int               `json:"ftm"`
	Fta      int               `json:"fta"`
	FtPct    float64           `json:"ft_pct"`
	Oreb     int               `json:"oreb"`
	Dreb     int               `json:"dreb"`
	Reb      int               `json:"reb"`
	Ast      int               `json:"ast"`
	Stl      int               `json:"stl"`
	Blk      int               `json:"blk"`
	Turnover int               `json:"turnover"`
	Pf       int               `json:"pf"`
	Pts      int               `json:"pts"`
}

type ballDontLieGame struct {
	ID          int             `json:"id"`
	Date        string          `json:"date"`
	Season      int             `json:"season"`
	Status      string          `json:"status"`
	Postseason  bool            `json:"postseason"`
	HomeTeam    ballDontLieTeam `json:"home_team"`
	VisitorTeam ballDontLieTeam `json:"visitor_team"`
}

type ballDontLieGamesResponse struct {
	Data []ballDontLieGame `json:"data"`
	Meta ballDontLieMeta   `json:"meta"`
}

type ballDontLieTeamsResponse struct {
	Data []ballDontLieTeam `json:"data"`
	Meta ballDontLieMeta   `json:"meta"`
}

// statusError reports a non-200 answer from the feed.
type statusError struct {
	path string
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("balldontlie %s: unexpected status code %d", e.path, e.code)
}

// get performs one rate-limited, breaker-wrapped GET and decodes the body.
func (c *BallDontLieClient) get(ctx context.Context, path string, dest interface{}) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	fn := func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, &statusError{path: path, code: resp.StatusCode}
		}
		return nil, json.NewDecoder(resp.Body).Decode(dest)
	}

	if c.breaker != nil {
		_, err := c.breaker.Execute("balldontlie", fn)
		return err
	}
	_, err := fn()
	return err
}

// searchPlayer resolves a name and team abbreviation to the feed's player
// record. Exact first/last/team match is tried first, then last name plus
// first initial for names the feed spells differently. Multiple survivors
// log a warning and take the first.
func (c *BallDontLieClient) searchPlayer(ctx context.Context, firstName, lastName, team string) (*ballDontLiePlayer, error) {
	var candidates []ballDontLiePlayer
	cursor := int64(0)

	for {
		path := fmt.Sprintf("/players?search=%s&per_page=100", url.QueryEscape(lastName))
		if cursor != 0 {
			path += fmt.Sprintf("&cursor=%d", cursor)
		}

		var playersResp ballDontLiePlayersResponse
		if err := c.get(ctx, path, &playersResp); err != nil {
			return nil, err
		}
		candidates = append(candidates, playersResp.Data...)

		if playersResp.Meta.NextCursor == 0 {
			break
		}
		cursor = playersResp.Meta.NextCursor
	}

	matches := filterPlayers(candidates, func(p ballDontLiePlayer) bool {
		return strings.EqualFold(p.FirstName, firstName) &&
			strings.EqualFold(p.LastName, lastName) &&
			strings.EqualFold(p.Team.Abbreviation, team)
	})

	// Feed spellings drift from fantasy rosters; retry on the initial.
	if len(matches) == 0 && firstName != "" {
		initial := strings.ToLower(firstName[:1])
		matches = filterPlayers(candidates, func(p ballDontLiePlayer) bool {
			return strings.EqualFold(p.LastName, lastName) &&
				strings.HasPrefix(strings.ToLower(p.FirstName), initial) &&
				strings.EqualFold(p.Team.Abbreviation, team)
		})
	}

	if len(matches) == 0 {
		c.logger.Warnf("No player found matching %s %s (%s)", firstName, lastName, team)
		return nil, fmt.Errorf("%s %s (%s): %w", firstName, lastName, team, ErrPlayerNotFound)
	}
	if len(matches) > 1 {
		c.logger.Warnf("Multiple players found matching %s %s (%s), using the first", firstName, lastName, team)
	}
	return &matches[0], nil
}

func filterPlayers(players []ballDontLiePlayer, keep func(ballDontLiePlayer) bool) []ballDontLiePlayer {
	var out []ballDontLiePlayer
	for _, p := range players {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// ResolvePlayerID returns the feed's numeric id for a roster identity, using
// the identity's external id when present and a cached name search otherwise.
func (c *BallDontLieClient) ResolvePlayerID(ctx context.Context, player simulator.PlayerIdentity) (int, error) {
	if player.ExternalID != "" {
		id, err := strconv.Atoi(player.ExternalID)
		if err != nil {
			return 0, fmt.Errorf("invalid external id %q for %s: %w", player.ExternalID, player.DisplayName(), err)
		}
		return id, nil
	}

	cacheKey := fmt.Sprintf("balldontlie:playerid:%s:%s:%s",
		strings.ToLower(player.FirstName), strings.ToLower(player.LastName), strings.ToUpper(player.Team))
	if c.cache != nil {
		var id int
		if err := c.cache.GetSimple(cacheKey, &id); err == nil && id != 0 {
			return id, nil
		}
	}

	match, err := c.searchPlayer(ctx, player.FirstName, player.LastName, player.Team)
	if err != nil {
		return 0, err
	}

	if c.cache != nil {
		c.cache.SetSimple(cacheKey, match.ID, 24*time.Hour)
	}
	return match.ID, nil
}

// GetPlayer fetches one player by the feed's numeric id.
func (c *BallDontLieClient) GetPlayer(ctx context.Context, id int) (simulator.PlayerIdentity, error) {
	cacheKey := fmt.Sprintf("balldontlie:player:%d", id)
	if c.cache != nil {
		var cached simulator.PlayerIdentity
		if err := c.cache.GetSimple(cacheKey, &cached); err == nil && cached.LastName != "" {
			return cached, nil
		}
	}

	var resp ballDontLiePlayerResponse
	if err := c.get(ctx, fmt.Sprintf("/players/%d", id), &resp); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return simulator.PlayerIdentity{}, fmt.Errorf("player %d: %w", id, ErrPlayerNotFound)
		}
		return simulator.PlayerIdentity{}, err
	}

	identity := simulator.PlayerIdentity{
		FirstName:  resp.Data.FirstName,
		LastName:   resp.Data.LastName,
		Team:       resp.Data.Team.Abbreviation,
		ExternalID: strconv.Itoa(resp.Data.ID),
	}
	if c.cache != nil {
		c.cache.SetSimple(cacheKey, identity, 24*time.Hour)
	}
	return identity, nil
}

// FetchHistoricalLines implements simulator.StatsProvider: one row per game
// on or after since, over the full StatCategories column set, sorted by game
// date. A player the feed cannot match yields an empty table (the model's
// not-ready path), not an error.
func (c *BallDontLieClient) FetchHistoricalLines(ctx context.Context, player simulator.PlayerIdentity, since time.Time) (simulator.StatTable, error) {
	id, err := c.ResolvePlayerID(ctx, player)
	if err != nil {
		if errors.Is(err, ErrPlayerNotFound) {
			return simulator.StatTable{}, nil
		}
		return simulator.StatTable{}, err
	}

	startDate := since.Format("2006-01-02")
	endDate := time.Now().UTC().Format("2006-01-02")

	var rows []simulator.StatRow
	cursor := int64(0)
	for {
		path := fmt.Sprintf("/stats?player_ids[]=%d&start_date=%s&end_date=%s&per_page=100", id, startDate, endDate)
		if cursor != 0 {
			path += fmt.Sprintf("&cursor=%d", cursor)
		}

		var statsResp ballDontLieStatsResponse
		if err := c.get(ctx, path, &statsResp); err != nil {
			return simulator.StatTable{}, err
		}

		for _, s := range statsResp.Data {
			rows = append(rows, simulator.StatRow{
				Date:   parseGameDate(s.Game.Date),
				Values: statValues(s),
			})
		}

		if statsResp.Meta.NextCursor == 0 {
			break
		}
		cursor = statsResp.Meta.NextCursor
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })

	return simulator.StatTable{
		Columns: append([]string(nil), StatCategories...),
		Rows:    rows,
	}, nil
}

func statValues(s ballDontLieStats) simulator.StatLine {
	return simulator.StatLine{
		"ast":      float64(s.Ast),
		"blk":      float64(s.Blk),
		"dreb":     float64(s.Dreb),
		"fg3_pct":  s.Fg3Pct,
		"fg3a":     float64(s.Fg3a),
		"fg3m":     float64(s.Fg3m),
		"fg_pct":   s.FgPct,
		"fga":      float64(s.Fga),
		"fgm":      float64(s.Fgm),
		"ft_pct":   s.FtPct,
		"fta":      float64(s.Fta),
		"ftm":      float64(s.Ftm),
		"min":      parseMinutes(s.Min),
		"oreb":     float64(s.Oreb),
		"pf":       float64(s.Pf),
		"pts":      float64(s.Pts),
		"reb":      float64(s.Reb),
		"stl":      float64(s.Stl),
		"turnover": float64(s.Turnover),
	}
}

// parseMinutes handles both "34" and "34:27" minute strings.
func parseMinutes(raw string) float64 {
	if raw == "" {
		return 0
	}
	parts := strings.Split(raw, ":")
	mins, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	if len(parts) > 1 {
		if secs, err := strconv.Atoi(parts[1]); err == nil {
			return float64(mins) + float64(secs)/60
		}
	}
	return float64(mins)
}

func parseGameDate(raw string) time.Time {
	// Older seasons use RFC3339 timestamps, current ones plain dates.
	if i := strings.IndexByte(raw, 'T'); i > 0 {
		raw = raw[:i]
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// teamID maps a team abbreviation to the feed's team id, loading the full
// team list once and keeping it for the life of the client.
func (c *BallDontLieClient) teamID(ctx context.Context, team string) (int, error) {
	c.teamsMu.Lock()
	defer c.teamsMu.Unlock()

	if c.teamIDs == nil {
		ids := make(map[string]int)
		cursor := int64(0)
		for {
			path := "/teams?per_page=100"
			if cursor != 0 {
				path += fmt.Sprintf("&cursor=%d", cursor)
			}

			var teamsResp ballDontLieTeamsResponse
			if err := c.get(ctx, path, &teamsResp); err != nil {
				return 0, err
			}
			for _, t := range teamsResp.Data {
				ids[strings.ToUpper(t.Abbreviation)] = t.ID
			}

			if teamsResp.Meta.NextCursor == 0 {
				break
			}
			cursor = teamsResp.Meta.NextCursor
		}
		c.teamIDs = ids
	}

	id, ok := c.teamIDs[strings.ToUpper(team)]
	if !ok {
		return 0, fmt.Errorf("%s: %w", team, ErrTeamNotFound)
	}
	return id, nil
}

// GetSchedule lists a team's games within [start, end] inclusive, sorted by
// date.
func (c *BallDontLieClient) GetSchedule(ctx context.Context, team string, start, end time.Time) ([]ScheduledGame, error) {
	id, err := c.teamID(ctx, team)
	if err != nil {
		return nil, err
	}

	var games []ScheduledGame
	cursor := int64(0)
	for {
		path := fmt.Sprintf("/games?team_ids[]=%d&start_date=%s&end_date=%s&per_page=100",
			id, start.Format("2006-01-02"), end.Format("2006-01-02"))
		if cursor != 0 {
			path += fmt.Sprintf("&cursor=%d", cursor)
		}

		var gamesResp ballDontLieGamesResponse
		if err := c.get(ctx, path, &gamesResp); err != nil {
			return nil, err
		}

		for _, g := range gamesResp.Data {
			home := g.HomeTeam.ID == id
			opponent := g.HomeTeam.Abbreviation
			if home {
				opponent = g.VisitorTeam.Abbreviation
			}
			games = append(games, ScheduledGame{
				Date:     parseGameDate(g.Date),
				Opponent: opponent,
				Home:     home,
			})
		}

		if gamesResp.Meta.NextCursor == 0 {
			break
		}
		cursor = gamesResp.Meta.NextCursor
	}

	sort.Slice(games, func(i, j int) bool { return games[i].Date.Before(games[j].Date) })
	return games, nil
}

// CountGames implements simulator.ScheduleProvider.
func (c *BallDontLieClient) CountGames(ctx context.Context, team string, start, end time.Time) (int, error) {
	cacheKey := fmt.Sprintf("balldontlie:gamecount:%s:%s:%s",
		strings.ToUpper(team), start.Format("2006-01-02"), end.Format("2006-01-02"))
	if c.cache != nil {
		var count int
		if err := c.cache.GetSimple(cacheKey, &count); err == nil {
			return count, nil
		}
	}

	games, err := c.GetSchedule(ctx, team, start, end)
	if err != nil {
		return 0, err
	}

	if c.cache != nil {
		c.cache.SetSimple(cacheKey, len(games), time.Hour)
	}
	return len(games), nil
}
