package league

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/stitts-dev/roto-sim/internal/simulator"
)

// YahooEndpoint is Yahoo's OAuth2 authorization-code endpoint pair.
var YahooEndpoint = oauth2.Endpoint{
	AuthURL:  "https://api.login.yahoo.com/oauth2/request_auth",
	TokenURL: "https://api.login.yahoo.com/oauth2/get_token",
}

const defaultFantasyBaseURL = "https://fantasysports.yahooapis.com/fantasy/v2"

var (
	ErrNotAuthorized = errors.New("league access not authorized")
	ErrUnknownTeam   = errors.New("fantasy team not found in league")
)

// TokenStore persists the OAuth grant across restarts.
type TokenStore interface {
	SaveToken(ctx context.Context, token *oauth2.Token) error
	LoadToken(ctx context.Context) (*oauth2.Token, error)
}

// Breaker wraps outbound calls with circuit-breaker protection.
type Breaker interface {
	Execute(service string, fn func() (interface{}, error)) (interface{}, error)
}

// Matchup is one week of a fantasy team's head-to-head schedule.
type Matchup struct {
	Week      int       `json:"week"`
	WeekStart time.Time `json:"week_start"`
	WeekEnd   time.Time `json:"week_end"`
	Opponent  string    `json:"opponent"`
}

// Options configures a YahooClient. BaseURL, Endpoint and HTTPClient exist so
// tests can point the client at a local server.
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	LeagueID     string
	BaseURL      string
	Endpoint     oauth2.Endpoint
	Tokens       TokenStore
	Breaker      Breaker
	Logger       *logrus.Logger
	HTTPClient   *http.Client
}

// YahooClient reads league, roster and matchup data from the Yahoo Fantasy
// Sports API. Team names are matched loosely so users can type them the way
// the league page shows them.
type YahooClient struct {
	oauthCfg *oauth2.Config
	baseURL  string
	leagueID string
	tokens   TokenStore
	breaker  Breaker
	logger   *logrus.Logger
	baseHTTP *http.Client

	mu          sync.Mutex
	teams       map[string]string
	teamsLookup map[string]string
}

// NewYahooClient creates a new Yahoo Fantasy Sports client
func NewYahooClient(opts Options) *YahooClient {
	if opts.RedirectURI == "" {
		opts.RedirectURI = "oob"
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultFantasyBaseURL
	}
	if opts.Endpoint.AuthURL == "" {
		opts.Endpoint = YahooEndpoint
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &YahooClient{
		oauthCfg: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURI,
			Endpoint:     opts.Endpoint,
		},
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		leagueID: opts.LeagueID,
		tokens:   opts.Tokens,
		breaker:  opts.Breaker,
		logger:   opts.Logger,
		baseHTTP: opts.HTTPClient,
	}
}

// AuthCodeURL returns the URL the league owner visits to approve access.
func (c *YahooClient) AuthCodeURL() string {
	return c.oauthCfg.AuthCodeURL("", oauth2.SetAuthURLParam("language", "en-us"))
}

// Authorize exchanges the approval code for a token and persists it.
func (c *YahooClient) Authorize(ctx context.Context, code string) error {
	token, err := c.oauthCfg.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return fmt.Errorf("token exchange failed: %w", err)
	}
	if c.tokens != nil {
		if err := c.tokens.SaveToken(ctx, token); err != nil {
			return fmt.Errorf("failed to persist league token: %w", err)
		}
	}
	c.logger.Info("League access authorized")
	return nil
}

func (c *YahooClient) oauthContext(ctx context.Context) context.Context {
	if c.baseHTTP != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, c.baseHTTP)
	}
	return ctx
}

// httpClient builds an auto-refreshing client from the stored grant.
func (c *YahooClient) httpClient(ctx context.Context) (*http.Client, error) {
	if c.tokens == nil {
		return nil, ErrNotAuthorized
	}
	token, err := c.tokens.LoadToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}

	oauthCtx := c.oauthContext(ctx)
	source := &persistingTokenSource{
		ctx:    ctx,
		store:  c.tokens,
		src:    c.oauthCfg.TokenSource(oauthCtx, token),
		logger: c.logger,
		last:   token.AccessToken,
	}
	return oauth2.NewClient(oauthCtx, source), nil
}

// persistingTokenSource writes refreshed tokens back to the store so the
// next process start does not need a new grant.
type persistingTokenSource struct {
	ctx    context.Context
	store  TokenStore
	src    oauth2.TokenSource
	logger *logrus.Logger

	mu   sync.Mutex
	last string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := p.src.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if token.AccessToken != p.last {
		p.last = token.AccessToken
		if err := p.store.SaveToken(p.ctx, token); err != nil {
			p.logger.WithError(err).Warn("Failed to persist refreshed league token")
		}
	}
	return token, nil
}

// Yahoo fantasy XML resources
type yahooStandingsResponse struct {
	XMLName xml.Name        `xml:"fantasy_content"`
	Teams   []yahooTeamInfo `xml:"league>standings>teams>team"`
}

type yahooTeamInfo struct {
	TeamID string `xml:"team_id"`
	Name   string `xml:"name"`
}

type yahooMatchupsResponse struct {
	XMLName  xml.Name       `xml:"fantasy_content"`
	Matchups []yahooMatchup `xml:"team>matchups>matchup"`
}

type yahooMatchup struct {
	Week      string          `xml:"week"`
	WeekStart string          `xml:"week_start"`
	WeekEnd   string          `xml:"week_end"`
	Teams     []yahooTeamInfo `xml:"teams>team"`
}

type yahooRosterResponse struct {
	XMLName xml.Name            `xml:"fantasy_content"`
	Players []yahooRosterPlayer `xml:"team>roster>players>player"`
}

type yahooRosterPlayer struct {
	Name struct {
		First string `xml:"first"`
		Last  string `xml:"last"`
	} `xml:"name"`
	EditorialTeamAbbr string `xml:"editorial_team_abbr"`
	Status            string `xml:"status"`
}

func (c *YahooClient) get(ctx context.Context, path string, dest interface{}) error {
	client, err := c.httpClient(ctx)
	if err != nil {
		return err
	}

	fn := func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("yahoo %s: unexpected status code %d", path, resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return nil, xml.Unmarshal(body, dest)
	}

	if c.breaker != nil {
		_, err := c.breaker.Execute("yahoo", fn)
		return err
	}
	_, err = fn()
	return err
}

func (c *YahooClient) leagueKey() string {
	return "nba.l." + c.leagueID
}

// GetTeams lists the fantasy teams in the league as display name to team id.
func (c *YahooClient) GetTeams(ctx context.Context) (map[string]string, error) {
	if err := c.loadTeams(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	teams := make(map[string]string, len(c.teams))
	for name, id := range c.teams {
		teams[name] = id
	}
	return teams, nil
}

func (c *YahooClient) loadTeams(ctx context.Context) error {
	c.mu.Lock()
	loaded := c.teams != nil
	c.mu.Unlock()
	if loaded {
		return nil
	}

	var standings yahooStandingsResponse
	if err := c.get(ctx, "/league/"+c.leagueKey()+"/standings", &standings); err != nil {
		return err
	}

	teams := make(map[string]string, len(standings.Teams))
	lookup := make(map[string]string, len(standings.Teams))
	for _, team := range standings.Teams {
		teams[team.Name] = team.TeamID
		lookup[normalizeTeamName(team.Name)] = team.TeamID
	}

	c.mu.Lock()
	c.teams = teams
	c.teamsLookup = lookup
	c.mu.Unlock()

	c.logger.WithField("teams", len(teams)).Debug("Loaded league standings")
	return nil
}

func (c *YahooClient) teamID(ctx context.Context, team string) (string, error) {
	if err := c.loadTeams(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	id, ok := c.teamsLookup[normalizeTeamName(team)]
	c.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%q: %w", team, ErrUnknownTeam)
	}
	return id, nil
}

// GetRoster returns the current roster of a fantasy team as player
// identities. Players without a status flag are "NP"; with
// excludeUnavailable, injured ("INJ") and out ("O") players are dropped.
func (c *YahooClient) GetRoster(ctx context.Context, team string, excludeUnavailable bool) ([]simulator.PlayerIdentity, error) {
	id, err := c.teamID(ctx, team)
	if err != nil {
		return nil, err
	}

	var rosterResp yahooRosterResponse
	path := "/team/" + c.leagueKey() + ".t." + id + "/roster/players"
	if err := c.get(ctx, path, &rosterResp); err != nil {
		return nil, err
	}

	roster := make([]simulator.PlayerIdentity, 0, len(rosterResp.Players))
	for _, p := range rosterResp.Players {
		status := p.Status
		if status == "" {
			status = "NP"
		}
		if excludeUnavailable && (status == "INJ" || status == "O") {
			continue
		}
		roster = append(roster, simulator.PlayerIdentity{
			FirstName: p.Name.First,
			LastName:  p.Name.Last,
			Team:      p.EditorialTeamAbbr,
			Status:    status,
		})
	}
	return roster, nil
}

// GetMatchups returns a fantasy team's week-by-week opponents.
func (c *YahooClient) GetMatchups(ctx context.Context, team string) ([]Matchup, error) {
	id, err := c.teamID(ctx, team)
	if err != nil {
		return nil, err
	}

	var matchupsResp yahooMatchupsResponse
	path := "/team/" + c.leagueKey() + ".t." + id + "/standings"
	if err := c.get(ctx, path, &matchupsResp); err != nil {
		return nil, err
	}

	matchups := make([]Matchup, 0, len(matchupsResp.Matchups))
	for _, m := range matchupsResp.Matchups {
		week, _ := strconv.Atoi(m.Week)
		start, _ := time.Parse("2006-01-02", m.WeekStart)
		end, _ := time.Parse("2006-01-02", m.WeekEnd)

		opponent := ""
		for _, t := range m.Teams {
			if t.TeamID != id {
				opponent = t.Name
				break
			}
		}

		matchups = append(matchups, Matchup{
			Week:      week,
			WeekStart: start,
			WeekEnd:   end,
			Opponent:  opponent,
		})
	}
	return matchups, nil
}

// normalizeTeamName lowercases and strips punctuation so "Pete's Dunkers!"
// and "petes dunkers" resolve to the same team.
func normalizeTeamName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
