package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/roto-sim/internal/simulator"
)

// MockCacheProvider implements a simple in-memory cache for testing
type MockCacheProvider struct {
	data map[string]interface{}
}

func NewMockCacheProvider() *MockCacheProvider {
	return &MockCacheProvider{
		data: make(map[string]interface{}),
	}
}

func (m *MockCacheProvider) SetSimple(key string, value interface{}, expiration time.Duration) error {
	m.data[key] = value
	return nil
}

func (m *MockCacheProvider) GetSimple(key string, dest interface{}) error {
	val, exists := m.data[key]
	if !exists {
		return redis.Nil
	}

	// Marshal and unmarshal to simulate real cache behavior
	data, _ := json.Marshal(val)
	return json.Unmarshal(data, dest)
}

func newTestClient(serverURL string, cache CacheProvider) *BallDontLieClient {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewBallDontLieClient(Options{
		APIKey:          "test-api-key",
		BaseURL:         serverURL,
		RequestInterval: time.Millisecond,
		Cache:           cache,
		Logger:          logger,
	})
}

func playersPayload(players ...map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": players,
		"meta": map[string]interface{}{"per_page": 100},
	}
}

func bdlPlayerJSON(id int, first, last, team string) map[string]interface{} {
	return map[string]interface{}{
		"id":         id,
		"first_name": first,
		"last_name":  last,
		"team":       map[string]interface{}{"id": 10, "abbreviation": team},
	}
}

func TestNewBallDontLieClient_Defaults(t *testing.T) {
	client := NewBallDontLieClient(Options{APIKey: "key"})

	assert.Equal(t, "https://api.balldontlie.io/v1", client.baseURL)
	assert.Equal(t, "key", client.apiKey)
	assert.NotNil(t, client.httpClient)
	assert.NotNil(t, client.rateLimiter)
	assert.NotNil(t, client.logger)
}

func TestFetchHistoricalLines(t *testing.T) {
	statsPages := map[string][]map[string]interface{}{
		"": {
			{
				"id":   1,
				"game": map[string]interface{}{"id": 100, "date": "2025-01-20"},
				"min":  "34:30", "pts": 30, "reb": 8, "ast": 11, "stl": 2, "blk": 0,
				"fgm": 10, "fga": 20, "fg_pct": 0.5, "fg3m": 4, "fg3a": 9, "fg3_pct": 0.444,
				"ftm": 6, "fta": 6, "ft_pct": 1.0, "oreb": 1, "dreb": 7, "turnover": 3, "pf": 2,
			},
			{
				"id":   2,
				"game": map[string]interface{}{"id": 101, "date": "2025-01-22T00:00:00.000Z"},
				"min":  "28", "pts": 18, "reb": 5, "ast": 6,
			},
		},
		"77": {
			{
				"id":   3,
				"game": map[string]interface{}{"id": 102, "date": "2025-01-18"},
				"min":  "31:00", "pts": 25, "reb": 10, "ast": 4,
			},
		},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-api-key", r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/players":
			assert.Equal(t, "Curry", r.URL.Query().Get("search"))
			json.NewEncoder(w).Encode(playersPayload(bdlPlayerJSON(115, "Stephen", "Curry", "GSW")))
		case "/stats":
			assert.Equal(t, "115", r.URL.Query().Get("player_ids[]"))
			assert.Equal(t, "2024-10-01", r.URL.Query().Get("start_date"))
			cursor := r.URL.Query().Get("cursor")
			page := map[string]interface{}{
				"data": statsPages[cursor],
				"meta": map[string]interface{}{"per_page": 100},
			}
			if cursor == "" {
				page["meta"] = map[string]interface{}{"next_cursor": 77, "per_page": 100}
			}
			json.NewEncoder(w).Encode(page)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil)
	since := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)

	table, err := client.FetchHistoricalLines(context.Background(), simulator.PlayerIdentity{
		FirstName: "Stephen", LastName: "Curry", Team: "GSW",
	}, since)

	require.NoError(t, err)
	assert.Equal(t, StatCategories, table.Columns)
	require.Equal(t, 3, table.Len())

	// Rows come back sorted by game date across pages.
	assert.Equal(t, time.Date(2025, 1, 18, 0, 0, 0, 0, time.UTC), table.Rows[0].Date)
	assert.Equal(t, time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC), table.Rows[1].Date)
	assert.Equal(t, time.Date(2025, 1, 22, 0, 0, 0, 0, time.UTC), table.Rows[2].Date)

	assert.Equal(t, 30.0, table.Rows[1].Values["pts"])
	assert.Equal(t, 11.0, table.Rows[1].Values["ast"])
	assert.InDelta(t, 34.5, table.Rows[1].Values["min"], 1e-9)
	assert.Equal(t, 0.444, table.Rows[1].Values["fg3_pct"])
	assert.Equal(t, 28.0, table.Rows[2].Values["min"])
	assert.Equal(t, 0.0, table.Rows[2].Values["blk"])
}

func TestFetchHistoricalLines_UnknownPlayer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/players", r.URL.Path)
		json.NewEncoder(w).Encode(playersPayload())
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil)

	table, err := client.FetchHistoricalLines(context.Background(), simulator.PlayerIdentity{
		FirstName: "Nobody", LastName: "Nowhere", Team: "GSW",
	}, time.Now().AddDate(-1, 0, 0))

	require.NoError(t, err)
	assert.True(t, table.IsEmpty())
}

func TestSearchPlayer_FirstInitialFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(playersPayload(
			bdlPlayerJSON(7, "Cameron", "Johnson", "BKN"),
			bdlPlayerJSON(8, "Keldon", "Johnson", "SAS"),
		))
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil)

	// Roster spells him "Cam"; the exact match fails, the initial wins.
	match, err := client.searchPlayer(context.Background(), "Cam", "Johnson", "BKN")

	require.NoError(t, err)
	assert.Equal(t, 7, match.ID)
}

func TestSearchPlayer_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(playersPayload(bdlPlayerJSON(7, "Cameron", "Johnson", "BKN")))
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil)

	_, err := client.searchPlayer(context.Background(), "Magic", "Johnson", "LAL")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPlayerNotFound)
	assert.Contains(t, err.Error(), "Magic Johnson")
}

func TestResolvePlayerID_ExternalIDSkipsSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected, got %s", r.URL.Path)
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil)

	id, err := client.ResolvePlayerID(context.Background(), simulator.PlayerIdentity{
		FirstName: "Nikola", LastName: "Jokic", Team: "DEN", ExternalID: "246",
	})

	require.NoError(t, err)
	assert.Equal(t, 246, id)
}

func TestResolvePlayerID_CacheHit(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		json.NewEncoder(w).Encode(playersPayload(bdlPlayerJSON(115, "Stephen", "Curry", "GSW")))
	}))
	defer server.Close()

	cache := NewMockCacheProvider()
	client := newTestClient(server.URL, cache)
	identity := simulator.PlayerIdentity{FirstName: "Stephen", LastName: "Curry", Team: "GSW"}

	id, err := client.ResolvePlayerID(context.Background(), identity)
	require.NoError(t, err)
	assert.Equal(t, 115, id)
	assert.Equal(t, 1, requests)

	id, err = client.ResolvePlayerID(context.Background(), identity)
	require.NoError(t, err)
	assert.Equal(t, 115, id)
	assert.Equal(t, 1, requests) // No API call made
}

func TestGetPlayer(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		switch r.URL.Path {
		case "/players/115":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": bdlPlayerJSON(115, "Stephen", "Curry", "GSW"),
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	cache := NewMockCacheProvider()
	client := newTestClient(server.URL, cache)

	identity, err := client.GetPlayer(context.Background(), 115)
	require.NoError(t, err)
	assert.Equal(t, "Stephen", identity.FirstName)
	assert.Equal(t, "Curry", identity.LastName)
	assert.Equal(t, "GSW", identity.Team)
	assert.Equal(t, "115", identity.ExternalID)

	// Second lookup is served from cache.
	_, err = client.GetPlayer(context.Background(), 115)
	require.NoError(t, err)
	assert.Equal(t, 1, requests)

	_, err = client.GetPlayer(context.Background(), 999)
	require.ErrorIs(t, err, ErrPlayerNotFound)
}

func scheduleServer(t *testing.T, gamesRequests *int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/teams":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]interface{}{
					{"id": 10, "abbreviation": "GSW", "full_name": "Golden State Warriors"},
					{"id": 8, "abbreviation": "DEN", "full_name": "Denver Nuggets"},
				},
				"meta": map[string]interface{}{"per_page": 100},
			})
		case "/games":
			if gamesRequests != nil {
				*gamesRequests++
			}
			assert.Equal(t, "10", r.URL.Query().Get("team_ids[]"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]interface{}{
					{
						"id": 1, "date": "2025-02-03",
						"home_team":    map[string]interface{}{"id": 10, "abbreviation": "GSW"},
						"visitor_team": map[string]interface{}{"id": 8, "abbreviation": "DEN"},
					},
					{
						"id": 2, "date": "2025-02-01",
						"home_team":    map[string]interface{}{"id": 14, "abbreviation": "LAL"},
						"visitor_team": map[string]interface{}{"id": 10, "abbreviation": "GSW"},
					},
				},
				"meta": map[string]interface{}{"per_page": 100},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
}

func TestGetSchedule(t *testing.T) {
	server := scheduleServer(t, nil)
	defer server.Close()

	client := newTestClient(server.URL, nil)
	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 2, 7, 0, 0, 0, 0, time.UTC)

	games, err := client.GetSchedule(context.Background(), "gsw", start, end)

	require.NoError(t, err)
	require.Len(t, games, 2)

	// Sorted by date; the road game at LAL comes first.
	assert.Equal(t, "LAL", games[0].Opponent)
	assert.False(t, games[0].Home)
	assert.Equal(t, "DEN", games[1].Opponent)
	assert.True(t, games[1].Home)
}

func TestCountGames_CachesCount(t *testing.T) {
	gamesRequests := 0
	server := scheduleServer(t, &gamesRequests)
	defer server.Close()

	cache := NewMockCacheProvider()
	client := newTestClient(server.URL, cache)
	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 2, 7, 0, 0, 0, 0, time.UTC)

	count, err := client.CountGames(context.Background(), "GSW", start, end)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, gamesRequests)

	count, err = client.CountGames(context.Background(), "GSW", start, end)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, gamesRequests) // Served from cache
}

func TestCountGames_UnknownTeam(t *testing.T) {
	server := scheduleServer(t, nil)
	defer server.Close()

	client := newTestClient(server.URL, nil)

	_, err := client.CountGames(context.Background(), "SEA", time.Now(), time.Now().AddDate(0, 0, 7))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTeamNotFound)
}

func TestGet_Non200Status(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil)

	var resp ballDontLiePlayersResponse
	err := client.get(context.Background(), "/players?search=x", &resp)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code "+strconv.Itoa(http.StatusTooManyRequests))
}

func TestParseMinutes(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"34:30", 34.5},
		{"28", 28},
		{"0:45", 0.75},
		{"", 0},
		{"DNP", 0},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, parseMinutes(tt.raw), 1e-9, "raw %q", tt.raw)
	}
}

func TestValidateCategories(t *testing.T) {
	assert.NoError(t, ValidateCategories([]string{"pts", "reb", "turnover"}))

	err := ValidateCategories([]string{"pts", "tpm"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tpm")
}
