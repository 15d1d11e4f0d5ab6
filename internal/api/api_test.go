package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stitts-dev/roto-sim/internal/api"
	"github.com/stitts-dev/roto-sim/internal/api/handlers"
	"github.com/stitts-dev/roto-sim/internal/league"
	"github.com/stitts-dev/roto-sim/internal/models"
	"github.com/stitts-dev/roto-sim/internal/providers"
	"github.com/stitts-dev/roto-sim/internal/services"
	"github.com/stitts-dev/roto-sim/internal/simulator"
	"github.com/stitts-dev/roto-sim/internal/store"
	"github.com/stitts-dev/roto-sim/pkg/config"
	"github.com/stitts-dev/roto-sim/pkg/database"
)

// fakeUpstream stands in for the stats feed behind the caching provider.
type fakeUpstream struct {
	ids        map[string]int
	fetchCalls int
}

func (f *fakeUpstream) ResolvePlayerID(ctx context.Context, player simulator.PlayerIdentity) (int, error) {
	if player.ExternalID != "" {
		var id int
		fmt.Sscanf(player.ExternalID, "%d", &id)
		return id, nil
	}
	if id, ok := f.ids[player.LastName]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("%s: %w", player.LastName, providers.ErrPlayerNotFound)
}

func (f *fakeUpstream) FetchHistoricalLines(ctx context.Context, player simulator.PlayerIdentity, since time.Time) (simulator.StatTable, error) {
	f.fetchCalls++
	rows := make([]simulator.StatRow, 0, 4)
	for i := 0; i < 4; i++ {
		rows = append(rows, simulator.StatRow{
			Date:   time.Date(2025, 1, 10+2*i, 0, 0, 0, 0, time.UTC),
			Values: simulator.StatLine{"pts": 25 + float64(i), "reb": 6, "ast": 5},
		})
	}
	return simulator.StatTable{Columns: []string{"pts", "reb", "ast"}, Rows: rows}, nil
}

// statsFeedServer fakes the schedule and player endpoints of the box-score
// feed for the concrete HTTP client.
func statsFeedServer(t *testing.T) *httptest.Server {
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
			games := []map[string]interface{}{}
			switch r.URL.Query().Get("team_ids[]") {
			case "10":
				games = []map[string]interface{}{
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
				}
			case "8":
				games = []map[string]interface{}{
					{
						"id": 3, "date": "2025-02-05",
						"home_team":    map[string]interface{}{"id": 8, "abbreviation": "DEN"},
						"visitor_team": map[string]interface{}{"id": 14, "abbreviation": "LAL"},
					},
				}
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": games,
				"meta": map[string]interface{}{"per_page": 100},
			})
		case "/players/115":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"id": 115, "first_name": "Stephen", "last_name": "Curry",
					"team": map[string]interface{}{"id": 10, "abbreviation": "GSW"},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

type apiFixture struct {
	router   *gin.Engine
	store    *store.Store
	upstream *fakeUpstream
}

func setupAPI(t *testing.T, leagueClient *league.YahooClient) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	db := &database.DB{DB: gormDB}
	require.NoError(t, db.AutoMigrate(
		&models.Player{},
		&models.GameLine{},
		&models.Projection{},
		&models.OAuthToken{},
	))

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{
		SimRuns:             200,
		MaxSimRuns:          1000,
		SimWorkers:          1,
		SimSeed:             7,
		StatCutoffDays:      60,
		StatMaxAge:          time.Hour,
		CacheTTLGames:       60,
		CacheTTLProjections: 60,
	}

	st := store.New(db, logger)
	upstream := &fakeUpstream{ids: map[string]int{"Curry": 115, "Jokic": 246}}
	stats := store.NewCachingStatsProvider(st, upstream, cfg.StatMaxAge, logger)

	server := statsFeedServer(t)
	t.Cleanup(server.Close)
	feed := providers.NewBallDontLieClient(providers.Options{
		APIKey:          "test-key",
		BaseURL:         server.URL,
		RequestInterval: time.Millisecond,
		Logger:          logger,
	})

	projections := services.NewProjectionService(st, stats, feed, nil, nil, nil, cfg, logger)

	router := gin.New()
	api.SetupRoutes(router.Group("/api/v1"), st, stats, feed, leagueClient, projections, nil, cfg, logger)
	return &apiFixture{router: router, store: st, upstream: upstream}
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	envelope := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return rec, envelope
}

func projectionBody(extra map[string]interface{}) map[string]interface{} {
	body := map[string]interface{}{
		"roster": []map[string]interface{}{
			{"first_name": "Stephen", "last_name": "Curry", "team": "GSW"},
			{"first_name": "Nikola", "last_name": "Jokic", "team": "DEN"},
		},
		"start_date": "2025-02-01",
		"end_date":   "2025-02-07",
		"categories": []string{"pts", "reb"},
		"runs":       200,
	}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

func TestCreateProjection_SyncCompletes(t *testing.T) {
	fx := setupAPI(t, nil)

	rec, envelope := doJSON(t, fx.router, http.MethodPost, "/api/v1/projections", projectionBody(nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, envelope["success"])

	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, "completed", data["status"])
	assert.NotEmpty(t, data["id"])

	summary := data["summary"].(map[string]interface{})
	require.Contains(t, summary, "pts")
	require.Contains(t, summary, "games")

	// 2 GSW games + 1 DEN game in the window, every run.
	games := summary["games"].(map[string]interface{})
	assert.Equal(t, 3.0, games["mean"])
}

func TestCreateProjection_AsyncAccepted(t *testing.T) {
	fx := setupAPI(t, nil)

	rec, envelope := doJSON(t, fx.router, http.MethodPost, "/api/v1/projections",
		projectionBody(map[string]interface{}{"async": true}))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, "pending", data["status"])
	id := data["id"].(string)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		rec, envelope := doJSON(t, fx.router, http.MethodGet, "/api/v1/projections/"+id, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		data := envelope["data"].(map[string]interface{})
		return data["status"] == "completed"
	}, 5*time.Second, 25*time.Millisecond)
}

func TestCreateProjection_Validation(t *testing.T) {
	fx := setupAPI(t, nil)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing categories", projectionBody(map[string]interface{}{"categories": []string{}})},
		{"runs below minimum", projectionBody(map[string]interface{}{"runs": 50})},
		{"bad start date", projectionBody(map[string]interface{}{"start_date": "02/01/2025"})},
		{"unknown category", projectionBody(map[string]interface{}{"categories": []string{"tpm"}})},
		{"end before start", projectionBody(map[string]interface{}{"end_date": "2025-01-31"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, envelope := doJSON(t, fx.router, http.MethodPost, "/api/v1/projections", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, false, envelope["success"])
		})
	}
}

func TestGetProjection_Errors(t *testing.T) {
	fx := setupAPI(t, nil)

	rec, _ := doJSON(t, fx.router, http.MethodGet, "/api/v1/projections/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, fx.router, http.MethodGet, "/api/v1/projections/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListProjections(t *testing.T) {
	fx := setupAPI(t, nil)

	rec, _ := doJSON(t, fx.router, http.MethodPost, "/api/v1/projections", projectionBody(nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, envelope := doJSON(t, fx.router, http.MethodGet, "/api/v1/projections", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, 1.0, data["count"])

	rec, _ = doJSON(t, fx.router, http.MethodGet, "/api/v1/projections?limit=bad", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchPlayers(t *testing.T) {
	fx := setupAPI(t, nil)
	ctx := context.Background()
	_, err := fx.store.EnsurePlayer(ctx, 115, simulator.PlayerIdentity{
		FirstName: "Stephen", LastName: "Curry", Team: "GSW",
	})
	require.NoError(t, err)
	_, err = fx.store.EnsurePlayer(ctx, 246, simulator.PlayerIdentity{
		FirstName: "Nikola", LastName: "Jokic", Team: "DEN",
	})
	require.NoError(t, err)

	rec, envelope := doJSON(t, fx.router, http.MethodGet, "/api/v1/players/search?name=curry", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, 1.0, data["count"])

	rec, _ = doJSON(t, fx.router, http.MethodGet, "/api/v1/players/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetGameLog(t *testing.T) {
	fx := setupAPI(t, nil)
	_, err := fx.store.EnsurePlayer(context.Background(), 115, simulator.PlayerIdentity{
		FirstName: "Stephen", LastName: "Curry", Team: "GSW",
	})
	require.NoError(t, err)

	rec, envelope := doJSON(t, fx.router, http.MethodGet, "/api/v1/players/115/gamelog?since=2025-01-01", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, 4.0, data["count"])
	player := data["player"].(map[string]interface{})
	assert.Equal(t, "Curry", player["last_name"])

	games := data["games"].([]interface{})
	first := games[0].(map[string]interface{})
	assert.Equal(t, "2025-01-10", first["date"])

	// The second request is served from the store, not the feed.
	rec, _ = doJSON(t, fx.router, http.MethodGet, "/api/v1/players/115/gamelog?since=2025-01-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fx.upstream.fetchCalls)
}

func TestGetGameLog_UntrackedPlayerResolvedFromFeed(t *testing.T) {
	fx := setupAPI(t, nil)

	rec, envelope := doJSON(t, fx.router, http.MethodGet, "/api/v1/players/115/gamelog?since=2025-01-01", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := envelope["data"].(map[string]interface{})
	player := data["player"].(map[string]interface{})
	assert.Equal(t, "Stephen", player["first_name"])
}

func TestGetGameLog_UnknownPlayer(t *testing.T) {
	fx := setupAPI(t, nil)

	rec, _ := doJSON(t, fx.router, http.MethodGet, "/api/v1/players/999/gamelog", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, fx.router, http.MethodGet, "/api/v1/players/abc/gamelog", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleEndpoints(t *testing.T) {
	fx := setupAPI(t, nil)

	rec, envelope := doJSON(t, fx.router, http.MethodGet,
		"/api/v1/schedule/GSW/count?start=2025-02-01&end=2025-02-07", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, 2.0, data["games"])

	rec, envelope = doJSON(t, fx.router, http.MethodGet,
		"/api/v1/schedule/GSW?start=2025-02-01&end=2025-02-07", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = envelope["data"].(map[string]interface{})
	games := data["games"].([]interface{})
	require.Len(t, games, 2)
	first := games[0].(map[string]interface{})
	assert.Equal(t, "LAL", first["opponent"])
	assert.Equal(t, false, first["home"])

	rec, _ = doJSON(t, fx.router, http.MethodGet,
		"/api/v1/schedule/SEA/count?start=2025-02-01&end=2025-02-07", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, fx.router, http.MethodGet, "/api/v1/schedule/GSW/count?start=bad", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeagueEndpoints_NotConfigured(t *testing.T) {
	fx := setupAPI(t, nil)

	for _, path := range []string{
		"/api/v1/league/auth/url",
		"/api/v1/league/teams",
		"/api/v1/league/teams/dubs/roster",
		"/api/v1/league/teams/dubs/matchups",
	} {
		rec, _ := doJSON(t, fx.router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestLeagueEndpoints_NotAuthorized(t *testing.T) {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	db := &database.DB{DB: gormDB}
	require.NoError(t, db.AutoMigrate(&models.OAuthToken{}))

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	st := store.New(db, logger)

	client := league.NewYahooClient(league.Options{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		LeagueID:     "4242",
		Tokens:       st.TokensFor("yahoo"),
		Logger:       logger,
	})

	fx := setupAPI(t, client)

	rec, envelope := doJSON(t, fx.router, http.MethodGet, "/api/v1/league/teams", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())
	errBody := envelope["error"].(map[string]interface{})
	assert.Equal(t, "LEAGUE_AUTH_ERROR", errBody["code"])

	rec, _ = doJSON(t, fx.router, http.MethodGet, "/api/v1/league/auth/url", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	db := &database.DB{DB: gormDB}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	breakers := services.NewCircuitBreakerService(5, time.Minute, logger)

	router := gin.New()
	healthHandler := handlers.NewHealthHandler(db, nil, breakers)
	router.GET("/health", healthHandler.GetHealth)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["database"])
	assert.Equal(t, "disabled", checks["redis"])
	assert.Equal(t, "closed", checks["breaker_balldontlie"])
}
