package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"madridtracker/server/config"
	"madridtracker/server/internal/database"
	"madridtracker/server/internal/dates"
	"madridtracker/server/internal/lifecycle"
	"madridtracker/server/internal/models"
	"madridtracker/server/internal/pipeline"
	"madridtracker/server/internal/query"
	"madridtracker/server/internal/reconcile"
)

type MockTracker struct {
	mock.Mock
}

func (m *MockTracker) StartScrape(zoneNames []string) error {
	args := m.Called(zoneNames)
	return args.Error(0)
}

func (m *MockTracker) ResolveStale(ctx context.Context, thresholdDays int) (int64, error) {
	args := m.Called(ctx, thresholdDays)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTracker) LastRun() *pipeline.RunResult {
	return nil
}

func (m *MockTracker) Busy() bool {
	return false
}

type downDB struct{}

func (downDB) Ping(ctx context.Context) error { return errors.New("connection refused") }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func clockOn(t *testing.T, day string) dates.Clock {
	t.Helper()
	d, err := dates.Parse(day)
	require.NoError(t, err)
	return dates.FixedClock{T: d.Add(12 * time.Hour)}
}

func testAnalytics() config.AnalyticsConfig {
	return config.AnalyticsConfig{
		BargainThreshold:       -15,
		ZoneMinSample:          1,
		ZoneTrendMinProperties: 1,
		CholloMinListings:      20,
		CholloMinBarrio:        5,
		CholloZThreshold:       -1.5,
		DropWindowDays:         7,
		DropMinPercent:         5,
		DesperateMinDrops:      2,
		DesperateMinTotalDrop:  10,
	}
}

func observation(id, distrito string, price int) models.Observation {
	size := 100.0
	return models.Observation{
		ListingID:  id,
		Title:      "Piso " + id,
		URL:        "https://www.idealista.com/inmueble/" + id + "/",
		Price:      price,
		Distrito:   distrito,
		Barrio:     "Sol",
		SizeSqm:    &size,
		SellerType: "Particular",
	}
}

type testServer struct {
	router  *gin.Engine
	tracker *MockTracker
	db      *database.Database
}

// newTestServer reconciles two sweeps: 12345678 drops from 300k to 270k and
// 87654321 is only seen on the first day.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	db := database.NewTestDB(t)

	sweeps := []struct {
		day string
		obs []models.Observation
	}{
		{"2026-03-01", []models.Observation{observation("12345678", "Centro", 300000), observation("87654321", "Salamanca", 500000)}},
		{"2026-03-08", []models.Observation{observation("12345678", "Centro", 270000)}},
	}
	for _, s := range sweeps {
		engine := reconcile.NewEngine(db, reconcile.Options{Clock: clockOn(t, s.day)}, quietLogger())
		_, err := engine.Reconcile(ctx, s.obs)
		require.NoError(t, err)
	}

	svc := query.NewService(db, testAnalytics(), query.Options{Clock: clockOn(t, "2026-03-10")}, quietLogger())
	tracker := new(MockTracker)
	handler := NewHandler(Deps{
		Query:              svc,
		Tracker:            tracker,
		DB:                 db,
		Analytics:          testAnalytics(),
		StaleThresholdDays: 7,
	}, quietLogger())

	catalog := config.NewZoneCatalog([]config.Zone{
		{Distrito: "Centro", Barrio: "Sol", Path: "centro/sol"},
		{Distrito: "Centro", Barrio: "Lavapiés-Embajadores", Path: "centro/lavapies-embajadores"},
		{Distrito: "Salamanca", Barrio: "Recoletos", Path: "salamanca/recoletos"},
	})

	router := NewRouter("*", quietLogger())
	SetupRoutes(router, handler)
	SetupZoneRoutes(router, NewZonesHandler(catalog, svc))
	return &testServer{router: router, tracker: tracker, db: db}
}

func (s *testServer) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]interface{}](t, w)["status"])

	gin.SetMode(gin.TestMode)
	router := gin.New()
	SetupRoutes(router, NewHandler(Deps{DB: downDB{}}, quietLogger()))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetListings(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name     string
		query    string
		wantCode int
		wantIDs  []string
	}{
		{name: "All", query: "", wantCode: http.StatusOK, wantIDs: []string{"12345678", "87654321"}},
		{name: "By zone", query: "?zones=Salamanca", wantCode: http.StatusOK, wantIDs: []string{"87654321"}},
		{name: "Comma separated zones", query: "?zones=Centro,Salamanca", wantCode: http.StatusOK, wantIDs: []string{"12345678", "87654321"}},
		{name: "Price range", query: "?min_price=250000&max_price=300000", wantCode: http.StatusOK, wantIDs: []string{"12345678"}},
		{name: "Seller type all", query: "?seller_type=All", wantCode: http.StatusOK, wantIDs: []string{"12345678", "87654321"}},
		{name: "Seller type none match", query: "?seller_type=Agencia", wantCode: http.StatusOK, wantIDs: []string{}},
		{name: "Invalid status", query: "?status=pending", wantCode: http.StatusBadRequest},
		{name: "Inverted range", query: "?min_price=5&max_price=1", wantCode: http.StatusBadRequest},
		{name: "Non numeric price", query: "?min_price=abc", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodGet, "/api/listings"+tt.query, nil)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantCode != http.StatusOK {
				assert.Contains(t, decode[map[string]string](t, w), "error")
				return
			}
			ids := []string{}
			for _, l := range decode[[]models.Listing](t, w) {
				ids = append(ids, l.ListingID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestFindListing(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/listings/find?ref=https://www.idealista.com/inmueble/12345678/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 270000, decode[models.Listing](t, w).Price)

	w = s.do(t, http.MethodGet, "/api/listings/find?ref=11111111", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/listings/find?ref=https://www.idealista.com/venta-viviendas/", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/listings/find", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListingHistoryRoutes(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/listings/12345678/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[[]models.PriceHistoryEntry](t, w)
	require.Len(t, history, 2)
	require.NotNil(t, history[1].ChangePercent)
	assert.Equal(t, -10.0, *history[1].ChangePercent)

	w = s.do(t, http.MethodGet, "/api/listings/12345678/price-stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[models.PriceStats](t, w)
	assert.Equal(t, -30000, stats.TotalChange)
	assert.Equal(t, 1, stats.NumDrops)

	w = s.do(t, http.MethodGet, "/api/listings/11111111/price-stats", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnalyticsRoutes(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		path     string
		wantCode int
	}{
		{"/api/stats", http.StatusOK},
		{"/api/trends/zones", http.StatusOK},
		{"/api/trends/zones?zone_type=barrio", http.StatusOK},
		{"/api/trends/zones?zone_type=street", http.StatusBadRequest},
		{"/api/trends/zones?min_properties=x", http.StatusBadRequest},
		{"/api/trends/prices", http.StatusOK},
		{"/api/trends/prices?period=M", http.StatusOK},
		{"/api/trends/prices?period=Y", http.StatusBadRequest},
		{"/api/trends/price-per-sqm?period=D&distrito=Centro", http.StatusOK},
		{"/api/trends/new-vs-sold?days=14", http.StatusOK},
		{"/api/velocity", http.StatusOK},
		{"/api/opportunities?limit=1", http.StatusOK},
		{"/api/bargains?threshold=-5", http.StatusOK},
		{"/api/bargains?threshold=low", http.StatusBadRequest},
		{"/api/chollos", http.StatusOK},
		{"/api/price-drops", http.StatusOK},
		{"/api/price-drops?days=-1", http.StatusBadRequest},
		{"/api/desperate-sellers", http.StatusOK},
		{"/api/desperate-sellers?min_drops=0", http.StatusBadRequest},
		{"/api/price-history/summary", http.StatusOK},
		{"/api/dashboard", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := s.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}
}

func TestGetStats(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[models.DatabaseStats](t, w)
	assert.Equal(t, int64(2), stats.ActiveCount)
	assert.Equal(t, int64(0), stats.SoldCount)
}

func TestGetPriceDrops(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/price-drops", nil)
	require.Equal(t, http.StatusOK, w.Code)
	drops := decode[[]models.PriceDrop](t, w)
	require.Len(t, drops, 1)
	assert.Equal(t, "12345678", drops[0].ListingID)
	assert.Equal(t, 300000, drops[0].OldPrice)

	w = s.do(t, http.MethodGet, "/api/price-drops?min_drop_percent=15", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]models.PriceDrop](t, w))
}

func TestGetDashboard(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/dashboard", nil)
	require.Equal(t, http.StatusOK, w.Code)

	dash := decode[query.Dashboard](t, w)
	assert.Equal(t, int64(2), dash.Stats.ActiveCount)
	assert.Empty(t, dash.Errors)
	assert.Equal(t, int64(1), dash.HistorySummary.PriceDrops)
}

func TestZoneRoutes(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/zones", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]config.Zone](t, w), 3)

	w = s.do(t, http.MethodGet, "/api/zones?distrito=centro", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]config.Zone](t, w), 2)

	w = s.do(t, http.MethodGet, "/api/zones?distrito=Atlantis", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/zones/distritos", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Centro", "Salamanca"}, decode[[]string](t, w))

	w = s.do(t, http.MethodGet, "/api/zones/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/zones/stats?min_sample=many", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunScrape(t *testing.T) {
	tests := []struct {
		name     string
		body     []byte
		zones    []string
		err      error
		wantCode int
	}{
		{name: "All zones", body: nil, zones: nil, wantCode: http.StatusAccepted},
		{name: "Selected zones", body: []byte(`{"zones":["Centro"]}`), zones: []string{"Centro"}, wantCode: http.StatusAccepted},
		{name: "Unknown zone", body: []byte(`{"zones":["Atlantis"]}`), zones: []string{"Atlantis"}, err: fmt.Errorf("%w: Atlantis", config.ErrUnknownZone), wantCode: http.StatusBadRequest},
		{name: "Busy", body: []byte(`{}`), zones: nil, err: pipeline.ErrRunInProgress, wantCode: http.StatusConflict},
		{name: "Disabled", body: []byte(`{}`), zones: nil, err: pipeline.ErrScrapingDisabled, wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.tracker.On("StartScrape", tt.zones).Return(tt.err).Once()

			w := s.do(t, http.MethodPost, "/api/scrape", tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			s.tracker.AssertExpectations(t)
		})
	}

	t.Run("Malformed body", func(t *testing.T) {
		s := newTestServer(t)
		w := s.do(t, http.MethodPost, "/api/scrape", []byte(`{"zones":`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		s.tracker.AssertNotCalled(t, "StartScrape", mock.Anything)
	})
}

func TestResolveStale(t *testing.T) {
	s := newTestServer(t)
	s.tracker.On("ResolveStale", mock.Anything, 7).Return(int64(1), nil).Once()
	s.tracker.On("ResolveStale", mock.Anything, -1).Return(int64(0), fmt.Errorf("%w: -1", lifecycle.ErrInvalidThreshold)).Once()

	w := s.do(t, http.MethodPost, "/api/maintenance/resolve-stale", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]interface{}](t, w)
	assert.Equal(t, 1.0, body["retired"])
	assert.Equal(t, 7.0, body["threshold_days"])

	w = s.do(t, http.MethodPost, "/api/maintenance/resolve-stale?threshold_days=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/maintenance/resolve-stale?threshold_days=week", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.tracker.AssertExpectations(t)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", database.ErrNotFound), http.StatusNotFound},
		{query.ErrInvalidReference, http.StatusBadRequest},
		{pipeline.ErrRunInProgress, http.StatusConflict},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter("https://dash.example.com", quietLogger())
	router.GET("/api/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "https://dash.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
