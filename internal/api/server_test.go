package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bairrosgo/pkg/config"
	"bairrosgo/pkg/dataset"
	"bairrosgo/pkg/db"
	"bairrosgo/pkg/db/maintenance"
	"bairrosgo/pkg/geo"
	"bairrosgo/pkg/probe"
	"bairrosgo/pkg/render"
	"bairrosgo/pkg/store"
	"bairrosgo/pkg/tracker"
)

type stubSource struct {
	mu      sync.Mutex
	records []geo.Record
	err     error
}

func (s *stubSource) Load(context.Context) ([]geo.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records, s.err
}

func (s *stubSource) Describe() string { return "stub:curitiba" }

func square(t *testing.T, name string, minLon, minLat, maxLon, maxLat float64) geo.Record {
	t.Helper()
	r, err := geo.NewRecord(name, orb.Polygon{orb.Ring{
		{minLon, minLat}, {maxLon, minLat}, {maxLon, maxLat}, {minLon, maxLat}, {minLon, minLat},
	}})
	require.NoError(t, err)
	return r
}

type testEnv struct {
	server  *httptest.Server
	mgr     *dataset.Manager
	src     *stubSource
	store   *store.SQLiteStore
	resolve *ResolveHandler
}

func newTestEnv(t *testing.T, load bool) *testEnv {
	t.Helper()
	src := &stubSource{records: []geo.Record{
		square(t, "Centro", -49.28, -25.44, -49.26, -25.42),
		square(t, "Batel", -49.30, -25.45, -49.28, -25.43),
		square(t, "São Francisco", -49.28, -25.42, -49.26, -25.40),
	}}
	mgr := dataset.NewManager(src, dataset.WithIndex(0.01))
	if load {
		require.NoError(t, mgr.Load(context.Background()))
	}

	d, err := db.Init(filepath.Join(t.TempDir(), "api_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	st := store.NewSQLiteStore(d, 8)

	rh := NewResolveHandler(mgr, st, 2000, render.OptionsFromConfig(config.DefaultConfig().Map))
	h := Handlers{
		Resolve: rh,
		Dataset: NewDatasetHandler(mgr, nil, time.Second),
		History: NewHistoryHandler(st, 100, 8),
		Stats:   NewStatsHandler(tracker.New(), nil, rh.Counters(), mgr),
		Live:    NewLiveHandler(rh),
		Health: NewHealthHandler([]probe.Probe{
			{Name: "dataset", Check: mgr.Check, Critical: true},
			{Name: "database", Check: d.Check, Critical: true},
		}),
	}
	srv := httptest.NewServer(NewMux(h))
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, mgr: mgr, src: src, store: st, resolve: rh}
}

func (e *testEnv) get(t *testing.T, path string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp
}

func TestResolve(t *testing.T) {
	env := newTestEnv(t, true)

	tests := []struct {
		name      string
		query     string
		status    int
		found     bool
		want      string
		nearest   string
		wantError string
	}{
		{name: "Centro", query: "lat=-25.43&lon=-49.27", status: 200, found: true, want: "Centro"},
		{name: "shared edge first wins", query: "lat=-25.435&lon=-49.28", status: 200, found: true, want: "Centro"},
		{name: "Null Island", query: "lat=0&lon=0", status: 200},
		{name: "just outside", query: "lat=-25.43&lon=-49.2550", status: 200, nearest: "Centro"},
		{name: "missing lon", query: "lat=-25.43", status: 400, wantError: "required"},
		{name: "not a number", query: "lat=abc&lon=-49.27", status: 400, wantError: "numbers"},
		{name: "out of range", query: "lat=-95&lon=-49.27", status: 400, wantError: "latitude"},
		{name: "NaN", query: "lat=NaN&lon=-49.27", status: 400, wantError: "finite"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			resp := env.get(t, "/api/resolve?"+tt.query, &body)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.wantError != "" {
				assert.Contains(t, body["error"], tt.wantError)
				return
			}
			assert.Equal(t, tt.found, body["found"])
			assert.NotEmpty(t, body["id"])
			if tt.found {
				assert.Equal(t, tt.want, body["name"])
			} else {
				assert.Nil(t, body["name"])
			}
			if tt.nearest != "" {
				assert.Equal(t, tt.nearest, body["nearest"])
				assert.Greater(t, body["distance_m"], 0.0)
			}
		})
	}

	c := env.resolve.Counters().Snapshot()
	assert.Equal(t, int64(4), c.Queries)
	assert.Equal(t, int64(2), c.Hits)
	assert.Equal(t, int64(2), c.Misses)
	assert.Equal(t, int64(4), c.Invalid)
}

func TestResolve_NotLoaded(t *testing.T) {
	env := newTestEnv(t, false)

	var body map[string]any
	resp := env.get(t, "/api/resolve?lat=-25.43&lon=-49.27", &body)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, body["error"], "not loaded")

	resp = env.get(t, "/health", &body)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
}

func TestMap(t *testing.T) {
	env := newTestEnv(t, true)

	var body struct {
		Result ResolveResponse `json:"result"`
		View   struct {
			Found  bool       `json:"found"`
			Zoom   int        `json:"zoom"`
			Center [2]float64 `json:"center"`
			Marker struct {
				Popup string `json:"popup"`
			} `json:"marker"`
			Layers []struct {
				Name     string          `json:"name"`
				Features json.RawMessage `json:"features"`
			} `json:"layers"`
		} `json:"view"`
	}
	resp := env.get(t, "/api/map?lat=-25.41&lon=-49.27", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "São Francisco", body.Result.Name)
	assert.True(t, body.View.Found)
	assert.Equal(t, 14, body.View.Zoom)
	assert.Equal(t, [2]float64{-25.41, -49.27}, body.View.Center)
	assert.Equal(t, "Ponto: -25.4100, -49.2700<br>Bairro: São Francisco", body.View.Marker.Popup)
	require.Len(t, body.View.Layers, 2)
	assert.Equal(t, render.LayerFound, body.View.Layers[1].Name)

	resp = env.get(t, "/api/map?lat=0&lon=0", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, body.View.Found)
	assert.Equal(t, 12, body.View.Zoom)
}

func TestNeighborhoods(t *testing.T) {
	env := newTestEnv(t, true)

	var list struct {
		Count int      `json:"count"`
		Names []string `json:"names"`
	}
	env.get(t, "/api/neighborhoods", &list)
	assert.Equal(t, 3, list.Count)
	assert.Equal(t, []string{"Centro", "Batel", "São Francisco"}, list.Names)

	var feature map[string]any
	resp := env.get(t, "/api/neighborhoods/sao%20francisco", &feature)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/geo+json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "Feature", feature["type"])
	assert.Equal(t, "São Francisco", feature["properties"].(map[string]any)["name"])

	resp = env.get(t, "/api/neighborhoods/Portao", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDatasetStatusAndReload(t *testing.T) {
	env := newTestEnv(t, true)

	var st dataset.Status
	env.get(t, "/api/dataset", &st)
	assert.Equal(t, dataset.StateReady, st.State)
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, "stub:curitiba", st.Source)

	env.src.mu.Lock()
	env.src.err = errors.New("download failed")
	env.src.mu.Unlock()

	resp, err := http.Post(env.server.URL+"/api/dataset/reload", "application/json", nil)
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, dataset.StateReady, st.State, "previous dataset stays in service")
	assert.Equal(t, "download failed", st.LastError)

	var body map[string]any
	resp = env.get(t, "/api/resolve?lat=-25.43&lon=-49.27", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Centro", body["name"])

	env.src.mu.Lock()
	env.src.err = nil
	env.src.mu.Unlock()
	resp, err = http.Post(env.server.URL+"/api/dataset/reload", "application/json", nil)
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), st.Reloads)
	assert.Empty(t, st.LastError)
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t, true)
	for _, q := range []string{"lat=-25.43&lon=-49.27", "lat=-25.43&lon=-49.27", "lat=-25.44&lon=-49.29", "lat=0&lon=0"} {
		env.get(t, "/api/resolve?"+q, nil)
	}

	var hist struct {
		Queries []store.Query `json:"queries"`
	}
	env.get(t, "/api/history?limit=2", &hist)
	require.Len(t, hist.Queries, 2)
	assert.False(t, hist.Queries[0].Found, "most recent first")
	assert.Equal(t, "stub:curitiba", hist.Queries[0].Dataset)

	resp := env.get(t, "/api/history?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var heat struct {
		Resolution    int                       `json:"resolution"`
		Cells         []store.HeatCell          `json:"cells"`
		Neighborhoods []store.NeighborhoodCount `json:"neighborhoods"`
	}
	resp = env.get(t, "/api/heatmap?res=7&since=1d", &heat)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 7, heat.Resolution)
	require.NotEmpty(t, heat.Cells)
	assert.Equal(t, 2, heat.Cells[0].Count)
	require.NotEmpty(t, heat.Neighborhoods)
	assert.Equal(t, store.NeighborhoodCount{Name: "Centro", Count: 2}, heat.Neighborhoods[0])

	resp = env.get(t, "/api/heatmap?res=16", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = env.get(t, "/api/heatmap?since=soon", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistory_Disabled(t *testing.T) {
	h := NewHistoryHandler(nil, 0, 8)
	rec := httptest.NewRecorder()
	h.HandleRecent(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsAndHealth(t *testing.T) {
	env := newTestEnv(t, true)
	env.get(t, "/api/resolve?lat=-25.43&lon=-49.27", nil)

	var stats StatsResponse
	resp := env.get(t, "/api/stats", &stats)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), stats.Resolver.Hits)
	assert.Equal(t, 3, stats.Neighborhoods)
	assert.Positive(t, stats.Runtime.Goroutines)

	var health map[string]any
	resp = env.get(t, "/health", &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health["status"])
	assert.Len(t, health["checks"], 2)
}

func TestVersionAndRequestID(t *testing.T) {
	env := newTestEnv(t, true)
	var body map[string]string
	resp := env.get(t, "/api/version", &body)
	assert.NotEmpty(t, body["version"])
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
}

func TestIndexPage(t *testing.T) {
	env := newTestEnv(t, true)
	for _, path := range []string{"/", "/bairro/Centro"} {
		resp, err := http.Get(env.server.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"), path)
	}

	resp, err := http.Get(env.server.URL + "/missing.js")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLive(t *testing.T) {
	env := newTestEnv(t, true)
	u := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/live"

	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(liveRequest{Lat: -25.44, Lon: -49.29}))
	var msg liveMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.NotNil(t, msg.Result)
	assert.Equal(t, "Batel", msg.Result.Name)

	require.NoError(t, conn.WriteJSON(liveRequest{Lat: 120, Lon: 0}))
	msg = liveMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Nil(t, msg.Result)
	assert.Contains(t, msg.Error, "latitude")
}

func TestDatasetStatus_Storage(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	d, err := db.Init(filepath.Join(t.TempDir(), "storage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	st := store.NewSQLiteStore(d, 8)

	key := dataset.CacheKey("https://example.com/bairros.zip")
	h := NewDatasetHandler(env.mgr, nil, time.Second).WithStorage(st, key)

	status := func() map[string]any {
		rec := httptest.NewRecorder()
		h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/dataset", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		return body
	}

	body := status()
	assert.Equal(t, false, body["cached"])
	assert.NotContains(t, body, "cached_downloads")
	assert.NotContains(t, body, "maintenance_last_run")
	assert.Equal(t, "ready", body["state"])

	require.NoError(t, st.SetCache(ctx, key, []byte("PK\x03\x04zip")))
	require.NoError(t, maintenance.Run(ctx, st, d, maintenance.Options{}))

	body = status()
	assert.Equal(t, true, body["cached"])
	assert.Equal(t, []any{"https://example.com/bairros.zip"}, body["cached_downloads"])
	last, err := time.Parse(time.RFC3339, body["maintenance_last_run"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), last, time.Minute)
}
