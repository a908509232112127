package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"bairrosgo/pkg/dataset"
	"bairrosgo/pkg/geo"
	"bairrosgo/pkg/logging"
	"bairrosgo/pkg/render"
	"bairrosgo/pkg/store"
)

// Counters tracks resolver outcomes for /api/stats.
type Counters struct {
	Queries atomic.Int64
	Hits    atomic.Int64
	Misses  atomic.Int64
	Invalid atomic.Int64
}

// CountersDTO is the JSON form of Counters.
type CountersDTO struct {
	Queries int64 `json:"queries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Invalid int64 `json:"invalid"`
}

// Snapshot copies the counters.
func (c *Counters) Snapshot() CountersDTO {
	return CountersDTO{
		Queries: c.Queries.Load(),
		Hits:    c.Hits.Load(),
		Misses:  c.Misses.Load(),
		Invalid: c.Invalid.Load(),
	}
}

// ResolveResponse is the result of one lookup.
type ResolveResponse struct {
	ID        string  `json:"id"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Found     bool    `json:"found"`
	Name      string  `json:"name,omitempty"`
	Nearest   string  `json:"nearest,omitempty"`
	DistanceM float64 `json:"distance_m,omitempty"`
}

// ResolveHandler answers point lookups against the loaded dataset.
type ResolveHandler struct {
	mgr        *dataset.Manager
	history    store.QueryStore // nil disables history
	nearestMax float64          // meters; 0 disables the nearest hint
	view       render.Options
	counters   *Counters
}

// NewResolveHandler creates a ResolveHandler. history may be nil.
func NewResolveHandler(mgr *dataset.Manager, history store.QueryStore, nearestMax float64, view render.Options) *ResolveHandler {
	return &ResolveHandler{
		mgr:        mgr,
		history:    history,
		nearestMax: nearestMax,
		view:       view,
		counters:   &Counters{},
	}
}

// Counters exposes the outcome counters.
func (h *ResolveHandler) Counters() *Counters {
	return h.counters
}

// parsePoint reads and validates the lat and lon query parameters.
func parsePoint(r *http.Request) (geo.Point, error) {
	q := r.URL.Query()
	latStr, lonStr := q.Get("lat"), q.Get("lon")
	if latStr == "" || lonStr == "" {
		return geo.Point{}, fmt.Errorf("%w: lat and lon are required", geo.ErrInvalidPoint)
	}
	lat, err1 := strconv.ParseFloat(latStr, 64)
	lon, err2 := strconv.ParseFloat(lonStr, 64)
	if err1 != nil || err2 != nil {
		return geo.Point{}, fmt.Errorf("%w: lat and lon must be numbers", geo.ErrInvalidPoint)
	}
	p := geo.Point{Lon: lon, Lat: lat}
	if err := p.Validate(); err != nil {
		return geo.Point{}, err
	}
	return p, nil
}

// resolve looks the point up in one snapshot and records the query.
func (h *ResolveHandler) resolve(ctx context.Context, snap *dataset.Snapshot, p geo.Point) (ResolveResponse, *geo.Match) {
	h.counters.Queries.Add(1)
	resp := ResolveResponse{ID: uuid.NewString(), Lat: p.Lat, Lon: p.Lon}

	var match *geo.Match
	if m, ok := geo.Locate(snap.Resolver, p); ok {
		match = &m
		resp.Found = true
		resp.Name = m.Name()
		h.counters.Hits.Add(1)
	} else {
		h.counters.Misses.Add(1)
		if h.nearestMax > 0 {
			if nm, dist, ok := geo.Nearest(snap.Collection, p); ok && dist <= h.nearestMax {
				resp.Nearest = nm.Name()
				resp.DistanceM = dist
			}
		}
	}

	logging.TraceDefault("Resolve", "id", resp.ID, "point", p.String(), "found", resp.Found, "name", resp.Name)

	if h.history != nil {
		q := &store.Query{ID: resp.ID, Lat: p.Lat, Lon: p.Lon, Name: resp.Name, Found: resp.Found, Dataset: snap.Source}
		if err := h.history.RecordQuery(ctx, q); err != nil {
			slog.Warn("Failed to record query", "id", resp.ID, "error", err)
		}
	}
	return resp, match
}

// snapshot writes a 503 and returns nil while the dataset is not loaded.
func (h *ResolveHandler) snapshot(w http.ResponseWriter) *dataset.Snapshot {
	snap, err := h.mgr.Snapshot()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return nil
	}
	return snap
}

// HandleResolve serves GET /api/resolve?lat=&lon=.
func (h *ResolveHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	p, err := parsePoint(r)
	if err != nil {
		h.counters.Invalid.Add(1)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snap := h.snapshot(w)
	if snap == nil {
		return
	}
	resp, _ := h.resolve(r.Context(), snap, p)
	writeJSON(w, http.StatusOK, resp)
}

// HandleMap serves GET /api/map?lat=&lon=, the resolve result rendered as a map view.
func (h *ResolveHandler) HandleMap(w http.ResponseWriter, r *http.Request) {
	p, err := parsePoint(r)
	if err != nil {
		h.counters.Invalid.Add(1)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snap := h.snapshot(w)
	if snap == nil {
		return
	}
	resp, match := h.resolve(r.Context(), snap, p)
	writeJSON(w, http.StatusOK, struct {
		Result ResolveResponse `json:"result"`
		View   render.View     `json:"view"`
	}{resp, render.BuildView(snap.Collection, p, match, h.view)})
}

// HandleNeighborhoods serves GET /api/neighborhoods: names in dataset order.
func (h *ResolveHandler) HandleNeighborhoods(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshot(w)
	if snap == nil {
		return
	}
	names := snap.Collection.Names()
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(names),
		"names": names,
	})
}

// HandleNeighborhood serves GET /api/neighborhoods/{name} as a GeoJSON feature.
// The name is matched ignoring case and accents.
func (h *ResolveHandler) HandleNeighborhood(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshot(w)
	if snap == nil {
		return
	}
	name := r.PathValue("name")
	m, ok := snap.Collection.Lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("neighborhood %q not found", name))
		return
	}
	f := render.Feature(m.Record, m.Index)
	data, err := f.MarshalJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(data)
}

type errorResponse struct {
	Error string `json:"error"`
	Time  string `json:"time"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError && !errors.Is(err, dataset.ErrNotLoaded) {
		slog.Error("Request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Time: time.Now().UTC().Format(time.RFC3339)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
