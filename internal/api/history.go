package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"bairrosgo/pkg/config"
	"bairrosgo/pkg/store"
)

var errHistoryDisabled = errors.New("query history is disabled")

// HistoryHandler serves the recorded queries.
type HistoryHandler struct {
	store      store.QueryStore // nil when history is disabled
	limit      int
	resolution int
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(s store.QueryStore, limit, resolution int) *HistoryHandler {
	if limit <= 0 {
		limit = 100
	}
	return &HistoryHandler{store: s, limit: limit, resolution: resolution}
}

func (h *HistoryHandler) enabled(w http.ResponseWriter) bool {
	if h.store == nil {
		writeError(w, http.StatusNotFound, errHistoryDisabled)
		return false
	}
	return true
}

// HandleRecent serves GET /api/history?limit=.
func (h *HistoryHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	limit := h.limit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, h.limit*10)
	}
	queries, err := h.store.RecentQueries(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": queries})
}

// HandleHeatmap serves GET /api/heatmap?res=&since=, where since is a duration such as 7d.
func (h *HistoryHandler) HandleHeatmap(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	q := r.URL.Query()
	res := h.resolution
	if s := q.Get("res"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 || n > 15 {
			writeError(w, http.StatusBadRequest, errors.New("res must be an H3 resolution between 0 and 15"))
			return
		}
		res = n
	}
	var since time.Time
	if s := q.Get("since"); s != "" {
		d, err := config.ParseDuration(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		since = time.Now().Add(-d)
	}
	cells, err := h.store.Heatmap(r.Context(), res, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	counts, err := h.store.NeighborhoodCounts(r.Context(), 20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resolution":    res,
		"cells":         cells,
		"neighborhoods": counts,
	})
}
