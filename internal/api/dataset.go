package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"bairrosgo/pkg/dataset"
	"bairrosgo/pkg/db/maintenance"
	"bairrosgo/pkg/store"
)

// DatasetStorage is the database state reported next to the dataset.
// *store.SQLiteStore implements it.
type DatasetStorage interface {
	store.StateStore
	HasCache(ctx context.Context, key string) (bool, error)
	ListCacheKeys(ctx context.Context, prefix string) ([]string, error)
}

// DatasetHandler reports and reloads the dataset.
type DatasetHandler struct {
	mgr      *dataset.Manager
	refresh  dataset.Source // source used by reload; bypasses the download cache
	timeout  time.Duration
	storage  DatasetStorage
	cacheKey string

	mu sync.Mutex // one reload at a time
}

// datasetStatusDTO extends the manager status with the download cache and housekeeping state.
type datasetStatusDTO struct {
	dataset.Status
	Cached             *bool     `json:"cached,omitempty"`
	CachedDownloads    []string  `json:"cached_downloads,omitempty"`
	MaintenanceLastRun time.Time `json:"maintenance_last_run,omitzero"`
}

// NewDatasetHandler creates a DatasetHandler. refresh may be nil to reuse the manager's source.
func NewDatasetHandler(mgr *dataset.Manager, refresh dataset.Source, timeout time.Duration) *DatasetHandler {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &DatasetHandler{mgr: mgr, refresh: refresh, timeout: timeout}
}

// WithStorage adds the download cache and maintenance state to the status. cacheKey is the
// cache entry of the configured download, empty for local sources.
func (h *DatasetHandler) WithStorage(s DatasetStorage, cacheKey string) *DatasetHandler {
	h.storage = s
	h.cacheKey = cacheKey
	return h
}

func (h *DatasetHandler) status(ctx context.Context) datasetStatusDTO {
	dto := datasetStatusDTO{Status: h.mgr.Status()}
	if h.storage == nil {
		return dto
	}
	if h.cacheKey != "" {
		if ok, err := h.storage.HasCache(ctx, h.cacheKey); err == nil {
			dto.Cached = &ok
		} else {
			slog.Warn("Failed to check dataset cache", "key", h.cacheKey, "error", err)
		}
	}
	keys, err := h.storage.ListCacheKeys(ctx, dataset.CacheKey(""))
	if err != nil {
		slog.Warn("Failed to list cached downloads", "error", err)
	}
	for _, k := range keys {
		dto.CachedDownloads = append(dto.CachedDownloads, strings.TrimPrefix(k, dataset.CacheKey("")))
	}
	if t, ok := maintenance.LastRun(ctx, h.storage); ok {
		dto.MaintenanceLastRun = t
	}
	return dto
}

// HandleStatus serves GET /api/dataset.
func (h *DatasetHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status(r.Context()))
}

// HandleReload serves POST /api/dataset/reload. A failed reload leaves the previous
// dataset in service and answers 502 with the status.
func (h *DatasetHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	if !h.mu.TryLock() {
		writeJSON(w, http.StatusConflict, h.status(r.Context()))
		return
	}
	defer h.mu.Unlock()

	// Detached from the request so a client disconnect does not abort a download.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
	defer cancel()

	var err error
	if h.refresh != nil {
		err = h.mgr.ReloadFrom(ctx, h.refresh)
	} else {
		err = h.mgr.Reload(ctx)
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, h.status(ctx))
}
