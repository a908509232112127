package api

import (
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"bairrosgo/internal/ui"
	"bairrosgo/pkg/probe"
	"bairrosgo/pkg/version"
)

// Handlers groups the endpoint handlers wired into the server. Nil handlers leave their
// routes unregistered.
type Handlers struct {
	Resolve *ResolveHandler
	Dataset *DatasetHandler
	History *HistoryHandler
	Stats   *StatsHandler
	Live    *LiveHandler
	Health  *HealthHandler
}

// NewServer creates and configures the HTTP server.
func NewServer(addr string, h Handlers) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewMux(h),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// NewMux builds the routes wrapped in the access log.
func NewMux(h Handlers) http.Handler {
	mux := http.NewServeMux()

	if h.Health != nil {
		mux.Handle("GET /health", h.Health)
	} else {
		mux.HandleFunc("GET /health", handleHealth)
	}
	mux.HandleFunc("GET /api/version", handleVersion)
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)

	if h.Resolve != nil {
		mux.HandleFunc("GET /api/resolve", h.Resolve.HandleResolve)
		mux.HandleFunc("GET /api/map", h.Resolve.HandleMap)
		mux.HandleFunc("GET /api/neighborhoods", h.Resolve.HandleNeighborhoods)
		mux.HandleFunc("GET /api/neighborhoods/{name}", h.Resolve.HandleNeighborhood)
	}
	if h.Dataset != nil {
		mux.HandleFunc("GET /api/dataset", h.Dataset.HandleStatus)
		mux.HandleFunc("POST /api/dataset/reload", h.Dataset.HandleReload)
	}
	if h.History != nil {
		mux.HandleFunc("GET /api/history", h.History.HandleRecent)
		mux.HandleFunc("GET /api/heatmap", h.History.HandleHeatmap)
	}
	if h.Stats != nil {
		mux.Handle("GET /api/stats", h.Stats)
	}
	if h.Live != nil {
		mux.Handle("GET /api/live", h.Live)
	}

	distFS, err := fs.Sub(ui.DistFS, "dist")
	if err != nil {
		panic(fmt.Sprintf("Failed to subtree dist from embedded assets: %v", err))
	}
	mux.Handle("/", spaHandler(distFS))

	return accessLog(mux)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version.Version})
}

// HealthHandler runs the probes on every request.
type HealthHandler struct {
	probes []probe.Probe
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(probes []probe.Probe) *HealthHandler {
	return &HealthHandler{probes: probes}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	results := probe.Run(r.Context(), h.probes)
	status, code := "ok", http.StatusOK
	if !probe.Healthy(results) {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": probe.Statuses(results),
	})
}
