package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ngoyal88/reqlog/pkg/batch"
	"github.com/ngoyal88/reqlog/pkg/config"
	"github.com/ngoyal88/reqlog/pkg/storage"
)

// AdminAPI exposes the request log batches for inspection and manual flushes
type AdminAPI struct {
	logger   *batch.Logger
	cfgStore *config.Store
	adminKey string // Simple admin authentication
}

// NewAdminAPI creates a new admin API handler
func NewAdminAPI(lg *batch.Logger, cfgStore *config.Store, adminKey string) *AdminAPI {
	return &AdminAPI{
		logger:   lg,
		cfgStore: cfgStore,
		adminKey: adminKey,
	}
}

// RegisterRoutes registers admin endpoints
func (api *AdminAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/logs/pending", api.authenticate(api.handlePending))
	mux.HandleFunc("/admin/logs/flush", api.authenticate(api.handleFlush))

	// System
	mux.HandleFunc("/admin/health", api.handleHealth)
}

// authenticate middleware checks admin key
func (api *AdminAPI) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("X-Admin-Key")
		if api.adminKey == "" || authHeader != api.adminKey {
			respondJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid admin key",
			})
			return
		}
		next(w, r)
	}
}

func (api *AdminAPI) fileName() string {
	cfg := api.cfgStore.Get()
	if cfg == nil {
		return config.LoggingConfig{}.FileName()
	}
	return cfg.Logging.FileName()
}

// handlePending returns the batch parked in the KV store plus the in-memory count
func (api *AdminAPI) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	fileName := api.fileName()
	entries, err := api.logger.Flusher().Pending(ctx, fileName)
	if err != nil {
		respondJSON(w, http.StatusBadGateway, map[string]string{
			"error": "Failed to read stored batch",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"file":     fileName,
		"stored":   entries,
		"count":    len(entries),
		"buffered": api.logger.Buffered(),
	})
}

// handleFlush pushes the in-memory buffer through a flush right away
func (api *AdminAPI) handleFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res := api.logger.FlushNow(ctx, api.fileName())

	body := map[string]interface{}{
		"outcome": res.Outcome,
		"entries": res.Entries,
	}
	status := http.StatusOK
	if res.KVErr != nil {
		body["kv_error"] = res.KVErr.Error()
		status = http.StatusBadGateway
	}
	if res.InsertErr != nil {
		body["insert_error"] = res.InsertErr.Error()
		status = http.StatusBadGateway
	}

	respondJSON(w, status, body)
}

// handleHealth returns system health
func (api *AdminAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
		"buffered":  api.logger.Buffered(),
	}

	if p, ok := api.logger.Flusher().KV().(storage.Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			health["storage"] = "unhealthy"
			health["status"] = "degraded"
		} else {
			health["storage"] = "healthy"
		}
	}

	respondJSON(w, http.StatusOK, health)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
