package handler

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"highlight-store/internal/domain"
)

// MaintenanceHandler exposes the store's housekeeping and backup endpoints.
// These rewrite or drop data and sit behind the same token as the rest of the API.
type MaintenanceHandler struct {
	store     domain.DocumentStore
	collector domain.GarbageCollector
	logger    domain.Logger
}

func NewMaintenanceHandler(store domain.DocumentStore, collector domain.GarbageCollector, logger domain.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		store:     store,
		collector: collector,
		logger:    logger,
	}
}

// Sweep handles POST /maintenance/sweep
func (h *MaintenanceHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	results, err := h.collector.SweepSuperfluous(r.Context())
	if err != nil {
		writeAppError(w, h.logger, "Failed to sweep matches", err)
		return
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	if results == nil {
		results = []domain.SweepResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"swept":   len(results),
		"failed":  failed,
		"matches": results,
	})
}

// Compact handles POST /maintenance/compact
func (h *MaintenanceHandler) Compact(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Compact(r.Context()); err != nil {
		writeAppError(w, h.logger, "Failed to compact store", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Cleanup handles POST /maintenance/cleanup
func (h *MaintenanceHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	if err := h.store.CleanupIndexes(r.Context()); err != nil {
		writeAppError(w, h.logger, "Failed to clean up indexes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Export handles GET /export. The dump is buffered so a failure can still
// be reported with a proper status.
func (h *MaintenanceHandler) Export(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	n, err := h.store.ExportTo(r.Context(), &buf)
	if err != nil {
		writeAppError(w, h.logger, "Failed to export store", err)
		return
	}

	filename := "highlights-" + time.Now().UTC().Format("20060102-150405") + ".json"
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("X-Document-Count", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Error("Failed to write export", err)
	}
}

// Import handles POST /import
func (h *MaintenanceHandler) Import(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, importBodyBytes)
	n, err := h.store.ImportFrom(r.Context(), body)
	if err != nil {
		writeAppError(w, h.logger, "Failed to import store", err)
		return
	}
	h.logger.Info("Store imported", "documents", n)
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}
