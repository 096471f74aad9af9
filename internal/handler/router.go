package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// defaultOrigins applies when no CORS origins are configured.
var defaultOrigins = []string{
	"http://localhost:5173",
	"http://localhost:3000",
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(
	highlightHandler *HighlightHandler,
	maintenanceHandler *MaintenanceHandler,
	authMiddleware func(http.Handler) http.Handler,
	allowedOrigins []string,
) http.Handler {
	router := mux.NewRouter()

	// Health check endpoint (no auth required)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"highlight-store"}`))
	}).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	protected := api.PathPrefix("").Subrouter()
	protected.Use(authMiddleware)

	protected.HandleFunc("/match", highlightHandler.FormatMatch).Methods("GET")

	// Highlight routes
	protected.HandleFunc("/highlights", highlightHandler.CreateHighlight).Methods("POST")
	protected.HandleFunc("/highlights/{id}", highlightHandler.UpdateHighlight).Methods("PATCH")
	protected.HandleFunc("/highlights/{id}", highlightHandler.DeleteHighlight).Methods("DELETE")

	// Event routes
	protected.HandleFunc("/events", highlightHandler.ListEvents).Methods("GET")
	protected.HandleFunc("/events/{id}", highlightHandler.GetEvent).Methods("GET")

	// Match routes
	protected.HandleFunc("/matches", highlightHandler.ListMatches).Methods("GET")
	protected.HandleFunc("/matches", highlightHandler.RemoveMatch).Methods("DELETE")
	protected.HandleFunc("/matches/count", highlightHandler.CountMatch).Methods("GET")

	// Maintenance routes
	protected.HandleFunc("/maintenance/sweep", maintenanceHandler.Sweep).Methods("POST")
	protected.HandleFunc("/maintenance/compact", maintenanceHandler.Compact).Methods("POST")
	protected.HandleFunc("/maintenance/cleanup", maintenanceHandler.Cleanup).Methods("POST")
	protected.HandleFunc("/export", maintenanceHandler.Export).Methods("GET")
	protected.HandleFunc("/import", maintenanceHandler.Import).Methods("POST")

	if len(allowedOrigins) == 0 {
		allowedOrigins = defaultOrigins
	}

	// Configure CORS
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
		},
		ExposedHeaders: []string{
			"Content-Disposition",
			"X-Document-Count",
		},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	})

	return c.Handler(router)
}
