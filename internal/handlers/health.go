package handlers

import (
	"net/http"

	"github.com/ablylabs/termbridge/internal/database"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	backend := "none"
	sessions := 0
	if Registry != nil {
		sessions = Registry.Len()
	}
	if RunnerBackend != "" {
		backend = RunnerBackend
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"database": dbStatus,
		"runner":   backend,
		"sessions": sessions,
	})
}
