package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ablylabs/termbridge/internal/database"
	"github.com/ablylabs/termbridge/internal/session"
	"github.com/go-chi/chi/v5"
)

// sessionInfo is the JSON representation of a live session for API responses.
type sessionInfo struct {
	ID           string        `json:"id"`
	State        session.State `json:"state"`
	Attached     bool          `json:"attached"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
}

// ListSessions returns all live terminal sessions.
// GET /sessions
func ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := Registry.List()

	result := make([]sessionInfo, 0, len(sessions))
	for _, s := range sessions {
		result = append(result, sessionInfo{
			ID:           s.ID,
			State:        s.State(),
			Attached:     s.Attached(),
			CreatedAt:    s.CreatedAt,
			LastActivity: s.LastActivity(),
		})
	}

	writeJSON(w, http.StatusOK, map[string][]sessionInfo{"sessions": result})
}

// EvictSession force-closes a session, killing its shell.
// DELETE /sessions/{id}
func EvictSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "Session ID required")
		return
	}

	if err := Registry.Evict(sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to evict session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// SessionHistory returns recent session audit records, newest first.
// GET /sessions/history
func SessionHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	recs, err := database.RecentSessions(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load session history")
		return
	}

	writeJSON(w, http.StatusOK, map[string][]database.SessionRecord{"sessions": recs})
}
