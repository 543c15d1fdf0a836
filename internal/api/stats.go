package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type StatsHandler struct {
	sess Controller
}

func NewStatsHandler(sess Controller) *StatsHandler {
	return &StatsHandler{sess: sess}
}

// GetStatus returns the full session snapshot.
func (h *StatsHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.sess.Status())
}

// GetStats returns the aggregate transcription counters.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.sess.Stats())
}

// StopSession ends capture and flushes the transcript.
func (h *StatsHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	h.sess.Stop()
	WriteJSON(w, http.StatusOK, h.sess.Status())
}

// Routes registers session routes on the given router. Stopping the session
// remotely is refused unless an auth token is configured.
func (h *StatsHandler) Routes(r chi.Router, authToken string) {
	r.Get("/status", h.GetStatus)
	r.Get("/stats", h.GetStats)
	r.With(RequireAuth(authToken)).Post("/session/stop", h.StopSession)
}
