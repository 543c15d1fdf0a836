package api

import (
	"net/http"
	"time"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

type HealthHandler struct {
	sess      Controller
	version   string
	startTime time.Time
}

func NewHealthHandler(sess Controller, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{sess: sess, version: version, startTime: startTime}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	st := h.sess.Status()

	checks["session"] = st.State

	if st.BreakerTripped {
		checks["transcription"] = "halted"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["transcription"] = "ok"
	}

	if st.Provider != "" {
		checks["provider"] = st.Provider
	} else {
		checks["provider"] = "not_configured"
	}

	if st.LastError != "" {
		checks["last_error"] = st.LastError
		if status == "healthy" {
			status = "degraded"
		}
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}
	WriteJSON(w, httpStatus, resp)
}
