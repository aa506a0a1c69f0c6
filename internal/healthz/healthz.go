// Package healthz exposes liveness and readiness endpoints over a
// go-chi/chi/v5 router, for container-orchestrator probes.
package healthz

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Checker reports the process's current health. BrokerConnected backs
// /healthz (is the process alive and talking to the broker at all);
// QueueNotFull backs /readyz (can it currently accept more work).
type Checker interface {
	BrokerConnected() bool
	QueueNotFull() bool
}

// Router builds the health-check router.
func Router(c Checker) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !c.BrokerConnected() {
			writeStatus(w, http.StatusServiceUnavailable, "broker disconnected")
			return
		}
		writeStatus(w, http.StatusOK, "ok")
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !c.QueueNotFull() {
			writeStatus(w, http.StatusServiceUnavailable, "queue full")
			return
		}
		writeStatus(w, http.StatusOK, "ok")
	})

	return r
}

func writeStatus(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": message})
}
