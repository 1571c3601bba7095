package trendengine

import (
	"context"
	"encoding/json"
	"net/http"

	"swing-systemv1/internal/metrics"
	"swing-systemv1/internal/swing"
)

// symbolState is the JSON shape served by /state for one symbol.
type symbolState struct {
	Trend          string       `json:"trend"`
	CoC            *swing.Level `json:"coc,omitempty"`
	SPH            *swing.Level `json:"sph,omitempty"`
	SPL            *swing.Level `json:"spl,omitempty"`
	BarsSincePivot int          `json:"bars_since_pivot"`
	Sideways       bool         `json:"sideways"`
}

// startHTTP launches the combined metrics/health/state server.
func (svc *Service) startHTTP(ctx context.Context) {
	svc.httpSrv = metrics.NewServer(svc.cfg.HTTPAddr, svc.health)
	svc.httpSrv.Handle("/state", http.HandlerFunc(svc.handleState))
	svc.httpSrv.Handle("/events", http.HandlerFunc(svc.handleEvents))
	svc.httpSrv.Handle("/reset", http.HandlerFunc(svc.handleReset))
	svc.httpSrv.Start()
}

// handleState serves the current trend state of every tracker (or one, with
// ?symbol=).
func (svc *Service) handleState(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")

	svc.mu.RLock()
	out := make(map[string]symbolState, len(svc.trackers))
	for sym, t := range svc.trackers {
		if symbol != "" && sym != symbol {
			continue
		}
		out[sym] = symbolState{
			Trend:          t.Trend().String(),
			CoC:            t.CoC(),
			SPH:            t.SPH(),
			SPL:            t.SPL(),
			BarsSincePivot: t.BarsSincePivot(),
			Sideways:       t.IsSideways(),
		}
	}
	svc.mu.RUnlock()

	if symbol != "" && len(out) == 0 {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// handleEvents serves the archived trend events for one symbol from SQLite.
func (svc *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol required", http.StatusBadRequest)
		return
	}
	if svc.sqlReader == nil {
		http.Error(w, "event archive unavailable", http.StatusServiceUnavailable)
		return
	}

	events, err := svc.sqlReader.ReadEvents(symbol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// handleReset handles POST /reset. With ?symbol= it resets one tracker,
// without it the whole fleet. State and pivots clear; configuration stays.
func (svc *Service) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	symbol := r.URL.Query().Get("symbol")

	svc.mu.Lock()
	reset := 0
	for sym, t := range svc.trackers {
		if symbol != "" && sym != symbol {
			continue
		}
		t.Reset()
		reset++
	}
	svc.mu.Unlock()

	if symbol != "" && reset == 0 {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"reset":  reset,
	})
}
