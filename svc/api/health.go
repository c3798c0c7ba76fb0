package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"pobbin/svc/util"
)

const probeTimeout = 500 * time.Millisecond

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ReadyResponse struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// Ready probes every dependency and answers 503 if any of them is down.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{Ready: true, Checks: make(map[string]string, len(s.probes))}
	names := make([]string, 0, len(s.probes))
	for name := range s.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := s.probes[name].Ping(ctx)
		cancel()
		if err != nil {
			util.Error().Err(err).Str("probe", name).Msg("readiness check failed")
			resp.Checks[name] = "down"
			resp.Ready = false
			continue
		}
		resp.Checks[name] = "up"
	}
	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(resp)
}
