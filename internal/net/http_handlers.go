package net

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	nethttp "net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xyzzy121/Unicopia/abilities/catalog"
	"github.com/xyzzy121/Unicopia/abilities/contract"
	"github.com/xyzzy121/Unicopia/internal/hub"
	"github.com/xyzzy121/Unicopia/internal/net/proto"
	"github.com/xyzzy121/Unicopia/internal/net/ws"
	"github.com/xyzzy121/Unicopia/internal/observability"
	"github.com/xyzzy121/Unicopia/internal/telemetry"
	"github.com/xyzzy121/Unicopia/logging"
)

type HTTPHandlerConfig struct {
	ClientDir     string
	Logger        telemetry.Logger
	Clock         logging.Clock
	Observability observability.Config
	// Gatherer backs /metrics when metrics are enabled.
	Gatherer prometheus.Gatherer
	// Catalog, when set, is listed on /diagnostics.
	Catalog *catalog.Resolver
}

type joinRequest struct {
	Class contract.Class `json:"class"`
	// ID rejoins a previously saved actor.
	ID string `json:"id,omitempty"`
}

type memberPayload struct {
	ID            string         `json:"id"`
	Class         contract.Class `json:"class"`
	LastHeartbeat int64          `json:"lastHeartbeat"`
	RTTMillis     int64          `json:"rttMillis"`
}

func NewHTTPHandler(h *hub.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	clock := cfg.Clock
	if clock == nil {
		clock = logging.SystemClock{}
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		roster := h.Roster()
		members := make([]memberPayload, 0, len(roster))
		for _, member := range roster {
			members = append(members, memberPayload{
				ID:            member.ID,
				Class:         member.Class,
				LastHeartbeat: member.LastHeartbeat.UnixMilli(),
				RTTMillis:     member.RTT.Milliseconds(),
			})
		}
		payload := struct {
			Status     string          `json:"status"`
			ServerTime int64           `json:"serverTime"`
			Role       string          `json:"role"`
			World      string          `json:"world"`
			Tick       uint64          `json:"tick"`
			TickRate   int             `json:"tickRate"`
			Actors     []memberPayload `json:"actors"`
			Abilities  []string        `json:"abilities"`
			Overrides  []string        `json:"catalogOverrides"`
		}{
			Status:     "ok",
			ServerTime: clock.Now().UnixMilli(),
			Role:       h.Role().String(),
			World:      h.WorldName(),
			Tick:       h.Tick(),
			TickRate:   h.TickRate(),
			Actors:     members,
			Abilities:  h.Abilities(),
			Overrides:  cfg.Catalog.IDs(),
		}
		writeJSON(w, payload)
	})

	mux.HandleFunc("/join", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}

		var req joinRequest
		if r.Body != nil {
			defer r.Body.Close()
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
				httpError(w, "invalid payload", nethttp.StatusBadRequest)
				return
			}
		}
		if req.Class == "" {
			req.Class = contract.ClassEarth
		}

		var join proto.JoinResponse
		var err error
		if req.ID != "" {
			join, err = h.Rejoin(req.ID, req.Class)
		} else {
			join, err = h.Join(req.Class)
		}
		switch {
		case errors.Is(err, hub.ErrNotAuthority):
			httpError(w, err.Error(), nethttp.StatusConflict)
			return
		case errors.Is(err, hub.ErrInvalidClass):
			httpError(w, err.Error(), nethttp.StatusBadRequest)
			return
		case err != nil:
			logger.Printf("join failed: %v", err)
			httpError(w, err.Error(), nethttp.StatusServiceUnavailable)
			return
		}
		writeJSON(w, join)
	})

	mux.HandleFunc("/leave", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "" {
			httpError(w, "missing id", nethttp.StatusBadRequest)
			return
		}
		if !h.Leave(id) {
			httpError(w, "unknown actor", nethttp.StatusNotFound)
			return
		}
		w.WriteHeader(nethttp.StatusNoContent)
	})

	mux.HandleFunc("/catalog/schema", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		data, err := catalog.MarshalSchema()
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/schema+json")
		w.Write(data)
	})

	sessions := ws.NewHandler(h, ws.HandlerConfig{Logger: logger, Clock: clock})
	mux.HandleFunc("/ws", sessions.Handle)
	peers := ws.NewPeerHandler(h, ws.HandlerConfig{Logger: logger})
	mux.HandleFunc("/replicate", peers.Handle)

	if cfg.Observability.EnableMetrics && cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if cfg.Observability.EnablePprofTrace {
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	if cfg.ClientDir != "" {
		fs := nethttp.FileServer(nethttp.Dir(cfg.ClientDir))
		mux.Handle("/", fs)
	}

	return mux
}

func writeJSON(w nethttp.ResponseWriter, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
