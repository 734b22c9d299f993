package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/cirunner/internal/logfields"
	"git.home.luguber.info/inful/cirunner/internal/metrics"
)

// httpServer exposes daemon health and Prometheus metrics.
type httpServer struct {
	server   *http.Server
	listener net.Listener
}

func newHTTPServer(addr string, reg *prom.Registry, d *Daemon) (*httpServer, error) {
	if reg == nil {
		reg = prom.NewRegistry()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(reg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"running": d.Running(),
		})
	})

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	return &httpServer{
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
	}, nil
}

// Addr returns the bound address, useful when addr was ":0".
func (h *httpServer) Addr() string {
	return h.listener.Addr().String()
}

// Start serves in the background.
func (h *httpServer) Start() {
	slog.Info("Metrics endpoint listening", logfields.URL("http://"+h.Addr()+"/metrics"))
	go func() {
		if err := h.server.Serve(h.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics endpoint failed", logfields.Error(err))
		}
	}()
}

// Stop shuts the server down gracefully.
func (h *httpServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		slog.Error("Error stopping metrics endpoint", logfields.Error(err))
	}
}
