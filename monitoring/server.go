package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	control "cruise-ctrl-core/closed_loop/longitudinal_control"
	"cruise-ctrl-core/utils"
)

// Server serves /metrics and the JSON state API
type Server struct {
	addr    string
	store   *StateStore
	metrics *Metrics
	cfg     control.SpeedControllerConfig
	log     *utils.Logger
}

func NewServer(
	addr string,
	store *StateStore,
	metrics *Metrics,
	cfg control.SpeedControllerConfig,
	log *utils.Logger,
) *Server {
	return &Server{
		addr:    addr,
		store:   store,
		metrics: metrics,
		cfg:     cfg,
		log:     log,
	}
}

// Router builds the HTTP routes
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	r.HandleFunc("/api/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/api/state", s.state).Methods(http.MethodGet)
	r.HandleFunc("/api/config", s.config).Methods(http.MethodGet)
	return r
}

// Start listens on the configured address and serves until ctx is done.
// It returns the bound address, which differs from the configured one
// when port 0 was requested.
func (s *Server) Start(ctx context.Context) (string, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("monitor listen %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Monitor server stopped: %v", err)
		}
	}()

	addr := listener.Addr().String()
	s.log.Info("Monitoring control loop on http://%s", addr)
	return addr, nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.store.Snapshot())
}

func (s *Server) config(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.cfg)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
