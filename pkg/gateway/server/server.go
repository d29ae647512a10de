// Package server wires the gateway: config, middleware chain, the live
// websocket endpoint, and the shared background infrastructure one process
// runs (job queue, store gate, session tracker).
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/lingopod/lingopod/pkg/gateway/analysis"
	"github.com/lingopod/lingopod/pkg/gateway/auth"
	"github.com/lingopod/lingopod/pkg/gateway/config"
	"github.com/lingopod/lingopod/pkg/gateway/handlers"
	"github.com/lingopod/lingopod/pkg/gateway/jobs"
	"github.com/lingopod/lingopod/pkg/gateway/mw"
	"github.com/lingopod/lingopod/pkg/gateway/ratelimit"
	"github.com/lingopod/lingopod/pkg/gateway/sessions"
	"github.com/lingopod/lingopod/pkg/gateway/store"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	store    store.Store
	analysis analysis.Service
	queue    *jobs.Queue
	gate     *jobs.Gate
	tracker  *sessions.Tracker
	limiter  *ratelimit.Limiter
}

func New(cfg config.Config, logger *slog.Logger, st store.Store) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gate := jobs.NewGate(cfg.GatePermits)
	queue := jobs.NewQueue(jobs.Config{
		Capacity:   cfg.QueueCapacity,
		Workers:    cfg.QueueWorkers,
		JobTimeout: cfg.JobTimeout,
	}, gate, logger)

	var analysisSvc analysis.Service
	if cfg.AnalysisBaseURL != "" {
		analysisSvc = analysis.NewClient(cfg.AnalysisAPIKey, cfg.AnalysisBaseURL, &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				MaxIdleConns:    100,
				IdleConnTimeout: 90 * time.Second,
			},
		})
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		store:    st,
		analysis: analysisSvc,
		queue:    queue,
		gate:     gate,
		tracker:  sessions.NewTracker(),
		limiter: ratelimit.New(ratelimit.Config{
			MaxSessionsPerPrincipal: cfg.MaxSessionsPerUser,
		}),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Store:    s.store,
		Sessions: s.tracker,
	})

	var verifier auth.Verifier
	if !s.cfg.AuthDisabled {
		verifier = auth.HMACVerifier{Secret: []byte(s.cfg.AuthSecret)}
	}

	s.mux.Handle("/v1/live", handlers.LiveHandler{
		Config:   s.cfg,
		Logger:   s.logger,
		Store:    s.store,
		Analysis: s.analysis,
		Queue:    s.queue,
		Gate:     s.gate,
		Verifier: verifier,
		Limiter:  s.limiter,
		Sessions: s.tracker,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg.AllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips the gateway into drain mode: /readyz fails and new live
// sessions are rejected while existing ones keep running.
func (s *Server) SetDraining() {
	s.tracker.SetDraining(true)
}

// NotifyLiveSessionsDraining tells every live session the gateway is about
// to stop so clients can wrap up.
func (s *Server) NotifyLiveSessionsDraining() int {
	return s.tracker.NotifyAll("draining", "gateway is shutting down")
}

// WaitLiveSessions blocks until all live sessions ended or ctx expires.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.tracker.Wait(ctx)
}

func (s *Server) CancelLiveSessions() int {
	return s.tracker.CancelAll()
}

// Close drains the background queue; pending jobs get until ctx expires.
func (s *Server) Close(ctx context.Context) bool {
	return s.queue.Close(ctx)
}
