package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/lingopod/lingopod/pkg/gateway/sessions"
	"github.com/lingopod/lingopod/pkg/gateway/store"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the gateway can accept new sessions: the
// store must answer a ping and the tracker must not be draining.
type ReadyHandler struct {
	Store    store.Store
	Sessions *sessions.Tracker
	Timeout  time.Duration
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool     `json:"ok"`
		Draining bool     `json:"draining"`
		Sessions int      `json:"sessions"`
		Issues   []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 2)

	draining := h.Sessions.IsDraining()
	if draining {
		issues = append(issues, "gateway is draining")
	}

	if h.Store == nil {
		issues = append(issues, "store is not configured")
	} else {
		timeout := h.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := h.Store.Ping(ctx); err != nil {
			issues = append(issues, "store ping failed: "+err.Error())
		}
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:       ok,
		Draining: draining,
		Sessions: h.Sessions.Count(),
		Issues:   issues,
	})
}
