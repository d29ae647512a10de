package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lingopod/lingopod/pkg/gateway/analysis"
	"github.com/lingopod/lingopod/pkg/gateway/auth"
	"github.com/lingopod/lingopod/pkg/gateway/config"
	"github.com/lingopod/lingopod/pkg/gateway/jobs"
	"github.com/lingopod/lingopod/pkg/gateway/live/engine"
	"github.com/lingopod/lingopod/pkg/gateway/live/protocol"
	"github.com/lingopod/lingopod/pkg/gateway/live/session"
	"github.com/lingopod/lingopod/pkg/gateway/mw"
	"github.com/lingopod/lingopod/pkg/gateway/ratelimit"
	"github.com/lingopod/lingopod/pkg/gateway/sessions"
	"github.com/lingopod/lingopod/pkg/gateway/store"
)

// EngineDialer opens the upstream connection for one session. Tests swap in
// a fake; production uses engine.Connect.
type EngineDialer func(ctx context.Context, cfg engine.Config) (session.EngineConn, error)

// LiveHandler upgrades /v1/live requests and runs one relay per connection.
type LiveHandler struct {
	Config   config.Config
	Logger   *slog.Logger
	Store    store.Store
	Analysis analysis.Service
	Queue    *jobs.Queue
	Gate     *jobs.Gate
	Verifier auth.Verifier
	Limiter  *ratelimit.Limiter
	Sessions *sessions.Tracker

	DialEngine EngineDialer
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if r.Method != http.MethodGet {
		writeErrorJSON(w, reqID, "method_not_allowed", "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Sessions.IsDraining() {
		writeErrorJSON(w, reqID, "draining", "gateway is draining", 529)
		return
	}
	if !h.originAllowed(r) {
		writeErrorJSON(w, reqID, "forbidden", "origin is not allowed", http.StatusForbidden)
		return
	}

	// The token rides the HTTP request, either as a bearer header or as an
	// access_token query parameter; grab it before the upgrade consumes r.
	token, hasToken := auth.ParseBearer(r)

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.MaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.MaxJSONMessageBytes)
	}

	// Authenticate before reading anything from the socket. An unauthorized
	// client gets the 4401 close without the gateway consuming its frames.
	userID, authErr := h.authenticate(token, hasToken)
	if authErr != nil {
		h.writeWSError(conn, "unauthorized", authErr.Error(), protocol.CloseAuthFailure)
		return
	}

	handshakeTimeout := h.Config.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read session_start", protocol.CloseProtocolError)
		return
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be session_start", protocol.CloseProtocolError)
		return
	}

	decoded, err := protocol.DecodeClientMessage(firstFrame)
	if err != nil {
		code, message := "bad_request", "invalid session_start frame"
		if de, ok := err.(*protocol.DecodeError); ok {
			code, message = de.Code, de.Error()
		}
		h.writeWSError(conn, code, message, protocol.CloseProtocolError)
		return
	}
	start, ok := decoded.(protocol.SessionStart)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be session_start", protocol.CloseProtocolError)
		return
	}

	if h.Limiter != nil && h.Config.MaxSessionsPerUser > 0 {
		dec := h.Limiter.AcquireSession(userID, time.Now())
		if !dec.Allowed {
			h.writeWSError(conn, "rate_limited", "too many active live sessions", websocket.ClosePolicyViolation)
			return
		}
		defer dec.Permit.Release()
	}

	dial := h.DialEngine
	if dial == nil {
		dial = func(ctx context.Context, cfg engine.Config) (session.EngineConn, error) {
			return engine.Connect(ctx, cfg)
		}
	}
	eng, err := dial(r.Context(), engine.Config{
		BaseURL:        h.Config.EngineBaseURL,
		APIKey:         h.Config.EngineAPIKey,
		Model:          h.Config.EngineModel,
		ConnectTimeout: h.Config.EngineConnectTimeout,
		WriteTimeout:   h.Config.EngineWriteTimeout,
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("live: engine dial failed", "request_id", reqID, "error", err)
		}
		h.writeWSError(conn, "upstream_error", "failed to reach upstream engine", protocol.CloseUpstreamError)
		return
	}

	_ = conn.SetReadDeadline(time.Time{})

	sessionID := "s_" + mw.RandHex(8)
	relay, err := session.New(session.Dependencies{
		Conn:      conn,
		Logger:    h.Logger,
		Engine:    eng,
		Store:     h.Store,
		Analysis:  h.Analysis,
		Queue:     h.Queue,
		Gate:      h.Gate,
		Start:     start,
		UserID:    userID,
		SessionID: sessionID,
		RequestID: reqID,
		Config: session.Config{
			OutboundQueueSize:    h.Config.OutboundQueueSize,
			PingInterval:         h.Config.WSPingInterval,
			WriteTimeout:         h.Config.WSWriteTimeout,
			ReadTimeout:          h.Config.WSReadTimeout,
			MaxJSONMessageBytes:  h.Config.MaxJSONMessageBytes,
			MaxAudioFrameBytes:   h.Config.MaxAudioFrameBytes,
			DefaultTurnsRequired: h.Config.DefaultTurnsRequired,
			PersistTimeout:       h.Config.PersistTimeout,
		},
	})
	if err != nil {
		_ = eng.Close()
		h.writeWSError(conn, "internal_error", "failed to initialize live session", websocket.CloseInternalServerErr)
		return
	}

	unregister := func() {}
	if h.Sessions != nil {
		unregister = h.Sessions.Register(sessionID, sessions.Handle{
			Cancel: relay.Cancel,
			Notify: relay.Notify,
		})
	}
	defer unregister()

	if err := relay.Run(); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("live: session ended with error", "session_id", sessionID, "request_id", reqID, "error", err)
		}
	}
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.AllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.AllowedOrigins[origin]
	return ok
}

func (h LiveHandler) authenticate(token string, hasToken bool) (string, error) {
	if h.Verifier == nil {
		// Auth disabled: sessions are keyed by a shared anonymous principal.
		return "anonymous", nil
	}
	if !hasToken {
		return "", auth.ErrInvalidToken
	}
	id, err := h.Verifier.Verify(token)
	if err != nil {
		return "", err
	}
	return id.UserID, nil
}

func (h LiveHandler) writeWSError(conn *websocket.Conn, code, message string, closeCode int) {
	_ = conn.WriteJSON(protocol.ServerError{Type: "error", Code: code, Message: message, Close: true})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, message), time.Now().Add(2*time.Second))
}
