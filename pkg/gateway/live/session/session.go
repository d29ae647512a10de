// Package session runs one live tutoring session end to end: it relays
// frames between the client websocket and the upstream engine, derives
// conversation turns from transcript events, and hands analysis work to the
// background queue without blocking the relay loop.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lingopod/lingopod/pkg/gateway/analysis"
	"github.com/lingopod/lingopod/pkg/gateway/jobs"
	"github.com/lingopod/lingopod/pkg/gateway/live/engine"
	"github.com/lingopod/lingopod/pkg/gateway/live/protocol"
	"github.com/lingopod/lingopod/pkg/gateway/store"
)

var errBackpressure = errors.New("outbound queue full")

const outboundPriorityQueueSize = 32

// ClientConn is the subset of *websocket.Conn the relay reads and writes.
type ClientConn interface {
	wsWriter
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
}

// EngineConn is the subset of *engine.Conn the relay drives.
type EngineConn interface {
	Frames() <-chan engine.Frame
	SendSessionUpdate(ctx context.Context, update engine.SessionUpdate) error
	SendResponseCreate(ctx context.Context) error
	SendAudio(ctx context.Context, dataB64 string) error
	SendText(ctx context.Context, text string) error
	Close() error
}

type Config struct {
	OutboundQueueSize    int
	PingInterval         time.Duration
	WriteTimeout         time.Duration
	ReadTimeout          time.Duration
	MaxJSONMessageBytes  int64
	MaxAudioFrameBytes   int
	DefaultTurnsRequired int
	PersistTimeout       time.Duration
	RecentContextSize    int
}

type Dependencies struct {
	Conn      ClientConn
	Logger    *slog.Logger
	Engine    EngineConn
	Store     store.Store
	Analysis  analysis.Service
	Queue     *jobs.Queue
	Gate      *jobs.Gate
	Start     protocol.SessionStart
	UserID    string
	SessionID string
	RequestID string
	Config    Config
	Now       func() time.Time
}

// Relay owns one session. All session state is mutated only on the Run
// goroutine; background goroutines capture copies.
type Relay struct {
	conn      ClientConn
	logger    *slog.Logger
	engine    EngineConn
	store     store.Store
	analysis  analysis.Service
	queue     *jobs.Queue
	gate      *jobs.Gate
	start     protocol.SessionStart
	userID    string
	sessionID string
	requestID string
	cfg       Config
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	conv       store.Conversation
	progress   store.Progress
	machine    *TurnMachine
	configured bool

	// set before cancel; read by the writer after ctx.Done fires.
	closeCode   int
	closeReason string

	droppedFrames int64

	bgWg sync.WaitGroup
}

func New(deps Dependencies) (*Relay, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("client connection is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine connection is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("job queue is required")
	}
	if strings.TrimSpace(deps.UserID) == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Config.DefaultTurnsRequired <= 0 {
		deps.Config.DefaultTurnsRequired = 7
	}
	if deps.Config.PersistTimeout <= 0 {
		deps.Config.PersistTimeout = 10 * time.Second
	}
	if deps.Config.RecentContextSize <= 0 {
		deps.Config.RecentContextSize = 8
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		conn:             deps.Conn,
		logger:           deps.Logger,
		engine:           deps.Engine,
		store:            deps.Store,
		analysis:         deps.Analysis,
		queue:            deps.Queue,
		gate:             deps.Gate,
		start:            deps.Start,
		userID:           deps.UserID,
		sessionID:        deps.SessionID,
		requestID:        deps.RequestID,
		cfg:              deps.Config,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, min(max(1, deps.Config.OutboundQueueSize), outboundPriorityQueueSize)),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		closeCode:        protocol.CloseNormal,
	}, nil
}

func (s *Relay) Run() error {
	defer s.cancel()

	if s.cfg.MaxJSONMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxJSONMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:          s.conn,
			ctx:         s.ctx,
			cfg:         s.cfg,
			priority:    s.outboundPriority,
			normal:      s.outboundNormal,
			closeStatus: func() (int, string) { return s.closeCode, s.closeReason },
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	_ = s.sendJSONPriority(protocol.ServerSessionAck{
		Type:            "session_ack",
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       s.sessionID,
		Limits: &protocol.AckLimits{
			MaxAudioFrameBytes:  s.cfg.MaxAudioFrameBytes,
			MaxJSONMessageBytes: int(s.cfg.MaxJSONMessageBytes),
			QueueCapacity:       s.cfg.OutboundQueueSize,
		},
	})

	initialTurns := 0
	if strings.TrimSpace(s.start.ResumeConversationID) != "" {
		turns, err := s.loadResumeState()
		if err != nil {
			s.logger.Warn("live: resume failed",
				"session_id", s.sessionID,
				"conversation_id", s.start.ResumeConversationID,
				"error", err)
			_ = s.sendSessionError("bad_request", "unknown conversation", true)
			return s.shutdown(protocol.CloseProtocolError, "unknown conversation", writerErrCh)
		}
		initialTurns = turns
	}

	s.machine = NewTurnMachine(initialTurns, newMessageID, TurnCallbacks{
		Bootstrap:        s.bootstrap,
		UserMessage:      s.onUserMessage,
		AssistantMessage: s.onAssistantMessage,
		Cascade:          s.onCascade,
	})

	var runErr error
	code, reason := protocol.CloseNormal, ""

loop:
	for {
		select {
		case <-s.ctx.Done():
			break loop

		case err, ok := <-writerErrCh:
			if ok && err != nil {
				runErr = err
			}
			code, reason = protocol.CloseNormal, ""
			break loop

		case frame, ok := <-readCh:
			if !ok {
				break loop
			}
			if frame.err != nil {
				if !websocket.IsCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug("live: client read ended", "session_id", s.sessionID, "error", frame.err)
				}
				break loop
			}
			c, r, done, err := s.handleClientFrame(frame.data)
			if err != nil {
				runErr = err
			}
			if done {
				code, reason = c, r
				break loop
			}

		case frame, ok := <-s.engine.Frames():
			if !ok {
				_ = s.sendSessionError("upstream_error", "engine connection lost", true)
				code, reason = protocol.CloseUpstreamError, "engine connection lost"
				break loop
			}
			c, r, done, err := s.handleEngineFrame(frame)
			if err != nil {
				runErr = err
			}
			if done {
				code, reason = c, r
				break loop
			}
		}
	}

	if err := s.shutdown(code, reason, writerErrCh); runErr == nil {
		runErr = err
	}
	return runErr
}

// Cancel stops the session from outside, typically during gateway drain.
func (s *Relay) Cancel() {
	if s == nil {
		return
	}
	s.cancel()
}

// Notify pushes a non-fatal error frame to the client, used for drain
// warnings before shutdown.
func (s *Relay) Notify(code, message string) error {
	if s == nil {
		return nil
	}
	return s.sendSessionError(code, message, false)
}

// shutdown closes the turn machine (scheduling the post-session cascade when
// turns completed), tears down the upstream leg, and gives the writer a short
// window to flush the priority queue. Background jobs keep running.
func (s *Relay) shutdown(code int, reason string, writerErrCh <-chan error) error {
	s.closeCode = code
	s.closeReason = reason
	if s.machine != nil {
		s.machine.Close()
	}
	_ = s.engine.Close()
	s.cancel()

	wait := 100 * time.Millisecond
	if s.cfg.WriteTimeout > 0 && s.cfg.WriteTimeout < wait {
		wait = s.cfg.WriteTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-writerErrCh:
	case <-timer.C:
	}
	return nil
}

func (s *Relay) handleClientFrame(data []byte) (code int, reason string, done bool, err error) {
	msg, decodeErr := protocol.DecodeClientMessage(data)
	if decodeErr != nil {
		var de *protocol.DecodeError
		if errors.As(decodeErr, &de) {
			_ = s.sendSessionError(de.Code, de.Message, true)
		} else {
			_ = s.sendSessionError("bad_request", "invalid frame", true)
		}
		return protocol.CloseProtocolError, "protocol error", true, nil
	}

	switch m := msg.(type) {
	case protocol.SessionStart:
		_ = s.sendSessionError("bad_request", "duplicate session_start", true)
		return protocol.CloseProtocolError, "duplicate session_start", true, nil

	case protocol.ClientAudioFrame:
		if s.machine.State() == StateAwaitingSessionReady {
			return 0, "", false, nil
		}
		if s.cfg.MaxAudioFrameBytes > 0 && len(m.DataB64) > s.cfg.MaxAudioFrameBytes {
			_ = s.sendSessionError("frame_too_large", "audio frame exceeds limit", false)
			return 0, "", false, nil
		}
		if err := s.engine.SendAudio(s.ctx, m.DataB64); err != nil {
			_ = s.sendSessionError("upstream_error", "engine write failed", true)
			return protocol.CloseUpstreamError, "engine write failed", true, err
		}
		return 0, "", false, nil

	case protocol.ClientTextInput:
		if s.machine.State() == StateAwaitingSessionReady {
			_ = s.sendSessionError("not_ready", "session is still starting", false)
			return 0, "", false, nil
		}
		s.machine.UserTranscript(m.Text)
		if err := s.engine.SendText(s.ctx, m.Text); err != nil {
			_ = s.sendSessionError("upstream_error", "engine write failed", true)
			return protocol.CloseUpstreamError, "engine write failed", true, err
		}
		return 0, "", false, nil

	case protocol.ClientControl:
		// Only end_session decodes successfully.
		return protocol.CloseNormal, "", true, nil

	default:
		return 0, "", false, nil
	}
}

func (s *Relay) handleEngineFrame(frame engine.Frame) (code int, reason string, done bool, err error) {
	switch ev := frame.Event.(type) {
	case engine.SessionCreated:
		if err := s.machine.SessionReady(); err != nil {
			s.logger.Error("live: bootstrap failed", "session_id", s.sessionID, "error", err)
			_ = s.sendSessionError("internal_error", "failed to start conversation", true)
			return websocket.CloseInternalServerErr, "bootstrap failed", true, err
		}
		if !s.configured {
			s.configured = true
			if err := s.configureEngine(); err != nil {
				_ = s.sendSessionError("upstream_error", "engine configuration failed", true)
				return protocol.CloseUpstreamError, "engine configuration failed", true, err
			}
		}
		// Lifecycle events are forwarded as well as consumed, so the client
		// sees the upstream session come up.
		s.forwardRaw(frame.Raw)
		return 0, "", false, nil

	case engine.InputTranscriptionCompleted:
		s.machine.UserTranscript(ev.Transcript)
		s.forwardRaw(frame.Raw)
		return 0, "", false, nil

	case engine.ResponseTranscriptDone:
		s.machine.AssistantTranscript(ev.Transcript)
		s.forwardRaw(frame.Raw)
		return 0, "", false, nil

	case engine.EngineError:
		s.logger.Warn("live: upstream error event",
			"session_id", s.sessionID, "code", ev.Code, "error", ev.Message)
		_ = s.sendSessionError("upstream_error", ev.Message, false)
		return 0, "", false, nil

	default:
		// Audio deltas and any unclassified traffic pass straight through.
		s.forwardRaw(frame.Raw)
		return 0, "", false, nil
	}
}

// configureEngine sends the initial session.update and the first response
// trigger. Called once, only after the conversation record exists.
func (s *Relay) configureEngine() error {
	update := engine.SessionUpdate{
		Instructions:      buildInstructions(s.conv, s.start),
		Modalities:        []string{"audio", "text"},
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     map[string]any{"type": "server_vad"},
	}
	if err := s.engine.SendSessionUpdate(s.ctx, update); err != nil {
		return err
	}
	return s.engine.SendResponseCreate(s.ctx)
}

// loadResumeState resolves the conversation being resumed and returns the
// turn count the session continues from.
func (s *Relay) loadResumeState() (int, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.PersistTimeout)
	defer cancel()

	if err := s.gate.Acquire(ctx); err != nil {
		return 0, err
	}
	defer s.gate.Release()

	conv, err := s.store.GetConversation(ctx, strings.TrimSpace(s.start.ResumeConversationID))
	if err != nil {
		return 0, err
	}
	if conv.OwnerID != s.userID {
		return 0, store.ErrNotFound
	}
	s.conv = conv

	if conv.LessonID != "" {
		prog, err := s.store.GetOrCreateProgress(ctx, conv.ID, s.userID, turnsRequiredFor(s.start.LessonDifficulty, s.cfg.DefaultTurnsRequired))
		if err != nil {
			return 0, err
		}
		s.progress = prog
		return prog.TurnsCompleted, nil
	}

	n, err := s.store.MessageCount(ctx, conv.ID, store.RoleUser)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// bootstrap creates the durable conversation record for a fresh session and
// echoes its id to the client. Runs at most once, on the first
// session.created event from the engine.
func (s *Relay) bootstrap() error {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.PersistTimeout)
	defer cancel()

	if s.conv.ID == "" {
		if err := s.gate.Acquire(ctx); err != nil {
			return err
		}
		conv, err := s.store.CreateConversation(ctx, s.userID, store.ConversationParams{
			Language: s.start.Language,
			Level:    s.start.Level,
			Context:  s.start.Context,
			LessonID: s.start.LessonID,
		})
		s.gate.Release()
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		s.conv = conv

		if conv.LessonID != "" {
			prog, err := s.store.GetOrCreateProgress(ctx, conv.ID, s.userID, turnsRequiredFor(s.start.LessonDifficulty, s.cfg.DefaultTurnsRequired))
			if err != nil {
				s.logger.Warn("live: progress record unavailable",
					"session_id", s.sessionID, "conversation_id", conv.ID, "error", err)
			} else {
				s.progress = prog
			}
		}
	}

	s.logger.Info("live: conversation ready",
		"session_id", s.sessionID,
		"request_id", s.requestID,
		"conversation_id", s.conv.ID)
	return s.sendJSONPriority(protocol.ServerConversationCreated{
		Type:           "conversation.created",
		ConversationID: s.conv.ID,
	})
}

// onUserMessage persists the user message off the relay goroutine and, once
// the write lands, enqueues the feedback job keyed by the stable message id.
func (s *Relay) onUserMessage(messageID, transcript string) {
	msg := store.Message{
		ID:             messageID,
		ConversationID: s.conv.ID,
		Role:           store.RoleUser,
		Content:        transcript,
		CreatedAt:      s.now(),
	}
	s.bgWg.Add(1)
	go func() {
		defer s.bgWg.Done()
		if !s.persistMessage(msg) {
			return
		}
		s.submitFeedbackJob(msg)
	}()
}

func (s *Relay) onAssistantMessage(messageID, transcript string, completedTurn bool, turns int) {
	msg := store.Message{
		ID:             messageID,
		ConversationID: s.conv.ID,
		Role:           store.RoleAssistant,
		Content:        transcript,
		CreatedAt:      s.now(),
	}
	s.bgWg.Add(1)
	go func() {
		defer s.bgWg.Done()
		s.persistMessage(msg)
	}()

	if !completedTurn {
		return
	}

	required := s.cfg.DefaultTurnsRequired
	if s.progress.ID != "" {
		required = s.progress.TurnsRequired
		s.progress.TurnsCompleted = turns
		prog := s.progress
		if !s.queue.Submit(jobs.Job{
			Name:      "progress.update",
			SessionID: s.sessionID,
			Run: func(ctx context.Context) error {
				return s.store.UpdateProgressTurns(ctx, prog.ID, prog.TurnsCompleted)
			},
		}) {
			s.logger.Warn("live: progress update dropped", "session_id", s.sessionID, "turns", turns)
		}
	}

	_ = s.sendJSONPriority(protocol.ServerTurnProgress{
		Type:        "turn.progress",
		Turns:       turns,
		Required:    required,
		CanComplete: turns >= required,
	})

	s.submitSuggestionJob()
}

// onCascade schedules the post-session analysis exactly once. The job runs
// on the queue's own context so a client disconnect does not cancel it.
func (s *Relay) onCascade(turns int) {
	conv := s.conv
	prog := s.progress
	if !s.queue.Submit(jobs.Job{
		Name:      "session.cascade",
		SessionID: s.sessionID,
		Run: func(ctx context.Context) error {
			if s.analysis != nil {
				if err := s.analysis.UpdateKnowledge(ctx, conv.OwnerID, conv.Language, []string{conv.ID}); err != nil {
					return fmt.Errorf("update knowledge: %w", err)
				}
			}
			if prog.ID != "" {
				return s.store.UpdateProgressTurns(ctx, prog.ID, turns)
			}
			return nil
		},
	}) {
		s.logger.Warn("live: post-session cascade dropped",
			"session_id", s.sessionID, "conversation_id", conv.ID)
	}
}

// persistMessage writes one message through the store gate. A hot-path
// failure is logged and retried once through the queue; it never terminates
// the session.
func (s *Relay) persistMessage(msg store.Message) bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
	defer cancel()

	err := s.gate.Acquire(ctx)
	if err == nil {
		err = s.store.AppendMessage(ctx, msg)
		s.gate.Release()
	}
	if err == nil {
		return true
	}

	s.logger.Warn("live: message persist failed",
		"session_id", s.sessionID,
		"conversation_id", msg.ConversationID,
		"message_id", msg.ID,
		"error", err)
	if !s.queue.Submit(jobs.Job{
		Name:      "message.persist.retry",
		SessionID: s.sessionID,
		Run: func(ctx context.Context) error {
			return s.store.AppendMessage(ctx, msg)
		},
	}) {
		s.logger.Error("live: message persist retry dropped",
			"session_id", s.sessionID, "message_id", msg.ID)
	}
	return false
}

func (s *Relay) submitFeedbackJob(msg store.Message) {
	if s.analysis == nil {
		return
	}
	conv := s.conv
	if !s.queue.Submit(jobs.Job{
		Name:      "feedback.score",
		SessionID: s.sessionID,
		Run: func(ctx context.Context) error {
			result, err := s.analysis.ScoreMessage(ctx, msg.ID, conv.Language, conv.Level, s.recentContext(ctx, conv.ID))
			if err != nil {
				_ = s.sendJSON(protocol.ServerFeedbackError{
					Type:      "feedback.error",
					MessageID: msg.ID,
					Error:     "feedback unavailable",
				})
				return fmt.Errorf("score message %s: %w", msg.ID, err)
			}
			return s.sendJSON(protocol.ServerFeedbackGenerated{
				Type:      "feedback.generated",
				MessageID: result.MessageID,
				Feedback:  result.Feedback,
			})
		},
	}) {
		s.logger.Warn("live: feedback job dropped", "session_id", s.sessionID, "message_id", msg.ID)
	}
}

func (s *Relay) submitSuggestionJob() {
	if s.analysis == nil {
		return
	}
	conv := s.conv
	if !s.queue.Submit(jobs.Job{
		Name:      "suggestion.generate",
		SessionID: s.sessionID,
		Run: func(ctx context.Context) error {
			suggestions, err := s.analysis.Suggestions(ctx, conv.Language, conv.Level, s.recentContext(ctx, conv.ID))
			if err != nil || len(suggestions) == 0 {
				return err
			}
			return s.sendJSON(protocol.ServerSuggestion{
				Type:        "suggestion.available",
				Suggestions: suggestions,
			})
		},
	}) {
		s.logger.Debug("live: suggestion job dropped", "session_id", s.sessionID)
	}
}

func (s *Relay) recentContext(ctx context.Context, conversationID string) []analysis.ContextMessage {
	msgs, err := s.store.RecentMessages(ctx, conversationID, s.cfg.RecentContextSize)
	if err != nil {
		s.logger.Debug("live: recent context unavailable",
			"session_id", s.sessionID, "conversation_id", conversationID, "error", err)
		return nil
	}
	out := make([]analysis.ContextMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, analysis.ContextMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// forwardRaw relays an upstream frame to the client on the droppable normal
// queue. A slow client loses audio rather than stalling the relay loop.
func (s *Relay) forwardRaw(raw []byte) {
	if len(raw) == 0 {
		return
	}
	if err := s.enqueueNormal(outboundFrame{payload: raw}); err != nil {
		s.droppedFrames++
		if s.droppedFrames%100 == 1 {
			s.logger.Debug("live: dropping outbound frames",
				"session_id", s.sessionID, "dropped", s.droppedFrames)
		}
	}
}

func (s *Relay) sendSessionError(code, message string, close bool) error {
	msg := protocol.ServerError{Type: "error", Code: code, Message: message, Close: close}
	if close {
		return s.sendJSONPriority(msg)
	}
	return s.sendJSON(msg)
}

func (s *Relay) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueueNormal(outboundFrame{payload: payload})
}

func (s *Relay) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueuePriority(outboundFrame{payload: payload})
}

func (s *Relay) enqueueNormal(frame outboundFrame) error {
	select {
	case s.outboundNormal <- frame:
		return nil
	default:
		return errBackpressure
	}
}

// enqueuePriority evicts the oldest queued priority frames rather than
// dropping the new one, so the final error or lifecycle frame wins.
func (s *Relay) enqueuePriority(frame outboundFrame) error {
	for i := 0; i < 4; i++ {
		select {
		case s.outboundPriority <- frame:
			return nil
		default:
		}
		select {
		case <-s.outboundPriority:
		default:
		}
	}
	select {
	case s.outboundPriority <- frame:
		return nil
	default:
		return errBackpressure
	}
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func (s *Relay) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

func buildInstructions(conv store.Conversation, start protocol.SessionStart) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s tutor for a %s level learner.", conv.Language, conv.Level)
	if ctx := strings.TrimSpace(conv.Context); ctx != "" {
		fmt.Fprintf(&b, " Scenario: %s.", ctx)
	}
	if custom := strings.TrimSpace(start.CustomInstructions); custom != "" {
		b.WriteString(" ")
		b.WriteString(custom)
	}
	return b.String()
}

func turnsRequiredFor(difficulty string, fallback int) int {
	switch strings.ToLower(strings.TrimSpace(difficulty)) {
	case "easy":
		return 5
	case "hard":
		return 10
	case "medium":
		return fallback
	default:
		return fallback
	}
}

func newMessageID() string {
	return "m_" + uuid.NewString()
}
