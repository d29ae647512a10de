package session

import (
	"fmt"
	"strings"
)

// State of the turn-pairing machine. The machine is driven only from its
// session's relay loop, so it needs no locking.
type State int

const (
	StateAwaitingSessionReady State = iota
	StateAwaitingUserTurn
	StateAwaitingAssistantTurn
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingSessionReady:
		return "awaiting_session_ready"
	case StateAwaitingUserTurn:
		return "awaiting_user_turn"
	case StateAwaitingAssistantTurn:
		return "awaiting_assistant_turn"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TurnCallbacks are the machine's side effects. Bootstrap runs exactly once,
// on the first session-ready signal; Cascade runs exactly once, on close,
// and only if at least one turn completed.
type TurnCallbacks struct {
	Bootstrap func() error
	// UserMessage receives the assigned message id and the finalized
	// transcript of a user utterance.
	UserMessage func(messageID, transcript string)
	// AssistantMessage receives the assigned message id, the transcript,
	// whether this utterance completed a turn, and the turn count after it.
	AssistantMessage func(messageID, transcript string, completedTurn bool, turns int)
	Cascade          func(turns int)
}

type TurnMachine struct {
	state        State
	bootstrapped bool
	cascaded     bool
	pendingUser  bool
	turns        int
	initialTurns int

	newMessageID func() string
	cb           TurnCallbacks
}

// NewTurnMachine builds a machine whose turn counter starts at initialTurns
// (non-zero when resuming an existing lesson conversation).
func NewTurnMachine(initialTurns int, newMessageID func() string, cb TurnCallbacks) *TurnMachine {
	if initialTurns < 0 {
		initialTurns = 0
	}
	return &TurnMachine{
		state:        StateAwaitingSessionReady,
		turns:        initialTurns,
		initialTurns: initialTurns,
		newMessageID: newMessageID,
		cb:           cb,
	}
}

func (m *TurnMachine) State() State      { return m.state }
func (m *TurnMachine) Turns() int        { return m.turns }
func (m *TurnMachine) PendingUser() bool { return m.pendingUser }

// SessionReady handles the upstream session-ready signal. Duplicate signals
// after the first are ignored; the bootstrap latch never resets.
func (m *TurnMachine) SessionReady() error {
	if m.state == StateClosed {
		return nil
	}
	if m.bootstrapped {
		return nil
	}
	m.bootstrapped = true
	if m.cb.Bootstrap != nil {
		if err := m.cb.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}
	m.state = StateAwaitingUserTurn
	return nil
}

// UserTranscript handles a finalized inbound transcription. Empty
// transcripts create no message and cause no transition.
func (m *TurnMachine) UserTranscript(transcript string) {
	if m.state == StateClosed || m.state == StateAwaitingSessionReady {
		return
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return
	}
	m.pendingUser = true
	m.state = StateAwaitingAssistantTurn
	id := m.nextMessageID()
	if m.cb.UserMessage != nil {
		m.cb.UserMessage(id, transcript)
	}
}

// AssistantTranscript handles a finalized outbound transcript. The turn
// counter moves only when a user message is pending; an assistant utterance
// with no preceding user turn (the opening line) leaves it unchanged.
func (m *TurnMachine) AssistantTranscript(transcript string) {
	if m.state == StateClosed || m.state == StateAwaitingSessionReady {
		return
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return
	}
	completed := m.pendingUser
	if completed {
		m.turns++
		m.pendingUser = false
	}
	m.state = StateAwaitingUserTurn
	id := m.nextMessageID()
	if m.cb.AssistantMessage != nil {
		m.cb.AssistantMessage(id, transcript, completed, m.turns)
	}
}

// Close transitions to Closed from any state. The post-session cascade is
// scheduled at most once, and only if a turn completed during this session's
// lifetime (a resumed conversation's prior turns alone do not trigger it).
func (m *TurnMachine) Close() {
	if m.state == StateClosed {
		return
	}
	m.state = StateClosed
	if m.cascaded {
		return
	}
	if m.turns > m.initialTurns {
		m.cascaded = true
		if m.cb.Cascade != nil {
			m.cb.Cascade(m.turns)
		}
	}
}

func (m *TurnMachine) nextMessageID() string {
	if m.newMessageID == nil {
		return ""
	}
	return m.newMessageID()
}
