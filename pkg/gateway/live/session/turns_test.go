package session

import (
	"errors"
	"fmt"
	"testing"
)

func newCountingIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("m_%d", n)
	}
}

func TestTurnMachine_BootstrapFiresExactlyOnce(t *testing.T) {
	bootstraps := 0
	m := NewTurnMachine(0, newCountingIDs(), TurnCallbacks{
		Bootstrap: func() error { bootstraps++; return nil },
	})

	if err := m.SessionReady(); err != nil {
		t.Fatalf("session ready: %v", err)
	}
	if err := m.SessionReady(); err != nil {
		t.Fatalf("duplicate session ready: %v", err)
	}
	if err := m.SessionReady(); err != nil {
		t.Fatalf("duplicate session ready: %v", err)
	}
	if bootstraps != 1 {
		t.Fatalf("bootstraps=%d, want 1", bootstraps)
	}
	if m.State() != StateAwaitingUserTurn {
		t.Fatalf("state=%v, want awaiting_user_turn", m.State())
	}
}

func TestTurnMachine_BootstrapErrorPropagates(t *testing.T) {
	want := errors.New("db down")
	m := NewTurnMachine(0, newCountingIDs(), TurnCallbacks{
		Bootstrap: func() error { return want },
	})
	if err := m.SessionReady(); !errors.Is(err, want) {
		t.Fatalf("err=%v, want wrapped db down", err)
	}
}

func TestTurnMachine_CompletePairIncrementsOnce(t *testing.T) {
	var turnsSeen []int
	m := NewTurnMachine(0, newCountingIDs(), TurnCallbacks{
		AssistantMessage: func(_, _ string, completed bool, turns int) {
			if completed {
				turnsSeen = append(turnsSeen, turns)
			}
		},
	})
	_ = m.SessionReady()

	m.UserTranscript("hola")
	if m.Turns() != 0 {
		t.Fatalf("turns=%d after user transcript, want 0", m.Turns())
	}
	if !m.PendingUser() {
		t.Fatalf("pending flag should be set")
	}
	if m.State() != StateAwaitingAssistantTurn {
		t.Fatalf("state=%v", m.State())
	}

	m.AssistantTranscript("¡Hola! ¿Cómo estás?")
	if m.Turns() != 1 {
		t.Fatalf("turns=%d, want 1", m.Turns())
	}
	if m.PendingUser() {
		t.Fatalf("pending flag should be cleared")
	}
	if len(turnsSeen) != 1 || turnsSeen[0] != 1 {
		t.Fatalf("turnsSeen=%v, want [1]", turnsSeen)
	}
}

func TestTurnMachine_UnpairedAssistantDoesNotCount(t *testing.T) {
	m := NewTurnMachine(0, newCountingIDs(), TurnCallbacks{})
	_ = m.SessionReady()

	// Assistant opener with no preceding user message.
	m.AssistantTranscript("¡Bienvenido!")
	if m.Turns() != 0 {
		t.Fatalf("turns=%d, want 0 for assistant opener", m.Turns())
	}

	m.UserTranscript("gracias")
	m.AssistantTranscript("de nada")
	if m.Turns() != 1 {
		t.Fatalf("turns=%d, want 1", m.Turns())
	}
}

func TestTurnMachine_EmptyTranscriptsIgnored(t *testing.T) {
	userMessages := 0
	m := NewTurnMachine(0, newCountingIDs(), TurnCallbacks{
		UserMessage: func(_, _ string) { userMessages++ },
	})
	_ = m.SessionReady()

	m.UserTranscript("   ")
	m.AssistantTranscript("")
	if userMessages != 0 || m.Turns() != 0 || m.PendingUser() {
		t.Fatalf("empty transcripts must be no-ops: messages=%d turns=%d pending=%v",
			userMessages, m.Turns(), m.PendingUser())
	}
}

func TestTurnMachine_TranscriptsBeforeReadyIgnored(t *testing.T) {
	m := NewTurnMachine(0, newCountingIDs(), TurnCallbacks{
		UserMessage: func(_, _ string) { t.Errorf("no message before session ready") },
	})
	m.UserTranscript("hola")
	m.AssistantTranscript("hola")
	if m.Turns() != 0 {
		t.Fatalf("turns=%d, want 0", m.Turns())
	}
}

func TestTurnMachine_ResumeContinuesCounter(t *testing.T) {
	var last int
	m := NewTurnMachine(6, newCountingIDs(), TurnCallbacks{
		AssistantMessage: func(_, _ string, completed bool, turns int) { last = turns },
	})
	_ = m.SessionReady()
	m.UserTranscript("una pregunta más")
	m.AssistantTranscript("claro")
	if m.Turns() != 7 || last != 7 {
		t.Fatalf("turns=%d last=%d, want 7", m.Turns(), last)
	}
}

func TestTurnMachine_CascadeOnceAndOnlyWithNewTurns(t *testing.T) {
	cascades := 0
	m := NewTurnMachine(0, newCountingIDs(), TurnCallbacks{
		Cascade: func(turns int) { cascades++ },
	})
	_ = m.SessionReady()
	m.UserTranscript("hola")
	m.AssistantTranscript("hola")

	m.Close()
	m.Close()
	if cascades != 1 {
		t.Fatalf("cascades=%d, want 1", cascades)
	}

	// A session that resumes at 6 turns but completes none of its own
	// schedules no cascade.
	cascades = 0
	m = NewTurnMachine(6, newCountingIDs(), TurnCallbacks{
		Cascade: func(int) { cascades++ },
	})
	_ = m.SessionReady()
	m.Close()
	if cascades != 0 {
		t.Fatalf("cascades=%d, want 0 with no new turns", cascades)
	}
}

func TestTurnMachine_ClosedIgnoresTraffic(t *testing.T) {
	m := NewTurnMachine(0, newCountingIDs(), TurnCallbacks{})
	_ = m.SessionReady()
	m.Close()
	m.UserTranscript("hola")
	m.AssistantTranscript("hola")
	if m.Turns() != 0 || m.State() != StateClosed {
		t.Fatalf("closed machine must ignore traffic: turns=%d state=%v", m.Turns(), m.State())
	}
	if err := m.SessionReady(); err != nil {
		t.Fatalf("session ready after close: %v", err)
	}
}
