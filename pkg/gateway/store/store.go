// Package store is the narrow persistence adapter for conversations,
// messages, and lesson progress. Both the relay hot path and the background
// workers go through it.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

type Conversation struct {
	ID        string
	OwnerID   string
	Language  string
	Level     string
	Context   string
	LessonID  string
	CreatedAt time.Time
}

// Message ids are assigned by the caller before persistence so the live
// session can reference them immediately.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

type Progress struct {
	ID             string
	OwnerID        string
	LessonID       string
	ConversationID string
	TurnsCompleted int
	TurnsRequired  int
	Status         string
}

type ConversationParams struct {
	Language string
	Level    string
	Context  string
	LessonID string
}

type Store interface {
	CreateConversation(ctx context.Context, ownerID string, params ConversationParams) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	AppendMessage(ctx context.Context, msg Message) error
	GetMessage(ctx context.Context, id string) (Message, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	MessageCount(ctx context.Context, conversationID string, role string) (int, error)
	GetOrCreateProgress(ctx context.Context, conversationID, ownerID string, required int) (Progress, error)
	UpdateProgressTurns(ctx context.Context, progressID string, turns int) error
	Ping(ctx context.Context) error
	Close()
}
