package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for goose
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a pooled connection and applies pending migrations.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 16
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(cfg.ConnConfig.ConnString()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// goose drives migrations over database/sql, so open a separate short-lived
// stdlib connection for the migration run only.
func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

func (s *PostgresStore) CreateConversation(ctx context.Context, ownerID string, params ConversationParams) (Conversation, error) {
	conv := Conversation{
		ID:        "c_" + uuid.NewString(),
		OwnerID:   ownerID,
		Language:  params.Language,
		Level:     params.Level,
		Context:   params.Context,
		LessonID:  params.LessonID,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, owner_id, language, level, context, lesson_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`,
		conv.ID, conv.OwnerID, conv.Language, conv.Level, conv.Context, conv.LessonID, conv.CreatedAt,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var conv Conversation
	var lessonID sql.NullString
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, language, level, context, lesson_id, created_at
		FROM conversations WHERE id = $1`, id,
	).Scan(&conv.ID, &conv.OwnerID, &conv.Language, &conv.Level, &conv.Context, &lessonID, &conv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("select conversation: %w", err)
	}
	conv.LessonID = lessonID.String
	return conv, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (Message, error) {
	var msg Message
	err := s.pool.QueryRow(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM messages WHERE id = $1`, id,
	).Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("select message: %w", err)
	}
	return msg, nil
}

// RecentMessages returns the newest messages oldest-first, for use as
// analysis context.
func (s *PostgresStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, created_at FROM (
			SELECT id, conversation_id, role, content, created_at
			FROM messages WHERE conversation_id = $1
			ORDER BY created_at DESC LIMIT $2
		) recent ORDER BY created_at ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select recent messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MessageCount(ctx context.Context, conversationID string, role string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = $1 AND ($2 = '' OR role = $2)`,
		conversationID, role,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// GetOrCreateProgress returns the progress row for a lesson conversation,
// creating it with the given required-turn threshold on first use. The
// threshold is fixed at creation and never changed afterwards.
func (s *PostgresStore) GetOrCreateProgress(ctx context.Context, conversationID, ownerID string, required int) (Progress, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return Progress{}, err
	}
	if conv.LessonID == "" {
		return Progress{}, fmt.Errorf("conversation %s has no lesson", conversationID)
	}
	if required <= 0 {
		required = 1
	}

	id := "p_" + uuid.NewString()
	var p Progress
	err = s.pool.QueryRow(ctx, `
		INSERT INTO lesson_progress (id, owner_id, lesson_id, conversation_id, turns_completed, turns_required, status)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
		ON CONFLICT (owner_id, lesson_id) DO UPDATE SET conversation_id = EXCLUDED.conversation_id
		RETURNING id, owner_id, lesson_id, conversation_id, turns_completed, turns_required, status`,
		id, ownerID, conv.LessonID, conversationID, required, StatusNotStarted,
	).Scan(&p.ID, &p.OwnerID, &p.LessonID, &p.ConversationID, &p.TurnsCompleted, &p.TurnsRequired, &p.Status)
	if err != nil {
		return Progress{}, fmt.Errorf("upsert progress: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) UpdateProgressTurns(ctx context.Context, progressID string, turns int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE lesson_progress
		SET turns_completed = $2,
		    status = CASE WHEN $2 >= turns_required THEN $3 ELSE $4 END
		WHERE id = $1`,
		progressID, turns, StatusCompleted, StatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

var _ Store = (*PostgresStore)(nil)
