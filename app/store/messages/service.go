package messages

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"groupchat/app/config"

	"github.com/google/uuid"
	"github.com/samber/do"

	_ "modernc.org/sqlite"
)

var _ do.Shutdownable = (*Service)(nil)

type Service struct {
	db          *sql.DB
	broadcaster *broadcaster
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	if err := os.MkdirAll(filepath.Dir(cfg.DB.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Service{
		db:          db,
		broadcaster: newBroadcaster(),
	}

	if err = s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return s, nil
}

func (s *Service) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			sender_name TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			from_assistant INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_time
			ON messages(conversation_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// Append persists a message and fans it out to live subscribers of its
// conversation. The ID and timestamp are filled in if unset.
func (s *Service) Append(ctx context.Context, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, sender_name, text, created_at, from_assistant)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.SenderName, msg.Text,
		msg.Timestamp, msg.FromAssistant,
	)
	if err != nil {
		return Message{}, fmt.Errorf("failed to insert message: %w", err)
	}

	s.broadcaster.publish(msg.ConversationID, msg)

	return msg, nil
}

// List returns every message of a conversation in timestamp order.
func (s *Service) List(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, sender_name, text, created_at, from_assistant
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var result []Message

	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderName,
			&msg.Text, &msg.Timestamp, &msg.FromAssistant); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		result = append(result, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	return result, nil
}

// Clear deletes all messages of a conversation.
func (s *Service) Clear(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM messages WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	return nil
}

// Subscribe yields messages appended to the conversation after the call.
// The subscription is removed when ctx is cancelled.
func (s *Service) Subscribe(ctx context.Context, conversationID string) <-chan Message {
	return s.broadcaster.subscribe(ctx, conversationID)
}

func (s *Service) Shutdown() error {
	return s.db.Close()
}
