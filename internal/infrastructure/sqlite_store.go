package infrastructure

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"feishu_dify_bridge/internal/interfaces"

	_ "modernc.org/sqlite"
)

const conversationSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	receive_id      TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	updated_at      INTEGER NOT NULL
)`

// SQLiteConversationStore persists the chat to conversation mapping so
// conversations continue across restarts.
type SQLiteConversationStore struct {
	db *sql.DB
}

var _ interfaces.ConversationStore = (*SQLiteConversationStore)(nil)

// OpenSQLiteConversationStore opens (creating if needed) the database at path.
func OpenSQLiteConversationStore(path string) (*SQLiteConversationStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer keeps SQLite from returning SQLITE_BUSY under concurrent webhooks
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := db.Exec(conversationSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create conversations table: %w", err)
	}

	return &SQLiteConversationStore{db: db}, nil
}

func (s *SQLiteConversationStore) Get(ctx context.Context, receiveID string) (string, error) {
	var conversationID string
	err := s.db.QueryRowContext(ctx,
		"SELECT conversation_id FROM conversations WHERE receive_id = ?", receiveID,
	).Scan(&conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}
	return conversationID, nil
}

func (s *SQLiteConversationStore) Put(ctx context.Context, receiveID, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (receive_id, conversation_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(receive_id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			updated_at = excluded.updated_at`,
		receiveID, conversationID, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert failed: %w", err)
	}
	return nil
}

func (s *SQLiteConversationStore) Delete(ctx context.Context, receiveID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE receive_id = ?", receiveID); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	return nil
}

func (s *SQLiteConversationStore) Close() error {
	return s.db.Close()
}
