// Package conversation persists the chat history of each document.
//
// Messages are append-only. Their order is (created_at, id): created_at is
// assigned by Postgres with clock_timestamp() and id is a ULID, so two
// messages written in the same microsecond still sort deterministically.
package conversation

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid"
)

type Author string

const (
	AuthorUser      Author = "user"
	AuthorAssistant Author = "assistant"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var ErrInvalidCursor = errors.New("invalid cursor")

type Message struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Author     Author    `json:"author"`
	Text       string    `json:"text"`
	Incomplete bool      `json:"incomplete,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type NewMessage struct {
	Author     Author
	Text       string
	Incomplete bool
}

// Page is one slice of history, newest first. NextCursor is empty on the
// last page.
type Page struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

type PostgresStore struct {
	db *sql.DB

	mu      sync.Mutex
	entropy io.Reader
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (s *PostgresStore) newID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), s.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (s *PostgresStore) Append(ctx context.Context, documentID string, m NewMessage) (*Message, error) {
	if m.Author != AuthorUser && m.Author != AuthorAssistant {
		return nil, fmt.Errorf("unknown author %q", m.Author)
	}

	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	msg := &Message{ID: id, DocumentID: documentID, Author: m.Author, Text: m.Text, Incomplete: m.Incomplete}
	query := `INSERT INTO messages (id, document_id, author, text, incomplete) VALUES ($1, $2, $3, $4, $5) RETURNING created_at`
	if err := s.db.QueryRowContext(ctx, query, id, documentID, string(m.Author), m.Text, m.Incomplete).Scan(&msg.CreatedAt); err != nil {
		return nil, err
	}
	return msg, nil
}

// List returns up to limit messages older than cursor (or the newest ones
// when cursor is empty).
func (s *PostgresStore) List(ctx context.Context, documentID string, limit int, cursor string) (*Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	var rows *sql.Rows
	var err error
	if cursor == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, document_id, author, text, incomplete, created_at FROM messages WHERE document_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
			documentID, limit+1)
	} else {
		var at time.Time
		err = s.db.QueryRowContext(ctx, `SELECT created_at FROM messages WHERE id = $1 AND document_id = $2`, cursor, documentID).Scan(&at)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCursor, cursor)
		}
		if err != nil {
			return nil, err
		}
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, document_id, author, text, incomplete, created_at FROM messages WHERE document_id = $1 AND (created_at, id) < ($2, $3) ORDER BY created_at DESC, id DESC LIMIT $4`,
			documentID, at, cursor, limit+1)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	page := &Page{Messages: msgs}
	if len(msgs) > limit {
		page.Messages = msgs[:limit]
		page.NextCursor = msgs[limit-1].ID
	}
	return page, nil
}

// Recent returns the last n messages, oldest first, ready to be replayed
// into a prompt.
func (s *PostgresStore) Recent(ctx context.Context, documentID string, n int) ([]Message, error) {
	if n <= 0 {
		return []Message{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, author, text, incomplete, created_at FROM messages WHERE document_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		documentID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	msgs := []Message{}
	for rows.Next() {
		var m Message
		var author string
		if err := rows.Scan(&m.ID, &m.DocumentID, &author, &m.Text, &m.Incomplete, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Author = Author(author)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
