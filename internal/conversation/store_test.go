package conversation_test

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagechat/internal/conversation"
)

var msgColumns = []string{"id", "document_id", "author", "text", "incomplete", "created_at"}

type anyULID struct{}

func (anyULID) Match(v driver.Value) bool {
	s, ok := v.(string)
	return ok && len(s) == 26
}

func TestPostgresStore_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := conversation.NewPostgresStore(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages (id, document_id, author, text, incomplete) VALUES ($1, $2, $3, $4, $5) RETURNING created_at")).
		WithArgs(anyULID{}, "doc-1", "user", "what is on page 2?", false).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	m, err := store.Append(context.Background(), "doc-1", conversation.NewMessage{Author: conversation.AuthorUser, Text: "what is on page 2?"})
	require.NoError(t, err)
	assert.Len(t, m.ID, 26)
	assert.Equal(t, now, m.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Append_UnknownAuthor(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = conversation.NewPostgresStore(db).Append(context.Background(), "doc-1", conversation.NewMessage{Author: "system", Text: "x"})
	assert.Error(t, err)
}

func TestPostgresStore_IDsAreMonotonic(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := conversation.NewPostgresStore(db)
	var ids []string
	for i := 0; i < 5; i++ {
		mock.ExpectQuery("INSERT INTO messages").WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
		m, err := store.Append(context.Background(), "doc-1", conversation.NewMessage{Author: conversation.AuthorUser, Text: "x"})
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i])
	}
}

func TestPostgresStore_List(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("first page with more available", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta("FROM messages WHERE document_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2")).
			WithArgs("doc-1", 3).
			WillReturnRows(sqlmock.NewRows(msgColumns).
				AddRow("m5", "doc-1", "assistant", "a2", false, t0.Add(4*time.Second)).
				AddRow("m4", "doc-1", "user", "q2", false, t0.Add(3*time.Second)).
				AddRow("m3", "doc-1", "assistant", "a1", true, t0.Add(2*time.Second)))

		page, err := conversation.NewPostgresStore(db).List(context.Background(), "doc-1", 2, "")
		require.NoError(t, err)
		require.Len(t, page.Messages, 2)
		assert.Equal(t, "m5", page.Messages[0].ID)
		assert.Equal(t, conversation.AuthorAssistant, page.Messages[0].Author)
		assert.Equal(t, "m4", page.NextCursor)
	})

	t.Run("last page has no cursor", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta("SELECT created_at FROM messages WHERE id = $1 AND document_id = $2")).
			WithArgs("m4", "doc-1").
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(t0.Add(3 * time.Second)))
		mock.ExpectQuery(regexp.QuoteMeta("AND (created_at, id) < ($2, $3) ORDER BY created_at DESC, id DESC LIMIT $4")).
			WithArgs("doc-1", t0.Add(3*time.Second), "m4", 3).
			WillReturnRows(sqlmock.NewRows(msgColumns).
				AddRow("m3", "doc-1", "assistant", "a1", false, t0.Add(2*time.Second)))

		page, err := conversation.NewPostgresStore(db).List(context.Background(), "doc-1", 2, "m4")
		require.NoError(t, err)
		require.Len(t, page.Messages, 1)
		assert.Empty(t, page.NextCursor)
	})

	t.Run("unknown cursor", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta("SELECT created_at FROM messages")).
			WithArgs("ghost", "doc-1").
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}))

		_, err = conversation.NewPostgresStore(db).List(context.Background(), "doc-1", 10, "ghost")
		assert.ErrorIs(t, err, conversation.ErrInvalidCursor)
	})

	t.Run("empty conversation", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("FROM messages").WithArgs("doc-1", conversation.DefaultPageSize+1).
			WillReturnRows(sqlmock.NewRows(msgColumns))

		page, err := conversation.NewPostgresStore(db).List(context.Background(), "doc-1", 0, "")
		require.NoError(t, err)
		assert.NotNil(t, page.Messages)
		assert.Empty(t, page.Messages)
		assert.Empty(t, page.NextCursor)
	})
}

func TestPostgresStore_Recent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	t0 := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, id DESC LIMIT $2")).
		WithArgs("doc-1", 3).
		WillReturnRows(sqlmock.NewRows(msgColumns).
			AddRow("m3", "doc-1", "user", "q2", false, t0.Add(2*time.Second)).
			AddRow("m2", "doc-1", "assistant", "a1", false, t0.Add(time.Second)).
			AddRow("m1", "doc-1", "user", "q1", false, t0))

	msgs, err := conversation.NewPostgresStore(db).Recent(context.Background(), "doc-1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestPostgresStore_Recent_ZeroWindow(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	msgs, err := conversation.NewPostgresStore(db).Recent(context.Background(), "doc-1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
