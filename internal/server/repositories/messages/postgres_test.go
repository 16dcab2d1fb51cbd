package messages

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/safechat/internal/common"
	"github.com/dmitrijs2005/safechat/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aliceID = "11111111-1111-1111-1111-111111111111"
	bobID   = "22222222-2222-2222-2222-222222222222"
	msgID   = "33333333-3333-3333-3333-333333333333"
)

var messageColumns = []string{"id", "sender_id", "receiver_id", "type", "encrypted_content", "iv", "status", "created_at", "read_at"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock, db
}

func TestCreate_Success(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+messages.*ON\s+CONFLICT\s+\(id\)\s+DO\s+NOTHING`).
		WithArgs(msgID, aliceID, bobID, "text", []byte("cipher"), []byte("iv"), "sent", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := repo.Create(context.Background(), &models.Message{
		ID: msgID, SenderID: aliceID, ReceiverID: bobID, Type: "text",
		EncryptedContent: []byte("cipher"), IV: []byte("iv"), Status: models.StatusSending,
	})
	require.NoError(t, err)
	assert.Equal(t, msgID, got.ID)
	assert.Equal(t, models.StatusSent, got.Status)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Nil(t, got.ReadAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_AssignsID(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectExec(`INSERT\s+INTO\s+messages`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := repo.Create(context.Background(), &models.Message{SenderID: aliceID, ReceiverID: bobID, Type: "text"})
	require.NoError(t, err)
	assert.Len(t, got.ID, 36)
}

func TestCreate_Duplicate(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectExec(`INSERT\s+INTO\s+messages`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := repo.Create(context.Background(), &models.Message{ID: msgID, SenderID: aliceID, ReceiverID: bobID})
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectExec(`INSERT\s+INTO\s+messages`).
		WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), &models.Message{ID: msgID})
	require.Error(t, err)
	assert.Regexp(t, `db error: .*db down`, err.Error())
}

func TestGet_FoundAndNotFound(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM messages WHERE id = \$1`).
		WithArgs(msgID).
		WillReturnRows(sqlmock.NewRows(messageColumns).
			AddRow(msgID, aliceID, bobID, "text", []byte("c"), []byte("iv"), "sent", created, nil))

	got, err := repo.Get(context.Background(), msgID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, got.Status)
	assert.Equal(t, created, got.CreatedAt)
	assert.Nil(t, got.ReadAt)

	mock.ExpectQuery(`SELECT .* FROM messages WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestUpdateStatus_Advances(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)
	created := time.Now().UTC()
	readAt := created.Add(time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM messages WHERE id = \$1 FOR UPDATE`).
		WithArgs(msgID).
		WillReturnRows(sqlmock.NewRows(messageColumns).
			AddRow(msgID, aliceID, bobID, "text", []byte("c"), []byte("iv"), "sent", created, nil))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE messages SET status = $2, read_at = $3 WHERE id = $1`)).
		WithArgs(msgID, "read", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, changed, err := repo.UpdateStatus(context.Background(), msgID, models.StatusRead, readAt)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.StatusRead, got.Status)
	require.NotNil(t, got.ReadAt)
	assert.True(t, got.ReadAt.Equal(readAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_AlreadyRead_NoWrite(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)
	created := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(msgID).
		WillReturnRows(sqlmock.NewRows(messageColumns).
			AddRow(msgID, aliceID, bobID, "text", []byte("c"), []byte("iv"), "read", created, created))
	mock.ExpectCommit()

	got, changed, err := repo.UpdateStatus(context.Background(), msgID, models.StatusRead, time.Now())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.StatusRead, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_NotFound_RollsBack(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(msgID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, _, err := repo.UpdateStatus(context.Background(), msgID, models.StatusRead, time.Now())
	assert.ErrorIs(t, err, common.ErrorNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_InsideTx(t *testing.T) {
	_, mock, db := newRepoWithMock(t)
	created := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(msgID).
		WillReturnRows(sqlmock.NewRows(messageColumns).
			AddRow(msgID, aliceID, bobID, "text", []byte("c"), []byte("iv"), "sent", created, nil))
	mock.ExpectExec(`UPDATE messages SET status`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)

	_, changed, err := NewPostgresRepository(tx).UpdateStatus(context.Background(), msgID, models.StatusRead, time.Now())
	require.NoError(t, err)
	assert.True(t, changed)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM messages WHERE id = $1`)).
		WithArgs(msgID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), msgID))

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM messages WHERE id = $1`)).
		WithArgs(msgID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Delete(context.Background(), msgID), common.ErrorNotFound)
}

func TestListBetween(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)
	t1 := time.Now().UTC()
	t0 := t1.Add(-time.Minute)

	mock.ExpectQuery(`(?s)FROM messages.*ORDER BY created_at DESC, id DESC.*LIMIT \$3`).
		WithArgs(aliceID, bobID, 50).
		WillReturnRows(sqlmock.NewRows(messageColumns).
			AddRow("m2", bobID, aliceID, "text", []byte("c2"), []byte("iv"), "sent", t1, nil).
			AddRow("m1", aliceID, bobID, "text", []byte("c1"), []byte("iv"), "read", t0, t1))

	got, err := repo.ListBetween(context.Background(), aliceID, bobID, 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m2", got[0].ID)
	assert.Equal(t, "m1", got[1].ID)
	require.NotNil(t, got[1].ReadAt)
}

func TestListBetween_DBError(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery(`FROM messages`).WillReturnError(errors.New("boom"))

	_, err := repo.ListBetween(context.Background(), aliceID, bobID, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to select messages")
}

func TestListRead(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`WHERE status = \$1`).
		WithArgs("read").
		WillReturnRows(sqlmock.NewRows(messageColumns).
			AddRow(msgID, aliceID, bobID, "text", []byte("c"), []byte("iv"), "read", now, now))

	got, err := repo.ListRead(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.StatusRead, got[0].Status)
}
