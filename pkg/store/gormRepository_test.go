package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newGormMock(t *testing.T) (*GormRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: db, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewGormRepository(gdb), mock
}

func TestGormAdd_Upserts(t *testing.T) {
	repo, mock := newGormMock(t)

	mock.ExpectExec("INSERT INTO `outbox` .+ ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := repo.Add(context.Background(), &OutboxMessage{ID: "msg-1", Type: "AddShift", Payload: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormUpdate_NotFound(t *testing.T) {
	repo, mock := newGormMock(t)

	mock.ExpectExec("UPDATE `outbox` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `outbox` WHERE id = \\?").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	err := repo.Update(context.Background(), &OutboxMessage{ID: "missing", Status: StatusProcessed})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormUpdate_UnchangedRowIsNotMissing(t *testing.T) {
	repo, mock := newGormMock(t)

	mock.ExpectExec("UPDATE `outbox` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `outbox` WHERE id = \\?").
		WithArgs("msg-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := repo.Update(context.Background(), &OutboxMessage{ID: "msg-1", Status: StatusProcessed})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormGet(t *testing.T) {
	repo, mock := newGormMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT \\* FROM `outbox` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows(testColumns).
			AddRow("1", "AddShift", []byte(`{}`), `{"messageId":"1"}`, "pending", "", now, now))

	msg, err := repo.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, msg.Status)
	assert.Equal(t, "1", msg.Metadata[MetaMessageID])

	mock.ExpectQuery("SELECT \\* FROM `outbox` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows(testColumns))

	_, err = repo.Get(context.Background(), "2")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
