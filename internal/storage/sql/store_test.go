package sql

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"

	"tempmail/inbox/internal/domain"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStoreWithDialector(postgres.New(postgres.Config{Conn: db, WithoutReturning: true}), Options{})
	require.NoError(t, err)
	return store, mock
}

func addressRows(id string, active bool, expiresAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "address", "active", "expires_at"}).
		AddRow(id, id+"@temp.mail", active, expiresAt)
}

const (
	conditionalUpdate = `UPDATE "addresses" SET .* WHERE id = \$\d+ AND active = \$\d+`
	selectAddress     = `SELECT \* FROM "addresses" WHERE id = \$1`
	lockAddressRow    = `SELECT .*id.* FROM "addresses" WHERE id = \$1 .*FOR UPDATE`
)

func TestNewStoreWithDialector(t *testing.T) {
	// 建立连接时不执行任何语句，迁移由调用方显式触发
	_, mock := newMockStore(t)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ExpireAddress(t *testing.T) {
	ctx := context.Background()

	t.Run("到期地址被停用", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(conditionalUpdate + ` AND expires_at <= \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		changed, err := store.ExpireAddress(ctx, "a1", now)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("未到期或已停用不变", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(conditionalUpdate + ` AND expires_at <= \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		changed, err := store.ExpireAddress(ctx, "a1", now)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("数据库错误标记为暂时不可用", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(conditionalUpdate).WillReturnError(assert.AnError)
		mock.ExpectRollback()

		_, err := store.ExpireAddress(ctx, "a1", now)
		assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	})
}

func TestStore_ExpireAddresses(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "addresses" SET .* WHERE active = \$\d+ AND expires_at <= \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	n, err := store.ExpireAddresses(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ExtendAddress(t *testing.T) {
	ctx := context.Background()
	newExpiry := now.Add(time.Hour)

	t.Run("有效地址延期", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(conditionalUpdate).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectQuery(selectAddress).WillReturnRows(addressRows("a1", true, newExpiry))

		a, err := store.ExtendAddress(ctx, "a1", newExpiry)
		require.NoError(t, err)
		assert.Equal(t, newExpiry, a.ExpiresAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("已停用的地址", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(conditionalUpdate).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		mock.ExpectQuery(selectAddress).WillReturnRows(addressRows("a1", false, now))

		_, err := store.ExtendAddress(ctx, "a1", newExpiry)
		assert.ErrorIs(t, err, domain.ErrAddressInactive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("地址不存在", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(conditionalUpdate).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		mock.ExpectQuery(selectAddress).WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := store.ExtendAddress(ctx, "missing", newExpiry)
		assert.ErrorIs(t, err, domain.ErrAddressNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_DeactivateAddress(t *testing.T) {
	ctx := context.Background()

	t.Run("停用有效地址", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(conditionalUpdate).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.DeactivateAddress(ctx, "a1", now))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("重复停用不报错", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(conditionalUpdate).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		mock.ExpectQuery(selectAddress).WillReturnRows(addressRows("a1", false, now))

		require.NoError(t, store.DeactivateAddress(ctx, "a1", now))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("地址不存在", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(conditionalUpdate).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		mock.ExpectQuery(selectAddress).WillReturnRows(sqlmock.NewRows([]string{"id"}))

		assert.ErrorIs(t, store.DeactivateAddress(ctx, "missing", now), domain.ErrAddressNotFound)
	})
}

func TestStore_SaveMessage(t *testing.T) {
	ctx := context.Background()
	newMessage := func() *domain.Message {
		return &domain.Message{
			ID: "m1", AddressID: "a1", Subject: "hi", ReceivedAt: now,
			Attachments: []domain.AttachmentRef{
				{ID: "att-1", MessageID: "m1", StorageLocator: "2026/05/01/1-000001-a.txt", SizeBytes: 3},
			},
		}
	}

	t.Run("写入邮件和附件", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockAddressRow).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a1"))
		mock.ExpectExec(`INSERT INTO "messages"`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO "attachments"`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.SaveMessage(ctx, newMessage()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("地址已被删除", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockAddressRow).WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		err := store.SaveMessage(ctx, newMessage())
		assert.ErrorIs(t, err, domain.ErrAddressNotFound)
		assert.NoError(t, mock.ExpectationsWereMet(), "不应写入邮件")
	})

	t.Run("已提交的邮件重试视为成功", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockAddressRow).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a1"))
		mock.ExpectExec(`INSERT INTO "messages"`).WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
		mock.ExpectRollback()
		mock.ExpectQuery(`SELECT count\(\*\) FROM "messages" WHERE id = \$1 AND address_id = \$2`).
			WithArgs("m1", "a1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		require.NoError(t, store.SaveMessage(ctx, newMessage()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ID 与其他地址的邮件冲突", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockAddressRow).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a1"))
		mock.ExpectExec(`INSERT INTO "messages"`).WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
		mock.ExpectRollback()
		mock.ExpectQuery(`SELECT count\(\*\) FROM "messages"`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		err := store.SaveMessage(ctx, newMessage())
		assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
		assert.True(t, isDuplicateKey(err))
	})
}

func TestStore_DeleteAddressLocksRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(lockAddressRow).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := store.DeleteAddress(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrAddressNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_PurgeAttachmentsBefore(t *testing.T) {
	ctx := context.Background()
	cutoff := now.Add(-7 * 24 * time.Hour)

	t.Run("返回被删除附件的位置", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT "storage_locator" FROM "attachments" WHERE created_at < \$1`).
			WithArgs(cutoff).
			WillReturnRows(sqlmock.NewRows([]string{"storage_locator"}).AddRow("loc-1").AddRow("loc-2"))
		mock.ExpectExec(`DELETE FROM "attachments" WHERE created_at < \$1`).
			WithArgs(cutoff).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		result, err := store.PurgeAttachmentsBefore(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, []string{"loc-1", "loc-2"}, result.Locators)
		assert.Equal(t, int64(2), result.Attachments)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("没有过期附件时不执行删除", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT "storage_locator" FROM "attachments"`).
			WillReturnRows(sqlmock.NewRows([]string{"storage_locator"}))
		mock.ExpectCommit()

		result, err := store.PurgeAttachmentsBefore(ctx, cutoff)
		require.NoError(t, err)
		assert.Empty(t, result.Locators)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
