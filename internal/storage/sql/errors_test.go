package sql

import (
	"context"
	"errors"
	"fmt"
	"testing"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"tempmail/inbox/internal/domain"
)

func TestIsDuplicateKey(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"gorm 翻译后的错误", gorm.ErrDuplicatedKey, true},
		{"PostgreSQL 唯一约束", &pgconn.PgError{Code: "23505"}, true},
		{"PostgreSQL 其他错误", &pgconn.PgError{Code: "23503"}, false},
		{"MySQL 重复键", fmt.Errorf("insert: %w", &gomysql.MySQLError{Number: 1062}), true},
		{"MySQL 其他错误", &gomysql.MySQLError{Number: 1213}, false},
		{"普通错误", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isDuplicateKey(tt.err))
		})
	}
}

func TestWrapStorage(t *testing.T) {
	t.Run("空错误", func(t *testing.T) {
		assert.NoError(t, wrapStorage(nil))
	})

	t.Run("业务错误原样返回", func(t *testing.T) {
		err := wrapStorage(domain.ErrAddressInactive)
		assert.Equal(t, domain.ErrAddressInactive, err)
	})

	t.Run("驱动错误标记为暂时不可用", func(t *testing.T) {
		driverErr := errors.New("connection reset")
		err := wrapStorage(driverErr)
		assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
		assert.ErrorIs(t, err, driverErr)
		assert.Equal(t, domain.KindTransient, domain.KindOf(err))
	})

	t.Run("取消不标记", func(t *testing.T) {
		assert.Equal(t, context.Canceled, wrapStorage(context.Canceled))
	})

	t.Run("记录不存在", func(t *testing.T) {
		assert.Equal(t, domain.ErrMessageNotFound, notFound(gorm.ErrRecordNotFound, domain.ErrMessageNotFound))
	})
}
