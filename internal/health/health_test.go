package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/inbox/internal/storage/memory"
)

func TestChecker(t *testing.T) {
	store := memory.NewStore()

	t.Run("依赖全部正常", func(t *testing.T) {
		c := NewChecker(nil)
		c.AddDependency("database", PingerFunc(store.Health))

		results, ok := c.Check(context.Background())
		assert.True(t, ok)
		assert.Equal(t, map[string]string{"database": StatusOK}, results)

		rec := httptest.NewRecorder()
		c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Redis 不可用", func(t *testing.T) {
		c := NewChecker(nil)
		c.AddDependency("database", PingerFunc(store.Health))
		c.AddDependency("redis", PingerFunc(func(context.Context) error {
			return errors.New("connection refused")
		}))

		results, ok := c.Check(context.Background())
		assert.False(t, ok)
		assert.Equal(t, StatusOK, results["database"])
		assert.Equal(t, "ERROR: connection refused", results["redis"])

		rec := httptest.NewRecorder()
		c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		// 存活检查不受依赖影响
		rec = httptest.NewRecorder()
		c.LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	})
}
