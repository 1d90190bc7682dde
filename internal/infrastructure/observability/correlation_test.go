package observability

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationID(t *testing.T) {
	t.Run("Should report no id on a bare context", func(t *testing.T) {
		_, ok := CorrelationID(context.Background())
		assert.False(t, ok)
	})

	t.Run("Should generate a UUID once and reuse it", func(t *testing.T) {
		ctx, id := EnsureCorrelationID(context.Background())
		_, err := uuid.Parse(id)
		require.NoError(t, err)

		ctx2, again := EnsureCorrelationID(ctx)
		assert.Equal(t, id, again)
		assert.Equal(t, ctx, ctx2)
	})

	t.Run("Should set and clear explicitly", func(t *testing.T) {
		ctx := WithCorrelationID(context.Background(), "req-1")
		id, ok := CorrelationID(ctx)
		require.True(t, ok)
		assert.Equal(t, "req-1", id)

		cleared := WithoutCorrelationID(ctx)
		_, ok = CorrelationID(cleared)
		assert.False(t, ok)

		_, fresh := EnsureCorrelationID(cleared)
		assert.NotEmpty(t, fresh)
		assert.NotEqual(t, "req-1", fresh)

		_, ok = CorrelationID(WithCorrelationID(ctx, ""))
		assert.False(t, ok)
	})

	t.Run("Should restore the previous id after a scope", func(t *testing.T) {
		outer := WithCorrelationID(context.Background(), "outer")

		var inner string
		err := WithCorrelationScope(outer, "inner", func(ctx context.Context) error {
			inner, _ = CorrelationID(ctx)
			return errors.New("boom")
		})
		assert.EqualError(t, err, "boom")
		assert.Equal(t, "inner", inner)

		id, _ := CorrelationID(outer)
		assert.Equal(t, "outer", id)
	})

	t.Run("Should generate an id for an empty scope id", func(t *testing.T) {
		err := WithCorrelationScope(context.Background(), "", func(ctx context.Context) error {
			id, ok := CorrelationID(ctx)
			assert.True(t, ok)
			assert.NotEmpty(t, id)
			return nil
		})
		assert.NoError(t, err)
	})

	t.Run("Should keep concurrent scopes isolated", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ctx, id := EnsureCorrelationID(context.Background())
				got, _ := CorrelationID(ctx)
				assert.Equal(t, id, got)
			}()
		}
		wg.Wait()
	})

	t.Run("Should tolerate a nil context", func(t *testing.T) {
		//nolint:staticcheck
		_, ok := CorrelationID(nil)
		assert.False(t, ok)
	})
}
