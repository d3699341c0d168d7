package trace

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "req-123")

	id, ok := IDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-123", id)
}

func TestIDFromContextMissing(t *testing.T) {
	t.Run("no value", func(t *testing.T) {
		_, ok := IDFromContext(context.Background())
		assert.False(t, ok)
	})

	t.Run("empty value", func(t *testing.T) {
		_, ok := IDFromContext(WithTraceID(context.Background(), ""))
		assert.False(t, ok)
	})
}

func TestEnsureTraceID(t *testing.T) {
	t.Run("reuses existing", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "existing")
		assert.Equal(t, "existing", EnsureTraceID(ctx))
	})

	t.Run("generates uuid", func(t *testing.T) {
		id := EnsureTraceID(context.Background())
		_, err := uuid.Parse(id)
		require.NoError(t, err)
	})
}
