package taskqueue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDrainRunsBufferedTasks(t *testing.T) {
	registry := NewRegistry()
	queue := NewMemoryQueue(registry, zap.NewNop())
	ctx := context.Background()

	var got []string
	registry.Register("greet", func(ctx context.Context, task Task) error {
		got = append(got, task.Payload["name"].(string))
		return nil
	})

	require.NoError(t, queue.Submit(ctx, "greet", map[string]any{"name": "alice"}))
	require.NoError(t, queue.Submit(ctx, "greet", map[string]any{"name": "bob"}))
	assert.Equal(t, 2, queue.Pending())

	require.NoError(t, queue.Drain(ctx))
	assert.Equal(t, []string{"alice", "bob"}, got)
	assert.Zero(t, queue.Pending())
}

func TestDrainRunsTasksSubmittedByHandlers(t *testing.T) {
	registry := NewRegistry()
	queue := NewMemoryQueue(registry, zap.NewNop())
	ctx := context.Background()

	var followup bool
	registry.Register("first", func(ctx context.Context, task Task) error {
		return queue.Submit(ctx, "second", nil)
	})
	registry.Register("second", func(ctx context.Context, task Task) error {
		followup = true
		return nil
	})

	require.NoError(t, queue.Submit(ctx, "first", nil))
	require.NoError(t, queue.Drain(ctx))
	assert.True(t, followup)
}

func TestDrainRetriesUpToBudget(t *testing.T) {
	registry := NewRegistry()
	queue := NewMemoryQueue(registry, zap.NewNop())
	ctx := context.Background()

	attempts := 0
	registry.Register("flaky", func(ctx context.Context, task Task) error {
		attempts++
		return errors.New("transient")
	})

	require.NoError(t, queue.Submit(ctx, "flaky", nil))
	require.NoError(t, queue.Drain(ctx))

	assert.Equal(t, defaultMaxAttempts, attempts)
	assert.Zero(t, queue.Pending())
}

func TestDrainRecoversAfterRetry(t *testing.T) {
	registry := NewRegistry()
	queue := NewMemoryQueue(registry, zap.NewNop())
	ctx := context.Background()

	attempts := 0
	registry.Register("eventually", func(ctx context.Context, task Task) error {
		attempts++
		if attempts < 2 {
			return errors.New("not yet")
		}
		return nil
	})

	require.NoError(t, queue.Submit(ctx, "eventually", nil))
	require.NoError(t, queue.Drain(ctx))
	assert.Equal(t, 2, attempts)
}

func TestDrainSkipsUnknownTasks(t *testing.T) {
	registry := NewRegistry()
	queue := NewMemoryQueue(registry, zap.NewNop())
	ctx := context.Background()

	ran := false
	registry.Register("known", func(ctx context.Context, task Task) error {
		ran = true
		return nil
	})

	require.NoError(t, queue.Submit(ctx, "mystery", nil))
	require.NoError(t, queue.Submit(ctx, "known", nil))
	require.NoError(t, queue.Drain(ctx))

	assert.True(t, ran)
	assert.Zero(t, queue.Pending())
}

func TestDrainStopsOnCanceledContext(t *testing.T) {
	registry := NewRegistry()
	queue := NewMemoryQueue(registry, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	registry.Register("noop", func(ctx context.Context, task Task) error {
		cancel()
		return nil
	})

	require.NoError(t, queue.Submit(ctx, "noop", nil))
	require.NoError(t, queue.Submit(ctx, "noop", nil))

	err := queue.Drain(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, queue.Pending())
}
