package cancel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestManager_CancelFlipsState(t *testing.T) {
	m := NewManager(context.Background())
	defer m.Close()

	assert.False(t, m.IsCancelled())
	require.NoError(t, m.Cancel("user requested"))

	assert.True(t, m.IsCancelled())
	assert.Equal(t, "user requested", m.Reason())
	assert.True(t, m.CleanupCompleted())

	select {
	case <-m.Context().Done():
	default:
		t.Fatal("composed signal not fired")
	}
}

func TestManager_CancelIsIdempotent(t *testing.T) {
	m := NewManager(context.Background())
	defer m.Close()

	runs := 0
	m.AddCleanupHandler(func(context.Context) error {
		runs++
		return nil
	})

	require.NoError(t, m.Cancel("first"))
	require.NoError(t, m.Cancel("second"))

	assert.Equal(t, 1, runs, "cleanup handlers run at most once")
	assert.Equal(t, "first", m.Reason())
}

func TestManager_CleanupRunsLIFO(t *testing.T) {
	m := NewManager(context.Background())
	defer m.Close()

	var order []string
	for _, name := range []string{"a", "b", "c"} {
		m.AddCleanupHandler(func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, m.Cancel("done"))

	assert.Equal(t, []string{"c", "b", "a"}, order)
}

func TestManager_CleanupFailureIsNonFatal(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	m := NewManager(context.Background(), WithLogger(zap.New(core)))
	defer m.Close()

	var order []string
	m.AddCleanupHandler(func(context.Context) error {
		order = append(order, "first-registered")
		return nil
	})
	m.AddCleanupHandler(func(context.Context) error {
		order = append(order, "failing")
		return errors.New("release failed")
	})
	m.AddCleanupHandler(func(context.Context) error {
		order = append(order, "panicking")
		panic("boom")
	})

	require.NoError(t, m.Cancel("shutdown"))

	assert.Equal(t, []string{"panicking", "failing", "first-registered"}, order)
	assert.True(t, m.CleanupCompleted())
	assert.Equal(t, 2, logs.Len(), "one warning per failed handler")
}

func TestManager_CleanupTimeout(t *testing.T) {
	m := NewManager(context.Background(), WithGracefulTimeout(20*time.Millisecond))
	defer m.Close()

	m.AddCleanupHandler(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	err := m.Cancel("slow cleanup")

	var te *GracefulTimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 20*time.Millisecond, te.Timeout)
	assert.True(t, te.CleanupAttempted)
	assert.False(t, te.Err.CleanupCompleted)

	// The timeout variant is still a cancellation error.
	var ce *Error
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, PhaseCleanup, ce.Phase)

	// Timeout is fatal only to the cleanup step, not to cancellation.
	assert.True(t, m.IsCancelled())
	assert.False(t, m.CleanupCompleted())
}

func TestManager_CleanupDisabled(t *testing.T) {
	m := NewManager(context.Background(), WithCleanupDisabled())
	defer m.Close()

	ran := false
	m.AddCleanupHandler(func(context.Context) error {
		ran = true
		return nil
	})

	require.NoError(t, m.Cancel("no cleanup"))

	assert.False(t, ran)
	assert.True(t, m.IsCancelled())
}

func TestManager_ExternalSignalAlreadyAborted(t *testing.T) {
	parent, cancel := context.WithCancelCause(context.Background())
	cancel(errors.New("deadline hit"))

	m := NewManager(parent)
	defer m.Close()

	assert.True(t, m.IsCancelled())
	assert.Equal(t, "deadline hit", m.Reason())
}

func TestManager_ExternalSignalLaterAbort(t *testing.T) {
	parent, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	m := NewManager(parent)
	defer m.Close()

	done := make(chan struct{})
	m.AddCleanupHandler(func(context.Context) error {
		close(done)
		return nil
	})

	cancel(errors.New("caller gave up"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup did not run on external abort")
	}
	assert.True(t, m.IsCancelled())
	assert.Equal(t, "caller gave up", m.Reason())
}

func TestManager_ExternalReasonPreferred(t *testing.T) {
	parent, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	m := NewManager(parent)
	defer m.Close()

	require.NoError(t, m.Cancel("internal reason"))
	cancel(errors.New("external reason"))

	// Give the watcher a moment to observe the parent abort.
	require.Eventually(t, func() bool {
		return m.Reason() == "external reason"
	}, time.Second, 5*time.Millisecond)
}

func TestManager_CheckCancellation(t *testing.T) {
	m := NewManager(context.Background())
	defer m.Close()

	require.NoError(t, m.CheckCancellation(PhaseStreaming))

	require.NoError(t, m.Cancel("stop"))

	err := m.CheckCancellation(PhaseStreaming)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, PhaseStreaming, ce.Phase)
	assert.Equal(t, "stop", ce.Reason)
	assert.True(t, ce.CleanupCompleted)
	assert.False(t, ce.Timestamp.IsZero())
}

func TestManager_HandlerAfterCancelIgnored(t *testing.T) {
	m := NewManager(context.Background())
	defer m.Close()

	require.NoError(t, m.Cancel("done"))

	ran := false
	m.AddCleanupHandler(func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, m.Cancel("again"))

	assert.False(t, ran)
}
