package shutdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShutdown_RunsInReverseOrder(t *testing.T) {
	h := New(quietLogger(), time.Second)

	var order []string
	for _, name := range []string{"store", "cache", "server"} {
		name := name
		h.RegisterNamed(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, h.Shutdown())
	assert.Equal(t, []string{"server", "cache", "store"}, order)
}

func TestShutdown_CollectsErrorsAndRunsOnce(t *testing.T) {
	h := New(quietLogger(), time.Second)

	calls := 0
	boom := errors.New("boom")
	h.RegisterNamed("browser", func(ctx context.Context) error {
		calls++
		return boom
	})
	h.Register(func(ctx context.Context) error {
		calls++
		return nil
	})

	err := h.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	// second call is a no-op
	assert.ErrorIs(t, h.Shutdown(), boom)
	assert.Equal(t, 2, calls)
}

func TestWait_ReturnsWhenContextDone(t *testing.T) {
	h := New(quietLogger(), time.Second)
	ran := false
	h.Register(func(ctx context.Context) error {
		ran = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.Wait(ctx))
	assert.True(t, ran)
}
