package resolve

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func static(name string, r Result) Strategy[string] {
	return Func(name, func(ctx context.Context, in string) Result { return r })
}

func TestChain_FirstAcceptedWins(t *testing.T) {
	chain := NewChain([]Strategy[string]{
		static("dl", Miss()),
		static("table", Hit("  Acme Recovery  ")),
		static("regex", Hit("Other")),
	})

	res := chain.Resolve(context.Background(), "")
	require.True(t, res.Found)
	assert.Equal(t, "Acme Recovery", res.Value)
	assert.Equal(t, "table", res.Strategy)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, Empty, res.Attempts[0].Outcome)
	assert.Equal(t, Found, res.Attempts[1].Outcome)
}

func TestChain_RejectedCandidateFallsThrough(t *testing.T) {
	notNumeric := func(v string) bool { return strings.Trim(v, "0123456789") != "" }

	chain := NewChain([]Strategy[string]{
		static("dl", Hit("12345", "   ")),
		static("regex", Hit("67890", "Acme")),
	}, WithAccept[string](notNumeric))

	res := chain.Resolve(context.Background(), "")
	require.True(t, res.Found)
	assert.Equal(t, "Acme", res.Value)
	assert.Equal(t, "regex", res.Strategy)
	assert.Equal(t, []string{"12345"}, res.Attempts[0].Rejected)
	assert.Equal(t, []string{"67890"}, res.Attempts[1].Rejected)
}

func TestChain_FailedStrategyIsNotFatal(t *testing.T) {
	boom := errors.New("node detached")
	chain := NewChain([]Strategy[string]{
		static("broken", Fail(boom)),
		static("ok", Hit("value")),
	})

	res := chain.Resolve(context.Background(), "")
	require.True(t, res.Found)
	assert.Equal(t, Failed, res.Attempts[0].Outcome)
	assert.ErrorIs(t, res.Attempts[0].Err, boom)
}

func TestChain_AttemptTimeout(t *testing.T) {
	slow := Func("slow", func(ctx context.Context, in string) Result {
		<-ctx.Done()
		return Miss()
	})

	chain := NewChain([]Strategy[string]{slow, static("fast", Hit("#username"))},
		WithAttemptTimeout[string](10*time.Millisecond))

	res := chain.Resolve(context.Background(), "")
	require.True(t, res.Found)
	assert.Equal(t, "#username", res.Value)
	assert.Equal(t, Failed, res.Attempts[0].Outcome)
	assert.ErrorIs(t, res.Attempts[0].Err, context.DeadlineExceeded)
	assert.NoError(t, res.Err)
}

func TestChain_ParentCancellationStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	first := Func("first", func(ctx context.Context, in string) Result {
		calls++
		cancel()
		return Miss()
	})
	second := Func("second", func(ctx context.Context, in string) Result {
		calls++
		return Hit("never")
	})

	res := NewChain([]Strategy[string]{first, second}).Resolve(ctx, "")
	assert.False(t, res.Found)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestChain_NothingFound(t *testing.T) {
	res := NewChain([]Strategy[string]{static("a", Miss()), static("b", Hit(""))}).
		Resolve(context.Background(), "")
	assert.False(t, res.Found)
	assert.Len(t, res.Attempts, 2)
	assert.Equal(t, Empty, res.Attempts[1].Outcome)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "found", Found.String())
	assert.Equal(t, "empty", Empty.String())
	assert.Equal(t, "failed", Failed.String())
}
