//go:build integration

package feelookup_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamibilling/rdn-billing/internal/feelookup"
	"github.com/jamibilling/rdn-billing/internal/storage"
	tc "github.com/jamibilling/rdn-billing/internal/testing"
	"github.com/jamibilling/rdn-billing/pkg/logger"
)

func TestResolver_PostgresAndRedis(t *testing.T) {
	ctx := context.Background()
	containers := tc.Start(t, true, true)

	db, err := containers.Postgres(ctx)
	require.NoError(t, err)
	defer db.Close()

	client, err := containers.Redis(ctx)
	require.NoError(t, err)
	defer client.Close()

	_, err = tc.NewPostgresTestHelper(db).SeedRates(ctx,
		tc.TestRate{Client: "Acme Recovery", Lienholder: "First Bank", FeeType: "Involuntary Repo", Amount: "375.00"},
		tc.TestRate{Client: "Acme Recovery", Lienholder: "Standard", FeeType: "Involuntary Repo", Amount: "350.00"},
	)
	require.NoError(t, err)

	cache := storage.NewLookupCache(client, storage.DefaultLookupCacheConfig(), nil)
	r := feelookup.New(storage.NewFeeRepository(db), cache, feelookup.DefaultConfig(), logger.Nop())

	res, err := r.Lookup(ctx, "Acme Recovery", "First Bank", "")
	require.NoError(t, err)
	assert.False(t, res.IsFallback)
	assert.True(t, decimal.RequireFromString("375").Equal(res.Amount))

	res, err = r.Lookup(ctx, "acme recovery", "Unknown Credit Union", "Involuntary Repo")
	require.NoError(t, err)
	assert.True(t, res.IsFallback)
	assert.True(t, decimal.RequireFromString("350").Equal(res.Amount))
	assert.Contains(t, res.Message, "Unknown Credit Union")

	// Served from Redis on the second call.
	_, err = r.Lookup(ctx, "Acme Recovery", "First Bank", "")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cache.Metrics().Hits)

	_, err = r.Lookup(ctx, "Nobody", "First Bank", "")
	assert.ErrorIs(t, err, feelookup.ErrNotFound)

	ph := r.LookupOrPlaceholder(ctx, "4417", "Nobody", "First Bank", "")
	assert.True(t, ph.Placeholder)
	assert.Equal(t, "Involuntary Repo", ph.FeeTypeName)
}
