//go:build integration

package storage_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamibilling/rdn-billing/internal/models"
	"github.com/jamibilling/rdn-billing/internal/storage"
	tc "github.com/jamibilling/rdn-billing/internal/testing"
)

func TestFeeRepository_Postgres(t *testing.T) {
	ctx := context.Background()
	containers := tc.Start(t, true, false)

	db, err := containers.Postgres(ctx)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Health(ctx))

	helper := tc.NewPostgresTestHelper(db)
	require.NoError(t, helper.TruncateAll(ctx))

	seeded, err := helper.SeedRates(ctx,
		tc.TestRate{Client: "Acme Recovery", Lienholder: "First Bank", FeeType: "Involuntary Repo", Amount: "375.00"},
		tc.TestRate{Client: "Acme Recovery", Lienholder: "Standard", FeeType: "Involuntary Repo", Amount: "350.00"},
	)
	require.NoError(t, err)
	require.Len(t, seeded, 2)

	repo := storage.NewFeeRepository(db)

	c, err := repo.FindClient(ctx, "  acme recovery ")
	require.NoError(t, err)
	assert.Equal(t, "Acme Recovery", c.Name)

	lh, err := repo.FindLienholder(ctx, "FIRST BANK")
	require.NoError(t, err)
	ft, err := repo.FindFeeType(ctx, "involuntary repo")
	require.NoError(t, err)

	fd, err := repo.FindFeeDetail(ctx, c.ID, lh.ID, ft.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("375").Equal(fd.Amount))
	assert.Equal(t, seeded[0].ID, fd.ID)

	_, err = repo.FindClient(ctx, "Nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Upserting the same triple updates the amount in place.
	updated, err := repo.UpsertFeeDetail(ctx, "Acme Recovery", "First Bank", "Involuntary Repo", decimal.RequireFromString("400"))
	require.NoError(t, err)
	assert.Equal(t, fd.ID, updated.ID)

	// Names differing only in case resolve to the existing rows.
	recased, err := repo.UpsertFeeDetail(ctx, "ACME RECOVERY", "first bank", "INVOLUNTARY REPO", decimal.RequireFromString("400"))
	require.NoError(t, err)
	assert.Equal(t, fd.ID, recased.ID)
	assert.Equal(t, c.ID, recased.ClientID)

	list, err := repo.ListFeeDetails(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "First Bank", list[0].LienholderName)
	assert.True(t, decimal.RequireFromString("400").Equal(list[0].Amount))
	assert.Equal(t, "Standard", list[1].LienholderName)
}

func TestLookupCache_Redis(t *testing.T) {
	ctx := context.Background()
	containers := tc.Start(t, false, true)

	client, err := containers.Redis(ctx)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Health(ctx))

	cache := storage.NewLookupCache(client, storage.DefaultLookupCacheConfig(), nil)
	require.True(t, cache.IsHealthy())

	_, ok := cache.Get(ctx, "Acme", "First Bank", "Involuntary Repo")
	assert.False(t, ok)

	res := models.FeeLookupResult{FeeID: "12", ClientName: "Acme", Amount: decimal.RequireFromString("375")}
	cache.Set(ctx, "Acme", "First Bank", "Involuntary Repo", res)

	got, ok := cache.Get(ctx, " acme ", "FIRST BANK", "involuntary repo")
	require.True(t, ok, "keys ignore case and whitespace")
	assert.Equal(t, "12", got.FeeID)

	cache.Set(ctx, "Acme", "Other", "Involuntary Repo", models.FeeLookupResult{Placeholder: true})
	n, err := cache.InvalidateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "placeholders are never cached")

	_, ok = cache.Get(ctx, "Acme", "First Bank", "Involuntary Repo")
	assert.False(t, ok)

	m := cache.Metrics()
	assert.Equal(t, uint64(1), m.Hits)
	assert.Equal(t, uint64(2), m.Misses)
	assert.Zero(t, m.Errors)
}
