package feelookup

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamibilling/rdn-billing/internal/models"
	"github.com/jamibilling/rdn-billing/internal/storage"
)

// mockStore is an in-memory fee table.
type mockStore struct {
	clients     map[string]int64
	lienholders map[string]int64
	feeTypes    map[string]int64
	details     map[[3]int64]storage.FeeDetail
	err         error
	calls       []string
}

func newMockStore() *mockStore {
	s := &mockStore{
		clients:     map[string]int64{"acme recovery llc": 1},
		lienholders: map[string]int64{"first national bank": 10, "standard": 11, "credit union": 12},
		feeTypes:    map[string]int64{"involuntary repo": 100, "voluntary repo": 101},
		details:     map[[3]int64]storage.FeeDetail{},
	}
	s.add(1, 10, 100, "Acme Recovery LLC", "First National Bank", "Involuntary Repo", "400.00")
	s.add(1, 11, 100, "Acme Recovery LLC", "Standard", "Involuntary Repo", "325.00")
	return s
}

func (s *mockStore) add(c, l, f int64, cn, ln, fn, amount string) {
	s.details[[3]int64{c, l, f}] = storage.FeeDetail{
		ID: c*1000 + l*10 + f, ClientID: c, LienholderID: l, FeeTypeID: f,
		ClientName: cn, LienholderName: ln, FeeTypeName: fn,
		Amount: decimal.RequireFromString(amount),
	}
}

func (s *mockStore) FindClient(ctx context.Context, name string) (storage.Client, error) {
	s.calls = append(s.calls, "client")
	if s.err != nil {
		return storage.Client{}, s.err
	}
	id, ok := s.clients[strings.ToLower(name)]
	if !ok {
		return storage.Client{}, storage.ErrNotFound
	}
	return storage.Client{ID: id, Name: name}, nil
}

func (s *mockStore) FindLienholder(ctx context.Context, name string) (storage.Lienholder, error) {
	s.calls = append(s.calls, "lienholder:"+name)
	id, ok := s.lienholders[strings.ToLower(name)]
	if !ok {
		return storage.Lienholder{}, storage.ErrNotFound
	}
	return storage.Lienholder{ID: id, Name: name}, nil
}

func (s *mockStore) FindFeeType(ctx context.Context, name string) (storage.FeeType, error) {
	s.calls = append(s.calls, "fee_type")
	id, ok := s.feeTypes[strings.ToLower(name)]
	if !ok {
		return storage.FeeType{}, storage.ErrNotFound
	}
	return storage.FeeType{ID: id, Name: name}, nil
}

func (s *mockStore) FindFeeDetail(ctx context.Context, c, l, f int64) (storage.FeeDetail, error) {
	s.calls = append(s.calls, "detail")
	fd, ok := s.details[[3]int64{c, l, f}]
	if !ok {
		return storage.FeeDetail{}, storage.ErrNotFound
	}
	return fd, nil
}

// mockCache records cached results.
type mockCache struct {
	data map[string]models.FeeLookupResult
}

func (m *mockCache) Get(ctx context.Context, c, l, f string) (models.FeeLookupResult, bool) {
	r, ok := m.data[c+"|"+l+"|"+f]
	return r, ok
}

func (m *mockCache) Set(ctx context.Context, c, l, f string, res models.FeeLookupResult) {
	m.data[c+"|"+l+"|"+f] = res
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name         string
		client       string
		lienholder   string
		feeType      string
		wantErr      error
		wantAmount   string
		wantFallback bool
		wantLH       string
		wantMessage  string
	}{
		{
			name:       "specific lienholder",
			client:     "Acme Recovery LLC",
			lienholder: "First National Bank",
			feeType:    "Involuntary Repo",
			wantAmount: "400",
			wantLH:     "First National Bank",
		},
		{
			name:         "lienholder without a rate falls back to Standard",
			client:       "Acme Recovery LLC",
			lienholder:   "Credit Union",
			feeType:      "Involuntary Repo",
			wantAmount:   "325",
			wantFallback: true,
			wantLH:       "Standard (Standard Fallback)",
			wantMessage:  "Lienholder 'Credit Union' specific fee not found. Using Standard amount.",
		},
		{
			name:         "unknown lienholder falls back to Standard",
			client:       "Acme Recovery LLC",
			lienholder:   "Nobody Bank",
			feeType:      "Involuntary Repo",
			wantAmount:   "325",
			wantFallback: true,
			wantLH:       "Standard (Standard Fallback)",
		},
		{
			name:         "unresolved lienholder falls back to Standard",
			client:       "Acme Recovery LLC",
			lienholder:   models.NotFound,
			feeType:      "",
			wantAmount:   "325",
			wantFallback: true,
			wantLH:       "Standard (Standard Fallback)",
		},
		{
			name:       "unknown client",
			client:     "Unknown Co",
			lienholder: "First National Bank",
			feeType:    "Involuntary Repo",
			wantErr:    ErrNotFound,
		},
		{
			name:       "unknown fee type",
			client:     "Acme Recovery LLC",
			lienholder: "First National Bank",
			feeType:    "Key Fee",
			wantErr:    ErrNotFound,
		},
		{
			name:       "no rate in either tier",
			client:     "Acme Recovery LLC",
			lienholder: "First National Bank",
			feeType:    "Voluntary Repo",
			wantErr:    ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(newMockStore(), nil, DefaultConfig(), nil)
			res, err := r.Lookup(context.Background(), tt.client, tt.lienholder, tt.feeType)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAmount, res.Amount.String())
			assert.Equal(t, tt.wantFallback, res.IsFallback)
			assert.Equal(t, tt.wantLH, res.LienholderName)
			assert.False(t, res.Placeholder)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, res.Message)
			}
		})
	}
}

func TestLookup_UnresolvedLienholderSkipsQuery(t *testing.T) {
	store := newMockStore()
	r := New(store, nil, DefaultConfig(), nil)

	_, err := r.Lookup(context.Background(), "Acme Recovery LLC", models.NotFound, "Involuntary Repo")
	require.NoError(t, err)
	assert.Equal(t, []string{"client", "fee_type", "lienholder:Standard", "detail"}, store.calls)
}

func TestLookup_StandardMissing(t *testing.T) {
	store := newMockStore()
	delete(store.lienholders, "standard")
	r := New(store, nil, DefaultConfig(), nil)

	_, err := r.Lookup(context.Background(), "Acme Recovery LLC", "Credit Union", "Involuntary Repo")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookup_StoreFailureIsNotNotFound(t *testing.T) {
	store := newMockStore()
	store.err = errors.New("connection refused")
	r := New(store, nil, DefaultConfig(), nil)

	_, err := r.Lookup(context.Background(), "Acme Recovery LLC", "First National Bank", "Involuntary Repo")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestLookup_UsesCache(t *testing.T) {
	store := newMockStore()
	cache := &mockCache{data: map[string]models.FeeLookupResult{}}
	r := New(store, cache, DefaultConfig(), nil)
	ctx := context.Background()

	first, err := r.Lookup(ctx, "Acme Recovery LLC", "First National Bank", "Involuntary Repo")
	require.NoError(t, err)
	calls := len(store.calls)

	second, err := r.Lookup(ctx, "Acme Recovery LLC", "First National Bank", "Involuntary Repo")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, store.calls, calls)
}

func TestLookupOrPlaceholder(t *testing.T) {
	ctx := context.Background()

	t.Run("genuine match", func(t *testing.T) {
		r := New(newMockStore(), nil, DefaultConfig(), nil)
		res := r.LookupOrPlaceholder(ctx, "12345", "Acme Recovery LLC", "First National Bank", "Involuntary Repo")
		assert.False(t, res.Placeholder)
		assert.False(t, res.IsFallback)
	})

	t.Run("no record", func(t *testing.T) {
		r := New(newMockStore(), nil, DefaultConfig(), nil)
		res := r.LookupOrPlaceholder(ctx, "12345", "Unknown Co", "First National Bank", models.NotFound)

		assert.Equal(t, "FD-12345", res.FeeID)
		assert.Equal(t, "350", res.Amount.String())
		assert.True(t, res.IsFallback)
		assert.True(t, res.Placeholder)
		assert.Equal(t, "Involuntary Repo", res.FeeTypeName)
		assert.Equal(t, "Unknown Co", res.ClientName)
		assert.Equal(t, "No matching database record found. Using default amount.", res.Message)
	})

	t.Run("database error", func(t *testing.T) {
		store := newMockStore()
		store.err = errors.New("connection refused")
		r := New(store, nil, DefaultConfig(), nil)
		res := r.LookupOrPlaceholder(ctx, "", "Acme Recovery LLC", "First National Bank", "Involuntary Repo")

		assert.Equal(t, "FD-0000", res.FeeID)
		assert.True(t, res.Placeholder)
		assert.True(t, strings.HasPrefix(res.Message, "Database error: "))
		assert.True(t, strings.HasSuffix(res.Message, ". Using default amount."))
	})

	t.Run("no database", func(t *testing.T) {
		r := New(nil, nil, DefaultConfig(), nil)
		res := r.LookupOrPlaceholder(ctx, "9", "Acme Recovery LLC", "First National Bank", "Involuntary Repo")
		assert.True(t, res.Placeholder)
		assert.Contains(t, res.Message, ErrNoDatabase.Error())
	})
}
