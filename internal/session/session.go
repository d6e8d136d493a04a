// Package session keeps per-operator portal state: credentials, cookies,
// client names learned per case and the last extraction result.
//
// State is loaded, passed explicitly through each operation and saved back
// by the caller; nothing in the extraction pipeline reads it implicitly.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/jamibilling/rdn-billing/internal/models"
	"github.com/jamibilling/rdn-billing/internal/storage"
)

// ErrNotFound is returned for an unknown or expired session.
var ErrNotFound = errors.New("session not found")

// State is everything remembered for one operator session.
type State struct {
	ID            string             `json:"id"`
	Credentials   models.Credentials `json:"credentials"`
	Cookies       []models.Cookie    `json:"cookies,omitempty"`
	Authenticated bool               `json:"authenticated"`
	// ClientNames maps a case ID to the client name resolved for it.
	ClientNames map[string]string  `json:"clientNames,omitempty"`
	LastCaseID  string             `json:"lastCaseId,omitempty"`
	LastResult  *models.CaseRecord `json:"lastResult,omitempty"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// New returns an empty state. A blank id gets a fresh UUID.
func New(id string) *State {
	if id == "" {
		id = uuid.NewString()
	}
	return &State{ID: id, ClientNames: map[string]string{}}
}

// Clone returns a copy that shares no mutable data with s.
func (s *State) Clone() *State {
	c := *s
	c.Cookies = slices.Clone(s.Cookies)
	c.ClientNames = maps.Clone(s.ClientNames)
	if c.ClientNames == nil {
		c.ClientNames = map[string]string{}
	}
	if s.LastResult != nil {
		r := *s.LastResult
		c.LastResult = &r
	}
	return &c
}

// ClientName returns the client name learned for caseID.
func (s *State) ClientName(caseID string) string {
	return s.ClientNames[caseID]
}

// RememberClient records the client name resolved for caseID.
func (s *State) RememberClient(caseID, name string) {
	if s.ClientNames == nil {
		s.ClientNames = map[string]string{}
	}
	if name != "" && !models.IsNotFound(name) {
		s.ClientNames[caseID] = name
	}
}

// Store persists session state.
type Store interface {
	Get(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, s *State) error
	Delete(ctx context.Context, id string) error
}

// GetOrNew loads a session or starts a new one under id.
func GetOrNew(ctx context.Context, store Store, id string) (*State, error) {
	if id == "" {
		return New(""), nil
	}
	s, err := store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return New(id), nil
	}
	return s, err
}

// RedisStore keeps sessions as JSON in Redis.
type RedisStore struct {
	client storage.RedisClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client storage.RedisClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: "rdn:session", ttl: ttl}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + ":" + id
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, id string) (*State, error) {
	data, err := r.client.Get(ctx, r.key(id))
	if errors.Is(err, storage.ErrCacheMiss) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var s State
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if s.ClientNames == nil {
		s.ClientNames = map[string]string{}
	}
	return &s, nil
}

// Save implements Store.
func (r *RedisStore) Save(ctx context.Context, s *State) error {
	s.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := r.client.Set(ctx, r.key(s.ID), data, r.ttl); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id))
}

// MemoryStore keeps sessions in an expiring in-process LRU.
type MemoryStore struct {
	cache *expirable.LRU[string, *State]
}

// NewMemoryStore creates an in-memory store holding up to size sessions.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{cache: expirable.NewLRU[string, *State](size, nil, ttl)}
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, id string) (*State, error) {
	s, ok := m.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, s *State) error {
	s.UpdatedAt = time.Now().UTC()
	m.cache.Add(s.ID, s.Clone())
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.cache.Remove(id)
	return nil
}
