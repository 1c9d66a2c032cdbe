package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCacheMiss indicates no entry is stored for the key
	ErrCacheMiss = errors.New("cache miss")

	// ErrStoreUnavailable indicates the backend is unreachable or failing
	ErrStoreUnavailable = errors.New("store unavailable")
)

// DefaultStoreTimeout bounds a single store operation.
const DefaultStoreTimeout = 2 * time.Second

// Manager reads and writes entries through a Store.
type Manager struct {
	store   Store
	timeout time.Duration
}

// NewManager creates a new cache manager over store.
// A non-positive timeout selects DefaultStoreTimeout.
func NewManager(store Store, timeout time.Duration) *Manager {
	if store == nil {
		panic("store cannot be nil")
	}
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &Manager{
		store:   store,
		timeout: timeout,
	}
}

// Lookup returns the entry stored for key.
// Returns ErrCacheMiss if there is none.
//
// A saved_date that cannot be parsed yields a zero SavedDate, which makes
// the entry stale and forces revalidation.
func (m *Manager) Lookup(ctx context.Context, key Key) (*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	exists, err := m.store.Exists(ctx, key.String())
	if err != nil {
		StoreErrors.WithLabelValues("exists").Inc()
		return nil, fmt.Errorf("%w: exists: %v", ErrStoreUnavailable, err)
	}
	if !exists {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	values, err := m.store.MGet(ctx, key.String(), FieldSavedDate, FieldLastModified, FieldEntityBody)
	if err != nil {
		StoreErrors.WithLabelValues("mget").Inc()
		return nil, fmt.Errorf("%w: mget: %v", ErrStoreUnavailable, err)
	}
	if len(values) != 3 {
		StoreErrors.WithLabelValues("mget").Inc()
		return nil, fmt.Errorf("%w: mget returned %d values", ErrStoreUnavailable, len(values))
	}

	entry := &Entry{
		LastModified: string(values[1]),
		Body:         values[2],
	}
	if saved, err := ParseDate(string(values[0])); err == nil {
		entry.SavedDate = saved
	}

	CacheHits.Inc()
	return entry, nil
}

// Save writes every field of entry, replacing what was stored.
func (m *Manager) Save(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	body := entry.Body
	if body == nil {
		body = []byte{}
	}

	err := m.store.MSet(ctx, key.String(), map[string][]byte{
		FieldSavedDate:    []byte(FormatDate(entry.SavedDate)),
		FieldLastModified: []byte(entry.LastModified),
		FieldEntityBody:   body,
	})
	if err != nil {
		StoreErrors.WithLabelValues("mset").Inc()
		return fmt.Errorf("%w: mset: %v", ErrStoreUnavailable, err)
	}

	CacheSize.Add(float64(len(body)))
	return nil
}

// Touch refreshes only the saved_date of an existing entry.
// This is what a 304 Not Modified revalidation does.
func (m *Manager) Touch(ctx context.Context, key Key, saved time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.store.Update(ctx, key.String(), FieldSavedDate, []byte(FormatDate(saved))); err != nil {
		StoreErrors.WithLabelValues("update").Inc()
		return fmt.Errorf("%w: update: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Ping checks the store is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
