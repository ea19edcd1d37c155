/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluele/gcache"

	"github.com/idproof/proving-agent/pkg/document"
)

const (
	defaultCacheSize = 16
	defaultCacheTTL  = 30 * time.Minute
)

// ErrDataNotFound is returned when no protocol data is cached for an environment and category.
var ErrDataNotFound = errors.New("protocol data not found")

// Store provides protocol data to proving sessions.
type Store interface {
	// Fetch refreshes the data of env and category.
	Fetch(ctx context.Context, env Environment, c document.Category) error
	// Data returns the last fetched data of env and category.
	Data(env Environment, c document.Category) (*Data, error)
}

// MemStore is an expiring in-memory Store. Fetch only checks that data was put before.
type MemStore struct {
	cache gcache.Cache
}

// MemStoreOption configures a MemStore.
type MemStoreOption func(*memStoreOpts)

type memStoreOpts struct {
	size int
	ttl  time.Duration
}

// WithTTL sets how long put data stays valid.
func WithTTL(ttl time.Duration) MemStoreOption {
	return func(o *memStoreOpts) {
		o.ttl = ttl
	}
}

// NewMemStore returns an empty MemStore.
func NewMemStore(opts ...MemStoreOption) *MemStore {
	o := &memStoreOpts{size: defaultCacheSize, ttl: defaultCacheTTL}

	for _, opt := range opts {
		opt(o)
	}

	// underlying gcache is thread safe, no need of locks.
	return &MemStore{cache: gcache.New(o.size).LRU().Expiration(o.ttl).Build()}
}

// Put caches data under its environment and category.
func (m *MemStore) Put(data *Data) error {
	if data == nil {
		return errors.New("protocol data is mandatory")
	}

	if err := m.cache.Set(storeKey(data.Environment, data.Category), data); err != nil {
		return fmt.Errorf("cache protocol data: %w", err)
	}

	return nil
}

// Fetch succeeds when data for env and c is cached.
func (m *MemStore) Fetch(_ context.Context, env Environment, c document.Category) error {
	_, err := m.Data(env, c)

	return err
}

// Data returns the cached data.
func (m *MemStore) Data(env Environment, c document.Category) (*Data, error) {
	v, err := m.cache.Get(storeKey(env, c))
	if errors.Is(err, gcache.KeyNotFoundError) {
		return nil, fmt.Errorf("%w: %s", ErrDataNotFound, storeKey(env, c))
	}

	if err != nil {
		return nil, fmt.Errorf("get protocol data: %w", err)
	}

	data, ok := v.(*Data)
	if !ok {
		return nil, fmt.Errorf("unexpected cached type %T", v)
	}

	return data, nil
}
