// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package cache holds the process-wide memoization of homeserver answers.
// Nothing here is persisted: after a restart every fact is re-derived from the
// homeserver, which is why room handling always resolves before it creates.
package cache

import (
	"slices"
	"sync"

	"go.mau.fi/util/exsync"
	"maunium.net/go/mautrix/id"
)

// Memo is a concurrent key/value memo. With a positive limit the oldest
// inserted key is evicted once the limit is exceeded; a zero limit keeps
// entries for the life of the process.
type Memo[K comparable, V any] struct {
	data  *exsync.Map[K, V]
	limit int

	orderLock sync.Mutex
	order     []K
}

// NewMemo creates a Memo bounded to limit entries (0 = unbounded).
func NewMemo[K comparable, V any](limit int) *Memo[K, V] {
	return &Memo[K, V]{
		data:  exsync.NewMap[K, V](),
		limit: limit,
	}
}

// Get returns the cached value for key.
func (m *Memo[K, V]) Get(key K) (V, bool) {
	return m.data.Get(key)
}

// Set stores value under key. Concurrent writers of the same key race with
// last-writer-wins, which is fine because every cached value is idempotent.
func (m *Memo[K, V]) Set(key K, value V) {
	if m.limit <= 0 {
		m.data.Set(key, value)
		return
	}
	m.orderLock.Lock()
	defer m.orderLock.Unlock()
	if _, exists := m.data.Get(key); !exists {
		m.order = append(m.order, key)
	}
	m.data.Set(key, value)
	for len(m.order) > m.limit {
		m.data.Delete(m.order[0])
		m.order = m.order[1:]
	}
}

// Delete forgets key.
func (m *Memo[K, V]) Delete(key K) {
	if m.limit <= 0 {
		m.data.Delete(key)
		return
	}
	m.orderLock.Lock()
	defer m.orderLock.Unlock()
	m.data.Delete(key)
	if idx := slices.Index(m.order, key); idx >= 0 {
		m.order = slices.Delete(m.order, idx, idx+1)
	}
}

// GetOrCompute returns the cached value for key, or calls compute and caches
// its result. A failed compute is returned as-is and nothing is cached.
func (m *Memo[K, V]) GetOrCompute(key K, compute func() (V, error)) (V, error) {
	if value, ok := m.Get(key); ok {
		return value, nil
	}
	value, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}
	m.Set(key, value)
	return value, nil
}

// JoinKey identifies a (room, user) membership convergence flag.
type JoinKey struct {
	RoomID id.RoomID
	UserID id.UserID
}

// Caches groups the four independent memo maps. No entry in one map is ever
// invalidated because of a change in another.
type Caches struct {
	// WhoAmI records whether the appservice token may act as a user. Negative
	// answers are cached too.
	WhoAmI *Memo[id.UserID, bool]
	// RoomIDs maps room aliases to room IDs, filled on resolve and on create.
	RoomIDs *Memo[id.RoomAlias, id.RoomID]
	// Joined is a one-way flag: once set, no further join call is made for
	// the pair. It is not a live membership mirror.
	Joined *Memo[JoinKey, bool]
	// Published maps group room aliases to the room ID that was listed in
	// the public directory.
	Published *Memo[id.RoomAlias, id.RoomID]
}

// New creates the cache set. joinLimit bounds the join flags (0 = unbounded).
func New(joinLimit int) *Caches {
	return &Caches{
		WhoAmI:    NewMemo[id.UserID, bool](0),
		RoomIDs:   NewMemo[id.RoomAlias, id.RoomID](0),
		Joined:    NewMemo[JoinKey, bool](joinLimit),
		Published: NewMemo[id.RoomAlias, id.RoomID](0),
	}
}
