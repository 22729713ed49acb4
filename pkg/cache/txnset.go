// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package cache

import "sync"

// DefaultTxnLimit is how many appservice transaction IDs are remembered.
const DefaultTxnLimit = 1000

// TxnSet remembers the most recent distinct transaction IDs. When full, the
// oldest ID is forgotten first.
type TxnSet struct {
	lock sync.Mutex
	// seen maps each remembered ID to its slot in ring.
	seen map[string]int
	ring []string
	next int
	full bool
}

// NewTxnSet creates a set holding at most limit IDs. A non-positive limit
// falls back to DefaultTxnLimit.
func NewTxnSet(limit int) *TxnSet {
	if limit <= 0 {
		limit = DefaultTxnLimit
	}
	return &TxnSet{
		seen: make(map[string]int, limit),
		ring: make([]string, limit),
	}
}

// MarkSeen records txnID and reports whether it was new. The check and the
// insert happen under one lock, so of two concurrent calls with the same ID
// exactly one returns true.
func (s *TxnSet) MarkSeen(txnID string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.seen[txnID]; ok {
		return false
	}
	if s.full {
		// A slot left behind by Forget may point at an ID that was re-added
		// into a newer slot since.
		if old := s.ring[s.next]; s.seen[old] == s.next {
			delete(s.seen, old)
		}
	}
	s.ring[s.next] = txnID
	s.seen[txnID] = s.next
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.full = true
	}
	return true
}

// Forget drops txnID so that a retry of the same transaction is processed
// again.
func (s *TxnSet) Forget(txnID string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.seen, txnID)
}

// Contains reports whether txnID is currently remembered.
func (s *TxnSet) Contains(txnID string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, ok := s.seen[txnID]
	return ok
}

// Len returns the number of remembered IDs.
func (s *TxnSet) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.seen)
}
