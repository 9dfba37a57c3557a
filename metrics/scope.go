// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package metrics

import (
	"context"
	"sync"
	"sync/atomic"
)

// Scope is a collection of counter values. The zero Scope is empty
// and ready to use.
type Scope struct {
	mu     sync.Mutex
	values map[int]*uint64
}

func (s *Scope) instance(id int) *uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[int]*uint64)
	}
	v, ok := s.values[id]
	if !ok {
		v = new(uint64)
		s.values[id] = v
	}
	return v
}

// Merge adds the values in scope u to scope s.
func (s *Scope) Merge(u *Scope) {
	for _, id := range u.ids() {
		atomic.AddUint64(s.instance(id), u.valueOf(id))
	}
}

func (s *Scope) ids() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.values))
	for id := range s.values {
		ids = append(ids, id)
	}
	return ids
}

func (s *Scope) valueOf(id int) uint64 {
	return atomic.LoadUint64(s.instance(id))
}

// Snapshot returns the current counter values keyed by counter name.
// Counters that were never incremented in s are omitted.
func (s *Scope) Snapshot() map[string]uint64 {
	ids := s.ids()
	snap := make(map[string]uint64, len(ids))
	for _, id := range ids {
		snap[Counter{id}.Name()] = s.valueOf(id)
	}
	return snap
}

// Reset clears all values in the scope.
func (s *Scope) Reset() {
	s.mu.Lock()
	s.values = nil
	s.mu.Unlock()
}

type contextKeyType struct{}

var contextKey contextKeyType

// ScopedContext returns a context with the provided scope attached.
// The scope may be retrieved by ContextScope.
func ScopedContext(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, contextKey, scope)
}

// ContextScope returns the scope attached to the provided context, or
// nil if there is none.
func ContextScope(ctx context.Context) *Scope {
	s, _ := ctx.Value(contextKey).(*Scope)
	return s
}
