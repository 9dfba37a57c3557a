// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package metrics provides counters that are accumulated in scopes.
// The evaluator keeps one scope per engine; counters are defined once,
// at package initialization, and incremented by tasks as they run.
package metrics

import (
	"sync"
	"sync/atomic"
)

var (
	mu    sync.Mutex
	names []string
)

// A Counter is a monotonically increasing metric. Counters must be
// created with NewCounter.
type Counter struct {
	id int
}

// NewCounter registers and returns a new counter with the given name.
func NewCounter(name string) Counter {
	mu.Lock()
	defer mu.Unlock()
	names = append(names, name)
	return Counter{id: len(names)}
}

// Name returns the name the counter was registered with.
func (c Counter) Name() string {
	mu.Lock()
	defer mu.Unlock()
	return names[c.id-1]
}

// Incr adds n to the counter's value in scope.
func (c Counter) Incr(scope *Scope, n int) {
	atomic.AddUint64(scope.instance(c.id), uint64(n))
}

// Value returns the counter's value in scope.
func (c Counter) Value(scope *Scope) uint64 {
	return atomic.LoadUint64(scope.instance(c.id))
}
