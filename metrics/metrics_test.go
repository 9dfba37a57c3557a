// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package metrics

import (
	"context"
	"sync"
	"testing"
)

func TestCounter(t *testing.T) {
	var (
		a, b Scope
		c    = NewCounter("test.counter")
	)
	c.Incr(&a, 2)
	if got, want := c.Value(&a), uint64(2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	c.Incr(&b, 123)
	if got, want := c.Value(&a), uint64(2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	a.Merge(&b)
	if got, want := c.Value(&a), uint64(125); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := a.Snapshot()["test.counter"], uint64(125); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	a.Reset()
	if got, want := len(a.Snapshot()), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestConcurrentIncr(t *testing.T) {
	var (
		scope Scope
		c     = NewCounter("test.concurrent")
		wg    sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Incr(&scope, 1)
			}
		}()
	}
	wg.Wait()
	if got, want := c.Value(&scope), uint64(1600); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestContextScope(t *testing.T) {
	ctx := context.Background()
	if ContextScope(ctx) != nil {
		t.Error("unexpected scope")
	}
	var scope Scope
	if got, want := ContextScope(ScopedContext(ctx, &scope)), &scope; got != want {
		t.Errorf("got %p, want %p", got, want)
	}
}
