// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigrdd_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/grailbio/bigrdd"
	"github.com/grailbio/bigrdd/checkpoint"
	"github.com/grailbio/bigrdd/lineage"
	"github.com/grailbio/testutil"
)

func TestCheckpoint(t *testing.T) {
	var (
		ctx    = context.Background()
		c      = open(t, bigrdd.CheckpointStore(checkpoint.NewMemoryStore()))
		reader = &countingReader{parts: [][]interface{}{ints(1), ints(2, 3)}}
		first  = c.Source(reader)
		second = first.Map(func(v interface{}) interface{} { return v.(int) * 2 })
	)
	if first.IsCheckpointed() {
		t.Fatal("checkpointed before checkpoint")
	}
	before := second.DebugString()
	if !strings.Contains(before, "Source[") {
		t.Errorf("missing source in lineage:\n%s", before)
	}
	if err := first.Checkpoint(ctx); err != nil {
		t.Fatal(err)
	}
	if !first.IsCheckpointed() {
		t.Error("not checkpointed after checkpoint")
	}
	if second.IsCheckpointed() {
		t.Error("descendant reported as checkpointed")
	}
	after := second.DebugString()
	if strings.Contains(after, "Source[") {
		t.Errorf("pruned lineage in debug string:\n%s", after)
	}
	if !strings.Contains(after, "Checkpoint[") {
		t.Errorf("missing checkpoint in debug string:\n%s", after)
	}
	if got, want := strings.Count(after, "\n"), 2; got != want {
		t.Errorf("got %v lines, want %v:\n%s", got, want, after)
	}
	if got, want := second.NumPartitions(), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	reads := reader.Reads()
	if diff := cmp.Diff(ints(2, 4, 6), collect(t, second)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ints(1, 2, 3), collect(t, first)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	third := first.Map(func(v interface{}) interface{} { return v.(int) + 1 })
	if diff := cmp.Diff(ints(2, 3, 4), collect(t, third)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(reads, reader.Reads()); diff != "" {
		t.Errorf("source read after checkpoint (-before +after):\n%s", diff)
	}

	id := first.ID()
	if err := first.Checkpoint(ctx); err != nil {
		t.Fatal(err)
	}
	if got, want := first.ID(), id; got != want {
		t.Errorf("second checkpoint changed id: got %v, want %v", got, want)
	}
}

func TestCheckpointFileStore(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	for _, compress := range []bool{false, true} {
		opts := []bigrdd.Option{bigrdd.CheckpointDir(dir)}
		if compress {
			opts = append(opts, bigrdd.Compress)
		}
		c := open(t, opts...)
		if got, want := c.CheckpointDir(), dir; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		words := c.ParallelizeN(strings.Fields(strings.Repeat("to be or not to be ", 100)), 3).Distinct()
		want := collect(t, words)
		if err := words.Checkpoint(context.Background()); err != nil {
			t.Fatal(err)
		}
		if !words.IsCheckpointed() {
			t.Error("not checkpointed")
		}
		if diff := cmp.Diff(want, collect(t, words)); diff != "" {
			t.Errorf("compress=%t (-want +got):\n%s", compress, diff)
		}
	}
}

func TestCheckpointEmpty(t *testing.T) {
	c := open(t, bigrdd.CheckpointStore(checkpoint.NewMemoryStore()))
	empty := c.ParallelizeN([]int{}, 2)
	if err := empty.Checkpoint(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !empty.IsCheckpointed() {
		t.Error("not checkpointed")
	}
	if n, err := empty.Count(context.Background()); err != nil || n != 0 {
		t.Errorf("got %v, %v, want 0, nil", n, err)
	}
}

func TestCheckpointNoStore(t *testing.T) {
	c := open(t)
	list := c.Parallelize([]int{1})
	if err := list.Checkpoint(context.Background()); err != bigrdd.ErrNoCheckpointDir {
		t.Errorf("got %v, want %v", err, bigrdd.ErrNoCheckpointDir)
	}
	if list.IsCheckpointed() {
		t.Error("checkpointed without a store")
	}
}

type failingStore struct {
	*checkpoint.MemoryStore
}

func (failingStore) Create(ctx context.Context, node lineage.ID, partition int) (checkpoint.WriteCommitter, error) {
	return nil, io.ErrClosedPipe
}

func TestCheckpointIOError(t *testing.T) {
	c := open(t, bigrdd.CheckpointStore(failingStore{checkpoint.NewMemoryStore()}))
	list := c.Parallelize([]int{1, 2})
	err := list.Checkpoint(context.Background())
	var ioerr *checkpoint.IOError
	if !errors.As(err, &ioerr) {
		t.Fatalf("got %v, want IOError", err)
	}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("got %v, want %v", err, io.ErrClosedPipe)
	}
	if list.IsCheckpointed() {
		t.Error("checkpointed after failure")
	}
	if diff := cmp.Diff(ints(1, 2), collect(t, list)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestCheckpointConcurrent(t *testing.T) {
	c := open(t, bigrdd.CheckpointStore(checkpoint.NewMemoryStore()))
	list := c.ParallelizeN([]int{1, 2, 3, 4}, 2).Map(square)
	var (
		wg   sync.WaitGroup
		errs = make([]error, 8)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = list.Checkpoint(context.Background())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Error(err)
		}
	}
	if diff := cmp.Diff(ints(1, 4, 9, 16), collect(t, list)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

// flakyStore fails the first creation of partition 1.
type flakyStore struct {
	*checkpoint.MemoryStore

	mu     sync.Mutex
	failed bool
}

func (s *flakyStore) Create(ctx context.Context, node lineage.ID, partition int) (checkpoint.WriteCommitter, error) {
	s.mu.Lock()
	fail := partition == 1 && !s.failed
	if fail {
		s.failed = true
	}
	s.mu.Unlock()
	if fail {
		return nil, io.ErrClosedPipe
	}
	return s.MemoryStore.Create(ctx, node, partition)
}

func TestCheckpointRetry(t *testing.T) {
	ctx := context.Background()
	c := open(t, bigrdd.CheckpointStore(&flakyStore{MemoryStore: checkpoint.NewMemoryStore()}))
	list := c.ParallelizeN([]int{1, 2, 3, 4, 5}, 3).Map(square)
	err := list.Checkpoint(ctx)
	var ioerr *checkpoint.IOError
	if !errors.As(err, &ioerr) {
		t.Fatalf("got %v, want IOError", err)
	}
	if list.IsCheckpointed() {
		t.Fatal("checkpointed after failure")
	}
	if err := list.Checkpoint(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !list.IsCheckpointed() {
		t.Error("not checkpointed after retry")
	}
	if diff := cmp.Diff(ints(1, 4, 9, 16, 25), collect(t, list)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
