// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/grailbio/bigrdd/lineage"
	"github.com/grailbio/bigrdd/partition"
	"github.com/grailbio/testutil"
)

func TestCodec(t *testing.T) {
	records := []interface{}{
		1, "two", 3.5,
		lineage.Pair{Key: "a", Value: 1},
		lineage.Pair{Key: "odd", Value: []interface{}{1, 3, 5}},
		strings.Repeat("compressible ", 100),
	}
	for _, compress := range []bool{false, true} {
		var b bytes.Buffer
		n, err := Encode(&b, records, compress)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := n, int64(b.Len()); got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if compress && b.Len() > 1000 {
			t.Errorf("compressed block is %d bytes", b.Len())
		}
		got, err := Decode(&b)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(records, got); diff != "" {
			t.Errorf("compress=%v: diff (-want +got):\n%s", compress, diff)
		}
	}
}

func TestCodecEmpty(t *testing.T) {
	var b bytes.Buffer
	if _, err := Encode(&b, nil, true); err != nil {
		t.Fatal(err)
	}
	got, err := Decode(&b)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}

func TestCodecCorrupt(t *testing.T) {
	var b bytes.Buffer
	if _, err := Encode(&b, []interface{}{"hello", "world"}, false); err != nil {
		t.Fatal(err)
	}
	p := b.Bytes()
	p[len(p)-1] ^= 0xff
	if _, err := Decode(bytes.NewReader(p)); err == nil {
		t.Error("expected checksum error")
	}
	if _, err := Decode(bytes.NewReader(p[:4])); err == nil {
		t.Error("expected truncation error")
	}
}

func TestWriteRead(t *testing.T) {
	ctx := context.Background()
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	parts := []partition.Partition{
		{Index: 0, Records: []interface{}{1, 2}},
		{Index: 1},
		{Index: 2, Records: []interface{}{3}},
	}
	for _, store := range []Store{NewMemoryStore(), NewFileStore(dir)} {
		info, err := Write(ctx, store, 7, parts, true)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := info.Records, int64(3); got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		verified, err := Verify(ctx, store, 7, len(parts))
		if err != nil {
			t.Fatal(err)
		}
		if got, want := verified, info; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		r := NewReader(store, 7, len(parts), info)
		for i, part := range parts {
			records, err := r.ReadPartition(ctx, i)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(part.Records, records); diff != "" && (len(part.Records) != 0 || len(records) != 0) {
				t.Errorf("partition %d: diff (-want +got):\n%s", i, diff)
			}
		}
		// Checkpoints are written once.
		_, err = Write(ctx, store, 7, parts, true)
		var ioerr *IOError
		if !errors.As(err, &ioerr) || ioerr.Op != "create" {
			t.Errorf("unexpected error %v", err)
		}
		_, err = r.ReadPartition(ctx, 5)
		if !errors.As(err, &ioerr) || ioerr.Op != "open" || ioerr.Partition != 5 {
			t.Errorf("unexpected error %v", err)
		}
	}
}

type failingStore struct {
	Store
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error)               { return 0, io.ErrShortWrite }
func (failingWriter) Commit(ctx context.Context, n int64) error { return nil }
func (failingWriter) Discard(ctx context.Context) error         { return nil }

func (failingStore) Create(ctx context.Context, node lineage.ID, partition int) (WriteCommitter, error) {
	return failingWriter{}, nil
}

func TestWriteError(t *testing.T) {
	parts := []partition.Partition{{Index: 0, Records: []interface{}{1}}}
	_, err := Write(context.Background(), failingStore{NewMemoryStore()}, 1, parts, false)
	var ioerr *IOError
	if !errors.As(err, &ioerr) {
		t.Fatalf("unexpected error %v", err)
	}
	if got, want := ioerr.Op, "write"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !errors.Is(err, io.ErrShortWrite) {
		t.Errorf("error %v does not wrap io.ErrShortWrite", err)
	}
}

// flakyStore fails the first creation of partition fail.
type flakyStore struct {
	*MemoryStore
	fail   int
	failed bool
}

func (s *flakyStore) Create(ctx context.Context, node lineage.ID, partition int) (WriteCommitter, error) {
	if partition == s.fail && !s.failed {
		s.failed = true
		return nil, io.ErrClosedPipe
	}
	return s.MemoryStore.Create(ctx, node, partition)
}

func TestWriteRetry(t *testing.T) {
	var (
		ctx   = context.Background()
		store = &flakyStore{MemoryStore: NewMemoryStore(), fail: 2}
		parts = []partition.Partition{
			{Index: 0, Records: []interface{}{1, 2}},
			{Index: 1, Records: []interface{}{3}},
			{Index: 2, Records: []interface{}{4, 5, 6}},
		}
	)
	const node lineage.ID = 5
	_, err := Write(ctx, store, node, parts, false)
	var ioerr *IOError
	if !errors.As(err, &ioerr) {
		t.Fatalf("unexpected error %v", err)
	}
	if got, want := ioerr.Partition, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	for i := range parts {
		if _, err := store.Stat(ctx, node, i); err == nil {
			t.Errorf("partition %d left behind by failed write", i)
		}
	}
	info, err := Write(ctx, store, node, parts, false)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got, want := info.Records, int64(6); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	stored, err := Verify(ctx, store, node, len(parts))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(info, stored); diff != "" {
		t.Errorf("(-wrote +stored):\n%s", diff)
	}
}
