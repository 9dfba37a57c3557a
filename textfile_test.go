// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigrdd_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/grailbio/testutil"
)

func writeFiles(t *testing.T, dir string, contents ...string) []string {
	t.Helper()
	paths := make([]string, len(contents))
	for i, c := range contents {
		paths[i] = filepath.Join(dir, fmt.Sprintf("file%d.txt", i))
		if err := os.WriteFile(paths[i], []byte(c), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return paths
}

func lines(vs ...string) []interface{} {
	records := make([]interface{}, len(vs))
	for i, v := range vs {
		records[i] = v
	}
	return records
}

func TestTextFile(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	var long strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&long, "line %d %s\n", i, strings.Repeat("x", i))
	}
	paths := writeFiles(t, dir,
		"Hello, everyone \n This is a sample",
		"",
		"first\r\nsecond\r\n\r\nfourth\n",
		long.String(),
	)
	want := lines("Hello, everyone ", " This is a sample", "first", "second", "", "fourth")
	want = append(want, lines(strings.Split(strings.TrimSuffix(long.String(), "\n"), "\n")...)...)

	c := open(t)
	ctx := context.Background()
	for min := 1; min <= 10; min++ {
		text := c.TextFileN(ctx, min, paths...)
		if err := text.Err(); err != nil {
			t.Fatal(err)
		}
		if got := text.NumPartitions(); got < len(paths) {
			t.Errorf("min=%d: got %v partitions, want at least %v", min, got, len(paths))
		}
		if diff := cmp.Diff(want, collect(t, text)); diff != "" {
			t.Errorf("min=%d (-want +got):\n%s", min, diff)
		}
		n, err := text.Count(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got, exp := n, int64(len(want)); got != exp {
			t.Errorf("min=%d: got %v, want %v", min, got, exp)
		}
	}
}

func TestTextFileSplits(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	paths := writeFiles(t, dir, strings.Repeat("abcdefghi\n", 100))
	c := open(t)
	text := c.TextFileN(context.Background(), 10, paths...)
	if got, want := text.NumPartitions(), 10; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	parts, err := text.Partitions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for i, part := range parts {
		if got, want := part.Len(), 10; got != want {
			t.Errorf("partition %d: got %v lines, want %v", i, got, want)
		}
	}
}

func TestTextFileDefault(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	paths := writeFiles(t, dir, "a\nb\nc\nd\n")
	c := open(t)
	text := c.TextFile(context.Background(), paths...)
	if diff := cmp.Diff(lines("a", "b", "c", "d"), collect(t, text)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestTextFileMissing(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	c := open(t)
	ctx := context.Background()
	text := c.TextFile(ctx, filepath.Join(dir, "missing.txt"))
	if text.Err() == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(text.Err().Error(), "missing.txt") {
		t.Errorf("error %v does not name the path", text.Err())
	}
	mapped := text.Map(func(v interface{}) interface{} { return v })
	if _, err := mapped.Collect(ctx); err != text.Err() {
		t.Errorf("got %v, want %v", err, text.Err())
	}
	if text := c.TextFile(ctx); text.Err() == nil {
		t.Error("expected error for no paths")
	}
}
