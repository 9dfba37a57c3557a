// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package checkpoint implements stable storage for materialized
// collections. A checkpoint is written once, partition by partition,
// and may then be read any number of times.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"io/ioutil"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigrdd/lineage"
)

// Info stores metadata for a stored partition.
type Info struct {
	// Size is the encoded byte size of the stored data.
	Size int64
	// Records is the number of records stored.
	Records int64
}

// A WriteCommitter is a committable write stream into a store.
type WriteCommitter interface {
	io.Writer
	// Commit commits the written data to storage. The caller provides
	// the number of records written as metadata.
	Commit(ctx context.Context, records int64) error
	// Discard discards the writer; it will not be committed.
	Discard(ctx context.Context) error
}

// Store stores partitioned checkpoint data, keyed by the id of the
// checkpointed node and the partition index. Each (node, partition)
// may be created at most once, unless it is removed.
type Store interface {
	// Create returns a writer that populates data for the given node
	// and partition. The data is not available to Open until the
	// returned writer has been committed. Create fails with
	// errors.Exists if the partition is already stored.
	Create(ctx context.Context, node lineage.ID, partition int) (WriteCommitter, error)

	// Open returns a ReadCloser from which the stored contents of the
	// partition can be read. If the partition is not stored, an error
	// with kind errors.NotExist is returned.
	Open(ctx context.Context, node lineage.ID, partition int) (io.ReadCloser, error)

	// Stat returns metadata for the stored partition.
	Stat(ctx context.Context, node lineage.ID, partition int) (Info, error)

	// Remove deletes the stored partition, so that it may be created
	// again. Removing a partition that is not stored is not an error.
	Remove(ctx context.Context, node lineage.ID, partition int) error
}

type key struct {
	node      lineage.ID
	partition int
}

type entry struct {
	data  []byte
	count int64
}

// MemoryStore is a Store that keeps checkpoints in memory. It is
// useful for tests and for short-lived engines where durability is not
// required.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[key]entry
}

// NewMemoryStore returns a new, empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[key]entry)}
}

func (m *MemoryStore) get(k key) (entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[k]
	return e, ok
}

func (m *MemoryStore) put(k key, p []byte, count int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[k]; ok {
		return errors.E(errors.Exists, fmt.Sprintf("partition rdd-%d[%d] already stored", k.node, k.partition))
	}
	if p == nil {
		p = []byte{}
	}
	m.entries[k] = entry{p, count}
	return nil
}

type memoryWriter struct {
	bytes.Buffer
	key   key
	store *MemoryStore
}

func (*memoryWriter) Discard(context.Context) error {
	return nil
}

func (w *memoryWriter) Commit(ctx context.Context, count int64) error {
	return w.store.put(w.key, w.Buffer.Bytes(), count)
}

// Create implements Store.
func (m *MemoryStore) Create(ctx context.Context, node lineage.ID, partition int) (WriteCommitter, error) {
	k := key{node, partition}
	if _, ok := m.get(k); ok {
		return nil, errors.E(errors.Exists, fmt.Sprintf("create rdd-%d[%d]", node, partition))
	}
	return &memoryWriter{key: k, store: m}, nil
}

// Open implements Store.
func (m *MemoryStore) Open(ctx context.Context, node lineage.ID, partition int) (io.ReadCloser, error) {
	e, ok := m.get(key{node, partition})
	if !ok {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("open rdd-%d[%d]", node, partition))
	}
	return ioutil.NopCloser(bytes.NewReader(e.data)), nil
}

// Stat implements Store.
func (m *MemoryStore) Stat(ctx context.Context, node lineage.ID, partition int) (Info, error) {
	e, ok := m.get(key{node, partition})
	if !ok {
		return Info{}, errors.E(errors.NotExist, fmt.Sprintf("stat rdd-%d[%d]", node, partition))
	}
	return Info{Size: int64(len(e.data)), Records: e.count}, nil
}

// Remove implements Store.
func (m *MemoryStore) Remove(ctx context.Context, node lineage.ID, partition int) error {
	m.mu.Lock()
	delete(m.entries, key{node, partition})
	m.mu.Unlock()
	return nil
}

// FileStore is a Store that writes checkpoints through
// github.com/grailbio/base/file; checkpoints can thus be stored at any
// URL supported by that package (e.g., local paths or S3).
type FileStore struct {
	// Prefix is the path under which checkpoints are stored. A
	// partition is stored at "{Prefix}/rdd-{node}/part-{partition}".
	// Each stored file is trailed by an 8-byte record count.
	Prefix string
}

// NewFileStore returns a FileStore rooted at prefix.
func NewFileStore(prefix string) *FileStore {
	return &FileStore{Prefix: prefix}
}

func (s *FileStore) path(node lineage.ID, partition int) string {
	return file.Join(s.Prefix, fmt.Sprintf("rdd-%d", node), fmt.Sprintf("part-%05d", partition))
}

type fileWriter struct {
	file.File
	io.Writer
}

func (w *fileWriter) Commit(ctx context.Context, count int64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(count))
	if _, err := w.Write(b[:]); err != nil {
		w.File.Discard(ctx)
		return err
	}
	return w.File.Close(ctx)
}

func (w *fileWriter) Discard(ctx context.Context) error {
	w.File.Discard(ctx)
	return nil
}

// Create implements Store.
func (s *FileStore) Create(ctx context.Context, node lineage.ID, partition int) (WriteCommitter, error) {
	path := s.path(node, partition)
	if _, err := file.Stat(ctx, path); err == nil {
		return nil, errors.E(errors.Exists, fmt.Sprintf("create %s", path))
	}
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, err
	}
	return &fileWriter{File: f, Writer: f.Writer(ctx)}, nil
}

// Open implements Store.
func (s *FileStore) Open(ctx context.Context, node lineage.ID, partition int) (io.ReadCloser, error) {
	f, err := file.Open(ctx, s.path(node, partition))
	if err != nil {
		return nil, err
	}
	info, err := f.Stat(ctx)
	if err != nil {
		closeFile(ctx, f)
		return nil, err
	}
	if info.Size() < 8 {
		closeFile(ctx, f)
		return nil, errors.E(errors.Invalid, fmt.Sprintf("open %s: truncated checkpoint of %d bytes", f.Name(), info.Size()))
	}
	return &fileReadCloser{
		Reader: io.LimitReader(f.Reader(ctx), info.Size()-8),
		ctx:    ctx,
		file:   f,
	}, nil
}

// Stat implements Store.
func (s *FileStore) Stat(ctx context.Context, node lineage.ID, partition int) (Info, error) {
	f, err := file.Open(ctx, s.path(node, partition))
	if err != nil {
		return Info{}, err
	}
	defer closeFile(ctx, f)
	rs := f.Reader(ctx)
	n, err := rs.Seek(-8, io.SeekEnd)
	if err != nil {
		return Info{}, err
	}
	var b [8]byte
	if _, err := io.ReadFull(rs, b[:]); err != nil {
		return Info{}, err
	}
	return Info{
		Size:    n,
		Records: int64(binary.LittleEndian.Uint64(b[:])),
	}, nil
}

// Remove implements Store.
func (s *FileStore) Remove(ctx context.Context, node lineage.ID, partition int) error {
	path := s.path(node, partition)
	if _, err := file.Stat(ctx, path); err != nil {
		// Nothing was committed.
		return nil
	}
	return file.Remove(ctx, path)
}

type fileReadCloser struct {
	io.Reader
	ctx  context.Context
	file file.File
}

func (f *fileReadCloser) Close() error {
	return f.file.Close(f.ctx)
}

func closeFile(ctx context.Context, f file.File) {
	if err := f.Close(ctx); err != nil {
		log.Error.Printf("checkpoint: close %s: %v", f.Name(), err)
	}
}
