// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package checkpoint

import (
	"context"
	"fmt"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bigrdd/lineage"
	"github.com/grailbio/bigrdd/partition"
)

// Write materializes the partitions of node into store. Partitions
// are written sequentially, in index order; the first failure aborts
// the write, and the partitions committed before it are removed so
// that the write may be retried. Write returns the total size and
// record count written.
func Write(ctx context.Context, store Store, node lineage.ID, parts []partition.Partition, compress bool) (Info, error) {
	var total Info
	for i, part := range parts {
		if err := writePartition(ctx, store, node, i, part, compress, &total); err != nil {
			if rerr := Remove(ctx, store, node, i); rerr != nil {
				log.Error.Printf("checkpoint rdd-%d: remove partial checkpoint: %v", node, rerr)
			}
			return Info{}, err
		}
	}
	return total, nil
}

func writePartition(ctx context.Context, store Store, node lineage.ID, i int, part partition.Partition, compress bool, total *Info) error {
	wc, err := store.Create(ctx, node, i)
	if err != nil {
		return &IOError{node, i, "create", err}
	}
	n, err := Encode(wc, part.Records, compress)
	if err != nil {
		if derr := wc.Discard(ctx); derr != nil {
			err = fmt.Errorf("%v (discard: %v)", err, derr)
		}
		return &IOError{node, i, "write", err}
	}
	if err := wc.Commit(ctx, int64(part.Len())); err != nil {
		return &IOError{node, i, "commit", err}
	}
	total.Size += n
	total.Records += int64(part.Len())
	return nil
}

// Remove removes partitions [0, nshard) of node from store.
func Remove(ctx context.Context, store Store, node lineage.ID, nshard int) error {
	return traverse.Each(nshard, func(i int) error {
		if err := store.Remove(ctx, node, i); err != nil {
			return &IOError{node, i, "remove", err}
		}
		return nil
	})
}

// Verify checks that all nshard partitions of node are committed to
// store, and returns their combined metadata.
func Verify(ctx context.Context, store Store, node lineage.ID, nshard int) (Info, error) {
	infos := make([]Info, nshard)
	err := traverse.Each(nshard, func(i int) error {
		info, err := store.Stat(ctx, node, i)
		if err != nil {
			return &IOError{node, i, "stat", err}
		}
		infos[i] = info
		return nil
	})
	var total Info
	for _, info := range infos {
		total.Size += info.Size
		total.Records += info.Records
	}
	return total, err
}

// Reader reads the partitions of a checkpoint. It implements
// lineage.Reader, and so backs Checkpoint nodes.
type Reader struct {
	store  Store
	node   lineage.ID
	nshard int
	info   Info
}

// NewReader returns a reader of the nshard partitions of node stored
// in store. Info describes the checkpoint and is used only in the
// reader's description.
func NewReader(store Store, node lineage.ID, nshard int, info Info) *Reader {
	return &Reader{store, node, nshard, info}
}

// NumPartition implements lineage.Reader.
func (r *Reader) NumPartition() int { return r.nshard }

// ReadPartition implements lineage.Reader.
func (r *Reader) ReadPartition(ctx context.Context, i int) ([]interface{}, error) {
	rc, err := r.store.Open(ctx, r.node, i)
	if err != nil {
		return nil, &IOError{r.node, i, "open", err}
	}
	defer rc.Close()
	records, err := Decode(rc)
	if err != nil {
		return nil, &IOError{r.node, i, "read", err}
	}
	return records, nil
}

// Info returns the checkpoint's metadata.
func (r *Reader) Info() Info { return r.info }

func (r *Reader) String() string {
	return fmt.Sprintf("checkpoint(rdd-%d, %d records)", r.node, r.info.Records)
}
