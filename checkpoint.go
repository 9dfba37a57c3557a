// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigrdd

import (
	"context"
	"fmt"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigrdd/checkpoint"
	"github.com/grailbio/bigrdd/lineage"
)

// Checkpoint evaluates r, writes its partitions to the context's
// checkpoint store, and then truncates r's lineage: r, and every
// collection derived from r (before or after the checkpoint), reads
// the stored partitions instead of recomputing them. Truncation is
// permanent. Checkpointing an already checkpointed collection does
// nothing. Concurrent checkpoints of r are serialized.
//
// Checkpoint fails with ErrNoCheckpointDir if the context has no
// checkpoint store, and with a *checkpoint.IOError if the store fails.
func (r *RDD) Checkpoint(ctx context.Context) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.node
	if old.Kind() == lineage.Checkpoint {
		return nil
	}
	if cp := old.Redirected(); cp != nil {
		r.node = cp
		return nil
	}
	store := r.ctx.checkpointStore()
	if store == nil {
		return ErrNoCheckpointDir
	}
	if r.ctx.Closed() {
		return ErrClosed
	}
	parts, err := r.ctx.executor.Start(old, "checkpoint").Partitions(ctx, all(old.NumPartition())...)
	if err != nil {
		return err
	}
	info, err := checkpoint.Write(ctx, store, old.ID(), parts, r.ctx.compress)
	if err != nil {
		return err
	}
	stored, err := checkpoint.Verify(ctx, store, old.ID(), len(parts))
	if err == nil && stored.Records != info.Records {
		err = errors.E(errors.Integrity, fmt.Sprintf("checkpoint of %s: wrote %d records, stored %d", old, info.Records, stored.Records))
	}
	if err != nil {
		if rerr := checkpoint.Remove(ctx, store, old.ID(), len(parts)); rerr != nil {
			log.Error.Printf("checkpoint of %s: remove: %v", old, rerr)
		}
		return err
	}
	cp, err := lineage.MakeNode(lineage.Checkpoint, nil, lineage.Params{
		Reader:   checkpoint.NewReader(store, old.ID(), len(parts), info),
		Replaces: old.ID(),
		Site:     site(),
	})
	if err != nil {
		return err
	}
	if ok, err := old.Redirect(cp); err != nil {
		return err
	} else if !ok {
		r.node = old.Redirected()
		return nil
	}
	r.node = cp
	log.Printf("checkpointed %s: %d partitions, %d records, %s", old, len(parts), info.Records, data.Size(info.Size))
	r.ctx.eventer.Event("bigrdd:checkpoint",
		"id", r.ctx.id,
		"node", uint64(old.ID()),
		"partitions", len(parts),
		"records", info.Records,
		"bytes", info.Size)
	return nil
}

// IsCheckpointed tells whether r reads from a checkpoint.
func (r *RDD) IsCheckpointed() bool {
	n := r.lineage()
	return n != nil && n.Kind() == lineage.Checkpoint
}
