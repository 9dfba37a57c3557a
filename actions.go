// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigrdd

import (
	"context"
	"errors"
	"fmt"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bigrdd/exec"
	"github.com/grailbio/bigrdd/lineage"
	"github.com/grailbio/bigrdd/partition"
)

// ErrEmptyReduce is matched by the EmptyReduceError returned when
// reducing a collection without records.
var ErrEmptyReduce = errors.New("reduce of empty collection")

// An EmptyReduceError is returned by Reduce for collections without
// records.
type EmptyReduceError struct {
	// Node is the id of the reduced lineage node.
	Node lineage.ID
}

func (e *EmptyReduceError) Error() string {
	return fmt.Sprintf("reduce of rdd%d: %v", e.Node, ErrEmptyReduce)
}

// Is tells whether target is ErrEmptyReduce.
func (e *EmptyReduceError) Is(target error) bool {
	return target == ErrEmptyReduce
}

// start begins the evaluation of r for the named action.
func (r *RDD) start(op string) (*exec.Run, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.ctx.Closed() {
		return nil, ErrClosed
	}
	n := r.lineage()
	log.Debug.Printf("%s: %s", op, n)
	return r.ctx.executor.Start(n, op), nil
}

func all(n int) []int {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

// Partitions evaluates r and returns its partitions.
func (r *RDD) Partitions(ctx context.Context) ([]partition.Partition, error) {
	run, err := r.start("collect")
	if err != nil {
		return nil, err
	}
	return run.Partitions(ctx, all(run.NumPartition())...)
}

// Collect evaluates r and returns its records, in partition order.
func (r *RDD) Collect(ctx context.Context) ([]interface{}, error) {
	parts, err := r.Partitions(ctx)
	if err != nil {
		return nil, err
	}
	return partition.Concat(parts), nil
}

// Count evaluates r and returns its number of records.
func (r *RDD) Count(ctx context.Context) (int64, error) {
	run, err := r.start("count")
	if err != nil {
		return 0, err
	}
	folds, err := run.Fold(ctx, all(run.NumPartition()), countInit, countFold)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, f := range folds {
		if f.OK {
			n += f.Value.(int64)
		}
	}
	return n, nil
}

// Take returns the first n records of r. Take evaluates partitions in
// order, one at a time, and stops as soon as n records were gathered:
// partitions after the one holding the n'th record are not computed.
func (r *RDD) Take(ctx context.Context, n int) ([]interface{}, error) {
	if n <= 0 {
		return []interface{}{}, r.err
	}
	run, err := r.start("take")
	if err != nil {
		return nil, err
	}
	records := make([]interface{}, 0, n)
	for i := 0; i < run.NumPartition() && len(records) < n; i++ {
		parts, err := run.Partitions(ctx, i)
		if err != nil {
			return nil, err
		}
		recs := parts[0].Records
		if need := n - len(records); len(recs) > need {
			recs = recs[:need]
		}
		records = append(records, recs...)
	}
	return records, nil
}

// Reduce folds the records of r with fn, which must be commutative and
// associative. Each partition is folded separately, on the context's
// workers; the partition results are then folded in partition order.
// Reduce returns an *EmptyReduceError if r has no records.
func (r *RDD) Reduce(ctx context.Context, fn func(x, y interface{}) interface{}) (interface{}, error) {
	run, err := r.start("reduce")
	if err != nil {
		return nil, err
	}
	folds, err := run.Fold(ctx, all(run.NumPartition()), nil, fn)
	if err != nil {
		return nil, err
	}
	acc, ok, err := foldPartitions(r.ID(), folds, fn)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &EmptyReduceError{Node: r.ID()}
	}
	return acc, nil
}

// foldPartitions folds the per-partition results of a reduce, in
// partition order. A panic in fn is returned as a TransformError whose
// record is the index of the partition result being folded.
func foldPartitions(node lineage.ID, folds []exec.Folded, fn func(x, y interface{}) interface{}) (acc interface{}, ok bool, err error) {
	i := 0
	defer func() {
		if e := recover(); e != nil {
			acc, ok = nil, false
			err = &exec.TransformError{
				Node:      node,
				Op:        "reduce",
				Partition: folds[i].Partition,
				Record:    i,
				Err:       fmt.Errorf("panic: %v", e),
			}
		}
	}()
	for ; i < len(folds); i++ {
		f := folds[i]
		switch {
		case !f.OK:
		case ok:
			acc = fn(acc, f.Value)
		default:
			acc, ok = f.Value, true
		}
	}
	return acc, ok, nil
}

func countInit(interface{}) interface{} {
	return int64(1)
}

func countFold(acc, v interface{}) interface{} {
	return acc.(int64) + 1
}
