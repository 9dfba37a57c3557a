// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigrdd

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/grailbio/bigrdd/lineage"
)

// A Pair is a keyed record. ReduceByKey and MapValues operate on
// collections of Pairs; GroupBy produces them.
type Pair = lineage.Pair

// An RDD is a handle to a lazily computed, partitioned collection of
// records. Transformations return new RDDs and never compute data;
// actions evaluate the collection on the context's workers.
//
// Errors in constructing an RDD (for example, a text file that does
// not exist) are sticky: they are carried by the RDD and every RDD
// derived from it, and are returned by the first action invoked
// on any of them.
type RDD struct {
	ctx *Context

	// mu serializes checkpoints of the handle and guards node.
	mu   sync.Mutex
	node *lineage.Node
	err  error
}

func (c *Context) errRDD(err error) *RDD {
	return &RDD{ctx: c, err: err}
}

// Err returns the error, if any, encountered while constructing the
// RDD.
func (r *RDD) Err() error { return r.err }

// Context returns the context to which the RDD belongs.
func (r *RDD) Context() *Context { return r.ctx }

func (r *RDD) lineage() *lineage.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.node
}

// ID returns the id of the RDD's lineage node. The id changes when the
// RDD is checkpointed.
func (r *RDD) ID() lineage.ID {
	if n := r.lineage(); n != nil {
		return n.ID()
	}
	return 0
}

// NumPartitions returns the number of partitions of the RDD.
func (r *RDD) NumPartitions() int {
	if n := r.lineage(); n != nil {
		return n.NumPartition()
	}
	return 0
}

// DebugString returns a description of the RDD's lineage, one line per
// node, from the RDD itself down to its sources. Lineage pruned by a
// checkpoint is not shown.
func (r *RDD) DebugString() string {
	if r.err != nil {
		return fmt.Sprintf("(error) %v\n", r.err)
	}
	return lineage.DebugString(r.lineage())
}

func (r *RDD) String() string {
	if r.err != nil {
		return fmt.Sprintf("rdd(error: %v)", r.err)
	}
	n := r.lineage()
	return fmt.Sprintf("rdd%d(%s, %d partitions)", n.ID(), n.Kind(), n.NumPartition())
}

// A TransformOption configures a transformation.
type TransformOption func(*lineage.Params)

// NumPartitions sets the number of output partitions of a shuffle
// (ReduceByKey, Distinct, GroupBy). By default, a shuffle has as many
// partitions as its input.
func NumPartitions(n int) TransformOption {
	return func(p *lineage.Params) {
		p.NumPartition = n
	}
}

// SampleSeed sets the seed of a sample. By default, samples use the
// context's seed.
func SampleSeed(seed int64) TransformOption {
	return func(p *lineage.Params) {
		p.Seed = seed
	}
}

var errForeignRDD = errors.New("cannot combine collections of different contexts")

func (r *RDD) derive(kind lineage.Kind, others []*RDD, params lineage.Params, opts []TransformOption) *RDD {
	for _, opt := range opts {
		opt(&params)
	}
	if params.NumPartition < 0 {
		return r.ctx.errRDD(fmt.Errorf("bigrdd.%s: invalid number of partitions %d", kind, params.NumPartition))
	}
	if r.err != nil {
		return r.ctx.errRDD(r.err)
	}
	params.Site = site()
	parents := []*lineage.Node{r.lineage()}
	for _, other := range others {
		if other.err != nil {
			return r.ctx.errRDD(other.err)
		}
		if other.ctx != r.ctx {
			return r.ctx.errRDD(errForeignRDD)
		}
		parents = append(parents, other.lineage())
	}
	n, err := lineage.MakeNode(kind, parents, params)
	if err != nil {
		return r.ctx.errRDD(err)
	}
	return &RDD{ctx: r.ctx, node: n}
}

// Map returns a collection of fn applied to every record of r.
// Partitioning and record order are preserved.
func (r *RDD) Map(fn func(interface{}) interface{}) *RDD {
	return r.derive(lineage.Map, nil, lineage.Params{Map: fn}, nil)
}

// Filter returns a collection of the records of r for which pred
// holds, in their original order.
func (r *RDD) Filter(pred func(interface{}) bool) *RDD {
	return r.derive(lineage.Filter, nil, lineage.Params{Filter: pred}, nil)
}

// FlatMap returns the concatenation of fn applied to every record of r.
func (r *RDD) FlatMap(fn func(interface{}) []interface{}) *RDD {
	return r.derive(lineage.FlatMap, nil, lineage.Params{FlatMap: fn}, nil)
}

// Union returns a collection of the partitions of r followed by the
// partitions of other. Duplicates are kept.
func (r *RDD) Union(other *RDD) *RDD {
	return r.derive(lineage.Union, []*RDD{other}, lineage.Params{}, nil)
}

// Distinct returns a collection of the distinct records of r. Records
// must be comparable. Distinct shuffles its input.
func (r *RDD) Distinct(opts ...TransformOption) *RDD {
	return r.derive(lineage.Distinct, nil, lineage.Params{}, opts)
}

// ReduceByKey returns a collection with one Pair for each key of r,
// whose records must be Pairs with comparable keys. The values of each
// key are folded with fn. ReduceByKey combines values within each input
// partition before shuffling them.
func (r *RDD) ReduceByKey(fn func(x, y interface{}) interface{}, opts ...TransformOption) *RDD {
	return r.derive(lineage.ReduceByKey, nil, lineage.Params{Combine: fn}, opts)
}

// MapValues returns a collection of the Pairs of r with fn applied to
// their values. Keys, partitioning and order are preserved.
func (r *RDD) MapValues(fn func(interface{}) interface{}) *RDD {
	return r.derive(lineage.MapValues, nil, lineage.Params{Map: fn}, nil)
}

// GroupBy returns a collection of Pairs, one for each distinct key
// computed by fn, whose values are the []interface{} of records of r
// with that key. Groups keep the order in which records appear in r.
func (r *RDD) GroupBy(fn func(interface{}) interface{}, opts ...TransformOption) *RDD {
	return r.derive(lineage.GroupBy, nil, lineage.Params{Key: fn}, opts)
}

// Sample returns a random sample of r. Without replacement, each record
// is kept with probability fraction; with replacement, each record is
// repeated a Poisson-distributed number of times with mean fraction.
// The sample of a partition is the same each time it is evaluated.
func (r *RDD) Sample(withReplacement bool, fraction float64, opts ...TransformOption) *RDD {
	if math.IsNaN(fraction) || fraction < 0 || (!withReplacement && fraction > 1) {
		return r.ctx.errRDD(fmt.Errorf("bigrdd.Sample: invalid fraction %g", fraction))
	}
	params := lineage.Params{
		WithReplacement: withReplacement,
		Fraction:        fraction,
		Seed:            r.ctx.seed,
	}
	return r.derive(lineage.Sample, nil, params, opts)
}

var pkgDir = func() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Dir(file)
}()

// site returns the location of the innermost caller outside of this
// package.
func site() string {
	pc := make([]uintptr, 16)
	frames := runtime.CallersFrames(pc[:runtime.Callers(2, pc)])
	for {
		frame, more := frames.Next()
		if filepath.Dir(frame.File) != pkgDir || strings.HasSuffix(frame.File, "_test.go") {
			return fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
		}
		if !more {
			return ""
		}
	}
}
