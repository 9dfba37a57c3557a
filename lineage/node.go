// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package lineage implements the lineage graph of bigrdd collections.
// A lineage graph is a DAG of immutable nodes, each describing a single
// transformation of its parents' records. Nodes are cheap to create:
// no data is computed until the graph is handed to an evaluator.
package lineage

import (
	"context"
	"encoding/gob"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/grailbio/bigrdd/partition"
)

func init() {
	gob.Register(Pair{})
	gob.Register([]interface{}(nil))
}

// ID uniquely identifies a node within a process.
type ID uint64

var nextID uint64

func newID() ID {
	return ID(atomic.AddUint64(&nextID, 1))
}

// Kind is the tag of a lineage node. It determines the node's arity
// and which of its parameters are meaningful.
type Kind int

const (
	// Source nodes read data from a Reader.
	Source Kind = iota
	// Map applies Params.Map to every record.
	Map
	// Filter keeps records for which Params.Filter holds.
	Filter
	// FlatMap applies Params.FlatMap to every record and concatenates
	// the results.
	FlatMap
	// Union concatenates the partitions of its two parents.
	Union
	// Distinct removes duplicate records.
	Distinct
	// ReduceByKey folds the values of Pairs sharing a key with
	// Params.Combine.
	ReduceByKey
	// MapValues applies Params.Map to the value of every Pair.
	MapValues
	// GroupBy groups records by Params.Key.
	GroupBy
	// Sample draws a random subset of records.
	Sample
	// Checkpoint is a source node that reads materialized partitions of
	// the node it replaces.
	Checkpoint

	maxKind
)

var kinds = [...]string{
	Source:      "Source",
	Map:         "Map",
	Filter:      "Filter",
	FlatMap:     "FlatMap",
	Union:       "Union",
	Distinct:    "Distinct",
	ReduceByKey: "ReduceByKey",
	MapValues:   "MapValues",
	GroupBy:     "GroupBy",
	Sample:      "Sample",
	Checkpoint:  "Checkpoint",
}

func (k Kind) String() string {
	if k < 0 || k >= maxKind {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kinds[k]
}

// Arity returns the number of parents required by nodes of kind k.
func (k Kind) Arity() int {
	switch k {
	case Source, Checkpoint:
		return 0
	case Union:
		return 2
	default:
		return 1
	}
}

// Shuffle tells whether nodes of kind k redistribute records across
// partitions by key.
func (k Kind) Shuffle() bool {
	switch k {
	case ReduceByKey, Distinct, GroupBy:
		return true
	}
	return false
}

// A Pair is a keyed record. ReduceByKey and MapValues operate on
// Pairs; GroupBy produces them.
type Pair struct {
	Key, Value interface{}
}

func (p Pair) String() string {
	return fmt.Sprintf("(%v, %v)", p.Key, p.Value)
}

// HashWithSeed hashes the pair's key and value, so that pairs equal
// under == hash equally.
func (p Pair) HashWithSeed(seed uint32) uint32 {
	return partition.Hash(p.Value, partition.Hash(p.Key, seed))
}

// A Reader provides the partitions of a source node.
type Reader interface {
	// NumPartition returns the number of partitions provided by the
	// reader.
	NumPartition() int
	// ReadPartition returns the records of the given partition.
	ReadPartition(ctx context.Context, partition int) ([]interface{}, error)
	// String summarizes the reader for debug output.
	String() string
}

// Params holds the parameters of a node. Only the fields relevant to
// the node's kind are set.
type Params struct {
	// Reader provides data for Source and Checkpoint nodes.
	Reader Reader
	// Map is the function of Map and MapValues nodes.
	Map func(interface{}) interface{}
	// Filter is the predicate of Filter nodes.
	Filter func(interface{}) bool
	// FlatMap is the function of FlatMap nodes.
	FlatMap func(interface{}) []interface{}
	// Combine folds two values of the same key in ReduceByKey nodes.
	Combine func(x, y interface{}) interface{}
	// Key computes the group key of GroupBy nodes.
	Key func(interface{}) interface{}

	// WithReplacement, Fraction and Seed parameterize Sample nodes.
	WithReplacement bool
	Fraction        float64
	Seed            int64

	// NumPartition is the number of output partitions of a shuffle node.
	// If zero, the node has as many partitions as its parent.
	NumPartition int

	// Replaces is the id of the node materialized by a Checkpoint node.
	Replaces ID

	// Site is the call site that created the node, if known.
	Site string
}

// A Node is a vertex in the lineage graph. A Node never changes after
// it is created, with one exception: a checkpointed node is redirected
// (once) to the Checkpoint node holding its materialized data.
type Node struct {
	id      ID
	kind    Kind
	parents []*Node
	params  Params
	nshard  int

	mu       sync.Mutex
	redirect atomic.Value // *Node
}

// MakeNode returns a new node of the provided kind, parents and
// parameters. MakeNode fails with an *ArityError when the number of
// parents does not match the kind.
func MakeNode(kind Kind, parents []*Node, params Params) (*Node, error) {
	if kind < 0 || kind >= maxKind {
		return nil, fmt.Errorf("lineage: invalid kind %d", int(kind))
	}
	if len(parents) != kind.Arity() {
		return nil, &ArityError{Kind: kind, Want: kind.Arity(), Got: len(parents)}
	}
	for _, p := range parents {
		if p == nil {
			return nil, &ArityError{Kind: kind, Want: kind.Arity(), Got: len(parents), Nil: true}
		}
	}
	n := &Node{
		id:      newID(),
		kind:    kind,
		parents: append([]*Node(nil), parents...),
		params:  params,
	}
	switch {
	case kind.Arity() == 0:
		if params.Reader == nil {
			return nil, fmt.Errorf("lineage: %s node requires a reader", kind)
		}
		n.nshard = params.Reader.NumPartition()
	case kind == Union:
		n.nshard = parents[0].NumPartition() + parents[1].NumPartition()
	case kind.Shuffle() && params.NumPartition > 0:
		n.nshard = params.NumPartition
	default:
		n.nshard = parents[0].NumPartition()
	}
	return n, nil
}

// ID returns the node's id.
func (n *Node) ID() ID { return n.id }

// Kind returns the node's kind.
func (n *Node) Kind() Kind { return n.kind }

// Params returns the node's parameters.
func (n *Node) Params() Params { return n.params }

// NumParent returns the number of parents of the node.
func (n *Node) NumParent() int { return len(n.parents) }

// Parent returns the i'th parent of the node, following any
// checkpoint redirect of that parent.
func (n *Node) Parent(i int) *Node { return n.parents[i].Resolve() }

// NumPartition returns the number of partitions produced by the node.
func (n *Node) NumPartition() int {
	if r := n.Redirected(); r != nil {
		return r.NumPartition()
	}
	return n.nshard
}

// Redirected returns the Checkpoint node that replaces n, or nil if n
// was never checkpointed.
func (n *Node) Redirected() *Node {
	r, _ := n.redirect.Load().(*Node)
	return r
}

// Resolve returns the node that must be evaluated in place of n: the
// node's checkpoint, if any, or else n itself.
func (n *Node) Resolve() *Node {
	if r := n.Redirected(); r != nil {
		return r
	}
	return n
}

// Redirect permanently replaces n by the provided Checkpoint node.
// Redirect reports false, leaving n unchanged, if n was already
// redirected.
func (n *Node) Redirect(to *Node) (bool, error) {
	if to == nil || to.kind != Checkpoint {
		return false, fmt.Errorf("lineage: node %d can only be redirected to a checkpoint", n.id)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Redirected() != nil {
		return false, nil
	}
	n.redirect.Store(to)
	return true, nil
}

func (n *Node) String() string {
	return fmt.Sprintf("%s[%d]", n.kind, n.id)
}
