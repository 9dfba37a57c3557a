// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/grailbio/bigrdd/lineage"
	"github.com/grailbio/bigrdd/metrics"
	"github.com/grailbio/bigrdd/partition"
)

// checkInterval is the number of records processed between checks for
// context cancellation.
const checkInterval = 1024

var (
	recordsRead     = metrics.NewCounter("exec.records.read")
	recordsShuffled = metrics.NewCounter("exec.records.shuffled")
)

type doFunc func(ctx context.Context, in [][]interface{}) ([][]interface{}, error)

// scan calls fn for each record, in order. Errors returned by fn and
// panics raised by it are reported as TransformErrors attributed to
// the task name and the record's index.
func scan(ctx context.Context, name TaskName, records []interface{}, fn func(interface{}) error) (err error) {
	i := 0
	defer func() {
		if e := recover(); e != nil {
			err = transformError(name, i, fmt.Errorf("panic: %v", e))
		}
	}()
	for ; i < len(records); i++ {
		if i%checkInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := fn(records[i]); err != nil {
			return transformError(name, i, err)
		}
	}
	return nil
}

func asPair(r interface{}) (lineage.Pair, error) {
	switch p := r.(type) {
	case lineage.Pair:
		return p, nil
	case *lineage.Pair:
		if p != nil {
			return *p, nil
		}
	}
	return lineage.Pair{}, fmt.Errorf("record of type %T is not a lineage.Pair", r)
}

func single(records []interface{}) [][]interface{} {
	return [][]interface{}{records}
}

func flatten(in [][]interface{}) []interface{} {
	if len(in) == 1 {
		return in[0]
	}
	var n int
	for _, records := range in {
		n += len(records)
	}
	flat := make([]interface{}, 0, n)
	for _, records := range in {
		flat = append(flat, records...)
	}
	return flat
}

func incr(ctx context.Context, c metrics.Counter, n int) {
	if scope := metrics.ContextScope(ctx); scope != nil {
		c.Incr(scope, n)
	}
}

func readDo(name TaskName, reader lineage.Reader) doFunc {
	return func(ctx context.Context, _ [][]interface{}) ([][]interface{}, error) {
		records, err := reader.ReadPartition(ctx, name.Partition)
		if err != nil {
			return nil, err
		}
		incr(ctx, recordsRead, len(records))
		return single(records), nil
	}
}

func passDo(ctx context.Context, in [][]interface{}) ([][]interface{}, error) {
	return single(in[0]), nil
}

// narrowDo returns the function computing a partition of a node that
// depends on exactly one partition of its parent.
func narrowDo(name TaskName, n *lineage.Node) doFunc {
	params := n.Params()
	switch n.Kind() {
	case lineage.Map:
		return func(ctx context.Context, in [][]interface{}) ([][]interface{}, error) {
			out := make([]interface{}, 0, len(in[0]))
			err := scan(ctx, name, in[0], func(r interface{}) error {
				out = append(out, params.Map(r))
				return nil
			})
			return single(out), err
		}
	case lineage.Filter:
		return func(ctx context.Context, in [][]interface{}) ([][]interface{}, error) {
			var out []interface{}
			err := scan(ctx, name, in[0], func(r interface{}) error {
				if params.Filter(r) {
					out = append(out, r)
				}
				return nil
			})
			return single(out), err
		}
	case lineage.FlatMap:
		return func(ctx context.Context, in [][]interface{}) ([][]interface{}, error) {
			var out []interface{}
			err := scan(ctx, name, in[0], func(r interface{}) error {
				out = append(out, params.FlatMap(r)...)
				return nil
			})
			return single(out), err
		}
	case lineage.MapValues:
		return func(ctx context.Context, in [][]interface{}) ([][]interface{}, error) {
			out := make([]interface{}, 0, len(in[0]))
			err := scan(ctx, name, in[0], func(r interface{}) error {
				p, err := asPair(r)
				if err != nil {
					return err
				}
				out = append(out, lineage.Pair{Key: p.Key, Value: params.Map(p.Value)})
				return nil
			})
			return single(out), err
		}
	case lineage.Sample:
		return func(ctx context.Context, in [][]interface{}) ([][]interface{}, error) {
			// The source is reseeded for each evaluation so that a
			// partition is sampled identically every time it is computed.
			rng := rand.New(rand.NewSource(params.Seed + int64(name.Partition)))
			var out []interface{}
			err := scan(ctx, name, in[0], func(r interface{}) error {
				if params.WithReplacement {
					for k := poisson(rng, params.Fraction); k > 0; k-- {
						out = append(out, r)
					}
				} else if rng.Float64() < params.Fraction {
					out = append(out, r)
				}
				return nil
			})
			return single(out), err
		}
	}
	panic(fmt.Sprintf("exec: %s is not a narrow transform", n.Kind()))
}

// poisson draws from a Poisson distribution with mean lambda, using
// Knuth's multiplication method.
func poisson(rng *rand.Rand, lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	var (
		limit = math.Exp(-lambda)
		k     = 0
		p     = rng.Float64()
	)
	for p > limit {
		k++
		p *= rng.Float64()
	}
	return k
}

// A combiner is an insertion-ordered map from keys to values. Keys
// must be comparable.
type combiner struct {
	index  map[interface{}]int
	keys   []interface{}
	values []interface{}
}

func (c *combiner) slot(key interface{}) (int, bool) {
	if c.index == nil {
		c.index = make(map[interface{}]int)
	}
	i, ok := c.index[key]
	if !ok {
		i = len(c.keys)
		c.index[key] = i
		c.keys = append(c.keys, key)
		c.values = append(c.values, nil)
	}
	return i, ok
}

// Combine folds value into key's accumulated value using fn.
func (c *combiner) Combine(key, value interface{}, fn func(x, y interface{}) interface{}) {
	if i, ok := c.slot(key); ok {
		c.values[i] = fn(c.values[i], value)
	} else {
		c.values[i] = value
	}
}

// Group appends values to key's group.
func (c *combiner) Group(key interface{}, values ...interface{}) {
	i, ok := c.slot(key)
	if ok {
		c.values[i] = append(c.values[i].([]interface{}), values...)
	} else {
		c.values[i] = append([]interface{}(nil), values...)
	}
}

// Add adds key, if it is not already present.
func (c *combiner) Add(key interface{}) {
	c.slot(key)
}

// Pairs returns the combiner's contents as Pairs, in insertion order.
func (c *combiner) Pairs() []interface{} {
	pairs := make([]interface{}, len(c.keys))
	for i, key := range c.keys {
		pairs[i] = lineage.Pair{Key: key, Value: c.values[i]}
	}
	return pairs
}

// Keys returns the combiner's keys, in insertion order.
func (c *combiner) Keys() []interface{} {
	return c.keys
}

// shuffleMapDo returns the function computing the map side of a
// shuffle: the records of one parent partition are combined locally
// and bucketed by the hash of their key into nshard buckets.
func shuffleMapDo(name TaskName, n *lineage.Node) doFunc {
	var (
		params = n.Params()
		kind   = n.Kind()
		nshard = n.NumPartition()
	)
	return func(ctx context.Context, in [][]interface{}) ([][]interface{}, error) {
		buckets := make([]combiner, nshard)
		err := scan(ctx, name, in[0], func(r interface{}) error {
			switch kind {
			case lineage.ReduceByKey:
				p, err := asPair(r)
				if err != nil {
					return err
				}
				buckets[partition.Of(p.Key, nshard)].Combine(p.Key, p.Value, params.Combine)
			case lineage.GroupBy:
				key := params.Key(r)
				buckets[partition.Of(key, nshard)].Group(key, r)
			case lineage.Distinct:
				buckets[partition.Of(r, nshard)].Add(r)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		out := make([][]interface{}, nshard)
		for i := range buckets {
			if kind == lineage.Distinct {
				out[i] = buckets[i].Keys()
			} else {
				out[i] = buckets[i].Pairs()
			}
			incr(ctx, recordsShuffled, len(out[i]))
		}
		return out, nil
	}
}

// shuffleReduceDo returns the function that merges the buckets of one
// shuffle partition, read from every map-side task in partition order.
func shuffleReduceDo(name TaskName, n *lineage.Node) doFunc {
	var (
		params = n.Params()
		kind   = n.Kind()
	)
	return func(ctx context.Context, in [][]interface{}) ([][]interface{}, error) {
		var c combiner
		err := scan(ctx, name, flatten(in), func(r interface{}) error {
			if kind == lineage.Distinct {
				c.Add(r)
				return nil
			}
			p, err := asPair(r)
			if err != nil {
				return err
			}
			if kind == lineage.GroupBy {
				c.Group(p.Key, p.Value.([]interface{})...)
			} else {
				c.Combine(p.Key, p.Value, params.Combine)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if kind == lineage.Distinct {
			return single(c.Keys()), nil
		}
		return single(c.Pairs()), nil
	}
}
