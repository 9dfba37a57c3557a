// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package bigrdd implements a lazy engine over partitioned, immutable
	collections of records ("RDDs"). Users build collections from memory
	(Parallelize) or from text files (TextFile), derive new collections
	with transformations, and compute results with actions.

	Transformations never compute anything: each one appends a node to
	the collection's lineage, the DAG of operations that produces it.
	The narrow transformations (Map, Filter, FlatMap, MapValues, Sample
	and Union) compute each output partition from a single parent
	partition. The shuffle transformations (Distinct, ReduceByKey and
	GroupBy) hash-partition their input by key, so that every output
	partition depends on all input partitions.

	Actions (Collect, Count, Take, Reduce and Partitions) compile the
	lineage into a graph of tasks, one per node and partition, and
	evaluate the graph on the context's bounded worker pool. A node
	shared by several branches of a lineage is evaluated once per
	action. Take evaluates partitions only until it has enough records.

	Checkpoint writes a collection's partitions to the context's
	checkpoint store and truncates its lineage, so that the collection,
	and every collection derived from it, reads the stored partitions
	instead of recomputing them.

	A simple program:

		ctx := context.Background()
		rctx, err := bigrdd.Open(bigrdd.Parallelism(4))
		if err != nil {
			log.Fatal(err)
		}
		defer rctx.Close()
		words := rctx.TextFile(ctx, "input.txt").
			FlatMap(func(v interface{}) []interface{} {
				var out []interface{}
				for _, w := range strings.Fields(v.(string)) {
					out = append(out, bigrdd.Pair{Key: w, Value: 1})
				}
				return out
			}).
			ReduceByKey(func(x, y interface{}) interface{} { return x.(int) + y.(int) })
		counts, err := words.Collect(ctx)

	Errors in construction (for example an invalid argument or a missing
	input file) are sticky: they are reported by Err and returned by
	every action on the collection and on the collections derived from
	it. Panics in user functions are recovered and returned as an
	*exec.TransformError naming the node, partition and record.

	Records are values of type interface{}. The keyed transformations
	operate on records of type Pair; keys must be comparable.
*/
package bigrdd
