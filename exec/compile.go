// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"fmt"

	"github.com/grailbio/bigrdd/lineage"
)

var ops = [...]string{
	lineage.Source:      "source",
	lineage.Map:         "map",
	lineage.Filter:      "filter",
	lineage.FlatMap:     "flatMap",
	lineage.Union:       "union",
	lineage.Distinct:    "distinct",
	lineage.ReduceByKey: "reduceByKey",
	lineage.MapValues:   "mapValues",
	lineage.GroupBy:     "groupBy",
	lineage.Sample:      "sample",
	lineage.Checkpoint:  "checkpoint",
}

type taskKey struct {
	node      lineage.ID
	op        string
	partition int
}

// A compiler turns lineage nodes into task graphs. Compilation is lazy:
// only the tasks required to compute the requested partitions are
// created. Tasks are memoized so that a node partition shared by
// several consumers is computed exactly once.
type compiler struct {
	tasks map[taskKey]*Task
}

// Compile returns the task that computes partition p of node n.
// Shuffle nodes compile to one reduce task per partition, each of which
// depends on every map-side task of the shuffle.
func (c *compiler) Compile(n *lineage.Node, p int) (*Task, error) {
	n = n.Resolve()
	kind := n.Kind()
	if kind < 0 || int(kind) >= len(ops) {
		return nil, fmt.Errorf("exec: cannot compile node %s", n)
	}
	if p < 0 || p >= n.NumPartition() {
		return nil, fmt.Errorf("exec: partition %d of %s out of range [0, %d)", p, n, n.NumPartition())
	}
	key := taskKey{n.ID(), ops[kind], p}
	if task := c.tasks[key]; task != nil {
		return task, nil
	}
	name := TaskName{
		Node:         n.ID(),
		Op:           ops[kind],
		Partition:    p,
		NumPartition: n.NumPartition(),
	}
	var (
		deps []TaskDep
		do   doFunc
	)
	switch {
	case kind.Arity() == 0:
		do = readDo(name, n.Params().Reader)
	case kind == lineage.Union:
		parent, q := n.Parent(0), p
		if np := parent.NumPartition(); p >= np {
			parent, q = n.Parent(1), p-np
		}
		dep, err := c.Compile(parent, q)
		if err != nil {
			return nil, err
		}
		deps = []TaskDep{{dep, 0}}
		do = passDo
	case kind.Shuffle():
		maps, err := c.shuffle(n)
		if err != nil {
			return nil, err
		}
		deps = make([]TaskDep, len(maps))
		for i, m := range maps {
			deps[i] = TaskDep{m, p}
		}
		do = shuffleReduceDo(name, n)
	default:
		dep, err := c.Compile(n.Parent(0), p)
		if err != nil {
			return nil, err
		}
		deps = []TaskDep{{dep, 0}}
		do = narrowDo(name, n)
	}
	task := newTask(name, 1, deps, do)
	c.add(key, task)
	return task, nil
}

// shuffle returns the map-side tasks of shuffle node n, one for each
// partition of its parent.
func (c *compiler) shuffle(n *lineage.Node) ([]*Task, error) {
	var (
		parent = n.Parent(0)
		op     = ops[n.Kind()] + "Map"
		tasks  = make([]*Task, parent.NumPartition())
	)
	for j := range tasks {
		key := taskKey{n.ID(), op, j}
		if task := c.tasks[key]; task != nil {
			tasks[j] = task
			continue
		}
		dep, err := c.Compile(parent, j)
		if err != nil {
			return nil, err
		}
		name := TaskName{
			Node:         n.ID(),
			Op:           op,
			Partition:    j,
			NumPartition: len(tasks),
		}
		tasks[j] = newTask(name, n.NumPartition(), []TaskDep{{dep, 0}}, shuffleMapDo(name, n))
		c.add(key, tasks[j])
	}
	return tasks, nil
}

func (c *compiler) add(key taskKey, task *Task) {
	if c.tasks == nil {
		c.tasks = make(map[taskKey]*Task)
	}
	c.tasks[key] = task
}
