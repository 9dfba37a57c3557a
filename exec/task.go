// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/grailbio/base/status"
	"github.com/grailbio/base/sync/ctxsync"
	"github.com/grailbio/bigrdd/lineage"
)

// TaskState is the runtime state of a Task. States are ordered by
// progression, so that WaitState can wait for "at least" a state.
type TaskState int

const (
	// TaskInit is the initial state of a task.
	TaskInit TaskState = iota
	// TaskWaiting indicates that a task has been submitted to the
	// worker pool but has not yet been picked up by a worker.
	TaskWaiting
	// TaskRunning indicates that a worker is computing the task.
	TaskRunning
	// TaskOk indicates that a task has successfully completed; the
	// task's output is available to dependent tasks.
	TaskOk
	// TaskErr indicates that the task failed.
	TaskErr

	maxState
)

var states = [...]string{
	TaskInit:    "INIT",
	TaskWaiting: "WAITING",
	TaskRunning: "RUNNING",
	TaskOk:      "OK",
	TaskErr:     "ERROR",
}

func (s TaskState) String() string {
	return states[s]
}

// A TaskName uniquely names a task within a single evaluation.
type TaskName struct {
	// Node is the id of the lineage node computed by the task.
	Node lineage.ID
	// Op describes the operation performed by the task.
	Op string
	// Partition and NumPartition describe the partition processed by
	// the task and the total number of partitions of its node.
	Partition, NumPartition int
}

// String formats the task name as:
//
//	{n.Op}[{n.Node}]@{n.NumPartition}:{n.Partition}
func (n TaskName) String() string {
	return fmt.Sprintf("%s[%d]@%d:%d", n.Op, n.Node, n.NumPartition, n.Partition)
}

// A TaskDep is a dependency of a task: the task reads the given
// output partition of the dependency task.
type TaskDep struct {
	Task      *Task
	Partition int
}

// A Task computes one partition of one lineage node (or, for the map
// side of a shuffle, the buckets of one parent partition). Tasks form
// graphs through their dependencies; task graphs are compiled from
// lineage graphs.
type Task struct {
	Name TaskName
	// Deps are the task's dependencies, in the order in which their
	// outputs are passed to Do.
	Deps []TaskDep
	// NumOut is the number of output partitions produced by the task.
	// Shuffle-map tasks produce one bucket for each partition of the
	// shuffled node; all other tasks produce a single partition.
	NumOut int
	// Do computes the task's output given the requested partitions of
	// its dependencies.
	Do func(ctx context.Context, in [][]interface{}) ([][]interface{}, error)

	// Status is the status line to which the task's progress is
	// reported. It may be nil.
	Status *status.Task

	sync.Mutex
	cond  *ctxsync.Cond
	state TaskState
	err   error
	out   [][]interface{}
}

func newTask(name TaskName, numOut int, deps []TaskDep, do func(context.Context, [][]interface{}) ([][]interface{}, error)) *Task {
	t := &Task{Name: name, NumOut: numOut, Deps: deps, Do: do}
	t.cond = ctxsync.NewCond(t)
	return t
}

func (t *Task) String() string {
	// State and err are read without the lock so that String may be
	// called while it is held.
	s := fmt.Sprintf("task %s %s", t.Name, t.state)
	if t.err != nil {
		s += fmt.Sprintf(": %v", t.err)
	}
	return s
}

// Set sets the task's state and notifies any waiters.
func (t *Task) Set(state TaskState) {
	t.Lock()
	t.state = state
	t.cond.Broadcast()
	t.Unlock()
}

// Error fails the task with err and wakes waiters. The error is also
// printed to the task's status line, if any.
func (t *Task) Error(err error) {
	t.Lock()
	t.state = TaskErr
	t.err = err
	if t.Status != nil {
		t.Status.Printf("%v", err)
	}
	t.cond.Broadcast()
	t.Unlock()
}

// complete stores the task's output and moves it to TaskOk.
func (t *Task) complete(out [][]interface{}) {
	t.Lock()
	t.out = out
	t.state = TaskOk
	t.cond.Broadcast()
	t.Unlock()
}

// Err returns the task's error if it is in state TaskErr.
func (t *Task) Err() error {
	t.Lock()
	defer t.Unlock()
	if t.state == TaskErr {
		return t.err
	}
	return nil
}

func (t *Task) State() TaskState {
	t.Lock()
	defer t.Unlock()
	return t.state
}

// WaitState returns when the task's state is at least the provided
// state, or else when the context is done.
func (t *Task) WaitState(ctx context.Context, state TaskState) (TaskState, error) {
	t.Lock()
	defer t.Unlock()
	var err error
	for t.state < state && err == nil {
		err = t.cond.Wait(ctx)
	}
	return t.state, err
}

// Output returns the records of the given output partition of a
// completed task.
func (t *Task) Output(partition int) []interface{} {
	t.Lock()
	defer t.Unlock()
	if t.state != TaskOk {
		panic(fmt.Sprintf("exec: output of %s requested", t))
	}
	return t.out[partition]
}

// All returns all tasks reachable from t, including t, ordered by name.
func (t *Task) All() []*Task {
	all := make(map[*Task]bool)
	t.all(all)
	return sortTasks(all)
}

func (t *Task) all(tasks map[*Task]bool) {
	if tasks[t] {
		return
	}
	tasks[t] = true
	for _, dep := range t.Deps {
		dep.Task.all(tasks)
	}
}

func sortTasks(set map[*Task]bool) []*Task {
	tasks := make([]*Task, 0, len(set))
	for task := range set {
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i].Name, tasks[j].Name
		if a.Node != b.Node {
			return a.Node < b.Node
		}
		if a.Op != b.Op {
			return a.Op < b.Op
		}
		return a.Partition < b.Partition
	})
	return tasks
}
