// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigrdd/lineage"
	"github.com/grailbio/bigrdd/metrics"
	"github.com/grailbio/bigrdd/partition"
	"github.com/panjf2000/ants/v2"
)

// An Executor evaluates lineage graphs on a bounded pool of workers.
// An Executor may be used by multiple goroutines simultaneously.
type Executor struct {
	parallelism int
	status      *status.Status
	pool        *ants.Pool
	scope       metrics.Scope

	mu     sync.Mutex
	closed bool
}

// An Option configures an Executor.
type Option func(*Executor)

// Status reports evaluation progress to the provided status object.
func Status(s *status.Status) Option {
	return func(e *Executor) {
		e.status = s
	}
}

// New returns a new executor that runs at most parallelism tasks at a
// time.
func New(parallelism int, opts ...Option) (*Executor, error) {
	if parallelism < 1 {
		return nil, fmt.Errorf("exec: invalid parallelism %d", parallelism)
	}
	e := &Executor{parallelism: parallelism}
	for _, opt := range opts {
		opt(e)
	}
	var err error
	e.pool, err = ants.NewPool(parallelism, ants.WithPanicHandler(func(v interface{}) {
		log.Error.Printf("exec: worker panic: %v", v)
	}))
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Parallelism returns the maximum number of tasks run concurrently by
// the executor.
func (e *Executor) Parallelism() int { return e.parallelism }

// Scope returns the metrics scope to which the executor's counters are
// reported.
func (e *Executor) Scope() *metrics.Scope { return &e.scope }

// Close releases the executor's workers. Evaluations started after
// Close fail with ErrClosed. Close is idempotent.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.pool.Release()
}

func (e *Executor) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Executor) submit(ctx context.Context, task *Task, donec chan<- *Task) error {
	if e.isClosed() {
		return ErrClosed
	}
	err := e.pool.Submit(func() {
		defer func() { donec <- task }()
		run(ctx, task)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrClosed
	}
	return err
}

// Evaluate computes every partition of node n.
func (e *Executor) Evaluate(ctx context.Context, n *lineage.Node) ([]partition.Partition, error) {
	r := e.Start(n, "evaluate")
	indices := make([]int, r.NumPartition())
	for i := range indices {
		indices[i] = i
	}
	return r.Partitions(ctx, indices...)
}

// Start begins an evaluation of node n on behalf of the action named
// by op. The returned Run computes partitions on demand; partitions
// (and any intermediate results) computed by earlier calls are reused
// by later ones.
func (e *Executor) Start(n *lineage.Node, op string) *Run {
	r := &Run{e: e, op: op, root: n.Resolve()}
	if e.status != nil {
		r.group = e.status.Groupf("%s %s", op, r.root)
	}
	return r
}

// A Run is an incremental evaluation of a single lineage node. Once a
// Run fails, every subsequent call returns the same error.
type Run struct {
	e     *Executor
	op    string
	root  *lineage.Node
	group *status.Group

	mu  sync.Mutex
	c   compiler
	err error
}

// NumPartition returns the number of partitions of the run's node.
func (r *Run) NumPartition() int { return r.root.NumPartition() }

// Partitions computes and returns the requested partitions.
func (r *Run) Partitions(ctx context.Context, indices ...int) ([]partition.Partition, error) {
	tasks, err := r.eval(ctx, indices, nil)
	if err != nil {
		return nil, err
	}
	parts := make([]partition.Partition, len(tasks))
	for i, task := range tasks {
		parts[i] = partition.Partition{Index: indices[i], Records: task.Output(0)}
	}
	return parts, nil
}

// A Folded is the result of folding the records of one partition.
type Folded struct {
	// Partition is the index of the folded partition.
	Partition int
	// Value is the fold of the partition's records; it is valid only
	// when OK is true.
	Value interface{}
	// OK is false if the partition was empty.
	OK bool
}

// Fold folds the records of each requested partition with fn, in
// record order, on the executor's workers. The fold of a partition
// begins with init applied to its first record, or with the first
// record itself if init is nil.
func (r *Run) Fold(ctx context.Context, indices []int, init func(interface{}) interface{}, fn func(acc, v interface{}) interface{}) ([]Folded, error) {
	tasks, err := r.eval(ctx, indices, func(dep *Task) *Task {
		name := dep.Name
		name.Op = r.op
		return newTask(name, 1, []TaskDep{{dep, 0}}, func(ctx context.Context, in [][]interface{}) ([][]interface{}, error) {
			var (
				acc interface{}
				ok  bool
			)
			err := scan(ctx, name, in[0], func(v interface{}) error {
				if ok {
					acc = fn(acc, v)
				} else if init != nil {
					acc, ok = init(v), true
				} else {
					acc, ok = v, true
				}
				return nil
			})
			if err != nil || !ok {
				return single(nil), err
			}
			return single([]interface{}{acc}), nil
		})
	})
	if err != nil {
		return nil, err
	}
	folds := make([]Folded, len(tasks))
	for i, task := range tasks {
		folds[i].Partition = indices[i]
		if out := task.Output(0); len(out) > 0 {
			folds[i].Value, folds[i].OK = out[0], true
		}
	}
	return folds, nil
}

// eval compiles and evaluates the tasks computing the requested
// partitions. If wrap is non-nil, each partition task is replaced by
// the task returned by wrap, which must depend on it.
func (r *Run) eval(ctx context.Context, indices []int, wrap func(*Task) *Task) ([]*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if r.e.isClosed() {
		return nil, ErrClosed
	}
	tasks := make([]*Task, len(indices))
	for i, p := range indices {
		task, err := r.c.Compile(r.root, p)
		if err != nil {
			return nil, err
		}
		if wrap != nil {
			task = wrap(task)
		}
		tasks[i] = task
	}
	ctx = metrics.ScopedContext(ctx, &r.e.scope)
	if err := eval(ctx, r.e, tasks, r.group); err != nil {
		r.err = err
		return nil, err
	}
	for _, task := range tasks {
		if state := task.State(); state != TaskOk {
			r.err = fmt.Errorf("exec: task %s finished in state %s", task.Name, state)
			return nil, r.err
		}
	}
	if r.group != nil {
		r.group.Printf("%s: computed %d partitions", r.op, len(indices))
	}
	return tasks, nil
}
