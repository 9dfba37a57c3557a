// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package exec implements compilation and evaluation of bigrdd lineage
// graphs. Lineage nodes are compiled into graphs of tasks, one task per
// partition, which are run on a bounded worker pool as soon as their
// dependencies are satisfied.
package exec

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigrdd/metrics"
)

var tasksRun = metrics.NewCounter("exec.tasks")

// eval evaluates the task graphs rooted at the provided tasks. A task
// is submitted to the executor's pool only once all of its
// dependencies have completed, so workers never block on one another.
// Eval returns the first task error, or the context's error if it is
// done first. Tasks that already completed in a previous call are not
// rerun.
func eval(ctx context.Context, e *Executor, roots []*Task, group *status.Group) error {
	all := make(map[*Task]bool)
	for _, task := range roots {
		task.all(all)
	}
	var (
		// Donec is buffered so that workers never block on reporting
		// completion after eval has returned.
		donec   = make(chan *Task, len(all))
		running int
	)
	for {
		todo := make(map[*Task]bool)
		for _, task := range roots {
			task.Lock()
			err := addReady(todo, task)
			task.Unlock()
			if err != nil {
				return err
			}
		}
		if len(todo) == 0 && running == 0 {
			break
		}
		for _, task := range sortTasks(todo) {
			log.Debug.Printf("runnable: %s", task)
			task.Set(TaskWaiting)
			if group != nil {
				task.Status = group.Startf("%s", task.Name)
			}
			if err := e.submit(ctx, task, donec); err != nil {
				task.Error(err)
				return err
			}
			running++
		}
		if group != nil {
			group.Printf("tasks: %s", stateCounts(all))
		}
		select {
		case task := <-donec:
			running--
			if err := task.Err(); err != nil {
				return err
			}
			if task.Status != nil {
				task.Status.Done()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// addReady adds all tasks that are runnable but not yet running to
// the provided tasks set. AddReady requires that task is locked on
// entry.
//
// AddReady locks sub-tasks while traversing the graph. Since task
// graphs are DAGs and children are always traversed in the same
// order, concurrent addReady invocations will not deadlock.
func addReady(tasks map[*Task]bool, task *Task) error {
	if tasks[task] {
		return nil
	}
	switch task.state {
	case TaskInit:
	case TaskWaiting, TaskRunning, TaskOk:
		return nil
	case TaskErr:
		return task.err
	default:
		panic("unhandled task state")
	}
	ready := true
	for _, dep := range task.Deps {
		dep.Task.Lock()
		err := addReady(tasks, dep.Task)
		ready = ready && dep.Task.state == TaskOk
		dep.Task.Unlock()
		if err != nil {
			return err
		}
	}
	if ready {
		tasks[task] = true
	}
	return nil
}

// run runs a single task whose dependencies have all completed.
func run(ctx context.Context, task *Task) {
	defer func() {
		if e := recover(); e != nil {
			task.Error(fmt.Errorf("panic while evaluating %s: %v\n%s", task.Name, e, string(debug.Stack())))
		}
	}()
	if err := ctx.Err(); err != nil {
		task.Error(err)
		return
	}
	task.Set(TaskRunning)
	in := make([][]interface{}, len(task.Deps))
	for i, dep := range task.Deps {
		in[i] = dep.Task.Output(dep.Partition)
	}
	out, err := task.Do(ctx, in)
	if err != nil {
		task.Error(err)
		return
	}
	if len(out) != task.NumOut {
		task.Error(fmt.Errorf("task %s produced %d partitions, expected %d", task.Name, len(out), task.NumOut))
		return
	}
	incr(ctx, tasksRun, 1)
	task.complete(out)
}

func stateCounts(tasks map[*Task]bool) string {
	var counts [maxState]int
	for task := range tasks {
		task.Lock()
		counts[task.state]++
		task.Unlock()
	}
	states := make([]string, maxState)
	for state, count := range counts {
		states[state] = fmt.Sprintf("%s=%d", TaskState(state), count)
	}
	return strings.Join(states, " ")
}
