// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigrdd

import (
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/base/eventlog"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigrdd/checkpoint"
	"github.com/grailbio/bigrdd/exec"
)

// Version is the version of the bigrdd engine.
const Version = "0.3.0"

// ErrClosed is returned by actions run on a closed Context.
var ErrClosed = exec.ErrClosed

// A Context is an engine instance. It owns the worker pool on which
// actions are evaluated and the store to which collections are
// checkpointed. Collections belong to the Context that created them.
// A Context may be used by multiple goroutines simultaneously.
type Context struct {
	id          string
	appName     string
	parallelism int
	partitions  int
	seed        int64
	compress    bool
	status      *status.Status
	eventer     eventlog.Eventer

	executor *exec.Executor

	mu            sync.Mutex
	store         checkpoint.Store
	checkpointDir string
	closed        bool
}

// An Option represents a Context configuration parameter value.
type Option func(c *Context)

// Parallelism configures the context with the provided number of
// workers. The default is runtime.GOMAXPROCS(0).
func Parallelism(p int) Option {
	if p <= 0 {
		panic("bigrdd.Parallelism: p <= 0")
	}
	return func(c *Context) {
		c.parallelism = p
	}
}

// DefaultPartitions configures the number of partitions of collections
// created without an explicit partition count. The default is the
// context's parallelism.
func DefaultPartitions(n int) Option {
	if n <= 0 {
		panic("bigrdd.DefaultPartitions: n <= 0")
	}
	return func(c *Context) {
		c.partitions = n
	}
}

// AppName names the application using the context.
func AppName(name string) Option {
	return func(c *Context) {
		c.appName = name
	}
}

// CheckpointDir configures the directory under which checkpoints are
// written. See Context.SetCheckpointDir.
func CheckpointDir(dir string) Option {
	return func(c *Context) {
		c.checkpointDir = dir
	}
}

// CheckpointStore configures the store to which checkpoints are
// written. It takes precedence over CheckpointDir.
func CheckpointStore(store checkpoint.Store) Option {
	return func(c *Context) {
		c.store = store
	}
}

// Compress turns on lz4 compression of checkpoint data.
var Compress Option = func(c *Context) {
	c.compress = true
}

// DefaultSeed configures the seed of samples that do not specify their
// own. By default, the seed is derived from the time at which the
// context was opened.
func DefaultSeed(seed int64) Option {
	return func(c *Context) {
		c.seed = seed
	}
}

// Status configures the context with a status object to which action
// progress is reported.
func Status(s *status.Status) Option {
	return func(c *Context) {
		c.status = s
	}
}

// Eventer configures the context with an Eventer that will be used
// to log context events.
func Eventer(e eventlog.Eventer) Option {
	return func(c *Context) {
		c.eventer = e
	}
}

// Open creates a new engine instance configured by the provided
// options. The caller must close the context when it is no longer
// needed.
func Open(options ...Option) (*Context, error) {
	c := &Context{
		id:          uuid.New().String(),
		appName:     "bigrdd",
		parallelism: runtime.GOMAXPROCS(0),
		seed:        time.Now().UnixNano(),
		eventer:     eventlog.Nop{},
	}
	for _, opt := range options {
		opt(c)
	}
	if c.partitions == 0 {
		c.partitions = c.parallelism
	}
	var opts []exec.Option
	if c.status != nil {
		opts = append(opts, exec.Status(c.status))
	}
	var err error
	c.executor, err = exec.New(c.parallelism, opts...)
	if err != nil {
		return nil, err
	}
	if c.store == nil && c.checkpointDir != "" {
		c.SetCheckpointDir(c.checkpointDir)
	}
	log.Printf("bigrdd %s: context %s (%s) opened with %d workers", Version, c.appName, c.id, c.parallelism)
	c.eventer.Event("bigrdd:open",
		"id", c.id,
		"app", c.appName,
		"version", Version,
		"parallelism", c.parallelism,
		"partitions", c.partitions)
	return c, nil
}

// ID returns the context's unique id.
func (c *Context) ID() string { return c.id }

// AppName returns the name of the application using the context.
func (c *Context) AppName() string { return c.appName }

// Parallelism returns the number of workers of the context.
func (c *Context) Parallelism() int { return c.parallelism }

// DefaultPartitions returns the default number of partitions of new
// collections.
func (c *Context) DefaultPartitions() int { return c.partitions }

// SetCheckpointDir sets the directory under which collections are
// checkpointed. Each context writes to its own subdirectory, named
// by the context's id. Dir may be any path supported by
// github.com/grailbio/base/file, for example a local directory or an
// S3 prefix.
func (c *Context) SetCheckpointDir(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkpointDir = dir
	c.store = checkpoint.NewFileStore(file.Join(dir, c.id))
}

// CheckpointDir returns the checkpoint directory of the context, if any.
func (c *Context) CheckpointDir() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkpointDir
}

func (c *Context) checkpointStore() checkpoint.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store
}

// Metrics returns a snapshot of the context's counters, keyed by name.
func (c *Context) Metrics() map[string]uint64 {
	return c.executor.Scope().Snapshot()
}

// Close releases the context's workers. Actions run after Close fail
// with ErrClosed. Close is idempotent.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.executor.Close()
	c.eventer.Event("bigrdd:close", "id", c.id)
	log.Printf("bigrdd: context %s (%s) closed", c.appName, c.id)
	return nil
}

// Closed tells whether the context was closed.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ErrNoCheckpointDir is returned when checkpointing a collection of a
// context without a checkpoint store.
var ErrNoCheckpointDir = errors.New("checkpoint directory not set")
