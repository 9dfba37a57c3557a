// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package checkpoint

import (
	"fmt"

	"github.com/grailbio/bigrdd/lineage"
)

// An IOError reports a failure to write or read checkpoint storage.
type IOError struct {
	// Node is the id of the checkpointed node.
	Node lineage.ID
	// Partition is the partition being written or read.
	Partition int
	// Op is the failed storage operation: create, write, commit, open,
	// read or stat.
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("checkpoint rdd-%d[%d]: %s: %v", e.Node, e.Partition, e.Op, e.Err)
}

// Unwrap returns the underlying storage error.
func (e *IOError) Unwrap() error { return e.Err }
