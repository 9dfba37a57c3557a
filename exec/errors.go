// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"errors"
	"fmt"

	"github.com/grailbio/bigrdd/lineage"
)

// ErrClosed is returned when evaluating on a closed executor.
var ErrClosed = errors.New("executor closed")

// A TransformError reports the failure of a user function, or a
// record of the wrong shape, during evaluation.
type TransformError struct {
	// Node is the id of the node whose transform failed.
	Node lineage.ID
	// Op names the failed operation.
	Op string
	// Partition is the index of the partition being computed.
	Partition int
	// Record is the index of the offending record within the input of
	// the failed task.
	Record int
	Err    error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("%s[%d]: partition %d: record %d: %v", e.Op, e.Node, e.Partition, e.Record, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransformError) Unwrap() error { return e.Err }

func transformError(name TaskName, record int, err error) *TransformError {
	return &TransformError{
		Node:      name.Node,
		Op:        name.Op,
		Partition: name.Partition,
		Record:    record,
		Err:       err,
	}
}
