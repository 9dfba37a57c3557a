// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package lineage

import (
	"errors"
	"fmt"
)

// ErrInvalidArity is matched (with errors.Is) by every *ArityError.
var ErrInvalidArity = errors.New("invalid arity")

// An ArityError is returned by MakeNode when a node is given the wrong
// number of parents for its kind.
type ArityError struct {
	Kind      Kind
	Want, Got int
	// Nil is set when the right number of parents was given, but one
	// of them was nil.
	Nil bool
}

func (e *ArityError) Error() string {
	if e.Nil {
		return fmt.Sprintf("lineage: %s: %v: nil parent", e.Kind, ErrInvalidArity)
	}
	return fmt.Sprintf("lineage: %s: %v: want %d parents, got %d", e.Kind, ErrInvalidArity, e.Want, e.Got)
}

// Is implements errors.Is.
func (e *ArityError) Is(target error) bool {
	return target == ErrInvalidArity
}
