// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package lineage

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// DebugString returns a schematic rendering of the lineage of node n,
// top-down from n to its sources. Each line describes one node:
//
//	(nshard) Kind[id] summary
//
// Parents are indented below their children. Checkpointed nodes are
// rendered as the Checkpoint node that replaced them, so that pruned
// lineage never appears.
func DebugString(n *Node) string {
	var b bytes.Buffer
	WriteDebug(&b, n)
	return b.String()
}

// WriteDebug writes the debug string of n into w.
func WriteDebug(w io.Writer, n *Node) {
	writeDebug(w, n.Resolve(), 0)
}

func writeDebug(w io.Writer, n *Node, depth int) {
	line := fmt.Sprintf("%s(%d) %s", strings.Repeat(" |  ", depth), n.NumPartition(), n)
	if s := n.summary(); s != "" {
		line += " " + s
	}
	fmt.Fprintln(w, line)
	for i := range n.parents {
		writeDebug(w, n.Parent(i), depth+1)
	}
}

func (n *Node) summary() string {
	var parts []string
	switch n.kind {
	case Source:
		parts = append(parts, n.params.Reader.String())
	case Checkpoint:
		parts = append(parts, fmt.Sprintf("replaces [%d]: %s", n.params.Replaces, n.params.Reader))
	case Sample:
		parts = append(parts, fmt.Sprintf("withReplacement=%t fraction=%g seed=%d",
			n.params.WithReplacement, n.params.Fraction, n.params.Seed))
	case ReduceByKey, Distinct, GroupBy:
		parts = append(parts, "shuffle")
	}
	if n.params.Site != "" {
		parts = append(parts, "at "+n.params.Site)
	}
	return strings.Join(parts, " ")
}
