// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package partition provides the partitioned record representation
// shared by the bigrdd evaluator, checkpoints and sources.
package partition

import "fmt"

// A Partition is an ordered, immutable run of records, identified by
// its index within the owning collection.
type Partition struct {
	Index   int
	Records []interface{}
}

// Len returns the number of records in the partition.
func (p Partition) Len() int { return len(p.Records) }

func (p Partition) String() string {
	return fmt.Sprintf("partition %d (%d records)", p.Index, len(p.Records))
}

// A Range is a half-open range [Beg, End) of record (or byte)
// offsets.
type Range struct {
	Beg, End int64
}

// Len returns the length of the range.
func (r Range) Len() int64 { return r.End - r.Beg }

// Split splits n into nshard contiguous ranges whose sizes differ by at
// most one. Shard i covers [i*n/nshard, (i+1)*n/nshard).
func Split(n int64, nshard int) []Range {
	if nshard < 1 {
		nshard = 1
	}
	ranges := make([]Range, nshard)
	for i := range ranges {
		ranges[i] = Range{
			Beg: int64(i) * n / int64(nshard),
			End: int64(i+1) * n / int64(nshard),
		}
	}
	return ranges
}

// Concat returns the records of parts, concatenated in partition index
// order. Concat does not reorder parts; callers provide them ordered.
func Concat(parts []Partition) []interface{} {
	var n int
	for _, p := range parts {
		n += len(p.Records)
	}
	records := make([]interface{}, 0, n)
	for _, p := range parts {
		records = append(records, p.Records...)
	}
	return records
}

// Total returns the total number of records in parts.
func Total(parts []Partition) int64 {
	var n int64
	for _, p := range parts {
		n += int64(len(p.Records))
	}
	return n
}
