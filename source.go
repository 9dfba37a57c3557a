// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigrdd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/bigrdd/lineage"
	"github.com/grailbio/bigrdd/partition"
	"golang.org/x/sync/errgroup"
)

// splitSlop is the factor by which the last split of a file may
// exceed the target split size.
const splitSlop = 1.1

// Parallelize returns a collection of the elements of data, which must
// be a slice, divided into the context's default number of partitions.
func (c *Context) Parallelize(data interface{}) *RDD {
	return c.parallelize(data, c.partitions)
}

// ParallelizeN returns a collection of the elements of data, which
// must be a slice, divided into n contiguous partitions of nearly
// equal size. Partition i holds the elements [i*len/n, (i+1)*len/n).
func (c *Context) ParallelizeN(data interface{}, n int) *RDD {
	return c.parallelize(data, n)
}

func (c *Context) parallelize(data interface{}, n int) *RDD {
	if n < 1 {
		return c.errRDD(errors.E(errors.Invalid, fmt.Sprintf("bigrdd.Parallelize: invalid number of partitions %d", n)))
	}
	v := reflect.ValueOf(data)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return c.errRDD(errors.E(errors.Invalid, fmt.Sprintf("bigrdd.Parallelize: expected a slice, got %T", data)))
	}
	records := make([]interface{}, v.Len())
	for i := range records {
		records[i] = v.Index(i).Interface()
	}
	r := &memReader{records: records, splits: partition.Split(int64(len(records)), n)}
	return c.Source(r)
}

// memReader reads partitions of an in-memory slice.
type memReader struct {
	records []interface{}
	splits  []partition.Range
}

func (r *memReader) NumPartition() int { return len(r.splits) }

func (r *memReader) ReadPartition(ctx context.Context, i int) ([]interface{}, error) {
	s := r.splits[i]
	return r.records[s.Beg:s.End:s.End], nil
}

func (r *memReader) String() string {
	return fmt.Sprintf("parallelize(%d records)", len(r.records))
}

// TextFile returns a collection of the lines of the files at the
// provided paths, divided into at least the context's default number of
// partitions. See TextFileN.
func (c *Context) TextFile(ctx context.Context, paths ...string) *RDD {
	return c.TextFileN(ctx, c.partitions, paths...)
}

// TextFileN returns a collection of the lines of the files at the
// provided paths, in order. Each file is split into byte ranges so that
// the collection has approximately minPartitions partitions; every
// nonempty file has at least one partition. A line belongs to the
// partition containing its first byte. Line terminators ("\n" or
// "\r\n") are removed.
//
// The files are stat'ed (in parallel) when TextFileN is called; their
// contents are read when the collection is evaluated.
func (c *Context) TextFileN(ctx context.Context, minPartitions int, paths ...string) *RDD {
	if len(paths) == 0 {
		return c.errRDD(errors.E(errors.Invalid, "bigrdd.TextFile: no paths"))
	}
	if minPartitions < 1 {
		minPartitions = 1
	}
	sizes := make([]int64, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i := range paths {
		i := i
		g.Go(func() error {
			info, err := file.Stat(gctx, paths[i])
			if err != nil {
				return errors.E(err, fmt.Sprintf("bigrdd.TextFile: stat %s", paths[i]))
			}
			sizes[i] = info.Size()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return c.errRDD(err)
	}
	return c.Source(&textReader{
		paths:  paths,
		splits: planSplits(paths, sizes, minPartitions),
	})
}

// A textSplit is a byte range of a text file.
type textSplit struct {
	path string
	partition.Range
}

// planSplits divides files into byte ranges of a target size so that
// there are approximately minPartitions splits overall. The last split
// of each file may be up to splitSlop times the target size. Empty
// files are represented by a single empty split.
func planSplits(paths []string, sizes []int64, minPartitions int) []textSplit {
	var total int64
	for _, size := range sizes {
		total += size
	}
	goal := total / int64(minPartitions)
	if total%int64(minPartitions) != 0 {
		goal++
	}
	if goal < 1 {
		goal = 1
	}
	var splits []textSplit
	for i, path := range paths {
		var off int64
		for remain := sizes[i]; float64(remain)/float64(goal) > splitSlop; remain -= goal {
			splits = append(splits, textSplit{path, partition.Range{Beg: off, End: off + goal}})
			off += goal
		}
		if off < sizes[i] || sizes[i] == 0 {
			splits = append(splits, textSplit{path, partition.Range{Beg: off, End: sizes[i]}})
		}
	}
	return splits
}

// textReader reads lines of byte-range splits of text files.
type textReader struct {
	paths  []string
	splits []textSplit
}

func (r *textReader) NumPartition() int { return len(r.splits) }

func (r *textReader) String() string {
	return fmt.Sprintf("textFile(%s)", strings.Join(r.paths, ","))
}

func (r *textReader) ReadPartition(ctx context.Context, i int) (lines []interface{}, err error) {
	split := r.splits[i]
	if split.Len() == 0 {
		return nil, nil
	}
	f, err := file.Open(ctx, split.path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	rs := f.Reader(ctx)
	pos := split.Beg
	if pos > 0 {
		// The split owns the line at its start only if the previous byte
		// ends a line.
		pos--
		if _, err := rs.Seek(pos, io.SeekStart); err != nil {
			return nil, err
		}
	}
	br := bufio.NewReader(rs)
	if split.Beg > 0 {
		partial, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		pos += int64(len(partial))
	}
	for pos < split.End {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			pos += int64(len(line))
			lines = append(lines, trimEOL(line))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return lines, nil
}

func trimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}

// Source returns a collection whose partitions are read from the
// provided reader. ReadPartition may be called concurrently for
// different partitions, and is called again each time a partition
// is evaluated.
func (c *Context) Source(r lineage.Reader) *RDD {
	n, err := lineage.MakeNode(lineage.Source, nil, lineage.Params{Reader: r, Site: site()})
	if err != nil {
		return c.errRDD(err)
	}
	return &RDD{ctx: c, node: n}
}
