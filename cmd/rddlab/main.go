// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Rddlab is a bigrdd demo program that walks through the engine's
// transformations and actions: it builds collections from memory and
// from a text file, applies every transformation, runs every action,
// and shows a collection's lineage before and after a checkpoint.
//
// Paths may be local or, through the registered S3 implementation of
// github.com/grailbio/base/file, of the form s3://bucket/key.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigrdd"
	"github.com/grailbio/bigrdd/rddconfig"
)

func init() {
	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(
			s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
}

const sample = "Hello, everyone \n This is a sample text file for the bigrdd walkthrough"

func main() {
	var (
		text          = flag.String("text", "sample.txt", "path of the sample text file to create and read")
		checkpointDir = flag.String("checkpoint", "checkpoint", "checkpoint directory")
		seed          = flag.Int64("seed", 0, "seed used for sampling; random if zero")
	)
	log.AddFlags()
	rctx := rddconfig.Parse()
	defer func() {
		must.Nil(rctx.Close())
	}()
	if rctx.CheckpointDir() == "" {
		rctx.SetCheckpointDir(*checkpointDir)
	}
	ctx := context.Background()
	fmt.Println("bigrdd", bigrdd.Version, rctx.AppName())

	must.Nil(writeFile(ctx, *text, sample))
	run(ctx, os.Stdout, rctx, *text, *seed)
}

func writeFile(ctx context.Context, path, contents string) error {
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(f.Writer(ctx), contents); err != nil {
		f.Discard(ctx)
		return err
	}
	return f.Close(ctx)
}

// run performs the walkthrough, printing results to w.
func run(ctx context.Context, w io.Writer, rctx *bigrdd.Context, text string, seed int64) {
	var (
		square = func(v interface{}) interface{} { return v.(int) * v.(int) }
		even   = func(v interface{}) bool { return v.(int)%2 == 0 }
		add    = func(x, y interface{}) interface{} { return x.(int) + y.(int) }
		incr   = func(v interface{}) interface{} { return v.(int) + 1 }
		double = func(v interface{}) interface{} { return v.(int) * 2 }
		parity = func(v interface{}) interface{} {
			if v.(int)%2 == 0 {
				return "even"
			}
			return "odd"
		}
		words = func(v interface{}) []interface{} {
			var out []interface{}
			for _, word := range strings.Split(v.(string), " ") {
				out = append(out, word)
			}
			return out
		}
	)
	show := func(label string, v interface{}, err error) {
		must.Nil(err, label)
		fmt.Fprintf(w, "%s: %v\n", label, v)
	}
	collect := func(label string, r *bigrdd.RDD) {
		records, err := r.Collect(ctx)
		show(label, records, err)
	}

	list := rctx.Parallelize([]int{1, 2, 3, 5, 6})
	collect("parallelize", list)
	collect("textFile", rctx.TextFile(ctx, text))

	collect("map", list.Map(square))
	collect("filter", list.Filter(even))
	sentences := rctx.Parallelize([]string{"Spark is great", "RDDs are powerful"})
	collect("flatMap", sentences.FlatMap(words))

	sum, err := list.Reduce(ctx, add)
	show("reduce", sum, err)
	count, err := list.Count(ctx)
	show("count", count, err)
	first, err := list.Take(ctx, 3)
	show("take", first, err)

	collect("groupBy", list.GroupBy(parity))
	collect("union", rctx.Parallelize([]int{1, 2, 3}).Union(rctx.Parallelize([]int{4, 5, 6})))
	collect("distinct", rctx.Parallelize([]int{1, 2, 2, 3, 3, 4}).Distinct())

	pairs := rctx.Parallelize([]bigrdd.Pair{
		{Key: "a", Value: 1},
		{Key: "b", Value: 2},
		{Key: "a", Value: 3},
		{Key: "b", Value: 4},
	})
	collect("reduceByKey", pairs.ReduceByKey(add))
	pairs = rctx.Parallelize([]bigrdd.Pair{
		{Key: "a", Value: 1},
		{Key: "b", Value: 2},
		{Key: "c", Value: 3},
		{Key: "a", Value: 4},
	})
	collect("mapValues", pairs.MapValues(incr))

	var opts []bigrdd.TransformOption
	if seed != 0 {
		opts = append(opts, bigrdd.SampleSeed(seed))
	}
	collect("sample", list.Sample(false, 0.5, opts...))

	base := rctx.Parallelize([]int{1, 2, 3})
	doubled := base.Map(double)
	fmt.Fprintf(w, "lineage:\n%s", doubled.DebugString())
	must.Nil(base.Checkpoint(ctx), "checkpoint")
	collect("checkpointed", base)
	fmt.Fprintf(w, "isCheckpointed: %t\n", base.IsCheckpointed())
	fmt.Fprintf(w, "lineage after checkpoint:\n%s", doubled.DebugString())
}
