// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package rddconfig provides a mechanism to open a bigrdd context
// from a shared configuration. Rddconfig uses the configuration
// mechanism in package github.com/grailbio/base/config, and reads a
// default profile from $HOME/.bigrdd/config.
//
// The "bigrdd" instance accepts the following parameters:
//
//	parallelism     number of workers (default: GOMAXPROCS)
//	partitions      default number of partitions (default: parallelism)
//	app-name        application name
//	checkpoint-dir  directory under which checkpoints are written
//	compress        compress checkpoint data with lz4
package rddconfig

import (
	"flag"
	"os"
	"runtime"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigrdd"
)

// Path determines the location of the bigrdd profile read by Parse.
var Path = os.ExpandEnv("$HOME/.bigrdd/config")

func init() {
	config.Register("bigrdd", func(inst *config.Constructor) {
		var (
			parallelism   int
			partitions    int
			appName       string
			checkpointDir string
			compress      bool
		)
		inst.IntVar(&parallelism, "parallelism", runtime.GOMAXPROCS(0), "number of workers evaluating tasks")
		inst.IntVar(&partitions, "partitions", 0, "default number of partitions; parallelism if zero")
		inst.StringVar(&appName, "app-name", "bigrdd", "name of the application")
		inst.StringVar(&checkpointDir, "checkpoint-dir", "", "directory under which checkpoints are written")
		inst.BoolVar(&compress, "compress", false, "compress checkpoint data")
		inst.Doc = "bigrdd configures the bigrdd engine"
		inst.New = func() (interface{}, error) {
			return bigrdd.Open(Options(parallelism, partitions, appName, checkpointDir, compress)...)
		}
	})
}

// Options returns the context options corresponding to the provided
// configuration values. Zero values select defaults.
func Options(parallelism, partitions int, appName, checkpointDir string, compress bool) []bigrdd.Option {
	var opts []bigrdd.Option
	if parallelism > 0 {
		opts = append(opts, bigrdd.Parallelism(parallelism))
	}
	if partitions > 0 {
		opts = append(opts, bigrdd.DefaultPartitions(partitions))
	}
	if appName != "" {
		opts = append(opts, bigrdd.AppName(appName))
	}
	if checkpointDir != "" {
		opts = append(opts, bigrdd.CheckpointDir(checkpointDir))
	}
	if compress {
		opts = append(opts, bigrdd.Compress)
	}
	return opts
}

// Parse registers configuration flags and calls flag.Parse. It reads
// bigrdd configuration from Path defined in this package. Parse
// returns the context as configured by the configuration and any
// flags provided. Parse panics if the context cannot be opened.
func Parse() *bigrdd.Context {
	config.RegisterFlags("", Path)
	flag.Parse()
	must.Nil(config.ProcessFlags())
	var ctx *bigrdd.Context
	config.Must("bigrdd", &ctx)
	return ctx
}
