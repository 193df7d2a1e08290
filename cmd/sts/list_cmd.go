// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"go.chromium.org/sts/cmd/sts/internal/config"
	"go.chromium.org/sts/internal/logging"
	"go.chromium.org/sts/testing"
)

// listCmd implements subcommands.Command to support listing tests.
type listCmd struct {
	json    bool // marshal tests to JSON instead of just printing names
	cfg     *config.Config
	wrapper runWrapper // wraps calls to run package
	stdout  io.Writer  // where to write tests
}

var _ = subcommands.Command(&listCmd{})

// newListCmd returns a new listCmd that will write tests to stdout.
func newListCmd(stdout io.Writer, stsDir string) *listCmd {
	return &listCmd{
		cfg:     config.NewConfig(config.ListTestsMode, stsDir),
		wrapper: realRunWrapper{},
		stdout:  stdout,
	}
}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list tests" }
func (*listCmd) Usage() string {
	return `Usage: list [flag]... <target> [pattern]...

Description:
    Lists tests matched by zero or more patterns. The target is only
    contacted when -checktestdeps is passed.

Pattern:
    Patterns are either globs matching test names or a single test attribute
    boolean expression in parentheses.

Flag:
`
}

func (lc *listCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&lc.json, "json", false, "print full test details as JSON")
	lc.cfg.SetFlags(f)
}

func (lc *listCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if len(f.Args()) == 0 {
		logging.Info(ctx, "Missing target.\n\n"+lc.Usage())
		return subcommands.ExitUsageError
	}
	if err := lc.cfg.DeriveDefaults(); err != nil {
		logging.Info(ctx, "Failed to derive defaults: ", err)
		return subcommands.ExitUsageError
	}
	lc.cfg.Target = f.Args()[0]
	lc.cfg.Patterns = f.Args()[1:]

	// Keep connection chatter out of the listing.
	logger := logging.NewSinkLogger(logging.LevelDebug, true, logging.NewWriterSink(io.Discard))
	ctx = logging.AttachLoggerNoPropagation(ctx, logger)

	tests, err := lc.wrapper.listTests(ctx, lc.cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return subcommands.ExitFailure
	}
	if err := lc.printTests(tests); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write tests: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// printTests writes the supplied tests to lc.stdout.
func (lc *listCmd) printTests(tests []*testing.TestInstance) error {
	if lc.json {
		enc := json.NewEncoder(lc.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tests)
	}
	for _, t := range tests {
		if _, err := fmt.Fprintln(lc.stdout, t.Name); err != nil {
			return err
		}
	}
	return nil
}
