// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/subcommands"

	"go.chromium.org/sts/cmd/sts/internal/config"
	"go.chromium.org/sts/ctxutil"
	"go.chromium.org/sts/internal/command"
	"go.chromium.org/sts/internal/logging"
)

const fullLogName = "full.txt" // file in the results dir containing full output

// runCmd implements subcommands.Command to support running tests.
type runCmd struct {
	cfg          *config.Config
	wrapper      runWrapper    // can be set by tests to stub out calls to run package
	failForTests bool          // exit with 1 if any individual tests fail
	timeout      time.Duration // overall timeout; 0 if no timeout
}

var _ = subcommands.Command(&runCmd{})

func newRunCmd(stsDir string) *runCmd {
	return &runCmd{
		cfg:     config.NewConfig(config.RunTestsMode, stsDir),
		wrapper: realRunWrapper{},
	}
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run tests" }
func (*runCmd) Usage() string {
	return `Usage: run [flag]... <target> [pattern]...

Description:
    Runs security tests on the target device.
    Exits with 0 if all selected tests were executed, even if some of them
    failed. Non-zero exit codes indicate high-level issues, e.g. the device
    could not be reached. Callers should examine results.json or
    test_result.xml for failing tests. -failfortests can be supplied to
    override this behavior.

Target:
    The target is an adb serial number, optionally prefixed with "adb:",
    or "ssh:[user@]host[:port]/serial" for a device attached to a remote
    lab host.

Pattern:
    Patterns are either globs matching test names or a single test attribute
    boolean expression in parentheses. Examples:

        $ sts run <target> 'security.NativePocCrash.*'
        $ sts run <target> '("group:sts" && !informational)'

Flag:
`
}

func (r *runCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.failForTests, "failfortests", false, "exit with 1 if any tests fail")
	f.Var(command.NewDurationFlag(time.Second, &r.timeout, 0), "timeout", "run timeout in seconds; 0 for none")
	r.cfg.SetFlags(f)
}

func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, cancel := ctxutil.OptionalTimeout(ctx, r.timeout)
	defer cancel()

	if len(f.Args()) == 0 {
		logging.Info(ctx, "Missing target.\n\n"+r.Usage())
		return subcommands.ExitUsageError
	}

	updateLatest := r.cfg.ResDir == ""

	if err := r.cfg.DeriveDefaults(); err != nil {
		logging.Info(ctx, "Failed to derive defaults: ", err)
		return subcommands.ExitUsageError
	}

	if err := os.MkdirAll(r.cfg.ResDir, 0755); err != nil {
		logging.Info(ctx, err)
		return subcommands.ExitFailure
	}

	// Update the "latest" symlink if the default result directory is used.
	if updateLatest {
		link := filepath.Join(filepath.Dir(r.cfg.ResDir), "latest")
		os.Remove(link)
		if err := os.Symlink(filepath.Base(r.cfg.ResDir), link); err != nil {
			logging.Info(ctx, "Failed to create results symlink: ", err)
		}
	}

	fullLog, err := os.Create(filepath.Join(r.cfg.ResDir, fullLogName))
	if err != nil {
		logging.Info(ctx, err)
		return subcommands.ExitFailure
	}
	defer fullLog.Close()
	ctx = logging.AttachLogger(ctx, logging.NewSinkLogger(logging.LevelDebug, true, logging.NewWriterSink(fullLog)))

	logging.Info(ctx, "Command line: ", strings.Join(os.Args, " "))
	r.cfg.Target = f.Args()[0]
	r.cfg.Patterns = f.Args()[1:]

	if r.cfg.KeyFile != "" {
		logging.Debug(ctx, "Using SSH key ", r.cfg.KeyFile)
	}
	logging.Info(ctx, "Writing results to ", r.cfg.ResDir)

	results, err := r.wrapper.runTests(ctx, r.cfg)
	if err != nil {
		logging.Infof(ctx, "Failed to run tests: %v", err)
		return subcommands.ExitFailure
	}

	if r.failForTests {
		for _, res := range results {
			if res.Failed() {
				return subcommands.ExitFailure
			}
		}
	}
	return subcommands.ExitSuccess
}
