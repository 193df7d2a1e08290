// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package planner runs tests one at a time, with timeouts, retries and
// device hooks around each test.
package planner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"

	"go.chromium.org/sts/android/adb"
	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/internal/logging"
	"go.chromium.org/sts/testing"
)

const (
	exitTimeout     = 30 * time.Second // extra time granted to stages to return
	preTestTimeout  = 2 * time.Minute  // timeout for Config.PreTestFunc
	postTestTimeout = 2 * time.Minute  // timeout for Config.PostTestFunc
)

// Config contains details about how the planner should run tests.
type Config struct {
	// DataDir is the base directory containing test data files. A test in
	// package p reads its data from DataDir/p/data.
	DataDir string
	// OutDir is the base directory under which each test gets a directory
	// named after it for output files. It may be empty in unit tests.
	OutDir string
	// Vars contains runtime variables.
	Vars map[string]string
	// DUT is the device under test.
	DUT *adb.Device
	// Features lists the device's features. Tests whose SoftwareDeps are
	// not all in Features are skipped.
	Features []string
	// Retries is the number of extra attempts given to a failed test.
	Retries int
	// PreTestFunc runs before each attempt of a test if non-nil. The
	// returned closure, if non-nil, runs after PostTestFunc.
	PreTestFunc func(ctx context.Context, s *testing.State) func(ctx context.Context, s *testing.State)
	// PostTestFunc runs after each attempt of a test if non-nil.
	PostTestFunc func(ctx context.Context, s *testing.State)
	// Clock is used for stage deadlines. It defaults to the real clock.
	Clock clock.Clock
}

// RelativeDataDir returns the data directory of tests in pkg relative to
// Config.DataDir.
func RelativeDataDir(pkg string) string {
	return filepath.Join(filepath.FromSlash(pkg), "data")
}

// RunTests runs tests in order, writing outputs to out.
//
// If a test does not return after its timeout plus a grace period, RunTests
// reports it as failed and returns an error without running the remaining
// tests, as the abandoned test may still be using the device.
func RunTests(ctx context.Context, tests []*testing.TestInstance, out OutputStream, pcfg *Config) error {
	if pcfg.Clock == nil {
		pcfg.Clock = clock.NewClock()
	}
	for _, t := range tests {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if missing := t.MissingSoftwareDeps(pcfg.Features); len(missing) > 0 {
			if err := reportSkippedTest(out, t, "missing SoftwareDeps: "+strings.Join(missing, ", ")); err != nil {
				return err
			}
			continue
		}
		if err := runTest(ctx, t, out, pcfg); err != nil {
			return err
		}
	}
	return nil
}

// runTest runs t, retrying failed attempts up to pcfg.Retries times. Only
// the errors of the last attempt are reported as errors.
func runTest(ctx context.Context, t *testing.TestInstance, out OutputStream, pcfg *Config) error {
	if err := out.TestStart(t); err != nil {
		return err
	}
	for attempt := 1; ; attempt++ {
		as := newAttemptStream(out, t)
		s, runErr := runAttempt(ctx, t, as, pcfg)
		if runErr != nil {
			const msg = "Test did not return on timeout (see log for goroutine dump)"
			as.Error(testing.NewError(runErr, msg, msg, 0))
			dumpGoroutines(as)
		}

		retry := runErr == nil && s.HasError() && attempt <= pcfg.Retries && ctx.Err() == nil
		errs, err := as.close(!retry)
		if err != nil {
			return err
		}
		if retry {
			out.TestLog(t, logging.LevelInfo, time.Now(),
				fmt.Sprintf("Attempt %d failed with %d error(s); retrying (%d of %d)", attempt, len(errs), attempt, pcfg.Retries))
			continue
		}
		if err := out.TestEnd(t, s.SkipReason(), attempt); err != nil {
			return err
		}
		if runErr != nil {
			return errors.Wrapf(runErr, "%s did not return on timeout", t.Name)
		}
		return nil
	}
}

// runAttempt runs a single attempt of t. It returns an error only if a stage
// had to be abandoned.
func runAttempt(ctx context.Context, t *testing.TestInstance, as *attemptStream, pcfg *Config) (*testing.State, error) {
	var outDir string
	if pcfg.OutDir != "" {
		outDir = filepath.Join(pcfg.OutDir, t.Name)
	}
	tcfg := &testing.TestConfig{
		DataDir: filepath.Join(pcfg.DataDir, RelativeDataDir(t.Pkg)),
		OutDir:  outDir,
		Vars:    pcfg.Vars,
		DUT:     pcfg.DUT,
	}
	s := testing.NewState(t, as, tcfg)
	return s, runStages(ctx, pcfg.Clock, s, buildStages(t, pcfg, tcfg))
}

// buildStages builds the stages of a test attempt.
func buildStages(t *testing.TestInstance, pcfg *Config, tcfg *testing.TestConfig) []stage {
	var postTestHook func(ctx context.Context, s *testing.State)

	return []stage{{
		name:    "pre-test hook",
		timeout: preTestTimeout,
		f: func(ctx context.Context, s *testing.State) {
			if t.Timeout <= 0 {
				s.Fatal("Invalid timeout ", t.Timeout)
			}
			if tcfg.OutDir != "" {
				if err := os.MkdirAll(tcfg.OutDir, 0755); err != nil {
					s.Fatal("Failed to create output dir: ", err)
				}
			}
			if pcfg.PreTestFunc != nil {
				postTestHook = pcfg.PreTestFunc(ctx, s)
			}
		},
	}, {
		name:    t.Name,
		timeout: t.Timeout,
		f: func(ctx context.Context, s *testing.State) {
			if s.HasError() || s.SkipReason() != "" {
				return
			}
			t.Func(ctx, s)
		},
	}, {
		name:    "post-test hook",
		timeout: postTestTimeout,
		f: func(ctx context.Context, s *testing.State) {
			if pcfg.PostTestFunc != nil {
				pcfg.PostTestFunc(ctx, s)
			}
			if postTestHook != nil {
				postTestHook(ctx, s)
			}
		},
	}}
}

// reportSkippedTest is called instead of runTest for a test whose
// dependencies are not satisfied.
func reportSkippedTest(out OutputStream, t *testing.TestInstance, reason string) error {
	if err := out.TestStart(t); err != nil {
		return err
	}
	return out.TestEnd(t, reason, 0)
}

// dumpGoroutines dumps all goroutines to as.
func dumpGoroutines(as *attemptStream) {
	as.Log(logging.LevelInfo, time.Now(), "Dumping all goroutines")
	if err := func() error {
		p := pprof.Lookup("goroutine")
		if p == nil {
			return errors.New("goroutine pprof not found")
		}
		var buf bytes.Buffer
		if err := p.WriteTo(&buf, 2); err != nil {
			return err
		}
		sc := bufio.NewScanner(&buf)
		for sc.Scan() {
			as.Log(logging.LevelDebug, time.Now(), sc.Text())
		}
		return sc.Err()
	}(); err != nil {
		_, fn, ln, _ := runtime.Caller(0)
		as.Error(&testing.Error{
			Reason: fmt.Sprintf("Failed to dump goroutines: %v", err),
			File:   fn,
			Line:   ln,
			Time:   time.Now(),
		})
	}
}
