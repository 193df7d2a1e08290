// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package instrumentation runs on-device instrumented tests with am instrument
// and interprets their results.
package instrumentation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.chromium.org/sts/android/adb"
	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/testing"
)

// DefaultRunner is the AndroidX JUnit runner.
const DefaultRunner = "androidx.test.runner.AndroidJUnitRunner"

// Options describes an instrumentation run.
type Options struct {
	// Package is the test package.
	Package string
	// Runner is the instrumentation class. Defaults to DefaultRunner.
	Runner string
	// Class restricts the run to a test class; Method further to a method.
	// Class may be relative to Package when it starts with ".".
	Class  string
	Method string
	// User runs the instrumentation as a user id, or "current".
	User string
	// Args are passed with -e.
	Args map[string]string
	// Timeout bounds the run. Zero means the caller's deadline.
	Timeout time.Duration
}

func (o *Options) args() []string {
	args := []string{"am", "instrument", "-w", "-r"}
	if o.User != "" {
		args = append(args, "--user", o.User)
	}
	if o.Class != "" {
		cls := o.Class
		if strings.HasPrefix(cls, ".") {
			cls = o.Package + cls
		}
		if o.Method != "" {
			cls += "#" + o.Method
		}
		args = append(args, "-e", "class", cls)
	}
	keys := make([]string, 0, len(o.Args))
	for k := range o.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k, o.Args[k])
	}
	runner := o.Runner
	if runner == "" {
		runner = DefaultRunner
	}
	return append(args, o.Package+"/"+runner)
}

// Run runs the instrumentation and returns its parsed result. It fails only
// if the command could not be run.
func Run(ctx context.Context, d *adb.Device, opts *Options) (*Result, error) {
	if opts.Package == "" {
		return nil, errors.New("instrumentation package not set")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	testing.ContextLogf(ctx, "Running instrumentation %s", opts.Package)
	res, err := d.Shell(ctx, opts.args()...)
	if err != nil {
		return nil, err
	}
	return Parse(res.Stdout), nil
}

// SkipError is returned by RunDeviceTests when no test passed or failed and
// at least one was skipped by an assumption.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return "device tests skipped: " + e.Reason }

// FailureError is returned by RunDeviceTests when device test methods
// failed.
type FailureError struct {
	// Failed holds "class#method: message" for each failed method.
	Failed []string
	// Total is the number of methods that reported a status.
	Total int
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("%d of %d device tests failed: %s", len(e.Failed), e.Total, strings.Join(e.Failed, "; "))
}

// RunDeviceTests runs the instrumentation. Failed methods are returned as
// *FailureError and a run whose tests were all skipped as *SkipError. Other
// errors mean the run itself did not work.
func RunDeviceTests(ctx context.Context, d *adb.Device, opts *Options) error {
	res, err := Run(ctx, d, opts)
	if err != nil {
		return err
	}
	return res.Err()
}

// Err summarizes r as an error; see RunDeviceTests.
func (r *Result) Err() error {
	if r.RunError != "" {
		return errors.New(r.RunError)
	}
	if len(r.Tests) == 0 {
		return errors.New("no tests were run")
	}
	var failed, skipped []string
	ran := 0
	for i := range r.Tests {
		t := &r.Tests[i]
		switch t.Status {
		case StatusFailed, StatusIncomplete:
			failed = append(failed, fmt.Sprintf("%s: %s", t.Name(), firstLine(t.Stack)))
		case StatusAssumptionFailure:
			skipped = append(skipped, fmt.Sprintf("%s: %s", t.Name(), firstLine(t.Stack)))
		case StatusPassed:
			ran++
		}
	}
	if len(failed) > 0 {
		return &FailureError{Failed: failed, Total: len(r.Tests)}
	}
	if ran == 0 && len(skipped) > 0 {
		return &SkipError{Reason: strings.Join(skipped, "; ")}
	}
	return nil
}

func firstLine(s string) string {
	l, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(l)
}

// AssertDeviceTests runs the instrumentation as part of test s. It fails s
// when device test methods failed and skips s otherwise on error.
func AssertDeviceTests(ctx context.Context, s *testing.State, d *adb.Device, opts *Options) {
	err := RunDeviceTests(ctx, d, opts)
	if err == nil {
		return
	}
	var se *SkipError
	if errors.As(err, &se) {
		s.Skip(se.Reason)
	}
	var fe *FailureError
	if errors.As(err, &fe) {
		s.Fatal("Device tests failed: ", err)
	}
	s.AssumeNoError(err, "Failed to run device tests")
}
