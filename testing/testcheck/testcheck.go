// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package testcheck provides common functions to check test definitions and
// to exercise code that takes a *testing.State from unit tests.
package testcheck

import (
	"context"
	"strings"
	"sync"
	gotesting "testing"
	"time"

	"go.chromium.org/sts/internal/logging"
	"go.chromium.org/sts/testing"
)

func getTests(t *gotesting.T, pattern string) []*testing.TestInstance {
	tests, err := testing.GlobalRegistry().SelectByPatterns([]string{pattern})
	if err != nil {
		t.Fatalf("Failed to get tests for %s: %v", pattern, err)
	}
	if len(tests) == 0 {
		t.Fatalf("No tests matched for %s", pattern)
	}
	return tests
}

// Timeout checks that tests matched by pattern have timeout no less than minTimeout.
func Timeout(t *gotesting.T, pattern string, minTimeout time.Duration) {
	for _, tst := range getTests(t, pattern) {
		if tst.Timeout < minTimeout {
			t.Errorf("%s: timeout is too short (%v < %v)", tst.Name, tst.Timeout, minTimeout)
		}
	}
}

// SoftwareDeps checks that tests matched by pattern declare requiredDeps as
// software dependencies. Each item of requiredDeps is one or '|'-connected
// feature names, and SoftwareDeps must contain at least one of them.
func SoftwareDeps(t *gotesting.T, pattern string, requiredDeps []string) {
	for _, tst := range getTests(t, pattern) {
		deps := make(map[string]struct{})
		for _, d := range tst.SoftwareDeps {
			deps[d] = struct{}{}
		}
	CheckLoop:
		for _, d := range requiredDeps {
			for _, item := range strings.Split(d, "|") {
				if _, ok := deps[item]; ok {
					continue CheckLoop
				}
			}
			t.Errorf("%s: missing software dependency %q", tst.Name, d)
		}
	}
}

// Output collects what a test reported through its State.
type Output struct {
	mu     sync.Mutex
	Logs   []string
	Errors []*testing.Error
}

func (o *Output) Log(level logging.Level, ts time.Time, msg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Logs = append(o.Logs, msg)
	return nil
}

func (o *Output) Error(e *testing.Error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Errors = append(o.Errors, e)
	return nil
}

// ErrorReasons returns the reasons of reported errors.
func (o *Output) ErrorReasons() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var rs []string
	for _, e := range o.Errors {
		rs = append(rs, e.Reason)
	}
	return rs
}

// RunWithState runs f with a State for ti on a separate goroutine, so that
// Fatal and Skip end f without ending the calling test.
func RunWithState(ctx context.Context, ti *testing.TestInstance, cfg *testing.TestConfig, f testing.TestFunc) (*testing.State, *Output) {
	out := &Output{}
	s := testing.NewState(ti, out, cfg)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f(testing.NewContext(ctx, s), s)
	}()
	<-done
	return s, out
}
