// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package reporting writes test results to the results directory in the
// formats consumed by humans, scripts and xTS tooling.
package reporting

import (
	"time"

	"go.chromium.org/sts/testing"
)

// Result represents the result of a single test.
type Result struct {
	// TestInstance contains basic information about the test.
	testing.TestInstance
	// Errors contains errors reported by the last attempt of the test. If it
	// is empty, the test passed or was skipped.
	Errors []testing.Error `json:"errors"`
	// Start is the time at which the test started.
	Start time.Time `json:"start"`
	// End is the time at which the test completed. It holds the zero value
	// if the test did not complete.
	End time.Time `json:"end"`
	// OutDir is the directory into which test output is stored.
	OutDir string `json:"outDir"`
	// SkipReason contains a human-readable explanation of why the test was
	// skipped. It is empty if the test actually ran.
	SkipReason string `json:"skipReason"`
	// Attempts is the number of times the test ran. It is zero for tests
	// skipped before running.
	Attempts int `json:"attempts"`
}

// Passed reports whether the test ran without errors.
func (r *Result) Passed() bool {
	return len(r.Errors) == 0 && r.SkipReason == ""
}

// Failed reports whether the test reported errors.
func (r *Result) Failed() bool {
	return len(r.Errors) > 0
}

// Skipped reports whether the test was skipped without errors.
func (r *Result) Skipped() bool {
	return len(r.Errors) == 0 && r.SkipReason != ""
}
