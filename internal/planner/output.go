// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package planner

import (
	"fmt"
	"sync"
	"time"

	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/internal/logging"
	"go.chromium.org/sts/testing"
)

// OutputStream receives the outputs of multiple tests. Note that
// testing.OutputStream is for a single test in contrast.
type OutputStream interface {
	// TestStart reports that t has started.
	TestStart(t *testing.TestInstance) error
	// TestLog reports a log message from t.
	TestLog(t *testing.TestInstance, level logging.Level, ts time.Time, msg string) error
	// TestError reports an error from t. A test that reported errors failed.
	TestError(t *testing.TestInstance, e *testing.Error) error
	// TestEnd reports that t has ended after attempts runs. If skipReason is
	// non-empty the test was skipped.
	TestEnd(t *testing.TestInstance, skipReason string, attempts int) error
}

// attemptStream wraps OutputStream for a single attempt of a test.
//
// Logs are forwarded as they arrive. Errors are held back until the attempt
// ends, so that errors of an attempt that is retried end up in the log only.
// attemptStream is safe for concurrent use.
type attemptStream struct {
	out OutputStream
	t   *testing.TestInstance

	mu     sync.Mutex
	errs   []*testing.Error
	closed bool
}

var _ testing.OutputStream = &attemptStream{}

var errAttemptEnded = errors.New("test attempt has already ended")

func newAttemptStream(out OutputStream, t *testing.TestInstance) *attemptStream {
	return &attemptStream{out: out, t: t}
}

func (a *attemptStream) Log(level logging.Level, ts time.Time, msg string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errAttemptEnded
	}
	return a.out.TestLog(a.t, level, ts, msg)
}

func (a *attemptStream) Error(e *testing.Error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errAttemptEnded
	}
	a.errs = append(a.errs, e)
	return a.out.TestLog(a.t, logging.LevelInfo, e.Time, fmt.Sprintf("Error at %s:%d: %s", e.File, e.Line, e.Reason))
}

// close ends the attempt. If final is true, held errors are reported as
// errors; otherwise they were only logged. close returns the held errors.
func (a *attemptStream) close(final bool) ([]*testing.Error, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, errAttemptEnded
	}
	a.closed = true
	if final {
		for _, e := range a.errs {
			if err := a.out.TestError(a.t, e); err != nil {
				return a.errs, err
			}
		}
	}
	return a.errs, nil
}
