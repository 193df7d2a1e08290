// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package planner

import (
	"context"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/clock"

	"go.chromium.org/sts/errors"
)

// panicHandler handles a value recovered from a panic in safeCall.
type panicHandler func(val interface{})

type errorReporter interface {
	Error(args ...interface{})
}

// errorOnPanic returns a panicHandler that reports a panic via e.
func errorOnPanic(e errorReporter) panicHandler {
	return func(val interface{}) {
		e.Error("Panic: ", val)
	}
}

// safeCall runs f on a goroutine with a context that expires after timeout.
//
// If f has not returned gracePeriod after the timeout, or ctx is canceled
// first, the goroutine is abandoned and an error naming name is returned.
// Otherwise nil is returned, including when f calls runtime.Goexit.
//
// A panic in f is passed to ph on f's goroutine so the stack trace shows the
// panic location. ph is never called once f has been abandoned.
func safeCall(ctx context.Context, clk clock.Clock, name string, timeout, gracePeriod time.Duration, ph panicHandler, f func(ctx context.Context)) error {
	// Whoever takes the token first decides: the caller by abandoning f,
	// or f's goroutine by finishing.
	var token int32
	takeToken := func() bool {
		return atomic.CompareAndSwapInt32(&token, 0, 1)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			val := recover()
			if !takeToken() {
				return
			}
			if val != nil {
				ph(val)
			}
		}()

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		f(ctx)
	}()

	// Wait for ph to finish if f's goroutine won the token.
	defer func() {
		if !takeToken() {
			<-done
		}
	}()

	tm := clk.NewTimer(timeout + gracePeriod)
	defer tm.Stop()

	select {
	case <-done:
		return nil
	case <-tm.C():
		return errors.Errorf("%s did not return on timeout", name)
	case <-ctx.Done():
		return ctx.Err()
	}
}
