// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package testingutil implements polling and sleeping shared by the testing
// package and device support packages that cannot depend on it.
package testingutil

import (
	"context"
	"time"

	"code.cloudfoundry.org/clock"

	"go.chromium.org/sts/ctxutil"
	"go.chromium.org/sts/errors"
)

const defaultPollInterval = 100 * time.Millisecond

// PollOptions provides testing.PollOptions.
type PollOptions struct {
	// Timeout specifies the maximum time to poll.
	// Non-positive values indicate no timeout (context deadlines are still honored).
	Timeout time.Duration
	// Interval specifies how long to sleep between polling.
	// Non-positive values select a default of 100ms.
	Interval time.Duration
	// Clock is used to wait between attempts. It is nil outside unit tests.
	Clock clock.Clock
}

type pollBreak struct {
	err error
}

func (b *pollBreak) Error() string {
	return b.err.Error()
}

// PollBreak wraps err so that Poll returns it immediately.
func PollBreak(err error) error {
	return &pollBreak{err}
}

// Poll runs f repeatedly until it returns nil, an error wrapped by PollBreak,
// or the timeout or ctx's deadline is reached. In the last case the last
// error returned by f is returned, annotated with the context error.
func Poll(ctx context.Context, f func(context.Context) error, opts *PollOptions) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var o PollOptions
	if opts != nil {
		o = *opts
	}
	if o.Interval <= 0 {
		o.Interval = defaultPollInterval
	}
	if o.Clock == nil {
		o.Clock = clock.NewClock()
	}

	ctx, cancel := ctxutil.OptionalTimeout(ctx, o.Timeout)
	defer cancel()

	var lastErr error
	for {
		err := f(ctx)
		if err == nil {
			return nil
		}
		if e, ok := err.(*pollBreak); ok {
			return e.err
		}

		// Keep the error from before the deadline; f often returns a bare
		// context error once the deadline passes.
		if lastErr == nil || ctx.Err() == nil {
			lastErr = err
		}

		tm := o.Clock.NewTimer(o.Interval)
		select {
		case <-tm.C():
		case <-ctx.Done():
			tm.Stop()
			return errors.Wrapf(lastErr, "%s; last error follows", ctx.Err())
		}
	}
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	return SleepWithClock(ctx, clock.NewClock(), d)
}

// SleepWithClock is Sleep with an explicit clock.
func SleepWithClock(ctx context.Context, clk clock.Clock, d time.Duration) error {
	tm := clk.NewTimer(d)
	defer tm.Stop()
	select {
	case <-tm.C():
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "sleep interrupted")
	}
}
