// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package testing

import (
	"context"
	"time"

	"go.chromium.org/sts/internal/testingutil"
)

// PollOptions may be passed to Poll to configure its behavior.
type PollOptions = testingutil.PollOptions

// PollBreak wraps err so that Poll returns it immediately.
func PollBreak(err error) error {
	return testingutil.PollBreak(err)
}

// Poll runs f repeatedly until f returns nil and then itself returns nil.
// If ctx is done or opts.Timeout elapses first, the last error returned by f
// is returned. An error wrapped by PollBreak stops polling at once.
func Poll(ctx context.Context, f func(context.Context) error, opts *PollOptions) error {
	return testingutil.Poll(ctx, f, opts)
}

// Sleep pauses the current goroutine for d or until ctx expires.
func Sleep(ctx context.Context, d time.Duration) error {
	return testingutil.Sleep(ctx, d)
}
