// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package ctxutil provides utilities for working with context.Context deadlines.
package ctxutil

import (
	"context"
	"math"
	"time"
)

// MaxTimeout is the maximum value of time.Duration, used to mean "no timeout".
const MaxTimeout time.Duration = math.MaxInt64

// Shorten returns a context and cancel function derived from ctx with its
// deadline moved earlier by d. If ctx has no deadline, the returned context
// has none either. Callers use it to reserve time for teardown:
//
//	cleanupCtx := ctx
//	ctx, cancel := ctxutil.Shorten(ctx, 30*time.Second)
//	defer cancel()
//	defer user.Close(cleanupCtx)
func Shorten(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	dl, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, dl.Add(-d))
}

// OptionalTimeout returns a context with timeout d. A non-positive d means no
// timeout and the returned context only inherits ctx's deadline.
func OptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// DeadlineBefore reports whether ctx has a deadline earlier than t.
func DeadlineBefore(ctx context.Context, t time.Time) bool {
	dl, ok := ctx.Deadline()
	if !ok {
		return false
	}
	return dl.Before(t)
}
