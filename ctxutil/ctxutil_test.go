// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ctxutil

import (
	"context"
	"testing"
	"time"
)

// deadlineOf passes ctx and d to f and returns the resulting context's
// deadline. A zero time is returned if no deadline is set.
func deadlineOf(ctx context.Context, f func(context.Context, time.Duration) (context.Context, context.CancelFunc), d time.Duration) time.Time {
	ctx, cancel := f(ctx, d)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	return time.Time{}
}

func TestOptionalTimeout(t *testing.T) {
	start := time.Now()
	dl := deadlineOf(context.Background(), OptionalTimeout, time.Minute)
	if dl.Before(start.Add(time.Minute)) || dl.After(start.Add(2*time.Minute)) {
		t.Errorf("OptionalTimeout(1m) deadline = %v; want about %v", dl, start.Add(time.Minute))
	}
	for _, d := range []time.Duration{0, -time.Second} {
		if dl := deadlineOf(context.Background(), OptionalTimeout, d); !dl.IsZero() {
			t.Errorf("OptionalTimeout(%v) deadline = %v; want none", d, dl)
		}
	}
}

func TestShorten(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	orig, _ := ctx.Deadline()
	if dl := deadlineOf(ctx, Shorten, 5*time.Second); !dl.Equal(orig.Add(-5 * time.Second)) {
		t.Errorf("Shorten deadline = %v; want %v", dl, orig.Add(-5*time.Second))
	}
	if dl := deadlineOf(context.Background(), Shorten, 5*time.Second); !dl.IsZero() {
		t.Errorf("Shorten without deadline = %v; want none", dl)
	}
}

func TestDeadlineBefore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if !DeadlineBefore(ctx, time.Now().Add(time.Hour)) {
		t.Error("DeadlineBefore(now+1h) = false; want true")
	}
	if DeadlineBefore(ctx, time.Now()) {
		t.Error("DeadlineBefore(now) = true; want false")
	}
	if DeadlineBefore(context.Background(), time.Now()) {
		t.Error("DeadlineBefore without deadline = true; want false")
	}
}
