// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package planner

import (
	"context"
	"runtime"
	"testing"
	"time"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/clock/fakeclock"
)

func failOnPanic(t *testing.T) panicHandler {
	return func(val interface{}) {
		t.Error("Panic: ", val)
	}
}

func TestSafeCall(t *testing.T) {
	called := false
	if err := safeCall(context.Background(), clock.NewClock(), "foo", time.Minute, time.Minute, failOnPanic(t), func(ctx context.Context) {
		called = true
	}); err != nil {
		t.Fatal("safeCall: ", err)
	}
	if !called {
		t.Error("Function was not called")
	}
}

func TestSafeCallGoexit(t *testing.T) {
	if err := safeCall(context.Background(), clock.NewClock(), "foo", time.Minute, time.Minute, failOnPanic(t), func(ctx context.Context) {
		runtime.Goexit()
	}); err != nil {
		t.Fatal("safeCall: ", err)
	}
}

func TestSafeCallTimeout(t *testing.T) {
	if err := safeCall(context.Background(), clock.NewClock(), "foo", 0, time.Minute, failOnPanic(t), func(ctx context.Context) {
		<-ctx.Done()
	}); err != nil {
		t.Error("safeCall returned an error though f returned soon after timeout")
	}
}

func TestSafeCallIgnoreTimeout(t *testing.T) {
	ch := make(chan struct{})
	defer close(ch)

	clk := fakeclock.NewFakeClock(time.Unix(0, 0))
	errCh := make(chan error, 1)
	go func() {
		errCh <- safeCall(context.Background(), clk, "security.Hang", time.Second, time.Second, failOnPanic(t), func(ctx context.Context) {
			<-ch
		})
	}()
	clk.WaitForWatcherAndIncrement(2 * time.Second)

	err := <-errCh
	if err == nil {
		t.Fatal("safeCall returned success on timeout")
	}
	const exp = "security.Hang did not return on timeout"
	if err.Error() != exp {
		t.Errorf("safeCall: %v; want: %v", err, exp)
	}
}

func TestSafeCallContextCancel(t *testing.T) {
	ch := make(chan struct{})
	defer close(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := safeCall(ctx, clock.NewClock(), "foo", time.Minute, time.Minute, failOnPanic(t), func(ctx context.Context) {
		cancel()
		<-ch
	})
	if err != context.Canceled {
		t.Errorf("safeCall: %v; want: %v", err, context.Canceled)
	}
}

func TestSafeCallPanic(t *testing.T) {
	const msg = "panicking"

	panicked := false
	onPanic := func(val interface{}) {
		panicked = true
		if s, ok := val.(string); !ok || s != msg {
			t.Errorf("onPanic: got %v, want %v", val, msg)
		}
	}

	if err := safeCall(context.Background(), clock.NewClock(), "", time.Minute, time.Minute, onPanic, func(ctx context.Context) {
		panic(msg)
	}); err != nil {
		t.Fatal("safeCall: ", err)
	}
	if !panicked {
		t.Error("panicHandler not called")
	}
}

func TestSafeCallPanicAfterAbandon(t *testing.T) {
	ch := make(chan struct{})
	defer close(ch)

	if err := safeCall(context.Background(), clock.NewClock(), "", 0, 0, failOnPanic(t), func(ctx context.Context) {
		<-ch
		panic("panicking")
	}); err == nil {
		t.Fatal("safeCall returned success on timeout")
	}
}
