// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package testingutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
)

func TestPollFakeClock(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Unix(0, 0))
	const wantCalls = 3
	numCalls := 0
	done := make(chan error, 1)
	go func() {
		done <- Poll(context.Background(), func(ctx context.Context) error {
			numCalls++
			if numCalls < wantCalls {
				return fmt.Errorf("intentional error #%d", numCalls)
			}
			return nil
		}, &PollOptions{Interval: time.Second, Clock: clk})
	}()

	for i := 1; i < wantCalls; i++ {
		clk.WaitForWatcherAndIncrement(time.Second)
	}
	if err := <-done; err != nil {
		t.Error("Poll failed: ", err)
	}
	if numCalls != wantCalls {
		t.Errorf("Poll called func %d time(s); want %d", numCalls, wantCalls)
	}
}

func TestPollCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	numCalls := 0
	if err := Poll(ctx, func(ctx context.Context) error {
		numCalls++
		return nil
	}, nil); err == nil {
		t.Error("Poll succeeded for canceled context")
	}
	if numCalls != 0 {
		t.Errorf("Poll called func %d time(s) for canceled context", numCalls)
	}
}

func TestPollTimeoutKeepsLastError(t *testing.T) {
	const msg = "pid unchanged"
	err := Poll(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return errors.New(msg)
	}, &PollOptions{Timeout: time.Millisecond})
	if err == nil {
		t.Fatal("Poll succeeded unexpectedly")
	}
	if !strings.Contains(err.Error(), msg) {
		t.Errorf("Poll returned %q; want it to contain %q", err.Error(), msg)
	}
}

func TestPollBreak(t *testing.T) {
	want := errors.New("device offline")
	numCalls := 0
	err := Poll(context.Background(), func(ctx context.Context) error {
		numCalls++
		return PollBreak(want)
	}, nil)
	if err != want {
		t.Errorf("Poll returned %v; want %v", err, want)
	}
	if numCalls != 1 {
		t.Errorf("Poll called func %d times; want 1", numCalls)
	}
}

func TestSleepInterrupted(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- SleepWithClock(ctx, clk, time.Hour) }()
	clk.WaitForWatcherAndIncrement(time.Minute)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("SleepWithClock returned %v; want context.Canceled", err)
	}
}
