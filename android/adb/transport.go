// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package adb provides access to an Android device under test.
package adb

import (
	"bytes"
	"context"
	"io"
	"os"
	"strconv"

	"go.chromium.org/sts/errors"
)

// Transport carries adb operations to a single device.
type Transport interface {
	// Serial returns the adb serial number of the device.
	Serial() string
	// Shell runs cmd with the device shell and returns its combined output
	// and exit status. A non-nil error means the command could not be run.
	Shell(ctx context.Context, cmd string) (out []byte, exitCode int, err error)
	// Push writes the contents of r to the device at remote with mode.
	Push(ctx context.Context, r io.Reader, remote string, mode os.FileMode) error
	// Pull copies the device file remote to w.
	Pull(ctx context.Context, remote string, w io.Writer) error
	// State returns the adb connection state, e.g. "device" or "offline".
	State(ctx context.Context) (string, error)
	// Root asks adbd to restart as root and returns adb's message.
	Root(ctx context.Context) (string, error)
	// Close releases resources held by the transport.
	Close(ctx context.Context) error
}

// exitMarker separates command output from its exit status. Old adbd
// versions don't report shell exit codes, so it is echoed explicitly.
const exitMarker = "___STS_EXIT_CODE___"

// withExitMarker appends an exit status echo to cmd.
func withExitMarker(cmd string) string {
	return cmd + "; echo " + exitMarker + " $?"
}

// splitExitMarker strips the trailer added by withExitMarker.
func splitExitMarker(out []byte) ([]byte, int, error) {
	idx := bytes.LastIndex(out, []byte(exitMarker))
	if idx < 0 {
		return out, 0, errors.Errorf("exit status missing from shell output %q", truncate(string(out), 200))
	}
	code, err := strconv.Atoi(string(bytes.TrimSpace(out[idx+len(exitMarker):])))
	if err != nil {
		return out[:idx], 0, errors.Wrap(err, "bad exit status in shell output")
	}
	return out[:idx], code, nil
}

// doAsync runs f on a goroutine and returns its result, or ctx's error if
// ctx is done first. f keeps running in the background in the latter case.
func doAsync(ctx context.Context, f func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch := make(chan error, 1)
	go func() { ch <- f() }()
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
