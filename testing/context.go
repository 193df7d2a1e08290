// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package testing

import (
	"context"

	"go.chromium.org/sts/internal/logging"
)

// ContextLog formats its arguments using default formatting and logs them via
// ctx. It is intended for packages providing support for tests; tests
// themselves should call State.Log.
func ContextLog(ctx context.Context, args ...interface{}) {
	logging.Info(ctx, args...)
}

// ContextLogf is similar to ContextLog but formats its arguments using fmt.Sprintf.
func ContextLogf(ctx context.Context, format string, args ...interface{}) {
	logging.Infof(ctx, format, args...)
}

// ContextVLog is like ContextLog but logs at the debug level.
func ContextVLog(ctx context.Context, args ...interface{}) {
	logging.Debug(ctx, args...)
}

// ContextVLogf is similar to ContextVLog but formats its arguments using fmt.Sprintf.
func ContextVLogf(ctx context.Context, format string, args ...interface{}) {
	logging.Debugf(ctx, format, args...)
}

// ContextOutDir returns the output directory of the test running on ctx.
func ContextOutDir(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(stateKey{}).(*State)
	if !ok || s.cfg.OutDir == "" {
		return "", false
	}
	return s.cfg.OutDir, true
}

// ContextTestName returns the name of the test running on ctx.
func ContextTestName(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(stateKey{}).(*State)
	if !ok {
		return "", false
	}
	return s.test.Name, true
}
