// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"

	"go.chromium.org/sts/cmd/sts/internal/config"
	"go.chromium.org/sts/internal/reporting"
	"go.chromium.org/sts/testing"
)

// stubRunWrapper is a stub implementation of runWrapper used for testing.
type stubRunWrapper struct {
	runCfg *config.Config // config passed to runTests or listTests

	runRes  []*reporting.Result     // results to return from runTests
	runErr  error                   // error to return from runTests
	listRes []*testing.TestInstance // tests to return from listTests
	listErr error                   // error to return from listTests
}

func (w *stubRunWrapper) runTests(ctx context.Context, cfg *config.Config) ([]*reporting.Result, error) {
	w.runCfg = cfg
	return w.runRes, w.runErr
}

func (w *stubRunWrapper) listTests(ctx context.Context, cfg *config.Config) ([]*testing.TestInstance, error) {
	w.runCfg = cfg
	return w.listRes, w.listErr
}
