// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"

	"go.chromium.org/sts/cmd/sts/internal/config"
	"go.chromium.org/sts/cmd/sts/internal/run"
	"go.chromium.org/sts/internal/reporting"
	"go.chromium.org/sts/testing"
)

// runWrapper is a wrapper that allows functions from the run package to be
// stubbed out for testing.
type runWrapper interface {
	// runTests calls run.RunTests.
	runTests(ctx context.Context, cfg *config.Config) ([]*reporting.Result, error)
	// listTests calls run.ListTests.
	listTests(ctx context.Context, cfg *config.Config) ([]*testing.TestInstance, error)
}

// realRunWrapper is a runWrapper implementation that calls the real functions
// in the run package.
type realRunWrapper struct{}

func (realRunWrapper) runTests(ctx context.Context, cfg *config.Config) ([]*reporting.Result, error) {
	return run.RunTests(ctx, cfg)
}

func (realRunWrapper) listTests(ctx context.Context, cfg *config.Config) ([]*testing.TestInstance, error) {
	return run.ListTests(ctx, cfg)
}
