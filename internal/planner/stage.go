// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package planner

import (
	"context"
	"time"

	"code.cloudfoundry.org/clock"

	"go.chromium.org/sts/testing"
)

// stage is part of the execution of a single test attempt, e.g. the pre-test
// hook, the test function or the post-test hook.
type stage struct {
	name    string
	f       stageFunc
	timeout time.Duration // for the context passed to f
}

// stageFunc encapsulates the work done by a stage.
type stageFunc func(ctx context.Context, s *testing.State)

// runStages runs stages in order with s. Each stage gets exitTimeout on top
// of its timeout to return. If a stage has not returned by then, or ctx is
// canceled, runStages gives up and returns an error; stages that finish
// always allow later stages to run.
func runStages(ctx context.Context, clk clock.Clock, s *testing.State, stages []stage) error {
	for _, st := range stages {
		st := st
		if err := safeCall(ctx, clk, st.name, st.timeout, exitTimeout, errorOnPanic(s), func(ctx context.Context) {
			st.f(testing.NewContext(ctx, s), s)
		}); err != nil {
			return err
		}
	}
	return nil
}
