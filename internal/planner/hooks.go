// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package planner

import (
	"context"
	"path/filepath"

	"go.chromium.org/sts/android/adb"
	"go.chromium.org/sts/android/tombstone"
	"go.chromium.org/sts/testing"
)

const logcatFilename = "logcat.txt"

// DeviceHooks returns a Config.PreTestFunc that collects device diagnostics
// for each test attempt: it clears logcat and records existing tombstones
// before the test, and afterwards saves logcat to the test's output
// directory and logs crashes that happened during the test. Diagnostics
// never fail a test.
func DeviceHooks(d *adb.Device) func(ctx context.Context, s *testing.State) func(ctx context.Context, s *testing.State) {
	return func(ctx context.Context, s *testing.State) func(ctx context.Context, s *testing.State) {
		if err := d.ClearLogcat(ctx); err != nil {
			s.Log("Failed to clear logcat: ", err)
		}
		snap, err := tombstone.TakeSnapshot(ctx, d)
		if err != nil {
			s.Log("Crashes will not be collected: ", err)
		}

		return func(ctx context.Context, s *testing.State) {
			if s.OutDir() != "" {
				if err := d.DumpLogcatToFile(ctx, filepath.Join(s.OutDir(), logcatFilename)); err != nil {
					s.Log("Failed to save logcat: ", err)
				}
			}
			if snap == nil {
				return
			}
			ts, err := tombstone.Scan(ctx, d, snap)
			if err != nil {
				s.Log("Failed to collect crashes: ", err)
				return
			}
			for _, t := range ts {
				s.Logf("Crash during test: %s (%s)", t.ProcessName(), t.Path)
			}
		}
	}
}
