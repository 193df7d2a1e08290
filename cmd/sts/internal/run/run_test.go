// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package run

import (
	"context"
	gotesting "testing"

	"go.chromium.org/sts/android/adb/adbtest"
)

func TestEnableRoot(t *gotesting.T) {
	for _, tc := range []struct {
		name string
		outs []string
		want bool
	}{
		{"already root", []string{"adbd is already running as root\n"}, true},
		{"restarted", []string{"restarting adbd as root\n", "adbd is already running as root\n"}, true},
		{"production build", []string{"adbd cannot run as root in production builds\n"}, false},
	} {
		t.Run(tc.name, func(t *gotesting.T) {
			tr := adbtest.New()
			tr.SetRootOutputs(tc.outs...)
			if got := enableRoot(context.Background(), tr.Device()); got != tc.want {
				t.Errorf("enableRoot() = %v; want %v", got, tc.want)
			}
		})
	}
}
