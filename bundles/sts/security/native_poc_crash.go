// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package security

import (
	"context"
	"time"

	"go.chromium.org/sts/android/nativepoc"
	"go.chromium.org/sts/android/tombstone"
	"go.chromium.org/sts/testing"
)

// pocData returns the data files of both variants of the PoC binary name.
func pocData(name string) []string {
	return []string{name + "_sts32", name + "_sts64"}
}

func init() {
	testing.AddTest(&testing.Test{
		Func:     NativePocCrash,
		Desc:     "Runs native PoCs and checks that none of them shows the device vulnerable",
		Contacts: []string{"android-security-sts@google.com"},
		Attr:     []string{"group:sts"},
		Params: []testing.Param{{
			Name:      "cve_2021_0330",
			ExtraAttr: []string{"sts_cve:CVE-2021-0330"},
			ExtraData: pocData("CVE-2021-0330"),
			Val:       nativepoc.Poc{Name: "CVE-2021-0330"},
			Timeout:   6 * time.Minute,
		}, {
			Name:      "cve_2021_0478",
			ExtraAttr: []string{"sts_cve:CVE-2021-0478"},
			ExtraData: pocData("CVE-2021-0478"),
			Val: nativepoc.Poc{
				Name:                 "CVE-2021-0478",
				AssumePocExitSuccess: true,
				// The PoC provokes crashes in the media server.
				CrashConfig: tombstone.DefaultConfig("^/system/bin/mediaserver$", "^media\\.extractor$").
					WithBacktraceInclude("libstagefright", ""),
			},
			Timeout: 6 * time.Minute,
		}, {
			Name:      "cve_2023_21118",
			ExtraAttr: []string{"sts_cve:CVE-2023-21118"},
			ExtraData: append(pocData("CVE-2023-21118"), "CVE-2023-21118_sensor.bin"),
			Val: nativepoc.Poc{
				Name:      "CVE-2023-21118",
				Args:      []string{"CVE-2023-21118_sensor.bin"},
				Resources: []string{"CVE-2023-21118_sensor.bin"},
				Timeout:   time.Minute,
			},
			Timeout: 2 * time.Minute,
		}},
	})
}

func NativePocCrash(ctx context.Context, s *testing.State) {
	poc := s.Param().(nativepoc.Poc)
	res := nativepoc.AssertNotVulnerable(ctx, s, s.DUT(), poc)
	s.Logf("%s exited with %d", poc.Name, res.ExitCode)
}
