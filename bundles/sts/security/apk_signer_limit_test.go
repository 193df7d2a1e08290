// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package security

import (
	"context"
	gotesting "testing"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/sts/android/adb/adbtest"
	"go.chromium.org/sts/testing"
	"go.chromium.org/sts/testing/testcheck"
	"go.chromium.org/sts/testutil"
)

// instance returns the registered test called name.
func instance(t *gotesting.T, name string) *testing.TestInstance {
	t.Helper()
	tests, err := testing.GlobalRegistry().SelectByPatterns([]string{name})
	if err != nil || len(tests) != 1 {
		t.Fatalf("Failed to find %s: %v", name, err)
	}
	return tests[0]
}

// dataDir creates a data directory holding the named files.
func dataDir(t *gotesting.T, names ...string) string {
	t.Helper()
	td := testutil.TempDir(t)
	files := make(map[string]string)
	for _, n := range names {
		files[n] = "data"
	}
	if err := testutil.WriteFiles(td, files); err != nil {
		t.Fatal(err)
	}
	return td
}

// fakePM returns a device whose pm install prints result.
func fakePM(result string, code int) *adbtest.Transport {
	ft := adbtest.New()
	ft.Respond(`settings get global verifier_verify_adb_installs`, "1\n", 0)
	ft.Respond(`settings put global verifier_verify_adb_installs [01]`, "", 0)
	ft.Respond(`pm install -r -t .*`, result, code)
	ft.Respond(`pm uninstall .*`, "Success\n", 0)
	return ft
}

func TestApkSignerLimit(t *gotesting.T) {
	ti := instance(t, "security.ApkSignerLimit")
	for _, tc := range []struct {
		name       string
		pmOut      string
		pmCode     int
		wantErrors []string
	}{
		{
			name:   "rejected",
			pmOut:  "Failure [INSTALL_PARSE_FAILED_NO_CERTIFICATES: Failed to collect certificates]\n",
			pmCode: 1,
		},
		{
			name:       "installed",
			pmOut:      "Success\n",
			wantErrors: []string{"APK with 11 signers was installed"},
		},
		{
			name:       "other failure",
			pmOut:      "Failure [INSTALL_FAILED_INSUFFICIENT_STORAGE]\n",
			pmCode:     1,
			wantErrors: []string{"Install failed with INSTALL_FAILED_INSUFFICIENT_STORAGE; want INSTALL_PARSE_FAILED_NO_CERTIFICATES"},
		},
	} {
		t.Run(tc.name, func(t *gotesting.T) {
			ft := fakePM(tc.pmOut, tc.pmCode)
			cfg := &testing.TestConfig{DataDir: dataDir(t, signerLimitAPK), DUT: ft.Device()}
			s, out := testcheck.RunWithState(context.Background(), ti, cfg, ApkSignerLimit)
			if reason := s.SkipReason(); reason != "" {
				t.Fatal("Test skipped: ", reason)
			}
			if diff := cmp.Diff(out.ErrorReasons(), tc.wantErrors); diff != "" {
				t.Errorf("Errors mismatch (-got +want):\n%s", diff)
			}
			if tc.name == "installed" && !ft.Ran(`pm uninstall .*`) {
				t.Error("Installed APK was not removed")
			}
		})
	}
}

func TestApkSignerLimitMissingAPK(t *gotesting.T) {
	ti := instance(t, "security.ApkSignerLimit")
	ft := fakePM("Success\n", 0)
	cfg := &testing.TestConfig{DataDir: testutil.TempDir(t), DUT: ft.Device()}
	s, out := testcheck.RunWithState(context.Background(), ti, cfg, ApkSignerLimit)
	if s.SkipReason() == "" {
		t.Error("Test was not skipped")
	}
	if len(out.Errors) > 0 {
		t.Error("Test reported errors: ", out.ErrorReasons())
	}
	if ft.Ran(`pm install .*`) {
		t.Error("pm install ran without an APK")
	}
}
