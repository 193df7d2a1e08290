// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package security

import (
	"context"
	"time"

	"go.chromium.org/sts/android/packages"
	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/testing"
)

const (
	signerLimitAPK = "CtsApkSignerLimit11Signers.apk"
	signerLimitPkg = "android.security.cts.signerlimit"
)

func init() {
	testing.AddTest(&testing.Test{
		Func:     ApkSignerLimit,
		Desc:     "Checks that an APK signed by more than ten signers is rejected",
		Contacts: []string{"android-security-sts@google.com"},
		Attr:     []string{"group:sts", "sts_cve:CVE-2021-0487"},
		Data:     []string{signerLimitAPK},
		Timeout:  2 * time.Minute,
	})
}

func ApkSignerLimit(ctx context.Context, s *testing.State) {
	d := s.DUT()
	apk := s.RequireData(signerLimitAPK)

	inst, err := packages.Install(ctx, d, apk, &packages.InstallOptions{Package: signerLimitPkg})
	if err == nil {
		inst.Close(ctx)
		s.Fatal("APK with 11 signers was installed")
	}
	var ie *packages.InstallError
	if !errors.As(err, &ie) {
		s.AssumeNoError(err, "Failed to run pm install")
	}
	const want = "INSTALL_PARSE_FAILED_NO_CERTIFICATES"
	if ie.Code != want {
		s.Fatalf("Install failed with %s; want %s", ie.Code, want)
	}
}
