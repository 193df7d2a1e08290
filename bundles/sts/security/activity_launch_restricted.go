// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package security

import (
	"context"
	"time"

	"go.chromium.org/sts/android/packages"
	"go.chromium.org/sts/ctxutil"
	"go.chromium.org/sts/testing"
)

const (
	launchAPK       = "CtsBackgroundLaunchApp.apk"
	launchPkg       = "android.security.cts.backgroundlaunch"
	launchTrigger   = launchPkg + "/.TriggerActivity"
	launchProtected = "com.android.settings/.password.ChooseLockGeneric"

	launchWait = 10 * time.Second
)

func init() {
	testing.AddTest(&testing.Test{
		Func:     ActivityLaunchRestricted,
		Desc:     "Checks that an app cannot bring up a protected activity through a trampoline",
		Contacts: []string{"android-security-sts@google.com"},
		Attr:     []string{"group:sts", "sts_cve:CVE-2022-20223"},
		Data:     []string{launchAPK},
		Timeout:  2 * time.Minute,
	})
}

func ActivityLaunchRestricted(ctx context.Context, s *testing.State) {
	d := s.DUT()
	apk := s.RequireData(launchAPK)

	cleanupCtx := ctx
	ctx, cancel := ctxutil.Shorten(ctx, 30*time.Second)
	defer cancel()

	app, err := packages.Install(ctx, d, apk, &packages.InstallOptions{Package: launchPkg})
	s.AssumeNoError(err, "Failed to install app")
	defer app.Close(cleanupCtx)
	defer d.ForceStop(cleanupCtx, "com.android.settings")

	s.AssumeNoError(d.StartActivity(ctx, launchTrigger, "--es", "target", launchProtected), "Failed to start trigger activity")
	if err := d.WaitForActivityResumed(ctx, launchProtected, launchWait); err == nil {
		s.Fatalf("%s was launched by %s; device is vulnerable", launchProtected, launchPkg)
	}
}
