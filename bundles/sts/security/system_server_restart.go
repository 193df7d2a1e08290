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
	systemServerAPK       = "CtsMalformedParcelApp.apk"
	systemServerPkg       = "android.security.cts.malformedparcel"
	systemServerComponent = systemServerPkg + "/.SendParcelActivity"

	// systemServerRestartWait is how long system_server is watched after the
	// trigger. A crash restarts it within a few seconds.
	systemServerRestartWait = 20 * time.Second
)

func init() {
	testing.AddTest(&testing.Test{
		Func:     SystemServerRestart,
		Desc:     "Checks that a malformed parcel from an app does not crash system_server",
		Contacts: []string{"android-security-sts@google.com"},
		Attr:     []string{"group:sts", "sts_cve:CVE-2021-0928"},
		Data:     []string{systemServerAPK},
		Timeout:  3 * time.Minute,
	})
}

func SystemServerRestart(ctx context.Context, s *testing.State) {
	d := s.DUT()
	apk := s.RequireData(systemServerAPK)

	cleanupCtx := ctx
	ctx, cancel := ctxutil.Shorten(ctx, 30*time.Second)
	defer cancel()

	app, err := packages.Install(ctx, d, apk, &packages.InstallOptions{Package: systemServerPkg})
	s.AssumeNoError(err, "Failed to install app")
	defer app.Close(cleanupCtx)

	pid, err := d.PidOf(ctx, "system_server")
	s.AssumeNoError(err, "Failed to find system_server")
	s.Log("system_server pid is ", pid)

	s.AssumeNoError(d.StartActivity(ctx, systemServerComponent), "Failed to start activity")

	if newPid, err := d.WaitForPidChange(ctx, "system_server", pid, systemServerRestartWait); err == nil {
		s.Fatalf("system_server restarted (pid %d -> %d); device is vulnerable", pid, newPid)
	}
}
