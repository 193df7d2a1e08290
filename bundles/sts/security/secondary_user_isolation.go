// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package security

import (
	"context"
	"strconv"
	"time"

	"go.chromium.org/sts/android/instrumentation"
	"go.chromium.org/sts/android/packages"
	"go.chromium.org/sts/android/users"
	"go.chromium.org/sts/ctxutil"
	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/testing"
)

const (
	isolationHelperAPK = "CtsUserIsolationHelperApp.apk"
	isolationHelperPkg = "android.security.cts.userisolation.helper"
	isolationTestAPK   = "CtsUserIsolationTestApp.apk"
	isolationTestPkg   = "android.security.cts.userisolation"
)

func init() {
	testing.AddTest(&testing.Test{
		Func:         SecondaryUserIsolation,
		Desc:         "Checks that an app in a secondary user cannot reach data of the primary user",
		Contacts:     []string{"android-security-sts@google.com"},
		Attr:         []string{"group:sts", "sts_cve:CVE-2021-0691"},
		Data:         []string{isolationHelperAPK, isolationTestAPK},
		SoftwareDeps: []string{"android.software.managed_users"},
		Timeout:      5 * time.Minute,
	})
}

func SecondaryUserIsolation(ctx context.Context, s *testing.State) {
	d := s.DUT()
	helperAPK := s.RequireData(isolationHelperAPK)
	testAPK := s.RequireData(isolationTestAPK)

	cleanupCtx := ctx
	ctx, cancel := ctxutil.Shorten(ctx, time.Minute)
	defer cancel()

	primary, err := users.Current(ctx, d)
	s.AssumeNoError(err, "Failed to get the current user")

	u, err := users.SecondaryUser{Name: "sts_isolation", Start: true}.Create(ctx, d)
	if errors.Is(err, users.ErrMultiUserUnsupported) {
		s.Skip("Device does not support secondary users")
	}
	s.AssumeNoError(err, "Failed to create secondary user")
	defer u.Close(cleanupCtx)

	// The helper holds private data of the primary user.
	helper, err := packages.Install(ctx, d, helperAPK, &packages.InstallOptions{Package: isolationHelperPkg, User: strconv.Itoa(primary)})
	s.AssumeNoError(err, "Failed to install helper app")
	defer helper.Close(cleanupCtx)

	app, err := packages.Install(ctx, d, testAPK, &packages.InstallOptions{Package: isolationTestPkg, User: u.String(), GrantPermissions: true})
	s.AssumeNoError(err, "Failed to install test app for secondary user")
	defer app.Close(cleanupCtx)

	instrumentation.AssertDeviceTests(ctx, s, d, &instrumentation.Options{
		Package: isolationTestPkg,
		Class:   ".UserIsolationTest",
		Method:  "testCannotReadPrimaryUserData",
		User:    u.String(),
		Args:    map[string]string{"target_user": strconv.Itoa(primary), "target_package": isolationHelperPkg},
		Timeout: 2 * time.Minute,
	})
}
