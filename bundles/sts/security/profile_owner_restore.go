// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package security

import (
	"context"
	"strconv"
	"time"

	"go.chromium.org/sts/android/devicepolicy"
	"go.chromium.org/sts/android/instrumentation"
	"go.chromium.org/sts/android/packages"
	"go.chromium.org/sts/android/settings"
	"go.chromium.org/sts/android/users"
	"go.chromium.org/sts/ctxutil"
	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/testing"
)

const (
	profileOwnerAPK       = "CtsProfileOwnerRestoreApp.apk"
	profileOwnerPkg       = "android.security.cts.profileowner"
	profileOwnerComponent = profileOwnerPkg + "/.AdminReceiver"

	// Backup of the profile is what the device test tries to abuse.
	backupSetting = "backup_enabled"
)

func init() {
	testing.AddTest(&testing.Test{
		Func:         ProfileOwnerRestore,
		Desc:         "Checks that a profile owner cannot restore data into the parent user",
		Contacts:     []string{"android-security-sts@google.com"},
		Attr:         []string{"group:sts", "sts_cve:CVE-2021-39707"},
		Data:         []string{profileOwnerAPK},
		SoftwareDeps: []string{"android.software.managed_users", "android.software.device_admin"},
		Timeout:      10 * time.Minute,
	})
}

func ProfileOwnerRestore(ctx context.Context, s *testing.State) {
	d := s.DUT()
	apk := s.RequireData(profileOwnerAPK)

	cleanupCtx := ctx
	ctx, cancel := ctxutil.Shorten(ctx, 2*time.Minute)
	defer cancel()

	parent, err := users.Current(ctx, d)
	s.AssumeNoError(err, "Failed to get the current user")

	profile, err := users.SecondaryUser{Name: "sts_work", ManagedProfile: true, Parent: parent, Start: true}.Create(ctx, d)
	if errors.Is(err, users.ErrMultiUserUnsupported) {
		s.Skip("Device does not support managed profiles")
	}
	s.AssumeNoError(err, "Failed to create managed profile")
	defer profile.Close(cleanupCtx)

	app, err := packages.Install(ctx, d, apk, &packages.InstallOptions{Package: profileOwnerPkg, User: profile.String()})
	s.AssumeNoError(err, "Failed to install profile owner app")
	defer app.Close(cleanupCtx)

	admin, err := devicepolicy.SetProfileOwner(ctx, d, profileOwnerComponent, profile.ID)
	s.AssumeNoError(err, "Failed to set profile owner")
	defer admin.Close(cleanupCtx)

	restore, err := settings.Scoped(ctx, d, settings.Secure, backupSetting, "1")
	s.AssumeNoError(err, "Failed to enable backup")
	defer restore.Close(cleanupCtx)

	instrumentation.AssertDeviceTests(ctx, s, d, &instrumentation.Options{
		Package: profileOwnerPkg,
		Class:   ".RestoreTest",
		Method:  "testRestoreIntoParentIsRejected",
		User:    profile.String(),
		Args:    map[string]string{"parent_user": strconv.Itoa(parent)},
		Timeout: 3 * time.Minute,
	})

	// Teardown must leave the profile without an owner.
	if err := admin.Close(ctx); err != nil {
		s.Fatal("Failed to remove profile owner: ", err)
	}
	owner, err := devicepolicy.ProfileOwner(ctx, d, profile.ID)
	if err != nil {
		s.Fatal("Failed to read profile owner: ", err)
	}
	if owner != nil {
		s.Errorf("Profile owner %v still set after removal", owner.Component)
	}
	if err := restore.Close(ctx); err != nil {
		s.Fatal("Failed to restore setting: ", err)
	}
}
