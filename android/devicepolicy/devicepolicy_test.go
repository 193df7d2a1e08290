// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package devicepolicy

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/sts/android/adb/adbtest"
)

const dumpWithOwners = `Current Device Policy Manager state:
  Immutable state:
    mHasFeature=true

  Device Owner: 
    admin=ComponentInfo{com.example.dpc/com.example.dpc.DeviceAdminReceiver}
    name=
    package=com.example.dpc
    isOrganizationOwnedDevice=true
    User ID: 0

  Profile Owner (User 10): 
    admin=ComponentInfo{com.example.dpc/com.example.dpc.DeviceAdminReceiver}
    name=
    package=com.example.dpc
    isOrganizationOwned=false

  Enabled Device Admins (User 0, provisioningState: 3):
`

func TestParseOwners(t *testing.T) {
	dev, profs := parseOwners(dumpWithOwners)
	wantDev := &Owner{User: 0, Component: "com.example.dpc/.DeviceAdminReceiver", OrganizationOwned: true}
	if diff := cmp.Diff(dev, wantDev); diff != "" {
		t.Errorf("Device owner mismatch (-got +want):\n%s", diff)
	}
	wantProfs := map[int]*Owner{10: {User: 10, Component: "com.example.dpc/.DeviceAdminReceiver"}}
	if diff := cmp.Diff(profs, wantProfs); diff != "" {
		t.Errorf("Profile owners mismatch (-got +want):\n%s", diff)
	}

	dev, profs = parseOwners("Current Device Policy Manager state:\n  Immutable state:\n")
	if dev != nil || len(profs) != 0 {
		t.Errorf("parseOwners found owners in empty dump: %v %v", dev, profs)
	}
}

func TestSetProfileOwnerRetries(t *testing.T) {
	old := retryInterval
	retryInterval = 10 * time.Millisecond
	defer func() { retryInterval = old }()

	ft := adbtest.New()
	var mu sync.Mutex
	attempts := 0
	set := false
	ft.Handle(`dpm set-profile-owner --user 10 com.example.dpc/.DeviceAdminReceiver`, func(string, []string) (string, int) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return "Error: java.lang.IllegalStateException: Trying to set the profile owner, but profile owner is already set.\n", 255
		}
		set = true
		return "Success: Active admin and profile owner set to com.example.dpc/.DeviceAdminReceiver for user 10\n", 0
	})
	ft.Handle(`dumpsys device_policy`, func(string, []string) (string, int) {
		mu.Lock()
		defer mu.Unlock()
		if set {
			return dumpWithOwners, 0
		}
		return "Current Device Policy Manager state:\n", 0
	})
	ft.Respond(`dpm remove-active-admin --user 10 com.example.dpc/.DeviceAdminReceiver`, "Success: Admin removed com.example.dpc/.DeviceAdminReceiver\n", 0)
	ctx := context.Background()

	admin, err := SetProfileOwner(ctx, ft.Device(), "com.example.dpc/.DeviceAdminReceiver", 10)
	if err != nil {
		t.Fatal("SetProfileOwner failed: ", err)
	}
	if attempts != 3 {
		t.Errorf("dpm ran %d times; want 3", attempts)
	}
	if err := admin.Close(ctx); err != nil {
		t.Error("Close failed: ", err)
	}
}

func TestSetProfileOwnerTerminalError(t *testing.T) {
	ft := adbtest.New()
	ft.Respond(`dpm set-profile-owner .*`, "Error: Unknown admin: ComponentInfo{com.example.dpc/com.example.dpc.Missing}\n", 255)
	_, err := SetProfileOwner(context.Background(), ft.Device(), "com.example.dpc/.Missing", 10)
	if err == nil {
		t.Fatal("SetProfileOwner succeeded unexpectedly")
	}
	if !strings.Contains(err.Error(), "Unknown admin") {
		t.Errorf("Error %q lacks dpm output", err)
	}
	n := 0
	for _, c := range ft.Commands() {
		if strings.HasPrefix(c, "dpm set-profile-owner") {
			n++
		}
	}
	if n != 1 {
		t.Errorf("dpm ran %d times; want 1", n)
	}
}

func TestSetProfileOwnerNotReported(t *testing.T) {
	oldInterval, oldTimeout := retryInterval, ownerPollTimeout
	retryInterval, ownerPollTimeout = 10*time.Millisecond, 50*time.Millisecond
	defer func() { retryInterval, ownerPollTimeout = oldInterval, oldTimeout }()

	ft := adbtest.New()
	ft.Respond(`dpm set-profile-owner --user 10 com.example.dpc/.DeviceAdminReceiver`, "Success: Active admin and profile owner set\n", 0)
	ft.Respond(`dumpsys device_policy`, "Current Device Policy Manager state:\n", 0)
	ft.Respond(`dpm remove-active-admin --user 10 com.example.dpc/.DeviceAdminReceiver`, "Success: Admin removed\n", 0)

	admin, err := SetProfileOwner(context.Background(), ft.Device(), "com.example.dpc/.DeviceAdminReceiver", 10)
	if err == nil {
		t.Fatal("SetProfileOwner succeeded unexpectedly")
	}
	if admin != nil {
		t.Errorf("SetProfileOwner returned admin %+v on error", admin)
	}
	if !ft.Ran(`dpm remove-active-admin --user 10 com\.example\.dpc/\.DeviceAdminReceiver`) {
		t.Error("Admin was not removed after the owner failed to appear")
	}
}
