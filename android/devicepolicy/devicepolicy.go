// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package devicepolicy sets and queries device and profile owners.
package devicepolicy

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.chromium.org/sts/android/adb"
	"go.chromium.org/sts/ctxutil"
	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/testing"
)

const (
	// setOwnerTimeout bounds retries while a previous owner is cleaned up.
	setOwnerTimeout = 5 * time.Minute
	// cleanupTime is reserved for removing an admin after a failed set.
	cleanupTime = 10 * time.Second
)

var (
	// retryInterval is the pause between set-profile-owner attempts.
	retryInterval = time.Second
	// ownerPollTimeout bounds waiting for a new profile owner to show up.
	ownerPollTimeout = time.Minute
)

// Owner is a device or profile owner reported by dumpsys device_policy.
type Owner struct {
	// User is the user the admin is owner of.
	User int
	// Component is the admin receiver, e.g. "com.example/.AdminReceiver".
	Component string
	// OrganizationOwned is set for organization-owned profiles and devices.
	OrganizationOwned bool
}

var (
	deviceOwnerHeaderRE  = regexp.MustCompile(`^\s*Device Owner:`)
	profileOwnerHeaderRE = regexp.MustCompile(`^\s*Profile Owner \(User (\d+)\):`)
	adminRE              = regexp.MustCompile(`^\s*admin=ComponentInfo\{([^}]+)\}`)
	userIDRE             = regexp.MustCompile(`^\s*User ID:\s*(\d+)`)
	orgOwnedRE           = regexp.MustCompile(`^\s*isOrganizationOwned(?:Device)?=true`)
)

// parseOwners reads owners from dumpsys device_policy output.
func parseOwners(out string) (device *Owner, profiles map[int]*Owner) {
	profiles = make(map[int]*Owner)
	var cur *Owner
	for _, line := range strings.Split(out, "\n") {
		switch {
		case deviceOwnerHeaderRE.MatchString(line):
			device = &Owner{}
			cur = device
		case profileOwnerHeaderRE.MatchString(line):
			id, _ := strconv.Atoi(profileOwnerHeaderRE.FindStringSubmatch(line)[1])
			cur = &Owner{User: id}
			profiles[id] = cur
		case cur == nil:
		case strings.TrimSpace(line) == "":
			cur = nil
		case adminRE.MatchString(line):
			cur.Component = shortComponent(adminRE.FindStringSubmatch(line)[1])
		case userIDRE.MatchString(line):
			cur.User, _ = strconv.Atoi(userIDRE.FindStringSubmatch(line)[1])
		case orgOwnedRE.MatchString(line):
			cur.OrganizationOwned = true
		}
	}
	if device != nil && device.Component == "" {
		device = nil
	}
	for id, p := range profiles {
		if p.Component == "" {
			delete(profiles, id)
		}
	}
	return device, profiles
}

// shortComponent converts "pkg/pkg.Cls" to "pkg/.Cls".
func shortComponent(c string) string {
	pkg, cls, ok := strings.Cut(c, "/")
	if ok && strings.HasPrefix(cls, pkg+".") {
		return pkg + "/" + strings.TrimPrefix(cls, pkg)
	}
	return c
}

func owners(ctx context.Context, d *adb.Device) (*Owner, map[int]*Owner, error) {
	out, err := d.ShellOutput(ctx, "dumpsys", "device_policy")
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to dump device policy")
	}
	dev, profs := parseOwners(out)
	return dev, profs, nil
}

// ProfileOwner returns the profile owner of user, or nil if it has none.
func ProfileOwner(ctx context.Context, d *adb.Device, user int) (*Owner, error) {
	_, profs, err := owners(ctx, d)
	if err != nil {
		return nil, err
	}
	return profs[user], nil
}

// DeviceOwner returns the device owner, or nil if there is none.
func DeviceOwner(ctx context.Context, d *adb.Device) (*Owner, error) {
	dev, _, err := owners(ctx, d)
	return dev, err
}

// Admin is an active admin set by this package. Close removes it.
type Admin struct {
	d         *adb.Device
	Component string
	User      int
	closed    bool
}

// isTransient reports whether a dpm failure may go away once a previous
// owner has been cleaned up.
func isTransient(out string) bool {
	return strings.Contains(out, "is already set") || strings.Contains(out, "is being removed")
}

// SetProfileOwner makes component the profile owner of user. The command is
// retried for up to five minutes while a previous owner is being removed.
func SetProfileOwner(ctx context.Context, d *adb.Device, component string, user int) (*Admin, error) {
	cleanupCtx := ctx
	ctx, cancel := ctxutil.Shorten(ctx, cleanupTime)
	defer cancel()

	if err := setOwner(ctx, d, "set-profile-owner", component, user); err != nil {
		return nil, err
	}
	if err := testing.Poll(ctx, func(ctx context.Context) error {
		po, err := ProfileOwner(ctx, d, user)
		if err != nil {
			return err
		}
		if po == nil {
			return errors.Errorf("user %d has no profile owner yet", user)
		}
		return nil
	}, &testing.PollOptions{Timeout: ownerPollTimeout, Interval: retryInterval}); err != nil {
		if rerr := RemoveActiveAdmin(cleanupCtx, d, component, user); rerr != nil {
			testing.ContextLogf(cleanupCtx, "Failed to remove %s after failed set: %v", component, rerr)
		}
		return nil, errors.Wrapf(err, "profile owner of user %d did not appear", user)
	}
	return &Admin{d: d, Component: component, User: user}, nil
}

// SetDeviceOwner makes component the device owner, running as user.
func SetDeviceOwner(ctx context.Context, d *adb.Device, component string, user int) (*Admin, error) {
	if err := setOwner(ctx, d, "set-device-owner", component, user); err != nil {
		return nil, err
	}
	return &Admin{d: d, Component: component, User: user}, nil
}

func setOwner(ctx context.Context, d *adb.Device, verb, component string, user int) error {
	var last string
	err := testing.Poll(ctx, func(ctx context.Context) error {
		res, err := d.Shell(ctx, "dpm", verb, "--user", strconv.Itoa(user), component)
		if err != nil {
			return testing.PollBreak(err)
		}
		last = strings.TrimSpace(res.Stdout)
		if strings.HasPrefix(last, "Success") {
			return nil
		}
		err = errors.Errorf("dpm %s: %s", verb, last)
		if !isTransient(last) {
			return testing.PollBreak(err)
		}
		testing.ContextLogf(ctx, "Retrying dpm %s: %s", verb, last)
		return err
	}, &testing.PollOptions{Timeout: setOwnerTimeout, Interval: retryInterval})
	if err != nil {
		return errors.Wrapf(err, "could not %s for user %d component %s", strings.TrimPrefix(verb, "set-"), user, component)
	}
	testing.ContextLogf(ctx, "Set %s of user %d to %s", strings.TrimPrefix(verb, "set-"), user, component)
	return nil
}

// RemoveActiveAdmin removes component as an active admin of user. Only
// test-only admins can be removed this way.
func RemoveActiveAdmin(ctx context.Context, d *adb.Device, component string, user int) error {
	res, err := d.Shell(ctx, "dpm", "remove-active-admin", "--user", strconv.Itoa(user), component)
	if err != nil {
		return err
	}
	if out := strings.TrimSpace(res.Stdout); !strings.HasPrefix(out, "Success") {
		return errors.Errorf("failed to remove active admin %s: %s", component, out)
	}
	return nil
}

// Close removes the admin. Errors are logged and returned.
func (a *Admin) Close(ctx context.Context) error {
	if a == nil || a.closed {
		return nil
	}
	a.closed = true
	err := RemoveActiveAdmin(ctx, a.d, a.Component, a.User)
	if err != nil {
		testing.ContextLogf(ctx, "Failed to remove admin %s: %v", a.Component, err)
	}
	return err
}
