// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package users lists and manages Android users and profiles.
package users

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"go.chromium.org/sts/android/adb"
	"go.chromium.org/sts/errors"
)

// SystemUser is the id of the system user.
const SystemUser = 0

// ErrMultiUserUnsupported is returned when the device cannot have another user.
var ErrMultiUserUnsupported = errors.New("device does not support multiple users")

// Info describes a user as listed by pm list users.
type Info struct {
	ID      int
	Name    string
	Flags   int
	Running bool
}

var userInfoRE = regexp.MustCompile(`UserInfo\{(\d+):([^:]*):([0-9a-fA-F]+)\}(\s+running)?`)

func parseUsers(out string) []Info {
	var us []Info
	for _, m := range userInfoRE.FindAllStringSubmatch(out, -1) {
		id, _ := strconv.Atoi(m[1])
		flags, _ := strconv.ParseInt(m[3], 16, 64)
		us = append(us, Info{ID: id, Name: m[2], Flags: int(flags), Running: m[4] != ""})
	}
	return us
}

// List returns the users on the device.
func List(ctx context.Context, d *adb.Device) ([]Info, error) {
	out, err := d.ShellOutput(ctx, "pm", "list", "users")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	return parseUsers(out), nil
}

// Exists reports whether a user with id exists.
func Exists(ctx context.Context, d *adb.Device, id int) (bool, error) {
	us, err := List(ctx, d)
	if err != nil {
		return false, err
	}
	for _, u := range us {
		if u.ID == id {
			return true, nil
		}
	}
	return false, nil
}

// IsRunning reports whether user id is running.
func IsRunning(ctx context.Context, d *adb.Device, id int) (bool, error) {
	us, err := List(ctx, d)
	if err != nil {
		return false, err
	}
	for _, u := range us {
		if u.ID == id {
			return u.Running, nil
		}
	}
	return false, nil
}

// Current returns the id of the foreground user.
func Current(ctx context.Context, d *adb.Device) (int, error) {
	out, err := d.ShellOutput(ctx, "am", "get-current-user")
	if err != nil {
		return 0, err
	}
	id, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, errors.Wrapf(err, "bad current user %q", strings.TrimSpace(out))
	}
	return id, nil
}

var maxUsersRE = regexp.MustCompile(`(\d+)\s*$`)

// MaxUsers returns the maximum number of users the device supports.
func MaxUsers(ctx context.Context, d *adb.Device) (int, error) {
	out, err := d.ShellOutput(ctx, "pm", "get-max-users")
	if err != nil {
		return 0, err
	}
	// "Maximum supported users: 4"
	m := maxUsersRE.FindStringSubmatch(strings.TrimSpace(out))
	if m == nil {
		return 0, errors.Errorf("bad pm get-max-users output %q", strings.TrimSpace(out))
	}
	return strconv.Atoi(m[1])
}

// SupportsMultipleUsers reports whether another user can be created.
func SupportsMultipleUsers(ctx context.Context, d *adb.Device) (bool, error) {
	n, err := MaxUsers(ctx, d)
	if err != nil {
		return false, err
	}
	return n > 1, nil
}
