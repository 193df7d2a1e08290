// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package users

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.chromium.org/sts/android/adb"
	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/testing"
)

const (
	defaultUserTimeout = time.Minute
	// switchSettle is waited after a user switch so the new user's UI comes up.
	switchSettle = 2 * time.Second
)

// SecondaryUser describes a user to create. The zero value creates a plain
// secondary user named "sts_user" that is neither started nor switched to.
type SecondaryUser struct {
	// Name of the user.
	Name string
	// Ephemeral users are removed when they stop.
	Ephemeral bool
	// Guest creates a guest user.
	Guest bool
	// ManagedProfile creates a managed profile of Parent instead of a
	// full user.
	ManagedProfile bool
	// Parent is the profile parent; used only with ManagedProfile.
	Parent int
	// Start starts the user and waits until it runs.
	Start bool
	// Switch makes the user the foreground user. It implies Start.
	Switch bool
	// Timeout bounds each wait. Defaults to one minute.
	Timeout time.Duration
}

// User is a user created by SecondaryUser.Create. Close removes it.
type User struct {
	d  *adb.Device
	ID int

	timeout  time.Duration
	prevUser int
	switched bool
	closed   bool
}

var createdRE = regexp.MustCompile(`Success: created user id (\d+)`)

func (o *SecondaryUser) args() []string {
	args := []string{"pm", "create-user"}
	if o.ManagedProfile {
		args = append(args, "--profileOf", strconv.Itoa(o.Parent), "--managed")
	}
	if o.Ephemeral {
		args = append(args, "--ephemeral")
	}
	if o.Guest {
		args = append(args, "--guest")
	}
	name := o.Name
	if name == "" {
		name = "sts_user"
	}
	return append(args, name)
}

// Create creates the user. ErrMultiUserUnsupported is returned if the device
// cannot have more users, so callers can skip the test.
func (o SecondaryUser) Create(ctx context.Context, d *adb.Device) (*User, error) {
	if o.Timeout <= 0 {
		o.Timeout = defaultUserTimeout
	}
	if ok, err := SupportsMultipleUsers(ctx, d); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrMultiUserUnsupported
	}
	if o.ManagedProfile {
		if ok, err := d.HasFeature(ctx, "android.software.managed_users"); err != nil {
			return nil, err
		} else if !ok {
			return nil, errors.Wrap(ErrMultiUserUnsupported, "managed users not supported")
		}
	}

	res, err := d.Shell(ctx, o.args()...)
	if err != nil {
		return nil, err
	}
	m := createdRE.FindStringSubmatch(res.Stdout)
	if m == nil {
		return nil, errors.Errorf("failed to create user: %s", strings.TrimSpace(res.Stdout))
	}
	id, _ := strconv.Atoi(m[1])
	testing.ContextLogf(ctx, "Created user %d", id)
	u := &User{d: d, ID: id, timeout: o.Timeout}

	if o.Start || o.Switch {
		if err := u.Start(ctx); err != nil {
			u.Close(ctx)
			return nil, err
		}
	}
	if o.Switch {
		if err := u.SwitchTo(ctx); err != nil {
			u.Close(ctx)
			return nil, err
		}
	}
	return u, nil
}

// String returns the user id as pm and am expect it.
func (u *User) String() string { return strconv.Itoa(u.ID) }

// Start starts the user and waits until it is running.
func (u *User) Start(ctx context.Context) error {
	res, err := u.d.Shell(ctx, "am", "start-user", "-w", u.String())
	if err != nil {
		return err
	}
	if !strings.HasPrefix(strings.TrimSpace(res.Stdout), "Success") {
		return errors.Errorf("failed to start user %d: %s", u.ID, strings.TrimSpace(res.Stdout))
	}
	return testing.Poll(ctx, func(ctx context.Context) error {
		running, err := IsRunning(ctx, u.d, u.ID)
		if err != nil {
			return err
		}
		if !running {
			return errors.Errorf("user %d not running", u.ID)
		}
		return nil
	}, &testing.PollOptions{Timeout: u.timeout, Interval: time.Second})
}

// SwitchTo makes u the foreground user. Close switches back.
func (u *User) SwitchTo(ctx context.Context) error {
	prev, err := Current(ctx, u.d)
	if err != nil {
		return err
	}
	if err := switchUser(ctx, u.d, u.ID, u.timeout); err != nil {
		return err
	}
	if !u.switched {
		u.prevUser = prev
		u.switched = true
	}
	return nil
}

func switchUser(ctx context.Context, d *adb.Device, id int, timeout time.Duration) error {
	if _, err := d.ShellOutput(ctx, "am", "switch-user", strconv.Itoa(id)); err != nil {
		return err
	}
	if err := testing.Poll(ctx, func(ctx context.Context) error {
		cur, err := Current(ctx, d)
		if err != nil {
			return err
		}
		if cur != id {
			return errors.Errorf("current user is %d", cur)
		}
		return nil
	}, &testing.PollOptions{Timeout: timeout, Interval: time.Second}); err != nil {
		return errors.Wrapf(err, "failed to switch to user %d", id)
	}
	return testing.Sleep(ctx, switchSettle)
}

// Close switches back to the previous user if SwitchTo was called, then
// stops and removes u. All steps are attempted; failures are logged and the
// first one is returned.
func (u *User) Close(ctx context.Context) error {
	if u == nil || u.closed {
		return nil
	}
	u.closed = true

	var firstErr error
	note := func(what string, err error) {
		if err == nil {
			return
		}
		testing.ContextLogf(ctx, "Failed to %s user %d: %v", what, u.ID, err)
		if firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to %s user %d", what, u.ID)
		}
	}

	if u.switched {
		note("switch away from", switchUser(ctx, u.d, u.prevUser, u.timeout))
	}
	_, err := u.d.ShellOutput(ctx, "am", "stop-user", "-f", u.String())
	note("stop", err)

	// Ephemeral users may already be gone once stopped.
	if ok, err := Exists(ctx, u.d, u.ID); err != nil {
		note("look up", err)
	} else if ok {
		res, err := u.d.Shell(ctx, "pm", "remove-user", "-w", u.String())
		if err == nil && !strings.HasPrefix(strings.TrimSpace(res.Stdout), "Success") {
			err = errors.New(strings.TrimSpace(res.Stdout))
		}
		note("remove", err)
	}
	if firstErr == nil {
		testing.ContextLogf(ctx, "Removed user %d", u.ID)
	}
	return firstErr
}
