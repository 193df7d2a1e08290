// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package settings reads and changes Android settings and DeviceConfig flags.
package settings

import (
	"context"
	"strings"

	"go.chromium.org/sts/android/adb"
	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/testing"
)

// Namespace is a settings table.
type Namespace string

// Settings tables.
const (
	System Namespace = "system"
	Secure Namespace = "secure"
	Global Namespace = "global"
)

func (ns Namespace) validate() error {
	switch ns {
	case System, Secure, Global:
		return nil
	}
	return errors.Errorf("unknown settings namespace %q", string(ns))
}

// unset is what the settings and device_config commands print for a missing key.
const unset = "null"

// store is a key-value table on the device reached through one command.
type store struct {
	cmd string // "settings" or "device_config"
	ns  string
}

func (s store) String() string { return s.cmd + ":" + s.ns }

func (s store) get(ctx context.Context, d *adb.Device, key string) (string, bool, error) {
	out, err := d.ShellOutput(ctx, s.cmd, "get", s.ns, key)
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to get %s/%s", s, key)
	}
	v := strings.TrimRight(out, "\r\n")
	if v == unset {
		return "", false, nil
	}
	return v, true, nil
}

func (s store) put(ctx context.Context, d *adb.Device, key, value string) error {
	if _, err := d.ShellOutput(ctx, s.cmd, "put", s.ns, key, value); err != nil {
		return errors.Wrapf(err, "failed to put %s/%s", s, key)
	}
	return nil
}

func (s store) delete(ctx context.Context, d *adb.Device, key string) error {
	if _, err := d.ShellOutput(ctx, s.cmd, "delete", s.ns, key); err != nil {
		return errors.Wrapf(err, "failed to delete %s/%s", s, key)
	}
	return nil
}

// Get returns the value of key in ns. ok is false if the key is unset.
func Get(ctx context.Context, d *adb.Device, ns Namespace, key string) (value string, ok bool, err error) {
	if err := ns.validate(); err != nil {
		return "", false, err
	}
	return store{"settings", string(ns)}.get(ctx, d, key)
}

// Put sets key in ns to value.
func Put(ctx context.Context, d *adb.Device, ns Namespace, key, value string) error {
	if err := ns.validate(); err != nil {
		return err
	}
	return store{"settings", string(ns)}.put(ctx, d, key, value)
}

// Delete removes key from ns.
func Delete(ctx context.Context, d *adb.Device, ns Namespace, key string) error {
	if err := ns.validate(); err != nil {
		return err
	}
	return store{"settings", string(ns)}.delete(ctx, d, key)
}

// GetDeviceConfig returns the DeviceConfig flag ns/key. ok is false if unset.
func GetDeviceConfig(ctx context.Context, d *adb.Device, ns, key string) (value string, ok bool, err error) {
	return store{"device_config", ns}.get(ctx, d, key)
}

// PutDeviceConfig sets the DeviceConfig flag ns/key.
func PutDeviceConfig(ctx context.Context, d *adb.Device, ns, key, value string) error {
	return store{"device_config", ns}.put(ctx, d, key, value)
}

// DeleteDeviceConfig removes the DeviceConfig flag ns/key.
func DeleteDeviceConfig(ctx context.Context, d *adb.Device, ns, key string) error {
	return store{"device_config", ns}.delete(ctx, d, key)
}

// Restore puts a value changed by Scoped or ScopedDeviceConfig back.
type Restore struct {
	d     *adb.Device
	s     store
	key   string
	old   string
	wasOK bool
	done  bool
}

// Scoped sets key in ns to value and returns a Restore that reverts it.
// Callers should defer Restore.Close.
func Scoped(ctx context.Context, d *adb.Device, ns Namespace, key, value string) (*Restore, error) {
	if err := ns.validate(); err != nil {
		return nil, err
	}
	return scoped(ctx, d, store{"settings", string(ns)}, key, value)
}

// ScopedDeviceConfig is Scoped for a DeviceConfig flag.
func ScopedDeviceConfig(ctx context.Context, d *adb.Device, ns, key, value string) (*Restore, error) {
	return scoped(ctx, d, store{"device_config", ns}, key, value)
}

func scoped(ctx context.Context, d *adb.Device, s store, key, value string) (*Restore, error) {
	old, ok, err := s.get(ctx, d, key)
	if err != nil {
		return nil, err
	}
	if err := s.put(ctx, d, key, value); err != nil {
		return nil, err
	}
	testing.ContextLogf(ctx, "Set %s/%s to %q", s, key, value)
	return &Restore{d: d, s: s, key: key, old: old, wasOK: ok}, nil
}

// Close restores the previous value, or deletes the key if it was unset.
// It is safe to call more than once.
func (r *Restore) Close(ctx context.Context) error {
	if r == nil || r.done {
		return nil
	}
	r.done = true
	var err error
	if r.wasOK {
		err = r.s.put(ctx, r.d, r.key, r.old)
	} else {
		err = r.s.delete(ctx, r.d, r.key)
	}
	if err != nil {
		testing.ContextLogf(ctx, "Failed to restore %s/%s: %v", r.s, r.key, err)
	}
	return err
}
