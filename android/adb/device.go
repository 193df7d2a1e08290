// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package adb

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/internal/logging"
	"go.chromium.org/sts/shutil"
)

// Device is an Android device under test.
type Device struct {
	t Transport

	mu       sync.Mutex
	features []string // cached output of pm list features
}

// New returns a Device that talks to the device through t.
func New(t Transport) *Device {
	return &Device{t: t}
}

// Serial returns the adb serial number of the device.
func (d *Device) Serial() string { return d.t.Serial() }

// Transport returns the transport d uses.
func (d *Device) Transport() Transport { return d.t }

// Close releases the transport.
func (d *Device) Close(ctx context.Context) error { return d.t.Close(ctx) }

// Reset replaces d's transport with t after closing the old one. It is used
// once the connection to the device was re-established, and must not be
// called concurrently with other methods.
func (d *Device) Reset(ctx context.Context, t Transport) error {
	err := d.t.Close(ctx)
	d.t = t
	d.mu.Lock()
	d.features = nil
	d.mu.Unlock()
	return err
}

// ShellResult is the outcome of a shell command that ran on the device.
type ShellResult struct {
	Stdout   string
	ExitCode int
}

// CommandError is returned when a device command exits with a non-zero status.
type CommandError struct {
	Cmd      string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	out := truncate(strings.TrimSpace(e.Output), 500)
	if out == "" {
		return fmt.Sprintf("%s: exit status %d", e.Cmd, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Cmd, e.ExitCode, out)
}

// Shell runs a command made of args on the device. Each argument is
// escaped. A non-zero exit status is not an error.
func (d *Device) Shell(ctx context.Context, args ...string) (*ShellResult, error) {
	return d.ShellScript(ctx, shutil.EscapeSlice(args))
}

// ShellScript runs script verbatim with the device shell.
func (d *Device) ShellScript(ctx context.Context, script string) (*ShellResult, error) {
	logging.Debugf(ctx, "[%s] $ %s", d.Serial(), script)
	out, code, err := d.t.Shell(ctx, script)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to run %q", script)
	}
	return &ShellResult{Stdout: string(out), ExitCode: code}, nil
}

// ShellOutput runs a command made of args and returns its output. A non-zero
// exit status is returned as *CommandError.
func (d *Device) ShellOutput(ctx context.Context, args ...string) (string, error) {
	return d.ShellScriptOutput(ctx, shutil.EscapeSlice(args))
}

// ShellScriptOutput is ShellOutput for a verbatim script.
func (d *Device) ShellScriptOutput(ctx context.Context, script string) (string, error) {
	res, err := d.ShellScript(ctx, script)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return res.Stdout, &CommandError{Cmd: script, ExitCode: res.ExitCode, Output: res.Stdout}
	}
	return res.Stdout, nil
}

// Property returns the value of the system property name, or "" if unset.
func (d *Device) Property(ctx context.Context, name string) (string, error) {
	out, err := d.ShellOutput(ctx, "getprop", name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// SetProperty sets the system property name to value.
func (d *Device) SetProperty(ctx context.Context, name, value string) error {
	out, err := d.ShellOutput(ctx, "setprop", name, value)
	if err != nil {
		return err
	}
	if out = strings.TrimSpace(out); out != "" {
		return errors.Errorf("setprop %s: %s", name, out)
	}
	return nil
}

// SDKVersion returns the API level of the device (ro.build.version.sdk).
func (d *Device) SDKVersion(ctx context.Context) (int, error) {
	s, err := d.Property(ctx, "ro.build.version.sdk")
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "bad SDK version %q", s)
	}
	return v, nil
}

// SecurityPatch returns the security patch level, e.g. "2024-05-01".
func (d *Device) SecurityPatch(ctx context.Context) (string, error) {
	return d.Property(ctx, "ro.build.version.security_patch")
}

// ABI returns the primary ABI of the device, e.g. "arm64-v8a".
func (d *Device) ABI(ctx context.Context) (string, error) {
	return d.Property(ctx, "ro.product.cpu.abi")
}

// Features returns the system features the device declares. The result is
// cached for the life of d.
func (d *Device) Features(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.features != nil {
		return d.features, nil
	}
	out, err := d.ShellOutput(ctx, "pm", "list", "features")
	if err != nil {
		return nil, err
	}
	features := []string{}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if f, ok := strings.CutPrefix(line, "feature:"); ok {
			// Versioned features look like "feature:name=3".
			if i := strings.IndexByte(f, '='); i >= 0 {
				f = f[:i]
			}
			features = append(features, f)
		}
	}
	slices.Sort(features)
	d.features = features
	return features, nil
}

// HasFeature reports whether the device declares the system feature name.
func (d *Device) HasFeature(ctx context.Context, name string) (bool, error) {
	fs, err := d.Features(ctx)
	if err != nil {
		return false, err
	}
	_, found := slices.BinarySearch(fs, strings.TrimPrefix(name, "feature:"))
	return found, nil
}

// Push writes the contents of r to remote on the device.
func (d *Device) Push(ctx context.Context, r io.Reader, remote string, mode os.FileMode) error {
	if err := d.t.Push(ctx, r, remote, mode); err != nil {
		return errors.Wrapf(err, "failed to push %s", remote)
	}
	return nil
}

// PushFile copies the host file local to remote, keeping its permissions.
func (d *Device) PushFile(ctx context.Context, local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	logging.Debugf(ctx, "Pushing %s to %s", local, remote)
	return d.Push(ctx, f, remote, fi.Mode().Perm())
}

// Pull copies the device file remote to w.
func (d *Device) Pull(ctx context.Context, remote string, w io.Writer) error {
	if err := d.t.Pull(ctx, remote, w); err != nil {
		return errors.Wrapf(err, "failed to pull %s", remote)
	}
	return nil
}

// PullFile copies the device file remote to the host file local.
func (d *Device) PullFile(ctx context.Context, remote, local string) (retErr error) {
	f, err := os.Create(local)
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil && retErr == nil {
			retErr = err
		}
	}()
	return d.Pull(ctx, remote, f)
}

// FileExists reports whether p exists on the device.
func (d *Device) FileExists(ctx context.Context, p string) (bool, error) {
	res, err := d.Shell(ctx, "test", "-e", p)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// RemoveFile removes p and anything under it.
func (d *Device) RemoveFile(ctx context.Context, p string) error {
	_, err := d.ShellOutput(ctx, "rm", "-rf", p)
	return err
}

// MakeDir creates dir and its parents.
func (d *Device) MakeDir(ctx context.Context, dir string) error {
	_, err := d.ShellOutput(ctx, "mkdir", "-p", dir)
	return err
}

// ListDir returns the names of the entries in dir.
func (d *Device) ListDir(ctx context.Context, dir string) ([]string, error) {
	out, err := d.ShellOutput(ctx, "ls", "-1", dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, l := range strings.Split(out, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			names = append(names, path.Base(l))
		}
	}
	return names, nil
}
