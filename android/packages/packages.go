// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package packages installs, queries and removes Android packages.
package packages

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"go.chromium.org/sts/android/adb"
	"go.chromium.org/sts/android/settings"
	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/testing"
)

// stagingDir is where APKs are pushed before installation.
const stagingDir = "/data/local/tmp"

// InstallOptions controls Install.
type InstallOptions struct {
	// Package is the package name inside the APK. If set, the returned
	// Installed uninstalls it on Close.
	Package string
	// User is passed to pm --user: a user id, "current" or "all". Empty
	// means pm's default.
	User string
	// GrantPermissions grants all runtime permissions (pm install -g).
	GrantPermissions bool
	// AllowDowngrade permits replacing with a lower version (pm install -d).
	AllowDowngrade bool
}

// InstallError is returned when pm rejects an APK.
type InstallError struct {
	// Code is the failure code, e.g. "INSTALL_PARSE_FAILED_NO_CERTIFICATES".
	Code string
	// Message is pm's explanation, possibly empty.
	Message string
}

func (e *InstallError) Error() string {
	if e.Message == "" {
		return "install failed: " + e.Code
	}
	return fmt.Sprintf("install failed: %s: %s", e.Code, e.Message)
}

// failureRE matches pm's "Failure [CODE: message]" and "Failure [CODE]".
var failureRE = regexp.MustCompile(`Failure \[([A-Z0-9_-]+)(?::\s*([^\]]*))?\]`)

// parseInstallOutput returns nil if out reports success.
func parseInstallOutput(out string) error {
	for _, l := range strings.Split(out, "\n") {
		// "Success" is the only positive result.
		if strings.TrimSpace(l) == "Success" {
			return nil
		}
	}
	if m := failureRE.FindStringSubmatch(out); m != nil {
		return &InstallError{Code: m[1], Message: strings.TrimSpace(m[2])}
	}
	return errors.Errorf("unexpected pm install output %q", strings.TrimSpace(out))
}

// Installed is an installed package. Close uninstalls it.
type Installed struct {
	d       *adb.Device
	Package string
	user    string
}

// Install pushes the host APK file apk to the device and installs it with
// pm. Package verification is disabled while installing. pm failures are
// returned as *InstallError.
func Install(ctx context.Context, d *adb.Device, apk string, opts *InstallOptions) (*Installed, error) {
	if opts == nil {
		opts = &InstallOptions{}
	}
	remote := path.Join(stagingDir, filepath.Base(apk))
	if err := d.PushFile(ctx, apk, remote); err != nil {
		return nil, err
	}
	defer d.RemoveFile(ctx, remote)

	restore, err := settings.Scoped(ctx, d, settings.Global, "verifier_verify_adb_installs", "0")
	if err != nil {
		return nil, errors.Wrap(err, "failed to disable package verification")
	}
	defer restore.Close(ctx)

	args := []string{"pm", "install", "-r", "-t"}
	if opts.GrantPermissions {
		args = append(args, "-g")
	}
	if opts.AllowDowngrade {
		args = append(args, "-d")
	}
	if opts.User != "" {
		args = append(args, "--user", opts.User)
	}
	args = append(args, remote)

	testing.ContextLogf(ctx, "Installing %s", filepath.Base(apk))
	res, err := d.Shell(ctx, args...)
	if err != nil {
		return nil, err
	}
	if err := parseInstallOutput(res.Stdout); err != nil {
		return nil, err
	}
	return &Installed{d: d, Package: opts.Package, user: opts.User}, nil
}

// Close uninstalls the package. Errors are logged and returned.
func (i *Installed) Close(ctx context.Context) error {
	if i == nil || i.Package == "" {
		return nil
	}
	err := Uninstall(ctx, i.d, i.Package, i.user)
	if err != nil {
		testing.ContextLogf(ctx, "Failed to uninstall %s: %v", i.Package, err)
	}
	return err
}

// Uninstall removes pkg, for user if non-empty.
func Uninstall(ctx context.Context, d *adb.Device, pkg, user string) error {
	args := []string{"pm", "uninstall"}
	if user != "" {
		args = append(args, "--user", user)
	}
	res, err := d.Shell(ctx, append(args, pkg)...)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(strings.TrimSpace(res.Stdout), "Success") {
		return errors.Errorf("failed to uninstall %s: %s", pkg, strings.TrimSpace(res.Stdout))
	}
	return nil
}

// IsInstalled reports whether pkg is installed, for user if non-empty.
func IsInstalled(ctx context.Context, d *adb.Device, pkg, user string) (bool, error) {
	args := []string{"pm", "list", "packages"}
	if user != "" {
		args = append(args, "--user", user)
	}
	out, err := d.ShellOutput(ctx, append(args, pkg)...)
	if err != nil {
		return false, err
	}
	// pm treats the argument as a substring filter.
	for _, l := range strings.Split(out, "\n") {
		if strings.TrimSpace(l) == "package:"+pkg {
			return true, nil
		}
	}
	return false, nil
}
