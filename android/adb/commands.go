// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package adb

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/internal/logging"
	"go.chromium.org/sts/internal/testingutil"
)

// ErrDeviceNotRooted is returned by Root on production builds.
var ErrDeviceNotRooted = errors.New("device is not rooted")

// ErrNoProcess is returned by PidOf when no process has the given name.
var ErrNoProcess = errors.New("no such process")

const (
	maxRootAttempts = 5

	// DefaultBootTimeout bounds waiting for the device after a reboot.
	DefaultBootTimeout = 5 * time.Minute
)

func isRootSuccessful(line string) bool {
	switch line {
	case "adbd is already running as root", "* daemon started successfully *":
		return true
	}
	return false
}

// Root restarts adbd as root. It returns ErrDeviceNotRooted if the build
// does not allow it.
func (d *Device) Root(ctx context.Context) error {
	var log strings.Builder
retry:
	for attempt := 0; attempt < maxRootAttempts; attempt++ {
		out, err := d.t.Root(ctx)
		if err != nil {
			return errors.Wrap(err, "adb root failed")
		}
		if out == "" {
			break
		}
		out = strings.ReplaceAll(out, "\r\n", "\n")
		log.WriteString("\n#" + strconv.Itoa(attempt) + ": " + out)
		lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			line := strings.TrimSpace(lines[i])
			if isRootSuccessful(line) {
				return d.WaitForDeviceOnline(ctx, time.Minute)
			}
			switch line {
			case "adbd cannot run as root in production builds":
				return ErrDeviceNotRooted
			case "restarting adbd as root":
				if err := d.WaitForDeviceOnline(ctx, time.Minute); err != nil {
					return err
				}
				continue retry
			}
		}
	}
	if log.Len() == 0 {
		return d.WaitForDeviceOnline(ctx, time.Minute)
	}
	// adbd may have switched without saying so; check the shell uid.
	if out, err := d.ShellOutput(ctx, "id", "-u"); err == nil && strings.TrimSpace(out) == "0" {
		return nil
	}
	return errors.Errorf("device failed to switch to root; adb root gave output:%s", log.String())
}

// WaitForDeviceOnline waits until adb reports the device as online.
func (d *Device) WaitForDeviceOnline(ctx context.Context, timeout time.Duration) error {
	return testingutil.Poll(ctx, func(ctx context.Context) error {
		st, err := d.t.State(ctx)
		if err != nil {
			return err
		}
		if st != "device" && st != "online" {
			return errors.Errorf("device state is %q", st)
		}
		return nil
	}, &testingutil.PollOptions{Timeout: timeout, Interval: time.Second})
}

// WaitForDeviceNotAvailable waits until adb no longer reports the device as
// online.
func (d *Device) WaitForDeviceNotAvailable(ctx context.Context, timeout time.Duration) error {
	return testingutil.Poll(ctx, func(ctx context.Context) error {
		st, err := d.t.State(ctx)
		if err != nil || (st != "device" && st != "online") {
			return nil
		}
		return errors.New("device still online")
	}, &testingutil.PollOptions{Timeout: timeout, Interval: 500 * time.Millisecond})
}

// WaitForBootComplete waits until sys.boot_completed is 1.
func (d *Device) WaitForBootComplete(ctx context.Context, timeout time.Duration) error {
	return testingutil.Poll(ctx, func(ctx context.Context) error {
		v, err := d.Property(ctx, "sys.boot_completed")
		if err != nil {
			return err
		}
		if v != "1" {
			return errors.New("boot not completed")
		}
		return nil
	}, &testingutil.PollOptions{Timeout: timeout, Interval: time.Second})
}

// Reboot reboots the device and waits until it has booted.
func (d *Device) Reboot(ctx context.Context) error {
	logging.Infof(ctx, "Rebooting %s", d.Serial())
	// The connection usually drops before the command returns.
	if _, err := d.ShellScript(ctx, "reboot"); err != nil {
		logging.Debugf(ctx, "reboot: %v", err)
	}
	if err := d.WaitForDeviceNotAvailable(ctx, time.Minute); err != nil {
		return errors.Wrap(err, "device did not go down")
	}
	if err := d.WaitForDeviceOnline(ctx, DefaultBootTimeout); err != nil {
		return errors.Wrap(err, "device did not come back")
	}
	d.mu.Lock()
	d.features = nil
	d.mu.Unlock()
	return d.WaitForBootComplete(ctx, DefaultBootTimeout)
}

// SELinuxEnforcing reports whether SELinux is in enforcing mode.
func (d *Device) SELinuxEnforcing(ctx context.Context) (bool, error) {
	out, err := d.ShellOutput(ctx, "getenforce")
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(out), "enforcing"), nil
}

// ForceStop stops all processes of pkg.
func (d *Device) ForceStop(ctx context.Context, pkg string) error {
	_, err := d.ShellOutput(ctx, "am", "force-stop", pkg)
	return err
}

// StartActivity force-stops the target app, launches component and waits
// for the launch to finish. extra holds further am start arguments such as
// "-a", action or "--ei", key, value.
func (d *Device) StartActivity(ctx context.Context, component string, extra ...string) error {
	args := append([]string{"am", "start", "-S", "-W", "-n", component}, extra...)
	out, err := d.ShellOutput(ctx, args...)
	if err != nil {
		return err
	}
	// am start reports some failures with a zero exit status.
	for _, l := range strings.Split(out, "\n") {
		if strings.HasPrefix(strings.TrimSpace(l), "Error") {
			return errors.Errorf("am start %s: %s", component, strings.TrimSpace(out))
		}
	}
	return nil
}

var resumedActivityRE = regexp.MustCompile(`(?m)^\s*(?:mResumedActivity|ResumedActivity|topResumedActivity)\s*[:=]\s*ActivityRecord\{\S+ \S+ (\S+)`)

// normalizeComponent expands "pkg/.Cls" to "pkg/pkg.Cls".
func normalizeComponent(c string) string {
	pkg, cls, ok := strings.Cut(c, "/")
	if ok && strings.HasPrefix(cls, ".") {
		return pkg + "/" + pkg + cls
	}
	return c
}

// ResumedActivity returns the component of the resumed activity, or "" if
// there is none.
func (d *Device) ResumedActivity(ctx context.Context) (string, error) {
	out, err := d.ShellOutput(ctx, "dumpsys", "activity", "activities")
	if err != nil {
		return "", err
	}
	m := resumedActivityRE.FindStringSubmatch(out)
	if m == nil {
		return "", nil
	}
	return normalizeComponent(m[1]), nil
}

// WaitForActivityResumed polls until component is the resumed activity.
func (d *Device) WaitForActivityResumed(ctx context.Context, component string, timeout time.Duration) error {
	want := normalizeComponent(component)
	return testingutil.Poll(ctx, func(ctx context.Context) error {
		got, err := d.ResumedActivity(ctx)
		if err != nil {
			return err
		}
		if got != want {
			return errors.Errorf("resumed activity is %q", got)
		}
		return nil
	}, &testingutil.PollOptions{Timeout: timeout, Interval: 500 * time.Millisecond})
}

// PidOf returns the pid of the process called name. If several match, the
// first pidof reports is returned.
func (d *Device) PidOf(ctx context.Context, name string) (int, error) {
	res, err := d.Shell(ctx, "pidof", name)
	if err != nil {
		return 0, err
	}
	fs := strings.Fields(res.Stdout)
	if res.ExitCode != 0 || len(fs) == 0 {
		return 0, ErrNoProcess
	}
	pid, err := strconv.Atoi(fs[0])
	if err != nil {
		return 0, errors.Wrapf(err, "bad pidof output %q", res.Stdout)
	}
	return pid, nil
}

// WaitForPidChange polls until a process called name runs with a pid other
// than old, and returns the new pid.
func (d *Device) WaitForPidChange(ctx context.Context, name string, old int, timeout time.Duration) (int, error) {
	var pid int
	err := testingutil.Poll(ctx, func(ctx context.Context) error {
		p, err := d.PidOf(ctx, name)
		if err != nil {
			return err
		}
		if p == old {
			return errors.Errorf("%s still has pid %d", name, old)
		}
		pid = p
		return nil
	}, &testingutil.PollOptions{Timeout: timeout, Interval: 500 * time.Millisecond})
	return pid, err
}
