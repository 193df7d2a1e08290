// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package nativepoc pushes native proof-of-concept binaries to a device, runs
// them and decides from their exit status and crashes whether the device is
// vulnerable.
package nativepoc

import (
	"context"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.chromium.org/sts/android/adb"
	"go.chromium.org/sts/android/tombstone"
	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/shutil"
	"go.chromium.org/sts/testing"
)

const (
	// ExitVulnerable is the exit status a PoC uses to report that the
	// device is vulnerable.
	ExitVulnerable = 113
	// ExitTimeout is the exit status of the device's timeout command when
	// the PoC ran out of time.
	ExitTimeout = 124

	// DefaultTimeout is used when Poc.Timeout is zero.
	DefaultTimeout = 5 * time.Minute

	deviceTmpDir = "/data/local/tmp"

	// hostGrace is added to the on-device timeout for the host-side deadline.
	hostGrace = 30 * time.Second
)

// Bitness selects the PoC binary variant.
type Bitness int

const (
	// BitnessAuto picks the variant matching the device's primary ABI.
	BitnessAuto Bitness = iota
	Bitness32
	Bitness64
)

func (b Bitness) suffix() string {
	if b == Bitness32 {
		return "_sts32"
	}
	return "_sts64"
}

// Poc describes a native PoC run.
type Poc struct {
	// Name is the PoC's name. The binary runs on the device under this name,
	// which is also the process name crashes are attributed to.
	Name string
	// Binary is the host path of the PoC binary. AssertNotVulnerable fills
	// it in from the test's data file "<Name>_sts32" or "<Name>_sts64"
	// when empty.
	Binary string
	// Args are passed to the PoC.
	Args []string
	// Resources are host files pushed next to the binary. Relative paths
	// passed to AssertNotVulnerable name data files of the test.
	Resources []string
	// Timeout bounds the PoC's run time on the device.
	Timeout time.Duration
	// Bitness selects the binary variant.
	Bitness Bitness
	// User, if set, is the uid or user name the PoC runs as via su.
	User string
	// AssumePocExitSuccess makes AssertNotVulnerable skip the test when the
	// PoC exits non-zero for reasons other than being vulnerable or timing
	// out, as this usually means the PoC could not set up its environment.
	AssumePocExitSuccess bool
	// NoCrashCheck disables tombstone scanning.
	NoCrashCheck bool
	// CrashConfig decides which crashes count as vulnerabilities. The
	// default matches security crashes of the PoC process.
	CrashConfig *tombstone.Config
	// AfterFunc, if set, runs after the PoC exits and before the crash
	// check, e.g. to inspect device state left behind.
	AfterFunc func(ctx context.Context, d *adb.Device, res *Result) error
}

func (p *Poc) timeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultTimeout
	}
	return p.Timeout
}

func (p *Poc) crashConfig() *tombstone.Config {
	if p.CrashConfig != nil {
		return p.CrashConfig
	}
	return tombstone.DefaultConfig("^" + regexp.QuoteMeta(p.Name) + "$")
}

// Result describes a finished PoC run.
type Result struct {
	ExitCode int
	// Output holds the PoC's combined stdout and stderr.
	Output string
	// Crashes lists security relevant crashes that happened during the run.
	Crashes []*tombstone.Tombstone
	// CrashCheckSkipped is set when tombstones could not be read, so only
	// the exit code was checked.
	CrashCheckSkipped bool
}

// Vulnerable reports whether the run showed the device to be vulnerable.
func (r *Result) Vulnerable() bool {
	return r.ExitCode == ExitVulnerable || len(r.Crashes) > 0
}

// TimedOut reports whether the PoC was killed for running too long.
func (r *Result) TimedOut() bool {
	return r.ExitCode == ExitTimeout
}

// DetectBitness returns the bitness of the device's primary ABI.
func DetectBitness(ctx context.Context, d *adb.Device) (Bitness, error) {
	abi, err := d.ABI(ctx)
	if err != nil {
		return BitnessAuto, err
	}
	if abi == "" {
		return BitnessAuto, errors.New("device reports no ABI")
	}
	if strings.Contains(abi, "64") {
		return Bitness64, nil
	}
	return Bitness32, nil
}

// RemoteDir returns the device directory p's files are pushed to.
func (p *Poc) RemoteDir() string {
	return path.Join(deviceTmpDir, p.Name)
}

// command returns the shell script running p on the device.
func (p *Poc) command() string {
	secs := int((p.timeout() + time.Second - 1) / time.Second)
	args := append([]string{"timeout", strconv.Itoa(secs), "./" + p.Name}, p.Args...)
	cmd := shutil.EscapeSlice(args)
	if p.User != "" {
		cmd = "su " + shutil.Escape(p.User) + " " + cmd
	}
	return "cd " + shutil.Escape(p.RemoteDir()) + " && " + cmd + " 2>&1"
}

// push copies the binary and resources to the device.
func (p *Poc) push(ctx context.Context, d *adb.Device) error {
	dir := p.RemoteDir()
	if err := d.RemoveFile(ctx, dir); err != nil {
		return err
	}
	if err := d.MakeDir(ctx, dir); err != nil {
		return err
	}
	bin := path.Join(dir, p.Name)
	if err := d.PushFile(ctx, p.Binary, bin); err != nil {
		return err
	}
	if _, err := d.ShellOutput(ctx, "chmod", "755", bin); err != nil {
		return errors.Wrap(err, "failed to make PoC executable")
	}
	for _, r := range p.Resources {
		if err := d.PushFile(ctx, r, path.Join(dir, filepath.Base(r))); err != nil {
			return err
		}
	}
	return nil
}

// Run pushes p to d, runs it and checks for crashes. Errors are returned
// only when the PoC could not be run or its new tombstones could not be
// pulled. A vulnerable device is reported through Result. If tombstones are
// unreadable before the run, only the exit code is checked.
func Run(ctx context.Context, d *adb.Device, p *Poc) (res *Result, retErr error) {
	if p.Name == "" || p.Binary == "" {
		return nil, errors.New("PoC name and binary must be set")
	}

	if err := p.push(ctx, d); err != nil {
		return nil, errors.Wrapf(err, "failed to push %s", p.Name)
	}
	defer func() {
		if err := d.RemoveFile(ctx, p.RemoteDir()); err != nil {
			testing.ContextLogf(ctx, "Failed to remove %s: %v", p.RemoteDir(), err)
		}
	}()

	var snap *tombstone.Snapshot
	crashCheck := !p.NoCrashCheck
	if crashCheck {
		if err := d.Root(ctx); err != nil {
			testing.ContextLog(ctx, "Failed to restart adbd as root: ", err)
		}
		var err error
		if snap, err = tombstone.TakeSnapshot(ctx, d); err != nil {
			testing.ContextLog(ctx, "Skipping crash check: ", err)
			crashCheck = false
		}
	}
	if err := d.ClearLogcat(ctx); err != nil {
		testing.ContextLog(ctx, "Failed to clear logcat: ", err)
	}

	testing.ContextLogf(ctx, "Running %s %s", p.Name, strings.Join(p.Args, " "))
	rctx, cancel := context.WithTimeout(ctx, p.timeout()+hostGrace)
	sr, err := d.ShellScript(rctx, p.command())
	cancel()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to run %s", p.Name)
	}
	res = &Result{ExitCode: sr.ExitCode, Output: sr.Stdout, CrashCheckSkipped: !p.NoCrashCheck && !crashCheck}
	testing.ContextLogf(ctx, "%s exited with %d", p.Name, res.ExitCode)
	if res.TimedOut() {
		testing.ContextLogf(ctx, "%s timed out after %v", p.Name, p.timeout())
	}

	if p.AfterFunc != nil {
		if err := p.AfterFunc(ctx, d, res); err != nil {
			return res, errors.Wrap(err, "after-run check failed")
		}
	}

	if !crashCheck {
		return res, nil
	}
	ts, err := tombstone.Scan(ctx, d, snap)
	if err != nil {
		return res, errors.Wrap(err, "failed to scan tombstones")
	}
	cfg := p.crashConfig()
	for _, t := range ts {
		if tombstone.SecurityCrash(t, cfg) {
			res.Crashes = append(res.Crashes, t)
		} else {
			testing.ContextLogf(ctx, "Ignoring crash in %s: %s", t.ProcessName(), t.SignalName)
		}
	}
	return res, nil
}

// AssertNotVulnerable runs p and fails s if the device is vulnerable. It
// resolves p's binary and relative resources from s's data files, and skips
// s when the PoC cannot be run.
func AssertNotVulnerable(ctx context.Context, s *testing.State, d *adb.Device, p Poc) *Result {
	if p.Binary == "" {
		b := p.Bitness
		if b == BitnessAuto {
			var err error
			b, err = DetectBitness(ctx, d)
			s.AssumeNoError(err, "Failed to detect device ABI")
		}
		p.Binary = s.RequireData(p.Name + b.suffix())
	}
	var rs []string
	for _, r := range p.Resources {
		if !filepath.IsAbs(r) {
			r = s.RequireData(r)
		}
		rs = append(rs, r)
	}
	p.Resources = rs

	res, err := Run(ctx, d, &p)
	if res == nil {
		s.AssumeNoError(err, "Failed to run PoC")
	}
	if res.ExitCode == ExitVulnerable {
		s.Fatalf("%s exited with %d: device is vulnerable; output: %s", p.Name, res.ExitCode, strings.TrimSpace(res.Output))
	}
	if len(res.Crashes) > 0 {
		s.Fatal("Security crash detected: ", res.Crashes[0])
	}
	if err != nil {
		s.AssumeNoError(err, "Failed to check PoC result")
	}
	if p.AssumePocExitSuccess && res.ExitCode != 0 && !res.TimedOut() {
		s.Skipf("%s exited with %d; output: %s", p.Name, res.ExitCode, strings.TrimSpace(res.Output))
	}
	return res
}
