// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package run connects to a device and runs or lists tests for the sts
// command.
package run

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"

	"go.chromium.org/sts/android/adb"
	"go.chromium.org/sts/cmd/sts/internal/config"
	"go.chromium.org/sts/dut"
	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/internal/logging"
	"go.chromium.org/sts/internal/planner"
	"go.chromium.org/sts/internal/reporting"
	"go.chromium.org/sts/testing"
)

const (
	suiteName   = "STS"
	suitePlan   = "sts-dynamic-full"
	moduleName  = "StsHostTestCases"
	offlineWait = 5 * time.Second // how long a device may be unresponsive after a test
)

// SuiteVersion is reported in test_result.xml. It is set by the sts command.
var SuiteVersion = "<unknown>"

// contextLogger forwards logs to the loggers attached to ctx.
func contextLogger(ctx context.Context) logging.Logger {
	return logging.NewFuncLogger(func(level logging.Level, ts time.Time, msg string) {
		if level == logging.LevelDebug {
			logging.Debug(ctx, msg)
		} else {
			logging.Info(ctx, msg)
		}
	})
}

// deviceInfo reads the properties of d reported in test_result.xml.
func deviceInfo(ctx context.Context, d *adb.Device, info *reporting.RunInfo) error {
	var err error
	info.Serial = d.Serial()
	if info.Fingerprint, err = d.Property(ctx, "ro.build.fingerprint"); err != nil {
		return err
	}
	if info.ABI, err = d.ABI(ctx); err != nil {
		return err
	}
	if info.SecurityPatch, err = d.SecurityPatch(ctx); err != nil {
		return err
	}
	if info.SDKVersion, err = d.SDKVersion(ctx); err != nil {
		return err
	}
	return nil
}

// ListTests returns the tests selected by cfg. With cfg.CheckTestDeps, it
// connects to the device and drops tests whose dependencies are unmet.
func ListTests(ctx context.Context, cfg *config.Config) ([]*testing.TestInstance, error) {
	sel, err := SelectTests(cfg, testing.GlobalRegistry())
	if err != nil {
		return nil, err
	}
	if !cfg.CheckTestDeps {
		return sel.Tests, nil
	}

	d, err := dut.New(ctx, cfg.Target, cfg.DUTOptions())
	if err != nil {
		return nil, err
	}
	defer d.Close(ctx)
	features, err := d.Device().Features(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get device features")
	}
	var tests []*testing.TestInstance
	for _, t := range sel.Tests {
		if len(t.MissingSoftwareDeps(features)) == 0 {
			tests = append(tests, t)
		}
	}
	return tests, nil
}

// enableRoot restarts adbd as root so tests and hooks can read crash data.
// Production builds keep running unprivileged.
func enableRoot(ctx context.Context, dev *adb.Device) bool {
	err := dev.Root(ctx)
	switch {
	case err == nil:
		return true
	case errors.Is(err, adb.ErrDeviceNotRooted):
		logging.Info(ctx, "adbd cannot run as root; tombstone checks may be skipped")
	default:
		logging.Infof(ctx, "Failed to restart adbd as root: %v", err)
	}
	return false
}

// RunTests runs the tests selected by cfg on cfg.Target and writes results
// to cfg.ResDir. Results of the tests that finished are returned even if an
// error occurred midway.
func RunTests(ctx context.Context, cfg *config.Config) ([]*reporting.Result, error) {
	sel, err := SelectTests(cfg, testing.GlobalRegistry())
	if err != nil {
		return nil, err
	}
	if len(sel.Tests) == 0 {
		return nil, errors.Errorf("no tests matched by pattern(s) %v", cfg.Patterns)
	}
	if sel.Plan != "" {
		logging.Infof(ctx, "Using plan %s", sel.Plan)
	}
	logging.Infof(ctx, "Running %d test(s) with %d retries", len(sel.Tests), sel.Retries)

	info := &reporting.RunInfo{
		SuiteName:    suiteName,
		SuiteVersion: SuiteVersion,
		SuitePlan:    suitePlan,
		Module:       moduleName,
		CommandLine:  strings.Join(os.Args[1:], " "),
		Start:        time.Now(),
	}
	if sel.Plan != "" {
		info.SuitePlan = sel.Plan
	}
	info.HostName, _ = os.Hostname()

	logging.Info(ctx, "Connecting to ", cfg.Target)
	d, err := dut.New(ctx, cfg.Target, cfg.DUTOptions())
	if err != nil {
		return nil, err
	}
	defer d.Close(ctx)
	dev := d.Device()
	enableRoot(ctx, dev)

	if err := deviceInfo(ctx, dev, info); err != nil {
		return nil, errors.Wrap(err, "failed to read device properties")
	}
	logging.Infof(ctx, "Device %s: %s (patch %s)", info.Serial, info.Fingerprint, info.SecurityPatch)
	features, err := dev.Features(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get device features")
	}
	logging.Debug(ctx, "Device features: ", strings.Join(features, " "))

	w, err := reporting.NewWriter(cfg.ResDir, contextLogger(ctx), clock.NewClock())
	if err != nil {
		return nil, err
	}

	pcfg := &planner.Config{
		DataDir:  cfg.DataDir,
		OutDir:   filepath.Join(cfg.ResDir, reporting.TestLogsDir),
		Vars:     cfg.TestVars,
		DUT:      dev,
		Features: features,
		Retries:  sel.Retries,
		PostTestFunc: func(ctx context.Context, s *testing.State) {
			if err := dev.WaitForDeviceOnline(ctx, offlineWait); err == nil {
				return
			}
			s.Log("Device went offline; reconnecting")
			if err := d.Reconnect(ctx); err != nil {
				s.Error("Failed to reconnect to device: ", err)
			}
		},
	}
	if cfg.CollectSysInfo {
		pcfg.PreTestFunc = planner.DeviceHooks(dev)
	}

	runErr := planner.RunTests(ctx, sel.Tests, w, pcfg)
	info.End = time.Now()
	if err := w.Close(info); err != nil && runErr == nil {
		runErr = err
	}
	results := w.Results()
	reporting.WriteResultsToLogs(ctx, results, cfg.ResDir, runErr == nil)
	return results, runErr
}
