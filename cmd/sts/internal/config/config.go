// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config contains the configuration of the sts command.
package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"go.chromium.org/sts/android/adb"
	"go.chromium.org/sts/dut"
	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/internal/command"
)

// Mode describes the action to perform.
type Mode int

const (
	// RunTestsMode indicates that tests should be run and their results reported.
	RunTestsMode Mode = iota
	// ListTestsMode indicates that tests should only be listed.
	ListTestsMode
)

const (
	defaultConnectTimeout = 10 * time.Second
	resDirTimeFmt         = "20060102-150405"
)

// Config contains shared configuration information for running or listing tests.
type Config struct {
	// Mode is the action to perform.
	Mode Mode
	// STSDir is the base directory of the installation, holding testcases/
	// and results/.
	STSDir string

	// ConfigFile is a YAML file providing defaults for unset flags.
	ConfigFile string

	// Target is the device spec, e.g. "adb:emulator-5554" or
	// "ssh:labhost/SERIAL".
	Target string
	// Patterns select tests by name glob or attribute expression.
	Patterns []string

	KeyFile        string
	KeyDir         string
	ProxyCommand   string
	ADBHost        string
	ADBPort        int
	ADBPath        string
	ConnectTimeout time.Duration
	ConnectRetries int

	// DataDir is the base directory of test data files.
	DataDir string
	// ResDir is the directory results are written to.
	ResDir string

	// PlanFile and PlanName select a test plan.
	PlanFile string
	PlanName string
	// Retries is the number of extra attempts of failed tests. A negative
	// value defers to the plan, or zero without one.
	Retries int

	// CheckTestDeps skips tests whose software dependencies the device
	// lacks. It is always set when running tests.
	CheckTestDeps bool
	// CollectSysInfo saves logcat and tombstones for each test.
	CollectSysInfo bool

	// TestVars holds runtime variables from -var and -varsfile.
	TestVars  map[string]string
	VarsFiles []string
}

// NewConfig returns a new configuration for executing test runners in the
// supplied mode. stsDir is the installation directory; defaults are
// derived from it.
func NewConfig(mode Mode, stsDir string) *Config {
	return &Config{
		Mode:     mode,
		STSDir:   stsDir,
		TestVars: make(map[string]string),
	}
}

// SetFlags adds common run-related flags to f that store values in c.
func (c *Config) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.ConfigFile, "config", "", "YAML file providing defaults for unset flags")
	f.StringVar(&c.KeyFile, "keyfile", "", "path to SSH private key for lab hosts")
	f.StringVar(&c.KeyDir, "keydir", "", "directory containing SSH private keys (empty to not use)")
	f.StringVar(&c.ProxyCommand, "proxycommand", "", "command used to reach lab hosts, as ssh_config ProxyCommand")
	f.StringVar(&c.ADBHost, "adbhost", "", "host of the local adb server (default localhost)")
	f.IntVar(&c.ADBPort, "adbport", 0, "port of the local adb server (default 5037)")
	f.StringVar(&c.ADBPath, "adb", "", "path of the adb binary (default adb)")
	f.Var(command.NewDurationFlag(time.Second, &c.ConnectTimeout, defaultConnectTimeout), "connecttimeout", "device connection timeout in seconds")
	f.IntVar(&c.ConnectRetries, "connectretries", 0, "number of extra SSH connection attempts")
	f.StringVar(&c.DataDir, "datadir", "", "base directory of test data files")
	f.StringVar(&c.PlanFile, "plan", "", "Starlark file defining test plans")
	f.StringVar(&c.PlanName, "planname", "", "plan to use from -plan (may be omitted if the file has one plan)")

	switch c.Mode {
	case ListTestsMode:
		f.BoolVar(&c.CheckTestDeps, "checktestdeps", false, "connect to the device and exclude tests with unsatisfied software dependencies")
	case RunTestsMode:
		c.CheckTestDeps = true
		f.StringVar(&c.ResDir, "resultsdir", "", "directory for test results")
		f.BoolVar(&c.CollectSysInfo, "sysinfo", true, "collect logcat and tombstones for each test")
		f.IntVar(&c.Retries, "retries", -1, "number of times to retry a failing test (default from the plan, or 0)")

		vf := command.RepeatedFlag(func(v string) error {
			parts := strings.SplitN(v, "=", 2)
			if len(parts) != 2 {
				return errors.New(`want "name=value"`)
			}
			c.TestVars[parts[0]] = parts[1]
			return nil
		})
		f.Var(&vf, "var", `runtime variable to pass to tests, as "name=value" (can be repeated)`)
		vff := command.RepeatedFlag(func(path string) error {
			c.VarsFiles = append(c.VarsFiles, path)
			return nil
		})
		f.Var(&vff, "varsfile", "YAML file containing variables (can be repeated)")
	}
}

// fileConfig is the schema of the file named by -config.
type fileConfig struct {
	KeyFile        string            `yaml:"key_file"`
	KeyDir         string            `yaml:"key_dir"`
	ProxyCommand   string            `yaml:"proxy_command"`
	ADBHost        string            `yaml:"adb_host"`
	ADBPort        int               `yaml:"adb_port"`
	ADBPath        string            `yaml:"adb_path"`
	ConnectRetries int               `yaml:"connect_retries"`
	DataDir        string            `yaml:"data_dir"`
	ResultsDir     string            `yaml:"results_dir"`
	Plan           string            `yaml:"plan"`
	PlanName       string            `yaml:"plan_name"`
	VarsFiles      []string          `yaml:"vars_files"`
	Vars           map[string]string `yaml:"vars"`
}

// applyFile fills fields left unset by flags from the YAML file at path.
// Variables set on the command line take precedence over the file's.
func (c *Config) applyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.UnmarshalStrict(b, &fc); err != nil {
		return errors.Wrapf(err, "failed to parse %s", path)
	}

	setIfEmpty := func(p *string, s string) {
		if *p == "" {
			*p = s
		}
	}
	setIfEmpty(&c.KeyFile, fc.KeyFile)
	setIfEmpty(&c.KeyDir, fc.KeyDir)
	setIfEmpty(&c.ProxyCommand, fc.ProxyCommand)
	setIfEmpty(&c.ADBHost, fc.ADBHost)
	setIfEmpty(&c.ADBPath, fc.ADBPath)
	setIfEmpty(&c.DataDir, fc.DataDir)
	setIfEmpty(&c.ResDir, fc.ResultsDir)
	setIfEmpty(&c.PlanFile, fc.Plan)
	setIfEmpty(&c.PlanName, fc.PlanName)
	if c.ADBPort == 0 {
		c.ADBPort = fc.ADBPort
	}
	if c.ConnectRetries == 0 {
		c.ConnectRetries = fc.ConnectRetries
	}
	// Relative paths in the file are relative to the file.
	for _, vf := range fc.VarsFiles {
		if !filepath.IsAbs(vf) {
			vf = filepath.Join(filepath.Dir(path), vf)
		}
		c.VarsFiles = append(c.VarsFiles, vf)
	}
	mergeVars(c.TestVars, fc.Vars, keepExisting)
	return nil
}

// DeriveDefaults sets default config values to unset members, possibly
// deriving from already set members. It should be called after flags are
// parsed.
func (c *Config) DeriveDefaults() error {
	if c.ConfigFile != "" {
		if err := c.applyFile(c.ConfigFile); err != nil {
			return errors.Wrap(err, "failed to apply config file")
		}
	}

	setIfEmpty := func(p *string, s string) {
		if *p == "" {
			*p = s
		}
	}
	setIfEmpty(&c.DataDir, filepath.Join(c.STSDir, "testcases"))
	if c.Mode == RunTestsMode {
		setIfEmpty(&c.ResDir, filepath.Join(c.STSDir, "results", time.Now().Format(resDirTimeFmt)))
	}
	if c.PlanName != "" && c.PlanFile == "" {
		return errors.New("-planname requires -plan")
	}

	// Apply -varsfile. -var takes precedence; files must not conflict.
	fileVars := make(map[string]string)
	for _, path := range c.VarsFiles {
		if err := mergeVarsFile(fileVars, path, rejectDup); err != nil {
			return errors.Wrapf(err, "failed to apply vars from %s", path)
		}
	}
	mergeVars(c.TestVars, fileVars, keepExisting)
	return nil
}

// DUTOptions returns options for connecting to Target.
func (c *Config) DUTOptions() dut.Options {
	return dut.Options{
		ADB: adb.ServerOptions{
			Host:    c.ADBHost,
			Port:    c.ADBPort,
			ADBPath: c.ADBPath,
		},
		KeyFile:        c.KeyFile,
		KeyDir:         c.KeyDir,
		ProxyCommand:   c.ProxyCommand,
		ConnectTimeout: c.ConnectTimeout,
		ConnectRetries: c.ConnectRetries,
	}
}
