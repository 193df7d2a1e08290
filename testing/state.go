// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package testing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sync"
	"time"

	"go.chromium.org/sts/android/adb"
	"go.chromium.org/sts/errors/stack"
	"go.chromium.org/sts/internal/logging"
)

// Error describes an error reported by a test.
type Error struct {
	Reason string    `json:"reason"`
	File   string    `json:"file"`
	Line   int       `json:"line"`
	Stack  string    `json:"stack"`
	Time   time.Time `json:"time"`
}

// OutputStream receives the output of a single test.
type OutputStream interface {
	Log(level logging.Level, ts time.Time, msg string) error
	Error(e *Error) error
}

// TestConfig describes the environment of a single test run.
type TestConfig struct {
	// DataDir is the directory containing the test's data files.
	DataDir string
	// OutDir is the directory the test may write output files to.
	OutDir string
	// Vars holds runtime variables.
	Vars map[string]string
	// DUT is the device under test. It is nil in unit tests.
	DUT *adb.Device
}

// State holds state relevant to the execution of a single test.
//
// Parts of its interface are patterned after Go's testing.T. It is safe for
// concurrent use.
type State struct {
	test *TestInstance
	out  OutputStream
	cfg  *TestConfig

	mu         sync.Mutex
	hasError   bool
	skipReason string
}

// NewState creates a State for t. It is called by the test runner.
func NewState(t *TestInstance, out OutputStream, cfg *TestConfig) *State {
	return &State{test: t, out: out, cfg: cfg}
}

// NewContext returns a context whose logs go to s, for use with ContextLog
// by support packages.
func NewContext(ctx context.Context, s *State) context.Context {
	ctx = logging.AttachLoggerNoPropagation(ctx, logging.NewFuncLogger(func(level logging.Level, ts time.Time, msg string) {
		s.out.Log(level, ts, msg)
	}))
	return context.WithValue(ctx, stateKey{}, s)
}

type stateKey struct{}

// TestName returns the name of the running test.
func (s *State) TestName() string { return s.test.Name }

// Param returns Param.Val of a parameterized test, or nil.
func (s *State) Param() interface{} { return s.test.Val }

// DUT returns the device under test.
func (s *State) DUT() *adb.Device {
	if s.cfg.DUT == nil {
		s.Fatal("No device is connected")
	}
	return s.cfg.DUT
}

// OutDir returns a directory for files to be saved with the test results.
func (s *State) OutDir() string { return s.cfg.OutDir }

// DataPath returns the path of data file p, which must be declared in
// Test.Data.
func (s *State) DataPath(p string) string {
	for _, f := range s.test.Data {
		if f == p {
			return filepath.Join(s.cfg.DataDir, p)
		}
	}
	s.Fatalf("Data file %q wasn't declared in the test definition", p)
	return ""
}

// RequireData returns DataPath(p), skipping the test if the file is absent.
// Test artifacts such as PoC binaries are built separately and may be
// missing for some device ABIs.
func (s *State) RequireData(p string) string {
	fp := s.DataPath(p)
	if _, err := os.Stat(fp); err != nil {
		s.Skipf("Data file %s is unavailable: %v", p, err)
	}
	return fp
}

// Var returns the value of runtime variable name, which must be declared in
// Test.Vars.
func (s *State) Var(name string) (string, bool) {
	declared := false
	for _, v := range s.test.Vars {
		if v == name {
			declared = true
			break
		}
	}
	if !declared {
		s.Fatalf("Variable %q wasn't declared in the test definition", name)
	}
	v, ok := s.cfg.Vars[name]
	return v, ok
}

// RequiredVar is like Var but fails the test if the variable is unset.
func (s *State) RequiredVar(name string) string {
	v, ok := s.Var(name)
	if !ok {
		s.Fatalf("Required variable %q is not provided", name)
	}
	return v
}

// Log formats its arguments using default formatting and logs them.
func (s *State) Log(args ...interface{}) {
	s.out.Log(logging.LevelInfo, time.Now(), fmt.Sprint(args...))
}

// Logf is similar to Log but formats its arguments using fmt.Sprintf.
func (s *State) Logf(format string, args ...interface{}) {
	s.out.Log(logging.LevelInfo, time.Now(), fmt.Sprintf(format, args...))
}

// Error marks the test as failed with the given reason and continues.
func (s *State) Error(args ...interface{}) {
	s.reportError(formatError(args...))
}

// Errorf is similar to Error but formats its arguments using fmt.Sprintf.
func (s *State) Errorf(format string, args ...interface{}) {
	s.reportError(formatErrorf(format, args...))
}

// Fatal is similar to Error but additionally ends the test.
func (s *State) Fatal(args ...interface{}) {
	s.reportError(formatError(args...))
	runtime.Goexit()
}

// Fatalf is similar to Fatal but formats its arguments using fmt.Sprintf.
func (s *State) Fatalf(format string, args ...interface{}) {
	s.reportError(formatErrorf(format, args...))
	runtime.Goexit()
}

// Skip ends the test, reporting it as skipped rather than failed. It is used
// when the environment does not meet an assumption of the test, e.g. the
// device cannot create users. Errors reported earlier still fail the test.
func (s *State) Skip(args ...interface{}) {
	s.skip(fmt.Sprint(args...))
}

// Skipf is similar to Skip but formats its arguments using fmt.Sprintf.
func (s *State) Skipf(format string, args ...interface{}) {
	s.skip(fmt.Sprintf(format, args...))
}

// AssumeNoError skips the test if err is non-nil. msg is prepended to the
// skip reason.
func (s *State) AssumeNoError(err error, msg ...interface{}) {
	if err == nil {
		return
	}
	if len(msg) == 0 {
		s.skip(err.Error())
	}
	s.skip(fmt.Sprint(msg...) + ": " + err.Error())
}

func (s *State) skip(reason string) {
	s.mu.Lock()
	if s.skipReason == "" {
		s.skipReason = reason
	}
	s.mu.Unlock()
	s.Log("Skipping: ", reason)
	runtime.Goexit()
}

// HasError reports whether the test has reported errors.
func (s *State) HasError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasError
}

// SkipReason returns the reason passed to Skip, or an empty string.
func (s *State) SkipReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipReason
}

func (s *State) reportError(fullMsg, lastMsg string, err error) {
	s.mu.Lock()
	s.hasError = true
	s.mu.Unlock()
	// Skip reportError and its exported caller.
	s.out.Error(NewError(err, fullMsg, lastMsg, 2))
}

// NewError returns an Error for the code skipFrames above the caller.
func NewError(err error, fullMsg, lastMsg string, skipFrames int) *Error {
	skipFrames++
	_, fn, ln, _ := runtime.Caller(skipFrames)
	trace := fmt.Sprintf("%s\n%s", lastMsg, stack.New(skipFrames))
	if err != nil {
		trace += fmt.Sprintf("\n%+v", err)
	}
	return &Error{
		Reason: fullMsg,
		File:   fn,
		Line:   ln,
		Stack:  trace,
		Time:   time.Now(),
	}
}

var errorSuffix = regexp.MustCompile(`(\s*:\s*|\s+)$`)

// formatError extracts the error from calls like
// s.Error("Failed to install: ", err), returning the whole message, the
// message without the error, and the error.
func formatError(args ...interface{}) (fullMsg, lastMsg string, err error) {
	fullMsg = fmt.Sprint(args...)
	if len(args) == 1 {
		if e, ok := args[0].(error); ok {
			err = e
		}
	} else if len(args) >= 2 {
		if e, ok := args[len(args)-1].(error); ok {
			if s, ok := args[len(args)-2].(string); ok {
				if m := errorSuffix.FindStringIndex(s); m != nil {
					err = e
					args = append(args[:len(args)-2:len(args)-2], s[:m[0]])
				}
			}
		}
	}
	return fullMsg, fmt.Sprint(args...), err
}

var errorfSuffix = regexp.MustCompile(`\s*:?\s*%v$`)

// formatErrorf is formatError for calls like
// s.Errorf("Failed to install %s: %v", apk, err).
func formatErrorf(format string, args ...interface{}) (fullMsg, lastMsg string, err error) {
	fullMsg = fmt.Sprintf(format, args...)
	if len(args) >= 1 {
		if e, ok := args[len(args)-1].(error); ok {
			if m := errorfSuffix.FindStringIndex(format); m != nil {
				err = e
				args = args[:len(args)-1]
				format = format[:m[0]]
			}
		}
	}
	return fullMsg, fmt.Sprintf(format, args...), err
}
