// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package planner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	gotesting "testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/sts/android/adb/adbtest"
	"go.chromium.org/sts/internal/logging"
	"go.chromium.org/sts/testing"
	"go.chromium.org/sts/testutil"
)

// outputSink records events reported to OutputStream.
type outputSink struct {
	mu     sync.Mutex
	events []string
	logs   map[string][]string
}

func newOutputSink() *outputSink {
	return &outputSink{logs: make(map[string][]string)}
}

func (o *outputSink) add(ev string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *outputSink) TestStart(t *testing.TestInstance) error {
	o.add("start " + t.Name)
	return nil
}

func (o *outputSink) TestLog(t *testing.TestInstance, level logging.Level, ts time.Time, msg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logs[t.Name] = append(o.logs[t.Name], msg)
	return nil
}

func (o *outputSink) TestError(t *testing.TestInstance, e *testing.Error) error {
	o.add("error " + t.Name + ": " + e.Reason)
	return nil
}

func (o *outputSink) TestEnd(t *testing.TestInstance, skipReason string, attempts int) error {
	o.add(fmt.Sprintf("end %s skip=%q attempts=%d", t.Name, skipReason, attempts))
	return nil
}

func newTest(name string, f testing.TestFunc) *testing.TestInstance {
	return &testing.TestInstance{
		Name:    name,
		Pkg:     "go.chromium.org/sts/bundles/sts/security",
		Func:    f,
		Timeout: time.Minute,
	}
}

func TestRunTests(t *gotesting.T) {
	tests := []*testing.TestInstance{
		newTest("security.Pass", func(ctx context.Context, s *testing.State) {
			s.Log("hello")
		}),
		newTest("security.Fail", func(ctx context.Context, s *testing.State) {
			s.Error("first")
			s.Fatal("second")
		}),
		newTest("security.Skip", func(ctx context.Context, s *testing.State) {
			s.Skip("no multi-user support")
		}),
		newTest("security.Panic", func(ctx context.Context, s *testing.State) {
			panic("boom")
		}),
	}
	deps := newTest("security.NeedsDeps", func(ctx context.Context, s *testing.State) {
		s.Error("must not run")
	})
	deps.SoftwareDeps = []string{"android.software.managed_users", "android.hardware.nfc"}
	tests = append(tests, deps)

	out := newOutputSink()
	cfg := &Config{Features: []string{"android.software.managed_users"}}
	if err := RunTests(context.Background(), tests, out, cfg); err != nil {
		t.Fatal("RunTests failed: ", err)
	}

	want := []string{
		"start security.Pass",
		`end security.Pass skip="" attempts=1`,
		"start security.Fail",
		"error security.Fail: first",
		"error security.Fail: second",
		`end security.Fail skip="" attempts=1`,
		"start security.Skip",
		`end security.Skip skip="no multi-user support" attempts=1`,
		"start security.Panic",
		"error security.Panic: Panic: boom",
		`end security.Panic skip="" attempts=1`,
		"start security.NeedsDeps",
		`end security.NeedsDeps skip="missing SoftwareDeps: android.hardware.nfc" attempts=0`,
	}
	if diff := cmp.Diff(out.events, want); diff != "" {
		t.Errorf("Events mismatch (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(out.logs["security.Pass"], []string{"hello"}); diff != "" {
		t.Errorf("Logs mismatch (-got +want):\n%s", diff)
	}
}

func TestRunTestsRetries(t *gotesting.T) {
	var flakyRuns, brokenRuns int
	tests := []*testing.TestInstance{
		newTest("security.Flaky", func(ctx context.Context, s *testing.State) {
			flakyRuns++
			if flakyRuns == 1 {
				s.Fatal("device busy")
			}
		}),
		newTest("security.Broken", func(ctx context.Context, s *testing.State) {
			brokenRuns++
			s.Errorf("attempt %d failed", brokenRuns)
		}),
	}

	out := newOutputSink()
	if err := RunTests(context.Background(), tests, out, &Config{Retries: 2}); err != nil {
		t.Fatal("RunTests failed: ", err)
	}
	want := []string{
		"start security.Flaky",
		`end security.Flaky skip="" attempts=2`,
		"start security.Broken",
		"error security.Broken: attempt 3 failed",
		`end security.Broken skip="" attempts=3`,
	}
	if diff := cmp.Diff(out.events, want); diff != "" {
		t.Errorf("Events mismatch (-got +want):\n%s", diff)
	}
	// Errors of earlier attempts are kept in the log.
	if logs := strings.Join(out.logs["security.Flaky"], "\n"); !strings.Contains(logs, "device busy") {
		t.Errorf("Log of security.Flaky lacks the first attempt's error:\n%s", logs)
	}
}

func TestRunTestsHooks(t *gotesting.T) {
	td := testutil.TempDir(t)
	var order []string
	tests := []*testing.TestInstance{
		newTest("security.Hooked", func(ctx context.Context, s *testing.State) {
			order = append(order, "test")
			if _, err := os.Stat(s.OutDir()); err != nil {
				s.Error("Output dir missing: ", err)
			}
		}),
	}
	cfg := &Config{
		DataDir: filepath.Join(td, "data"),
		OutDir:  filepath.Join(td, "out"),
		PreTestFunc: func(ctx context.Context, s *testing.State) func(ctx context.Context, s *testing.State) {
			order = append(order, "pre")
			return func(ctx context.Context, s *testing.State) {
				order = append(order, "post hook")
			}
		},
		PostTestFunc: func(ctx context.Context, s *testing.State) {
			order = append(order, "post")
		},
	}
	out := newOutputSink()
	if err := RunTests(context.Background(), tests, out, cfg); err != nil {
		t.Fatal("RunTests failed: ", err)
	}
	if diff := cmp.Diff(order, []string{"pre", "test", "post", "post hook"}); diff != "" {
		t.Errorf("Order mismatch (-got +want):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(td, "out", "security.Hooked")); err != nil {
		t.Error("Output dir was not created: ", err)
	}
}

func TestRunTestsPreTestSkip(t *gotesting.T) {
	ran := false
	tests := []*testing.TestInstance{
		newTest("security.Guarded", func(ctx context.Context, s *testing.State) {
			ran = true
		}),
	}
	cfg := &Config{
		PreTestFunc: func(ctx context.Context, s *testing.State) func(ctx context.Context, s *testing.State) {
			s.Skip("device is not rooted")
			return nil
		},
	}
	out := newOutputSink()
	if err := RunTests(context.Background(), tests, out, cfg); err != nil {
		t.Fatal("RunTests failed: ", err)
	}
	if ran {
		t.Error("Test ran after the pre-test hook skipped it")
	}
	want := []string{"start security.Guarded", `end security.Guarded skip="device is not rooted" attempts=1`}
	if diff := cmp.Diff(out.events, want); diff != "" {
		t.Errorf("Events mismatch (-got +want):\n%s", diff)
	}
}

func TestDeviceHooks(t *gotesting.T) {
	td := testutil.TempDir(t)
	tr := adbtest.New()
	tr.Respond(`logcat -b all -c`, "", 0)
	tr.Respond(`logcat -d -v threadtime`, "05-14 10:21:04.123  1000  1000 I ActivityManager: Start proc\n", 0)
	tr.Respond(`stat -c .*`, "", 1)
	tr.Respond(`ls /data/tombstones`, "", 0)

	tests := []*testing.TestInstance{newTest("security.Diag", func(ctx context.Context, s *testing.State) {})}
	cfg := &Config{
		OutDir:      td,
		DUT:         tr.Device(),
		PreTestFunc: DeviceHooks(tr.Device()),
	}
	out := newOutputSink()
	if err := RunTests(context.Background(), tests, out, cfg); err != nil {
		t.Fatal("RunTests failed: ", err)
	}
	b, err := os.ReadFile(filepath.Join(td, "security.Diag", logcatFilename))
	if err != nil {
		t.Fatal("logcat was not saved: ", err)
	}
	if !strings.Contains(string(b), "ActivityManager") {
		t.Errorf("Saved logcat = %q", b)
	}
}
