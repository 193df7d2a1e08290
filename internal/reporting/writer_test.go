// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package reporting

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	gotesting "testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/google/go-cmp/cmp"

	"go.chromium.org/sts/internal/logging"
	"go.chromium.org/sts/testing"
	"go.chromium.org/sts/testutil"
)

var epoch = time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC)

// runFakeTests feeds w with a passing, a failing and a skipped test.
func runFakeTests(t *gotesting.T, w *Writer, clk *fakeclock.FakeClock) {
	t.Helper()
	pass := &testing.TestInstance{Name: "security.Pass", Pkg: "go.chromium.org/sts/bundles/sts/security", Timeout: time.Minute}
	fail := &testing.TestInstance{Name: "security.Fail", Pkg: "go.chromium.org/sts/bundles/sts/security", Timeout: time.Minute}
	skip := &testing.TestInstance{Name: "security.Skip", Pkg: "go.chromium.org/sts/bundles/sts/security", Timeout: time.Minute}

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}

	must(w.TestStart(pass))
	must(w.TestLog(pass, logging.LevelInfo, clk.Now(), "Installing helper"))
	clk.Increment(2 * time.Second)
	must(w.TestEnd(pass, "", 1))

	must(w.TestStart(fail))
	must(w.TestLog(fail, logging.LevelInfo, clk.Now(), "Error at poc.go:12: PoC exited with 113"))
	must(w.TestError(fail, &testing.Error{Reason: "PoC exited with 113", File: "poc.go", Line: 12, Stack: "stacktrace", Time: clk.Now()}))
	clk.Increment(time.Second)
	must(w.TestEnd(fail, "", 2))

	must(w.TestStart(skip))
	must(w.TestEnd(skip, "missing SoftwareDeps: android.hardware.nfc", 0))
}

func TestWriter(t *gotesting.T) {
	td := testutil.TempDir(t)
	clk := fakeclock.NewFakeClock(epoch)
	var full []string
	logger := logging.NewFuncLogger(func(level logging.Level, ts time.Time, msg string) {
		full = append(full, msg)
	})

	w, err := NewWriter(td, logger, clk)
	if err != nil {
		t.Fatal("NewWriter failed: ", err)
	}
	runFakeTests(t, w, clk)
	info := &RunInfo{SuiteName: "STS", Module: "StsHostTestCases", Start: epoch, End: clk.Now()}
	if err := w.Close(info); err != nil {
		t.Fatal("Close failed: ", err)
	}

	files, err := testutil.ReadFiles(filepath.Join(td, TestLogsDir))
	if err != nil {
		t.Fatal(err)
	}
	wantLogs := map[string]string{
		"security.Pass/log.txt": `Started test security.Pass
[10:00:00.000] Installing helper
Completed test security.Pass in 2s with 0 error(s)
`,
		"security.Fail/log.txt": `Started test security.Fail
[10:00:02.000] Error at poc.go:12: PoC exited with 113
[10:00:02.000] Stack trace:
stacktrace
Completed test security.Fail in 1s with 1 error(s)
`,
		"security.Skip/log.txt": `Started test security.Skip
Skipped test security.Skip: missing SoftwareDeps: android.hardware.nfc
Completed test security.Skip in 0s with 0 error(s)
`,
	}
	if diff := cmp.Diff(files, wantLogs); diff != "" {
		t.Errorf("Test logs mismatch (-got +want):\n%s", diff)
	}
	if got := strings.Join(full, "\n"); !strings.Contains(got, "Completed test security.Fail in 1s with 1 error(s)") {
		t.Errorf("Full log lacks completion of security.Fail:\n%s", got)
	}

	results, err := ReadResults(filepath.Join(td, ResultsFilename))
	if err != nil {
		t.Fatal("ReadResults failed: ", err)
	}
	type summary struct {
		Name       string
		Errors     int
		SkipReason string
		Attempts   int
		Duration   time.Duration
	}
	var got []summary
	for _, r := range results {
		got = append(got, summary{r.Name, len(r.Errors), r.SkipReason, r.Attempts, r.End.Sub(r.Start)})
	}
	want := []summary{
		{"security.Pass", 0, "", 1, 2 * time.Second},
		{"security.Fail", 1, "", 2, time.Second},
		{"security.Skip", 0, "missing SoftwareDeps: android.hardware.nfc", 0, 0},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Results mismatch (-got +want):\n%s", diff)
	}
	if want := filepath.Join(td, TestLogsDir, "security.Fail"); results[1].OutDir != want {
		t.Errorf("OutDir = %q; want %q", results[1].OutDir, want)
	}

	for _, fn := range []string{JUnitXMLFilename, XTSXMLFilename} {
		if _, err := os.Stat(filepath.Join(td, fn)); err != nil {
			t.Errorf("%s not written: %v", fn, err)
		}
	}
}

func TestWriterStreamedResults(t *gotesting.T) {
	td := testutil.TempDir(t)
	clk := fakeclock.NewFakeClock(epoch)
	w, err := NewWriter(td, logging.NewMultiLogger(), clk)
	if err != nil {
		t.Fatal("NewWriter failed: ", err)
	}
	runFakeTests(t, w, clk)

	// Streamed results are complete before Close.
	f, err := os.Open(filepath.Join(td, StreamedResultsFilename))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Result
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("Bad line %q: %v", sc.Text(), err)
		}
		if r.End.IsZero() {
			t.Errorf("Result of %s has no end time", r.Name)
		}
		names = append(names, r.Name)
	}
	if diff := cmp.Diff(names, []string{"security.Pass", "security.Fail", "security.Skip"}); diff != "" {
		t.Errorf("Streamed results mismatch (-got +want):\n%s", diff)
	}
}

func TestWriterUnfinishedTest(t *gotesting.T) {
	td := testutil.TempDir(t)
	clk := fakeclock.NewFakeClock(epoch)
	w, err := NewWriter(td, logging.NewMultiLogger(), clk)
	if err != nil {
		t.Fatal("NewWriter failed: ", err)
	}
	hung := &testing.TestInstance{Name: "security.Hung"}
	if err := w.TestStart(hung); err != nil {
		t.Fatal(err)
	}
	if err := w.TestStart(&testing.TestInstance{Name: "security.Other"}); err == nil {
		t.Error("TestStart succeeded while another test is running")
	}
	if err := w.Close(&RunInfo{}); err != nil {
		t.Fatal("Close failed: ", err)
	}
	results := w.Results()
	if len(results) != 1 || len(results[0].Errors) != 1 {
		t.Fatalf("Results = %+v; want one failed result", results)
	}
	if got, want := results[0].Errors[0].Reason, "Test did not finish"; got != want {
		t.Errorf("Reason = %q; want %q", got, want)
	}
}
