// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/internal/logging"
	"go.chromium.org/sts/testing"
)

const (
	// TestLogsDir is the results subdirectory holding per-test directories.
	TestLogsDir = "tests"
	// TestLogFilename is the name of the log file in a test's directory.
	TestLogFilename = "log.txt"

	testOutputTimeFmt = "15:04:05.000"
)

// Writer saves test results under a results directory as tests run.
// Per-test logs go to tests/<name>/log.txt, each finished test is appended
// to streamed_results.jsonl, and Close writes the final reports.
//
// Writer implements planner.OutputStream. It is safe for concurrent use.
type Writer struct {
	resDir string
	logger logging.Logger
	clk    clock.Clock

	mu       sync.Mutex
	streamed *StreamedWriter
	results  []*Result
	cur      *Result
	curLog   *os.File
}

// NewWriter creates a Writer saving results to resDir. All messages are
// also sent to logger.
func NewWriter(resDir string, logger logging.Logger, clk clock.Clock) (*Writer, error) {
	if err := os.MkdirAll(filepath.Join(resDir, TestLogsDir), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create results dir")
	}
	sw, err := NewStreamedWriter(filepath.Join(resDir, StreamedResultsFilename))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open streamed results")
	}
	return &Writer{resDir: resDir, logger: logger, clk: clk, streamed: sw}, nil
}

// TestOutDir returns the directory holding outputs of the named test.
func (w *Writer) TestOutDir(name string) string {
	return filepath.Join(w.resDir, TestLogsDir, name)
}

// log writes msg to the current test's log and to w.logger. w.mu must be held.
func (w *Writer) log(level logging.Level, ts time.Time, msg string) error {
	w.logger.Log(level, ts, msg)
	if w.curLog == nil {
		return nil
	}
	_, err := fmt.Fprintln(w.curLog, msg)
	return err
}

// TestStart creates the test's directory and log.
func (w *Writer) TestStart(t *testing.TestInstance) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cur != nil {
		return errors.Errorf("test %s started while %s is running", t.Name, w.cur.Name)
	}

	outDir := w.TestOutDir(t.Name)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(outDir, TestLogFilename))
	if err != nil {
		return err
	}
	w.curLog = f
	w.cur = &Result{TestInstance: *t, Start: w.clk.Now(), OutDir: outDir}
	if err := w.streamed.Append(w.cur); err != nil {
		return err
	}
	return w.log(logging.LevelInfo, w.cur.Start, "Started test "+t.Name)
}

func (w *Writer) checkCurrent(t *testing.TestInstance) error {
	if w.cur == nil || w.cur.Name != t.Name {
		return errors.Errorf("no result for %s", t.Name)
	}
	return nil
}

// TestLog writes a timestamped message to the test's log.
func (w *Writer) TestLog(t *testing.TestInstance, level logging.Level, ts time.Time, msg string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkCurrent(t); err != nil {
		return err
	}
	return w.log(level, ts, fmt.Sprintf("[%s] %s", ts.UTC().Format(testOutputTimeFmt), msg))
}

// TestError records e as an error of the test.
func (w *Writer) TestError(t *testing.TestInstance, e *testing.Error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkCurrent(t); err != nil {
		return err
	}
	w.cur.Errors = append(w.cur.Errors, *e)
	if e.Stack == "" {
		return nil
	}
	return w.log(logging.LevelDebug, e.Time, fmt.Sprintf("[%s] Stack trace:\n%s", e.Time.UTC().Format(testOutputTimeFmt), strings.TrimRight(e.Stack, "\n")))
}

// TestEnd finalizes the test's result.
func (w *Writer) TestEnd(t *testing.TestInstance, skipReason string, attempts int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkCurrent(t); err != nil {
		return err
	}
	res := w.cur
	res.End = w.clk.Now()
	res.SkipReason = skipReason
	res.Attempts = attempts

	if skipReason != "" {
		if err := w.log(logging.LevelInfo, res.End, fmt.Sprintf("Skipped test %s: %s", t.Name, skipReason)); err != nil {
			return err
		}
	}
	if err := w.log(logging.LevelInfo, res.End, fmt.Sprintf("Completed test %s in %v with %d error(s)",
		t.Name, res.End.Sub(res.Start).Round(time.Millisecond), len(res.Errors))); err != nil {
		return err
	}

	w.results = append(w.results, res)
	w.cur = nil
	logErr := w.curLog.Close()
	w.curLog = nil
	if err := w.streamed.ReplaceLast(res); err != nil {
		return err
	}
	return logErr
}

// Results returns the results of the tests finished so far.
func (w *Writer) Results() []*Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*Result(nil), w.results...)
}

// Close writes results.json, results.xml and test_result.xml, and closes
// the streamed results file. A test still running is reported with an error
// stating that it did not complete.
func (w *Writer) Close(info *RunInfo) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cur != nil {
		w.cur.Errors = append(w.cur.Errors, testing.Error{
			Reason: "Test did not finish",
			Time:   w.clk.Now(),
		})
		w.results = append(w.results, w.cur)
		w.curLog.Close()
		w.cur, w.curLog = nil, nil
	}

	if err := w.streamed.Close(); err != nil {
		return err
	}
	if err := WriteResults(filepath.Join(w.resDir, ResultsFilename), w.results); err != nil {
		return errors.Wrap(err, "failed to write results")
	}
	if err := WriteJUnitXMLResults(filepath.Join(w.resDir, JUnitXMLFilename), info.SuiteName, w.results); err != nil {
		return errors.Wrap(err, "failed to write JUnit results")
	}
	if err := WriteXTSResults(filepath.Join(w.resDir, XTSXMLFilename), info, w.results); err != nil {
		return errors.Wrap(err, "failed to write xTS results")
	}
	return nil
}
