// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package instrumentation

import (
	"bufio"
	"strconv"
	"strings"
)

// Status is the outcome of a single instrumented test method.
type Status int

// Test outcomes.
const (
	StatusIncomplete Status = iota
	StatusPassed
	StatusFailed
	StatusIgnored
	StatusAssumptionFailure
)

func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "PASSED"
	case StatusFailed:
		return "FAILED"
	case StatusIgnored:
		return "IGNORED"
	case StatusAssumptionFailure:
		return "ASSUMPTION_FAILURE"
	}
	return "INCOMPLETE"
}

// Status codes of INSTRUMENTATION_STATUS_CODE.
const (
	codeStart             = 1
	codeInProgress        = 2
	codeOK                = 0
	codeError             = -1
	codeFailure           = -2
	codeIgnored           = -3
	codeAssumptionFailure = -4
)

// TestResult is the result of one test method.
type TestResult struct {
	Class  string
	Method string
	Status Status
	// Stack is the failure trace reported for failed and assumption-failed
	// tests.
	Stack string
}

// Name returns "Class#Method".
func (r *TestResult) Name() string { return r.Class + "#" + r.Method }

// Result is a parsed `am instrument -r` run.
type Result struct {
	Tests []TestResult
	// Code is the INSTRUMENTATION_CODE; -1 means the run completed.
	Code int
	// RunError describes a failure of the whole run, e.g. a crash of the
	// instrumented process. It is empty if the run completed.
	RunError string
	// Stream is the runner's summary text.
	Stream string
}

const (
	statusPrefix     = "INSTRUMENTATION_STATUS: "
	statusCodePrefix = "INSTRUMENTATION_STATUS_CODE: "
	resultPrefix     = "INSTRUMENTATION_RESULT: "
	codePrefix       = "INSTRUMENTATION_CODE: "
	failedPrefix     = "INSTRUMENTATION_FAILED: "
	abortedPrefix    = "INSTRUMENTATION_ABORTED: "
)

// Parse parses the raw output of `am instrument -r`.
func Parse(out string) *Result {
	res := &Result{}
	bundle := map[string]string{}
	results := map[string]string{}
	var lastKey string
	var lastMap map[string]string
	var cur *TestResult
	sawCode := false

	setKV := func(m map[string]string, kv string) {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
		lastKey, lastMap = k, m
	}

	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case strings.HasPrefix(line, statusPrefix):
			setKV(bundle, strings.TrimPrefix(line, statusPrefix))
		case strings.HasPrefix(line, statusCodePrefix):
			lastMap = nil
			code, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, statusCodePrefix)))
			if err != nil {
				bundle = map[string]string{}
				continue
			}
			switch code {
			case codeStart:
				res.Tests = append(res.Tests, TestResult{Class: bundle["class"], Method: bundle["test"]})
				cur = &res.Tests[len(res.Tests)-1]
			case codeInProgress:
			default:
				if cur != nil && cur.Class == bundle["class"] && cur.Method == bundle["test"] {
					cur.Status, cur.Stack = statusFor(code), strings.TrimSpace(bundle["stack"])
					cur = nil
				}
			}
			bundle = map[string]string{}
		case strings.HasPrefix(line, resultPrefix):
			setKV(results, strings.TrimPrefix(line, resultPrefix))
		case strings.HasPrefix(line, codePrefix):
			lastMap = nil
			if c, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, codePrefix))); err == nil {
				res.Code = c
				sawCode = true
			}
		case strings.HasPrefix(line, failedPrefix):
			lastMap = nil
			res.RunError = "instrumentation failed: " + strings.TrimPrefix(line, failedPrefix)
		case strings.HasPrefix(line, abortedPrefix):
			lastMap = nil
			res.RunError = "instrumentation aborted: " + strings.TrimPrefix(line, abortedPrefix)
		case lastMap != nil:
			// Values may span lines.
			lastMap[lastKey] += "\n" + line
		}
	}

	res.Stream = strings.TrimSpace(results["stream"])
	if res.RunError == "" {
		if msg := results["shortMsg"]; msg != "" {
			res.RunError = "test run failed: " + strings.TrimSpace(msg)
		} else if !sawCode {
			res.RunError = "test run did not complete"
		}
	}
	if cur != nil && res.RunError == "" {
		res.RunError = "test " + cur.Name() + " did not complete"
	}
	return res
}

func statusFor(code int) Status {
	switch code {
	case codeOK:
		return StatusPassed
	case codeIgnored:
		return StatusIgnored
	case codeAssumptionFailure:
		return StatusAssumptionFailure
	case codeFailure, codeError:
		return StatusFailed
	}
	return StatusFailed
}
