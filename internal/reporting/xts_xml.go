// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package reporting

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// XTSXMLFilename is a file name to be used with WriteXTSResults.
const XTSXMLFilename = "test_result.xml"

const (
	xtsReportVersion = "5.0"
	xtsTimeFmt       = "Mon Jan 02 15:04:05 MST 2006"

	xtsPass              = "pass"
	xtsFail              = "fail"
	xtsAssumptionFailure = "ASSUMPTION_FAILURE"
)

// RunInfo describes a test run for the xTS result report.
type RunInfo struct {
	SuiteName    string
	SuiteVersion string
	SuitePlan    string
	// Module names the single module all tests are reported under.
	Module      string
	CommandLine string
	HostName    string

	// Device properties.
	Serial        string
	Fingerprint   string
	ABI           string
	SecurityPatch string
	SDKVersion    int

	Start time.Time
	End   time.Time
}

type xtsResult struct {
	XMLName       xml.Name    `xml:"Result"`
	Start         int64       `xml:"start,attr"`
	End           int64       `xml:"end,attr"`
	StartDisplay  string      `xml:"start_display,attr"`
	EndDisplay    string      `xml:"end_display,attr"`
	SuiteName     string      `xml:"suite_name,attr"`
	SuiteVersion  string      `xml:"suite_version,attr"`
	SuitePlan     string      `xml:"suite_plan,attr"`
	ReportVersion string      `xml:"report_version,attr"`
	CommandLine   string      `xml:"command_line_args,attr"`
	Devices       string      `xml:"devices,attr"`
	HostName      string      `xml:"host_name,attr"`
	Build         xtsBuild    `xml:"Build"`
	Summary       xtsSummary  `xml:"Summary"`
	Modules       []xtsModule `xml:"Module"`
}

type xtsBuild struct {
	Fingerprint   string `xml:"build_fingerprint,attr"`
	ABI           string `xml:"build_abi,attr"`
	SecurityPatch string `xml:"build_version_security_patch,attr"`
	SDK           string `xml:"build_version_sdk,attr"`
}

type xtsSummary struct {
	Pass         int `xml:"pass,attr"`
	Failed       int `xml:"failed,attr"`
	ModulesDone  int `xml:"modules_done,attr"`
	ModulesTotal int `xml:"modules_total,attr"`
}

type xtsModule struct {
	Name       string        `xml:"name,attr"`
	ABI        string        `xml:"abi,attr"`
	Runtime    int64         `xml:"runtime,attr"`
	Done       bool          `xml:"done,attr"`
	Pass       int           `xml:"pass,attr"`
	TotalTests int           `xml:"total_tests,attr"`
	TestCases  []xtsTestCase `xml:"TestCase"`
}

type xtsTestCase struct {
	Name  string    `xml:"name,attr"`
	Tests []xtsTest `xml:"Test"`
}

type xtsTest struct {
	Result  string      `xml:"result,attr"`
	Name    string      `xml:"name,attr"`
	Failure *xtsFailure `xml:"Failure,omitempty"`
}

type xtsFailure struct {
	Message    string `xml:"message,attr"`
	StackTrace string `xml:"StackTrace,omitempty"`
}

// newXTSTest converts r into a Test element. The category of the test name
// becomes the TestCase and the rest the Test name.
func newXTSTest(r *Result) xtsTest {
	_, name, _ := strings.Cut(r.Name, ".")
	t := xtsTest{Name: name}
	switch {
	case r.Failed():
		t.Result = xtsFail
		var stack []string
		for _, e := range r.Errors {
			stack = append(stack, fmt.Sprintf("%s at %s:%d\n%s", e.Reason, e.File, e.Line, e.Stack))
		}
		t.Failure = &xtsFailure{Message: r.Errors[0].Reason, StackTrace: strings.Join(stack, "\n")}
	case r.Skipped():
		t.Result = xtsAssumptionFailure
		t.Failure = &xtsFailure{Message: r.SkipReason}
	default:
		t.Result = xtsPass
	}
	return t
}

// WriteXTSResults saves results to path in the xTS test_result.xml format.
func WriteXTSResults(path string, info *RunInfo, results []*Result) error {
	mod := xtsModule{
		Name:       info.Module,
		ABI:        info.ABI,
		Runtime:    info.End.Sub(info.Start).Milliseconds(),
		Done:       true,
		TotalTests: len(results),
	}
	var failed int
	cases := map[string]int{} // category -> index in mod.TestCases
	for _, r := range results {
		t := newXTSTest(r)
		switch t.Result {
		case xtsPass:
			mod.Pass++
		case xtsFail:
			failed++
		}
		cat := r.Category()
		i, ok := cases[cat]
		if !ok {
			i = len(mod.TestCases)
			cases[cat] = i
			mod.TestCases = append(mod.TestCases, xtsTestCase{Name: cat})
		}
		mod.TestCases[i].Tests = append(mod.TestCases[i].Tests, t)
	}

	res := xtsResult{
		Start:         info.Start.UnixMilli(),
		End:           info.End.UnixMilli(),
		StartDisplay:  info.Start.Format(xtsTimeFmt),
		EndDisplay:    info.End.Format(xtsTimeFmt),
		SuiteName:     info.SuiteName,
		SuiteVersion:  info.SuiteVersion,
		SuitePlan:     info.SuitePlan,
		ReportVersion: xtsReportVersion,
		CommandLine:   info.CommandLine,
		Devices:       info.Serial,
		HostName:      info.HostName,
		Build: xtsBuild{
			Fingerprint:   info.Fingerprint,
			ABI:           info.ABI,
			SecurityPatch: info.SecurityPatch,
			SDK:           strconv.Itoa(info.SDKVersion),
		},
		Summary: xtsSummary{
			Pass:         mod.Pass,
			Failed:       failed,
			ModulesDone:  1,
			ModulesTotal: 1,
		},
		Modules: []xtsModule{mod},
	}

	data, err := xml.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append([]byte(xml.Header), data...), 0644)
}
