// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package reporting

import (
	"encoding/xml"
	"fmt"
	"os"
	"time"
)

// JUnitXMLFilename is a file name to be used with WriteJUnitXMLResults.
const JUnitXMLFilename = "results.xml"

// testSuites is the top level XML element of JUnit result.
type testSuites struct {
	XMLName   xml.Name
	TestSuite testSuite `xml:"testsuite"`
}

// testSuite is an XML element in JUnit result. Errors and failures are not
// distinguished; both are reported as failures.
type testSuite struct {
	TestCase []*testCase `xml:"testcase"`

	Name     string `xml:"name,attr,omitempty"`
	Tests    int    `xml:"tests,attr"`
	Failures int    `xml:"failures,attr"`
	Skipped  int    `xml:"skipped,attr"`
}

// testCase is an element in JUnit XML test result.
type testCase struct {
	Name      string `xml:"name,attr"`
	ClassName string `xml:"classname,attr,omitempty"`
	Status    string `xml:"status,attr"`         // run or notrun
	Result    string `xml:"result,attr"`         // more detailed result
	Timestamp string `xml:"timestamp,attr"`      // start time, in ISO8601
	Time      string `xml:"time,attr,omitempty"` // duration, in seconds (with a decimal point)

	Failure []*failure `xml:"failure,omitempty"`
	Skipped *skipped   `xml:"skipped,omitempty"`
}

// failure is an element in JUnit XML test result, representing a test case failure.
type failure struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Details string `xml:",cdata"`
}

// skipped is an element in JUnit XML test result, representing a skipped test case.
type skipped struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
}

// WriteJUnitXMLResults saves test results to path in the JUnit XML format.
// suite names the test suite element.
func WriteJUnitXMLResults(path, suite string, results []*Result) error {
	suites := testSuites{
		XMLName: xml.Name{Local: "testsuites"},
		TestSuite: testSuite{
			Name:  suite,
			Tests: len(results),
		},
	}
	ts := &suites.TestSuite
	for _, r := range results {
		tc := testCase{
			Name:      r.Name,
			ClassName: r.Category(),
			Timestamp: r.Start.UTC().Format(time.RFC3339),
			// "1.0" rather than "1" for one second.
			Time: fmt.Sprintf("%.1f", r.End.Sub(r.Start).Seconds()),
		}
		switch {
		case r.Failed():
			tc.Status = "run"
			tc.Result = "completed"
			for _, e := range r.Errors {
				tc.Failure = append(tc.Failure, &failure{
					Message: e.Reason,
					Details: fmt.Sprintf("%s:%d\n%s", e.File, e.Line, e.Stack),
				})
			}
			ts.Failures++
		case r.Skipped():
			tc.Status = "notrun"
			tc.Result = "skipped"
			tc.Skipped = &skipped{Message: r.SkipReason}
			ts.Skipped++
		default:
			tc.Status = "run"
			tc.Result = "completed"
		}
		ts.TestCase = append(ts.TestCase, &tc)
	}

	data, err := xml.MarshalIndent(suites, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append([]byte(xml.Header), data...), 0644)
}
