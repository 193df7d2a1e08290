// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package testing provides the infrastructure used by security tests: test
// registration, per-test state, logging and polling.
package testing

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"regexp"
	"runtime"
	"strings"
	"time"

	"go.chromium.org/sts/errors"
)

const (
	testNameAttrPrefix   = "name:"
	testBundleAttrPrefix = "bundle:"
	testDepAttrPrefix    = "dep:"

	// DefaultTestTimeout is used for tests that leave Timeout unset.
	DefaultTestTimeout = 5 * time.Minute
)

var (
	// category.FuncName
	testNameRegexp = regexp.MustCompile(`^[a-z][a-z0-9]*\.[A-Z][A-Za-z0-9]*$`)
	// A word of a test function name, checked against the file name.
	testWordRegexp  = regexp.MustCompile(`^[A-Z0-9]+[a-z0-9]*[A-Z0-9]*$`)
	paramNameRegexp = regexp.MustCompile(`^[a-z0-9_]+$`)
)

// TestFunc is the code associated with a test.
type TestFunc func(context.Context, *State)

// Test describes a test registered by AddTest.
type Test struct {
	// Func is the function executed to perform the test. Its name determines
	// the test name and must match the name of the file declaring it, e.g.
	// ApkSignerLimit in apk_signer_limit.go.
	Func TestFunc
	// Desc is a short one-line description of the test.
	Desc string
	// Contacts lists email addresses of people responsible for the test.
	Contacts []string
	// Attr contains freeform attributes, e.g. "group:sts".
	Attr []string
	// Data lists data files (APKs, PoC binaries) relative to the package's
	// data directory.
	Data []string
	// Vars lists runtime variables the test may read.
	Vars []string
	// SoftwareDeps lists device features required by the test. The test is
	// skipped on devices lacking any of them.
	SoftwareDeps []string
	// Timeout is the maximum duration of Func. DefaultTestTimeout is used if zero.
	Timeout time.Duration
	// Params creates one test instance per element when non-empty.
	Params []Param
}

// Param describes a parameterized variant of a Test.
type Param struct {
	// Name is appended to the test name after a period. It may be empty for
	// one of the params.
	Name              string
	ExtraAttr         []string
	ExtraData         []string
	ExtraSoftwareDeps []string
	// Val is returned by State.Param.
	Val interface{}
	// Timeout overrides Test.Timeout.
	Timeout time.Duration
}

// TestInstance is a runnable test produced from a Test and an optional Param.
// It can be marshaled to JSON, but Func and Val are lost.
type TestInstance struct {
	Name         string        `json:"name"`
	Pkg          string        `json:"pkg"`
	Func         TestFunc      `json:"-"`
	Val          interface{}   `json:"-"`
	Desc         string        `json:"desc"`
	Contacts     []string      `json:"contacts"`
	Attr         []string      `json:"attr"`
	Data         []string      `json:"data"`
	Vars         []string      `json:"vars,omitempty"`
	SoftwareDeps []string      `json:"softwareDeps,omitempty"`
	Timeout      time.Duration `json:"timeout"`
}

func (t *TestInstance) String() string { return t.Name }

// Category returns the first component of the test name, e.g. "security".
func (t *TestInstance) Category() string {
	return strings.SplitN(t.Name, ".", 2)[0]
}

// MissingSoftwareDeps returns the elements of SoftwareDeps not in features.
func (t *TestInstance) MissingSoftwareDeps(features []string) []string {
	have := make(map[string]struct{}, len(features))
	for _, f := range features {
		have[f] = struct{}{}
	}
	var missing []string
	for _, d := range t.SoftwareDeps {
		if _, ok := have[d]; !ok {
			missing = append(missing, d)
		}
	}
	return missing
}

// instantiate validates t and expands it into test instances.
func (t *Test) instantiate() ([]*TestInstance, error) {
	if t.Func == nil {
		return nil, errors.New("missing function")
	}
	info, err := getTestFuncInfo(t.Func)
	if err != nil {
		return nil, err
	}
	if err := checkFuncNameAgainstFilename(info.name, filepath.Base(info.file)); err != nil {
		return nil, err
	}
	name := info.category + "." + info.name
	if !testNameRegexp.MatchString(name) {
		return nil, errors.Errorf("invalid test name %q (want pkg.ExportedTestFunc)", name)
	}
	if t.Timeout < 0 {
		return nil, errors.Errorf("%s has negative timeout %v", name, t.Timeout)
	}
	for _, p := range t.Data {
		if err := validateDataPath(p); err != nil {
			return nil, errors.Wrap(err, name)
		}
	}

	if len(t.Params) == 0 {
		ti, err := t.newInstance(name, info.pkg, nil)
		if err != nil {
			return nil, err
		}
		return []*TestInstance{ti}, nil
	}

	seen := make(map[string]struct{})
	var tis []*TestInstance
	for i := range t.Params {
		p := &t.Params[i]
		if _, ok := seen[p.Name]; ok {
			return nil, errors.Errorf("%s has duplicate param %q", name, p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.Name != "" && !paramNameRegexp.MatchString(p.Name) {
			return nil, errors.Errorf("%s has invalid param name %q", name, p.Name)
		}
		if p.Timeout != 0 && t.Timeout != 0 {
			return nil, errors.Errorf("%s: Param.Timeout and Test.Timeout are both set", name)
		}
		for _, d := range p.ExtraData {
			if err := validateDataPath(d); err != nil {
				return nil, errors.Wrap(err, name)
			}
		}
		ti, err := t.newInstance(name, info.pkg, p)
		if err != nil {
			return nil, err
		}
		tis = append(tis, ti)
	}
	return tis, nil
}

func (t *Test) newInstance(name, pkg string, p *Param) (*TestInstance, error) {
	ti := &TestInstance{
		Name:         name,
		Pkg:          pkg,
		Func:         t.Func,
		Desc:         t.Desc,
		Contacts:     append([]string(nil), t.Contacts...),
		Attr:         append([]string(nil), t.Attr...),
		Data:         append([]string(nil), t.Data...),
		Vars:         append([]string(nil), t.Vars...),
		SoftwareDeps: append([]string(nil), t.SoftwareDeps...),
		Timeout:      t.Timeout,
	}
	if p != nil {
		if p.Name != "" {
			ti.Name += "." + p.Name
		}
		ti.Attr = append(ti.Attr, p.ExtraAttr...)
		ti.Data = append(ti.Data, p.ExtraData...)
		ti.SoftwareDeps = append(ti.SoftwareDeps, p.ExtraSoftwareDeps...)
		ti.Val = p.Val
		if p.Timeout != 0 {
			ti.Timeout = p.Timeout
		}
	}
	if ti.Timeout == 0 {
		ti.Timeout = DefaultTestTimeout
	}
	if err := ti.addAutoAttributes(); err != nil {
		return nil, err
	}
	return ti, nil
}

func (t *TestInstance) addAutoAttributes() error {
	for _, attr := range t.Attr {
		for _, pre := range []string{testNameAttrPrefix, testBundleAttrPrefix, testDepAttrPrefix} {
			if strings.HasPrefix(attr, pre) {
				return errors.Errorf("%s: attribute %q has reserved prefix", t.Name, attr)
			}
		}
	}
	t.Attr = append(t.Attr, testNameAttrPrefix+t.Name)
	if comps := strings.Split(t.Pkg, "/"); len(comps) >= 2 {
		t.Attr = append(t.Attr, testBundleAttrPrefix+comps[len(comps)-2])
	}
	for _, dep := range t.SoftwareDeps {
		t.Attr = append(t.Attr, testDepAttrPrefix+dep)
	}
	return nil
}

func validateDataPath(p string) error {
	if p != filepath.Clean(p) || strings.HasPrefix(p, ".") || strings.HasPrefix(p, "/") {
		return errors.Errorf("data path %q is invalid", p)
	}
	return nil
}

type testFuncInfo struct {
	pkg      string // e.g. "go.chromium.org/sts/bundles/sts/security"
	category string // e.g. "security"
	name     string // e.g. "ApkSignerLimit"
	file     string // full source path
}

func getTestFuncInfo(f TestFunc) (*testFuncInfo, error) {
	pc := reflect.ValueOf(f).Pointer()
	rf := runtime.FuncForPC(pc)
	if rf == nil {
		return nil, errors.New("failed to get function from PC")
	}
	full := rf.Name()
	i := strings.LastIndex(full, "/")
	j := strings.Index(full[i+1:], ".")
	if j < 0 {
		return nil, errors.Errorf("didn't find package.function in %q", full)
	}
	pkg := full[:i+1+j]
	info := &testFuncInfo{
		pkg:      pkg,
		category: pkg[i+1:],
		name:     full[i+1+j+1:],
	}
	info.file, _ = rf.FileLine(pc)
	return info, nil
}

// checkFuncNameAgainstFilename verifies that a test function name (e.g.
// "ApkSignerLimit") matches its file name (e.g. "apk_signer_limit.go").
func checkFuncNameAgainstFilename(funcName, filename string) error {
	if strings.ToLower(filename) != filename {
		return fmt.Errorf("filename %q isn't lowercase", filename)
	}
	const goExt = ".go"
	if filepath.Ext(filename) != goExt {
		return fmt.Errorf("filename %q doesn't have extension %q", filename, goExt)
	}

	idx := 0
	for _, fileWord := range strings.Split(strings.TrimSuffix(filename, goExt), "_") {
		if fileWord == "" {
			return fmt.Errorf("empty word in filename %q", filename)
		}
		if idx+len(fileWord) > len(funcName) {
			return fmt.Errorf("name %q doesn't include all of filename %q", funcName, filename)
		}
		funcWord := funcName[idx : idx+len(fileWord)]
		if !strings.EqualFold(funcWord, fileWord) {
			return fmt.Errorf("word %q at %q[%d] doesn't match %q in filename %q", funcWord, funcName, idx, fileWord, filename)
		}
		// Acronyms are allowed at the beginning and end of words, e.g. CVE20210330.
		if !testWordRegexp.MatchString(funcWord) {
			return fmt.Errorf("word %q at %q[%d] is not capitalized like a Go name", funcWord, funcName, idx)
		}
		idx += len(funcWord)
	}
	if idx < len(funcName) {
		return fmt.Errorf("name %q has extra suffix %q not in filename %q", funcName, funcName[idx:], filename)
	}
	return nil
}
