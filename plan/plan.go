// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package plan loads test plans written in Starlark.
//
// A plan file calls the builtin plan function once per plan:
//
//	plan(
//	    name = "sts-weekly",
//	    include = ["security.*"],
//	    exclude = ["security.SystemServerRestart"],
//	    attr_expr = '"group:sts" && !informational',
//	    retries = 1,
//	)
package plan

import (
	"os"
	"sort"

	"go.starlark.net/starlark"

	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/testing"
)

// Plan selects tests to run and how to run them.
type Plan struct {
	Name string
	// Include lists test name patterns. Empty means all tests.
	Include []string
	// Exclude lists test name patterns removed from the selection.
	Exclude []string
	// AttrExpr, if non-empty, is an attribute expression selected tests
	// must satisfy.
	AttrExpr string
	// Retries is the number of extra attempts given to a failed test.
	Retries int
}

// Load reads the plans defined in the Starlark file at path.
func Load(path string) ([]*Plan, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, src)
}

// Parse evaluates src, named filename in error messages, and returns the
// plans it defines in definition order.
func Parse(filename string, src []byte) ([]*Plan, error) {
	var plans []*Plan
	seen := make(map[string]bool)

	planFn := func(th *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name, attrExpr string
		var include, exclude *starlark.List
		var retries int
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
			"name", &name,
			"include?", &include,
			"exclude?", &exclude,
			"attr_expr?", &attrExpr,
			"retries?", &retries); err != nil {
			return nil, err
		}
		if name == "" {
			return nil, errors.New("plan: name must not be empty")
		}
		if seen[name] {
			return nil, errors.Errorf("plan: %q defined twice", name)
		}
		if retries < 0 {
			return nil, errors.Errorf("plan: %q has negative retries", name)
		}
		p := &Plan{Name: name, AttrExpr: attrExpr, Retries: retries}
		var err error
		if p.Include, err = stringList(include); err != nil {
			return nil, errors.Wrapf(err, "plan %q: include", name)
		}
		if p.Exclude, err = stringList(exclude); err != nil {
			return nil, errors.Wrapf(err, "plan %q: exclude", name)
		}
		seen[name] = true
		plans = append(plans, p)
		return starlark.None, nil
	}

	th := &starlark.Thread{Name: filename}
	predeclared := starlark.StringDict{
		"plan": starlark.NewBuiltin("plan", planFn),
	}
	if _, err := starlark.ExecFile(th, filename, src, predeclared); err != nil {
		if ee, ok := err.(*starlark.EvalError); ok {
			return nil, errors.New(ee.Backtrace())
		}
		return nil, err
	}
	if len(plans) == 0 {
		return nil, errors.Errorf("%s defines no plans", filename)
	}
	return plans, nil
}

func stringList(l *starlark.List) ([]string, error) {
	if l == nil {
		return nil, nil
	}
	var ss []string
	for i := 0; i < l.Len(); i++ {
		s, ok := starlark.AsString(l.Index(i))
		if !ok {
			return nil, errors.Errorf("element %d is %s, not string", i, l.Index(i).Type())
		}
		ss = append(ss, s)
	}
	return ss, nil
}

// Find returns the plan named name. An empty name is allowed when there is
// exactly one plan.
func Find(plans []*Plan, name string) (*Plan, error) {
	if name == "" {
		if len(plans) == 1 {
			return plans[0], nil
		}
		var names []string
		for _, p := range plans {
			names = append(names, p.Name)
		}
		return nil, errors.Errorf("plan name required; choose one of %v", names)
	}
	for _, p := range plans {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, errors.Errorf("no plan named %q", name)
}

// Select returns the tests in r selected by p, sorted by name.
func (p *Plan) Select(r *testing.Registry) ([]*testing.TestInstance, error) {
	tests := r.AllTests()
	if len(p.Include) > 0 {
		var err error
		if tests, err = r.SelectByPatterns(p.Include); err != nil {
			return nil, err
		}
	}
	drop := make(map[string]bool)
	if len(p.Exclude) > 0 {
		ex, err := r.SelectByPatterns(p.Exclude)
		if err != nil {
			return nil, err
		}
		for _, t := range ex {
			drop[t.Name] = true
		}
	}
	var keep map[string]bool
	if p.AttrExpr != "" {
		ts, err := r.SelectByAttrExpr(p.AttrExpr)
		if err != nil {
			return nil, err
		}
		keep = make(map[string]bool)
		for _, t := range ts {
			keep[t.Name] = true
		}
	}

	var sel []*testing.TestInstance
	for _, t := range tests {
		if drop[t.Name] || (keep != nil && !keep[t.Name]) {
			continue
		}
		sel = append(sel, t)
	}
	sort.Slice(sel, func(i, j int) bool { return sel[i].Name < sel[j].Name })
	return sel, nil
}
