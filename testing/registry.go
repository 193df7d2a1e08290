// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package testing

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/expr"
)

// Registry holds test instances.
type Registry struct {
	mu    sync.Mutex
	tests []*TestInstance
	names map[string]struct{}
	errs  []error
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// AddTest validates t and adds its instances. Errors are also retained and
// returned by Errors so that registrations from init functions can be
// reported once the process starts.
func (r *Registry) AddTest(t *Test) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.addTest(t)
	if err != nil {
		r.errs = append(r.errs, err)
	}
	return err
}

func (r *Registry) addTest(t *Test) error {
	tis, err := t.instantiate()
	if err != nil {
		return err
	}
	for _, ti := range tis {
		if _, ok := r.names[ti.Name]; ok {
			return errors.Errorf("test %s is already registered", ti.Name)
		}
	}
	for _, ti := range tis {
		r.names[ti.Name] = struct{}{}
		r.tests = append(r.tests, ti)
	}
	return nil
}

// Errors returns errors from failed registrations.
func (r *Registry) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// AllTests returns all registered tests sorted by name.
func (r *Registry) AllTests() []*TestInstance {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := append([]*TestInstance(nil), r.tests...)
	sort.Slice(ts, func(i, j int) bool { return ts[i].Name < ts[j].Name })
	return ts
}

// Select returns tests matched by args, which are either test name patterns
// containing '*' wildcards or a single attribute expression enclosed in
// parentheses, e.g. `("group:sts" && !informational)`. No args selects all
// tests.
func (r *Registry) Select(args []string) ([]*TestInstance, error) {
	if len(args) == 1 && strings.HasPrefix(args[0], "(") && strings.HasSuffix(args[0], ")") {
		return r.SelectByAttrExpr(args[0][1 : len(args[0])-1])
	}
	if len(args) == 0 {
		return r.AllTests(), nil
	}
	return r.SelectByPatterns(args)
}

// SelectByPatterns returns tests whose names match any of ps.
func (r *Registry) SelectByPatterns(ps []string) ([]*TestInstance, error) {
	var res []*regexp.Regexp
	for _, p := range ps {
		re, err := compilePattern(p)
		if err != nil {
			return nil, err
		}
		res = append(res, re)
	}
	var sel []*TestInstance
	for _, t := range r.AllTests() {
		for _, re := range res {
			if re.MatchString(t.Name) {
				sel = append(sel, t)
				break
			}
		}
	}
	return sel, nil
}

// SelectByAttrExpr returns tests whose attributes satisfy the boolean
// expression s, e.g. `"group:sts" && !"dep:multiuser"`.
func (r *Registry) SelectByAttrExpr(s string) ([]*TestInstance, error) {
	e, err := expr.New(s)
	if err != nil {
		return nil, errors.Wrapf(err, "bad expr %q", s)
	}
	var sel []*TestInstance
	for _, t := range r.AllTests() {
		if e.Matches(t.Attr) {
			sel = append(sel, t)
		}
	}
	return sel, nil
}

func compilePattern(p string) (*regexp.Regexp, error) {
	for _, ch := range p {
		if !(ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' || strings.ContainsRune("._*", ch)) {
			return nil, errors.Errorf("bad pattern %q: invalid character %q", p, ch)
		}
	}
	parts := strings.Split(p, "*")
	for i, s := range parts {
		parts[i] = regexp.QuoteMeta(s)
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}

var globalRegistry = NewRegistry()

// GlobalRegistry returns the registry that AddTest populates.
func GlobalRegistry() *Registry { return globalRegistry }

// AddTest adds t to the global registry. It is typically called from init
// functions of test packages. Registration errors are reported when the
// command starts.
func AddTest(t *Test) {
	globalRegistry.AddTest(t)
}
