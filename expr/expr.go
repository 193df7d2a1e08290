// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package expr evaluates boolean expressions over test attributes, e.g.
// `"group:sts" && !informational && "dep:*multiuser*"`.
package expr

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strconv"
	"strings"
)

// Expr holds a parsed boolean expression that matches some combination of attributes.
//
// Expressions are Go boolean expressions restricted to &&, ||, ! and
// parentheses. Attributes that are not valid Go identifiers (e.g. containing
// ':') must be double-quoted. Quoted attributes may contain '*' wildcards.
type Expr struct {
	root  ast.Expr
	globs map[string]*regexp.Regexp // compiled wildcard patterns keyed by source
}

// validator is an ast.Visitor that rejects nodes outside the supported subset
// and compiles wildcard patterns.
type validator struct {
	err   error
	globs map[string]*regexp.Regexp
}

func (v *validator) fail(format string, args ...interface{}) ast.Visitor {
	if v.err == nil {
		v.err = fmt.Errorf(format, args...)
	}
	return nil
}

func (v *validator) Visit(n ast.Node) ast.Visitor {
	if n == nil {
		return nil
	}

	switch n := n.(type) {
	case *ast.BinaryExpr:
		if n.Op != token.LAND && n.Op != token.LOR {
			return v.fail("invalid binary operator %q", n.Op)
		}
	case *ast.UnaryExpr:
		if n.Op != token.NOT {
			return v.fail("invalid unary operator %q", n.Op)
		}
	case *ast.ParenExpr, *ast.Ident:
	case *ast.BasicLit:
		if n.Kind != token.STRING {
			return v.fail("non-string literal %q", n.Value)
		}
		s, err := strconv.Unquote(n.Value)
		if err != nil {
			return v.fail("bad literal %s: %v", n.Value, err)
		}
		if strings.Contains(s, "*") {
			v.globs[s] = globRegexp(s)
		}
	default:
		return v.fail("invalid node of type %T", n)
	}
	return v
}

// globRegexp converts a '*' wildcard pattern into an anchored regexp.
func globRegexp(p string) *regexp.Regexp {
	parts := strings.Split(p, "*")
	for i, s := range parts {
		parts[i] = regexp.QuoteMeta(s)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}

// New parses and validates s.
func New(s string) (*Expr, error) {
	root, err := parser.ParseExpr(s)
	if err != nil {
		return nil, err
	}
	v := validator{globs: make(map[string]*regexp.Regexp)}
	ast.Walk(&v, root)
	if v.err != nil {
		return nil, v.err
	}
	return &Expr{root: root, globs: v.globs}, nil
}

// Matches returns true if the expression is satisfied by attributes attrs.
func (e *Expr) Matches(attrs []string) bool {
	am := make(map[string]struct{}, len(attrs))
	for _, a := range attrs {
		am[a] = struct{}{}
	}
	return e.eval(e.root, am)
}

func (e *Expr) eval(n ast.Expr, attrs map[string]struct{}) bool {
	switch n := n.(type) {
	case *ast.BinaryExpr:
		if n.Op == token.LAND {
			return e.eval(n.X, attrs) && e.eval(n.Y, attrs)
		}
		return e.eval(n.X, attrs) || e.eval(n.Y, attrs)
	case *ast.ParenExpr:
		return e.eval(n.X, attrs)
	case *ast.UnaryExpr:
		return !e.eval(n.X, attrs)
	case *ast.Ident:
		_, ok := attrs[n.Name]
		return ok
	case *ast.BasicLit:
		s, err := strconv.Unquote(n.Value)
		if err != nil {
			return false
		}
		re, ok := e.globs[s]
		if !ok {
			_, ok := attrs[s]
			return ok
		}
		for a := range attrs {
			if re.MatchString(a) {
				return true
			}
		}
	}
	return false
}
