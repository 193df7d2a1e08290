// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package check

import (
	"fmt"
	"go/ast"
	"go/token"
	"regexp"
	"strings"

	"golang.org/x/tools/go/ast/astutil"
)

// msgKind is the kind of message passed to a checked call.
type msgKind int

const (
	logMsg  msgKind = iota // s.Log, testing.ContextLog
	failMsg                // s.Error, s.Fatal, s.Skip
	errMsg                 // errors.New, errors.Wrap
)

// msgFunc describes a function whose message argument is checked.
type msgFunc struct {
	kind   msgKind
	offset int    // index of the message argument
	plain  string // non-format variant
	format string // format variant
}

var msgFuncs = map[string]msgFunc{}

func init() {
	for _, f := range []msgFunc{
		{logMsg, 0, "s.Log", "s.Logf"},
		{logMsg, 1, "testing.ContextLog", "testing.ContextLogf"},
		{failMsg, 0, "s.Error", "s.Errorf"},
		{failMsg, 0, "s.Fatal", "s.Fatalf"},
		{failMsg, 0, "s.Skip", "s.Skipf"},
		{errMsg, 0, "errors.New", "errors.Errorf"},
		{errMsg, 1, "errors.Wrap", "errors.Wrapf"},
	} {
		msgFuncs[f.plain] = f
		msgFuncs[f.format] = f
	}
}

var (
	verbRegexp         = regexp.MustCompile(`%[#+\- 0]*\d*(\.\d+)?[bcdefgoqstvxX]`)
	quotedVerbRegexp   = regexp.MustCompile(`"%[sv]"|'%[sv]'`)
	lowercaseErrPrefix = []string{"can't", "cannot", "could", "couldn't", "didn't", "expected", "failed", "got", "invalid", "no", "unexpected", "unknown", "unsupported"}
)

func countVerbs(s string) int {
	return strings.Count(s, "%") - 2*strings.Count(s, "%%")
}

// isErrIdent reports whether e looks like an error value. Types are not
// available, so variables named err are assumed to be errors.
func isErrIdent(e ast.Expr) bool {
	id, ok := e.(*ast.Ident)
	return ok && id.Name == "err"
}

// Messages checks the messages passed to logging, test failure and error
// construction calls. With fix, fixable issues are corrected in place.
func Messages(fs *token.FileSet, f *ast.File, fix bool) []*Issue {
	var issues []*Issue
	astutil.Apply(f, func(c *astutil.Cursor) bool {
		call, ok := c.Node().(*ast.CallExpr)
		if !ok {
			return true
		}
		name := toQualifiedName(call.Fun)
		mf, ok := msgFuncs[name]
		if !ok || len(call.Args) <= mf.offset {
			return true
		}
		issues = append(issues, checkMessage(fs, call, name, mf, fix)...)
		return true
	}, nil)
	return issues
}

func checkMessage(fs *token.FileSet, call *ast.CallExpr, name string, mf msgFunc, fix bool) []*Issue {
	var issues []*Issue
	report := func(msg string, fixable bool) {
		if fix && fixable {
			return
		}
		issues = append(issues, &Issue{Pos: fs.Position(call.Pos()), Msg: msg, Fixable: fixable})
	}

	isFormat := name == mf.format
	args := call.Args[mf.offset:]
	lit, _ := args[0].(*ast.BasicLit)
	msg, isLit := toString(args[0])

	rename := func(to string) {
		if sel, ok := call.Fun.(*ast.SelectorExpr); ok {
			sel.Sel.Name = strings.TrimPrefix(to, toQualifiedName(sel.X)+".")
		}
	}

	if len(args) == 1 && isErrIdent(args[0]) && mf.kind != errMsg {
		report(fmt.Sprintf(`Use %s("Something failed: ", err) instead of %s(err)`, mf.plain, name), false)
	}
	if !isLit {
		return issues
	}

	if isFormat {
		switch {
		case len(args) == 1 && countVerbs(msg) == 0:
			report(fmt.Sprintf(`Use %s instead of %s for a plain string`, mf.plain, name), true)
			if fix {
				rename(mf.plain)
			}
		case countVerbs(msg) != len(args)-1:
			report("The number of verbs in format literal mismatches with the number of arguments", false)
		}
		if quotedVerbRegexp.MatchString(msg) {
			report("Use %q to quote values instead of manually quoting them", true)
			if fix {
				msg = quotedVerbRegexp.ReplaceAllString(msg, "%q")
			}
		}
		if name == "errors.Errorf" && len(args) >= 2 && isErrIdent(args[len(args)-1]) && strings.HasSuffix(msg, ": %v") {
			report(`Use errors.Wrap(err, "<msg>") instead of errors.Errorf("<msg>: %v", err)`, false)
		}
		if name == "errors.Wrapf" {
			for _, a := range args[1:] {
				if isErrIdent(a) {
					report(`Use errors.Wrap(err, "<msg>") instead of errors.Wrapf(err, "<msg>: %v", err)`, false)
					break
				}
			}
		}
	} else if verbRegexp.MatchString(msg) {
		report(fmt.Sprintf("%s has verbs in the first string (do you mean %s?)", name, mf.format), false)
	}

	if !isFormat && mf.kind != errMsg && len(args) == 2 && isErrIdent(args[1]) && !strings.HasSuffix(msg, ": ") {
		report(fmt.Sprintf(`%s string arg should end with ": " when followed by error`, name), true)
		if fix {
			msg = strings.TrimRight(msg, ".!: ") + ": "
		}
	}
	if name == "errors.Wrap" && strings.HasSuffix(strings.TrimSpace(msg), ":") {
		report(`errors.Wrap message should not end with a colon`, true)
		if fix {
			msg = strings.TrimSuffix(strings.TrimSpace(msg), ":")
		}
	}

	if msg == "" {
		if mf.kind != logMsg {
			report("Error message should have some surrounding context, so must not empty", false)
		}
	} else {
		if strings.HasSuffix(msg, ".") || strings.HasSuffix(msg, "!") {
			report(fmt.Sprintf("%s string arg should not contain trailing punctuation", name), true)
			if fix {
				msg = strings.TrimRight(msg, ".!")
			}
		}
		if strings.Contains(msg, "\n") {
			report(fmt.Sprintf("%s string arg should not contain embedded newlines", name), false)
		}
		if fixed, ok := fixCase(msg, mf.kind); !ok {
			switch mf.kind {
			case errMsg:
				report("Messages of the error type should not be capitalized", true)
			case logMsg:
				report("Log messages should be capitalized", true)
			default:
				report("Test failure messages should be capitalized", true)
			}
			if fix {
				msg = fixed
			}
		}
	}

	if fix && lit != nil {
		if old, _ := toString(lit); old != msg {
			setString(lit, msg)
		}
	}
	return issues
}

// fixCase checks the capitalization of msg's first word when it is one of
// a few common words. It returns the corrected message and whether msg was
// already correct.
func fixCase(msg string, kind msgKind) (string, bool) {
	for _, w := range lowercaseErrPrefix {
		if !strings.HasPrefix(strings.ToLower(msg), w+" ") {
			continue
		}
		want := w
		if kind != errMsg {
			want = strings.ToUpper(w[:1]) + w[1:]
		}
		if strings.HasPrefix(msg, want) {
			return msg, true
		}
		return want + msg[len(want):], false
	}
	return msg, true
}
