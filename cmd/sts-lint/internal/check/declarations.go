// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package check

import (
	"go/ast"
	"go/token"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/tools/go/ast/astutil"
)

// Exposed here for unit tests.
const (
	notOnlyTopAddTestMsg = `testing.AddTest() should be the only top level statement of init()`
	addTestArgLitMsg     = `testing.AddTest() should take &testing.Test{...} composite literal`

	noFuncMsg       = `Func field should name the test function`
	funcFileNameMsg = `Func name should match the file name, e.g. FooBar in foo_bar.go`

	noDescMsg         = `Desc field should be filled to describe the test`
	nonLiteralDescMsg = `Desc should be string literal`
	badDescMsg        = `Desc should be capitalized phrases without trailing punctuation, e.g. "Checks that foo is bar"`

	noContactMsg          = `Contacts field should exist to list owners' email addresses`
	nonLiteralContactsMsg = `Contacts field should be an array literal of string literals`
	badContactMsg         = `Contacts should be email addresses`

	nonLiteralAttrMsg         = `Test Attr should be an array literal of string literals`
	noGroupAttrMsg            = `Test Attr should include "group:sts"`
	badCVEAttrMsg             = `CVE attributes should look like "sts_cve:CVE-2021-0487"`
	nonLiteralSoftwareDepsMsg = `Test SoftwareDeps should be an array literal of string literals or constants`
	nonLiteralParamsMsg       = `Test Params should be an array literal of Param struct literals`
	nonLiteralParamNameMsg    = `Name of Param should be a string literal`
)

var cveAttrRegexp = regexp.MustCompile(`^sts_cve:CVE-\d{4}-\d{4,}$`)

// TestDeclarations checks the testing.AddTest calls in f. With fix, Desc
// formatting issues are corrected in place.
func TestDeclarations(fs *token.FileSet, f *ast.File, fix bool) []*Issue {
	filename := fs.Position(f.Package).Filename
	if !IsEntryFile(filename) {
		return nil
	}
	var issues []*Issue
	for _, decl := range f.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || fd.Recv != nil || fd.Name.Name != "init" {
			continue
		}
		issues = append(issues, verifyInit(fs, fd, filename, fix)...)
	}
	return issues
}

func isAddTestCall(node ast.Node) bool {
	call, ok := node.(*ast.CallExpr)
	return ok && toQualifiedName(call.Fun) == "testing.AddTest"
}

func verifyInit(fs *token.FileSet, fd *ast.FuncDecl, filename string, fix bool) []*Issue {
	if len(fd.Body.List) == 1 {
		if st, ok := fd.Body.List[0].(*ast.ExprStmt); ok && isAddTestCall(st.X) {
			return verifyAddTestCall(fs, st.X.(*ast.CallExpr), filename, fix)
		}
	}
	var found ast.Node
	ast.Inspect(fd, func(n ast.Node) bool {
		if found == nil && isAddTestCall(n) {
			found = n
		}
		return found == nil
	})
	if found != nil {
		return []*Issue{{Pos: fs.Position(found.Pos()), Msg: notOnlyTopAddTestMsg}}
	}
	return nil
}

func verifyAddTestCall(fs *token.FileSet, call *ast.CallExpr, filename string, fix bool) []*Issue {
	if len(call.Args) != 1 {
		return nil
	}
	arg, ok := call.Args[0].(*ast.UnaryExpr)
	var comp *ast.CompositeLit
	if ok && arg.Op == token.AND {
		comp, _ = arg.X.(*ast.CompositeLit)
	}
	if comp == nil {
		return []*Issue{{Pos: fs.Position(call.Args[0].Pos()), Msg: addTestArgLitMsg}}
	}

	fields := make(map[string]*ast.KeyValueExpr)
	for _, el := range comp.Elts {
		if kv, ok := el.(*ast.KeyValueExpr); ok {
			if id, ok := kv.Key.(*ast.Ident); ok {
				fields[id.Name] = kv
			}
		}
	}

	pos := fs.Position(call.Args[0].Pos())
	var issues []*Issue
	issues = append(issues, verifyFunc(fs, fields, pos, filename)...)
	issues = append(issues, verifyDesc(fs, fields, pos, fix)...)
	issues = append(issues, verifyContacts(fs, fields, pos)...)
	if kv, ok := fields["Attr"]; ok {
		attrs, is := stringList(fs, kv.Value, nonLiteralAttrMsg)
		issues = append(issues, is...)
		if len(is) == 0 && !contains(attrs, "group:sts") {
			issues = append(issues, &Issue{Pos: fs.Position(kv.Value.Pos()), Msg: noGroupAttrMsg})
		}
		issues = append(issues, verifyCVEAttrs(fs, kv.Value)...)
	} else {
		issues = append(issues, &Issue{Pos: pos, Msg: noGroupAttrMsg})
	}
	if kv, ok := fields["SoftwareDeps"]; ok {
		issues = append(issues, verifySoftwareDeps(fs, kv.Value)...)
	}
	if kv, ok := fields["Params"]; ok {
		issues = append(issues, verifyParams(fs, kv.Value)...)
	}
	return issues
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// stringList returns the values of an array literal of string literals.
func stringList(fs *token.FileSet, node ast.Expr, msg string) ([]string, []*Issue) {
	comp, ok := node.(*ast.CompositeLit)
	if !ok {
		return nil, []*Issue{{Pos: fs.Position(node.Pos()), Msg: msg}}
	}
	var ss []string
	var issues []*Issue
	for _, el := range comp.Elts {
		s, ok := toString(el)
		if !ok {
			issues = append(issues, &Issue{Pos: fs.Position(el.Pos()), Msg: msg})
			continue
		}
		ss = append(ss, s)
	}
	return ss, issues
}

func verifyFunc(fs *token.FileSet, fields map[string]*ast.KeyValueExpr, pos token.Position, filename string) []*Issue {
	kv, ok := fields["Func"]
	if !ok {
		return []*Issue{{Pos: pos, Msg: noFuncMsg}}
	}
	id, ok := kv.Value.(*ast.Ident)
	if !ok {
		return []*Issue{{Pos: fs.Position(kv.Value.Pos()), Msg: noFuncMsg}}
	}
	want := strings.ReplaceAll(strings.TrimSuffix(filepath.Base(filename), ".go"), "_", "")
	if !strings.EqualFold(id.Name, want) {
		return []*Issue{{Pos: fs.Position(id.Pos()), Msg: funcFileNameMsg}}
	}
	return nil
}

func verifyDesc(fs *token.FileSet, fields map[string]*ast.KeyValueExpr, pos token.Position, fix bool) []*Issue {
	kv, ok := fields["Desc"]
	if !ok {
		return []*Issue{{Pos: pos, Msg: noDescMsg}}
	}
	s, ok := toString(kv.Value)
	if !ok {
		return []*Issue{{Pos: fs.Position(kv.Value.Pos()), Msg: nonLiteralDescMsg}}
	}
	if s != "" && unicode.IsUpper(rune(s[0])) && !strings.HasSuffix(s, ".") {
		return nil
	}
	if !fix || s == "" {
		return []*Issue{{Pos: fs.Position(kv.Value.Pos()), Msg: badDescMsg, Fixable: s != ""}}
	}
	astutil.Apply(kv, func(c *astutil.Cursor) bool {
		lit, ok := c.Node().(*ast.BasicLit)
		if !ok || lit.Kind != token.STRING {
			return true
		}
		setString(lit, strings.TrimRight(strings.ToUpper(s[:1])+s[1:], "."))
		return false
	}, nil)
	return nil
}

func verifyContacts(fs *token.FileSet, fields map[string]*ast.KeyValueExpr, pos token.Position) []*Issue {
	kv, ok := fields["Contacts"]
	if !ok {
		return []*Issue{{Pos: pos, Msg: noContactMsg}}
	}
	contacts, issues := stringList(fs, kv.Value, nonLiteralContactsMsg)
	if len(issues) > 0 {
		return issues
	}
	if len(contacts) == 0 {
		return []*Issue{{Pos: fs.Position(kv.Value.Pos()), Msg: noContactMsg}}
	}
	for i, c := range contacts {
		if strings.Count(c, "@") != 1 || strings.HasPrefix(c, "@") || strings.HasSuffix(c, "@") {
			issues = append(issues, &Issue{Pos: fs.Position(kv.Value.(*ast.CompositeLit).Elts[i].Pos()), Msg: badContactMsg})
		}
	}
	return issues
}

// verifyCVEAttrs checks the format of "sts_cve:" attributes in an Attr or
// ExtraAttr literal.
func verifyCVEAttrs(fs *token.FileSet, node ast.Expr) []*Issue {
	comp, ok := node.(*ast.CompositeLit)
	if !ok {
		return nil
	}
	var issues []*Issue
	for _, el := range comp.Elts {
		if s, ok := toString(el); ok && strings.HasPrefix(s, "sts_cve:") && !cveAttrRegexp.MatchString(s) {
			issues = append(issues, &Issue{Pos: fs.Position(el.Pos()), Msg: badCVEAttrMsg})
		}
	}
	return issues
}

// verifySoftwareDeps accepts string literals and named constants.
func verifySoftwareDeps(fs *token.FileSet, node ast.Expr) []*Issue {
	comp, ok := node.(*ast.CompositeLit)
	if !ok {
		return []*Issue{{Pos: fs.Position(node.Pos()), Msg: nonLiteralSoftwareDepsMsg}}
	}
	var issues []*Issue
	for _, el := range comp.Elts {
		if _, ok := toString(el); !ok && toQualifiedName(el) == "" {
			issues = append(issues, &Issue{Pos: fs.Position(el.Pos()), Msg: nonLiteralSoftwareDepsMsg})
		}
	}
	return issues
}

func verifyParams(fs *token.FileSet, node ast.Expr) []*Issue {
	comp, ok := node.(*ast.CompositeLit)
	if !ok {
		return []*Issue{{Pos: fs.Position(node.Pos()), Msg: nonLiteralParamsMsg}}
	}
	var issues []*Issue
	for _, el := range comp.Elts {
		p, ok := el.(*ast.CompositeLit)
		if !ok {
			issues = append(issues, &Issue{Pos: fs.Position(el.Pos()), Msg: nonLiteralParamsMsg})
			continue
		}
		for _, pel := range p.Elts {
			kv, ok := pel.(*ast.KeyValueExpr)
			if !ok {
				continue
			}
			id, ok := kv.Key.(*ast.Ident)
			if !ok {
				continue
			}
			switch id.Name {
			case "Name":
				if _, ok := toString(kv.Value); !ok {
					issues = append(issues, &Issue{Pos: fs.Position(kv.Value.Pos()), Msg: nonLiteralParamNameMsg})
				}
			case "ExtraAttr":
				_, is := stringList(fs, kv.Value, nonLiteralAttrMsg)
				issues = append(issues, is...)
				issues = append(issues, verifyCVEAttrs(fs, kv.Value)...)
			case "ExtraSoftwareDeps":
				issues = append(issues, verifySoftwareDeps(fs, kv.Value)...)
			}
		}
	}
	return issues
}
