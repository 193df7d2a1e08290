// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package check

import (
	"go/ast"
	"go/token"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// entryPathRegexp matches a file declaring a test, e.g.
// "bundles/sts/security/apk_signer_limit.go".
var entryPathRegexp = regexp.MustCompile(`(^|/)bundles/sts/[^/]+/[^/]+\.go$`)

// IsEntryFile reports whether path declares tests.
func IsEntryFile(path string) bool {
	return entryPathRegexp.MatchString(filepath.ToSlash(path)) &&
		!strings.HasSuffix(path, "_test.go") &&
		filepath.Base(path) != "doc.go"
}

// IsBundleFile reports whether path belongs to a test bundle, including
// test helper packages below it.
func IsBundleFile(path string) bool {
	return strings.Contains(filepath.ToSlash(path), "bundles/sts/") &&
		!strings.HasSuffix(path, "_test.go")
}

// toQualifiedName stringifies an identifier or a chain of selectors on an
// identifier, e.g. "testing.AddTest". It returns "" for other nodes.
func toQualifiedName(node ast.Node) string {
	var comp []string
	for {
		sel, ok := node.(*ast.SelectorExpr)
		if !ok {
			break
		}
		comp = append([]string{sel.Sel.Name}, comp...)
		node = sel.X
	}
	id, ok := node.(*ast.Ident)
	if !ok {
		return ""
	}
	return strings.Join(append([]string{id.Name}, comp...), ".")
}

// toString returns the value of a string literal node.
func toString(node ast.Node) (string, bool) {
	lit, ok := node.(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return "", false
	}
	s, err := strconv.Unquote(lit.Value)
	if err != nil {
		return "", false
	}
	return s, true
}

// setString replaces the value of the string literal lit with s, keeping
// raw literals raw where possible.
func setString(lit *ast.BasicLit, s string) {
	if strings.HasPrefix(lit.Value, "`") && strconv.CanBackquote(s) {
		lit.Value = "`" + s + "`"
		return
	}
	lit.Value = strconv.Quote(s)
}
