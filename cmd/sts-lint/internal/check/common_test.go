// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package check

import (
	"bytes"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

const entryPath = "bundles/sts/security/do_stuff.go"

func parse(t *testing.T, code, filename string) (*ast.File, *token.FileSet) {
	t.Helper()
	fs := token.NewFileSet()
	f, err := parser.ParseFile(fs, filename, code, parser.ParseComments)
	if err != nil {
		t.Fatal("Failed to parse: ", err)
	}
	return f, fs
}

func formatFile(t *testing.T, fs *token.FileSet, f *ast.File) string {
	t.Helper()
	var buf bytes.Buffer
	if err := format.Node(&buf, fs, f); err != nil {
		t.Fatal("Failed to format: ", err)
	}
	return buf.String()
}

// messages returns the messages of issues sorted by position.
func messages(issues []*Issue) []string {
	SortIssues(issues)
	var msgs []string
	for _, i := range issues {
		msgs = append(msgs, i.Msg)
	}
	return msgs
}

func verifyIssues(t *testing.T, issues []*Issue, want []string) {
	t.Helper()
	SortIssues(issues)
	var got []string
	for _, i := range issues {
		got = append(got, i.String())
	}
	if diff := cmp.Diff(got, want, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Issues mismatch (-got +want):\n%s", diff)
	}
}

func TestIsEntryFile(t *testing.T) {
	for _, tc := range []struct {
		path string
		want bool
	}{
		{"bundles/sts/security/apk_signer_limit.go", true},
		{"/src/sts/bundles/sts/security/apk_signer_limit.go", true},
		{"bundles/sts/security/apk_signer_limit_test.go", false},
		{"bundles/sts/security/doc.go", false},
		{"bundles/sts/security/internal/helper.go", false},
		{"android/adb/device.go", false},
	} {
		if got := IsEntryFile(tc.path); got != tc.want {
			t.Errorf("IsEntryFile(%q) = %v; want %v", tc.path, got, tc.want)
		}
	}
}

func TestDropIgnoredIssues(t *testing.T) {
	const code = `package security

func f() {
	s.Log("Ignored.") // NOLINT
	s.Log("Reported.")
}
`
	f, fs := parse(t, code, entryPath)
	issues := DropIgnoredIssues(Messages(fs, f, false), fs, f)
	verifyIssues(t, issues, []string{
		entryPath + ":5:2: s.Log string arg should not contain trailing punctuation",
	})
}
