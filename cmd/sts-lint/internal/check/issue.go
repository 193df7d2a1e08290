// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package check implements the individual checks run by sts-lint.
package check

import (
	"fmt"
	"go/ast"
	"go/token"
	"sort"
	"strings"
)

// Issue is a problem found in a source file.
type Issue struct {
	Pos     token.Position
	Msg     string
	Fixable bool // sts-lint -fix can rewrite the code
}

func (i *Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Pos, i.Msg)
}

// SortIssues sorts issues by file and offset.
func SortIssues(issues []*Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		pi, pj := issues[i].Pos, issues[j].Pos
		if pi.Filename != pj.Filename {
			return pi.Filename < pj.Filename
		}
		return pi.Offset < pj.Offset
	})
}

// DropIgnoredIssues drops issues reported on a line where a comment
// containing NOLINT starts.
func DropIgnoredIssues(issues []*Issue, fs *token.FileSet, f *ast.File) []*Issue {
	ignored := make(map[int]bool)
	for _, cg := range f.Comments {
		if strings.Contains(cg.Text(), "NOLINT") {
			ignored[fs.Position(cg.Pos()).Line] = true
		}
	}
	var kept []*Issue
	for _, issue := range issues {
		if !ignored[issue.Pos.Line] {
			kept = append(kept, issue)
		}
	}
	return kept
}
