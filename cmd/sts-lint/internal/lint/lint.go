// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package lint implements the core part of sts-lint.
package lint

import (
	"bytes"
	"context"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"go.chromium.org/sts/cmd/sts-lint/internal/check"
	"go.chromium.org/sts/errors"
)

// ErrNoTarget is returned by Run when there was no file to check.
var ErrNoTarget = errors.New("no target to check")

// targetFiles expands the directories in args into the Go files below them.
func targetFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		fi, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			files = append(files, arg)
			continue
		}
		if err := filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() && strings.HasSuffix(path, ".go") {
				files = append(files, path)
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return files, nil
}

// checkFile runs all checks against the Go file at path if it belongs to a
// bundle. With fix, the file is rewritten if any check modified it.
func checkFile(path string, fix bool) ([]*check.Issue, error) {
	if !check.IsBundleFile(path) {
		return nil, nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	issues := checkAST(fset, f, fix)
	if fix {
		if err := writeFormatted(path, src, fset, f); err != nil {
			return nil, errors.Wrapf(err, "failed to fix %s", path)
		}
	}
	return issues, nil
}

func checkAST(fset *token.FileSet, f *ast.File, fix bool) []*check.Issue {
	var issues []*check.Issue
	issues = append(issues, check.TestDeclarations(fset, f, fix)...)
	issues = append(issues, check.Messages(fset, f, fix)...)
	return check.DropIgnoredIssues(issues, fset, f)
}

// writeFormatted writes f to path if it differs from src.
func writeFormatted(path string, src []byte, fset *token.FileSet, f *ast.File) error {
	var buf bytes.Buffer
	if err := format.Node(&buf, fset, f); err != nil {
		return err
	}
	if bytes.Equal(buf.Bytes(), src) {
		return nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sts-lint")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := buf.WriteTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Run checks the Go files in args, which may name files or directories,
// and returns the issues found. With fix, fixable issues are corrected in
// place and not returned.
func Run(ctx context.Context, args []string, fix bool) ([]*check.Issue, error) {
	files, err := targetFiles(args)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNoTarget
	}

	var mu sync.Mutex
	var all []*check.Issue
	eg, _ := errgroup.WithContext(ctx)
	for _, path := range files {
		path := path
		eg.Go(func() error {
			issues, err := checkFile(path, fix)
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, issues...)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	check.SortIssues(all)
	return all, nil
}
