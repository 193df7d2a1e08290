// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package main implements the sts-lint executable, which checks test
// declarations and messages in test bundles.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.chromium.org/sts/cmd/sts-lint/internal/check"
	"go.chromium.org/sts/cmd/sts-lint/internal/lint"
	"go.chromium.org/sts/shutil"
)

// report prints issues to stdout.
func report(issues []*check.Issue) {
	for _, i := range issues {
		fmt.Println(" ", i)
	}
}

func doMain() int {
	fix := flag.Bool("fix", false, "modifies auto-fixable errors automatically")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flag]... <file or dir>...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	issues, err := lint.Run(context.Background(), flag.Args(), *fix)
	if err == lint.ErrNoTarget {
		flag.Usage()
		return 2
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "sts-lint:", err)
		return 1
	}
	if len(issues) == 0 {
		return 0
	}

	var fixable, unfixable []*check.Issue
	for _, i := range issues {
		if i.Fixable {
			fixable = append(fixable, i)
		} else {
			unfixable = append(unfixable, i)
		}
	}
	if len(unfixable) > 0 {
		fmt.Println("Following errors should be modified by yourself:")
		report(unfixable)
		fmt.Println()
	}
	if len(fixable) > 0 {
		fmt.Println("Following errors can be automatically modified:")
		report(fixable)
		fmt.Println()
		cmd := append([]string{os.Args[0], "-fix"}, os.Args[1:]...)
		fmt.Printf("  You can run `%s` to fix this\n\n", shutil.EscapeSlice(cmd))
	}
	return 1
}

func main() {
	os.Exit(doMain())
}
