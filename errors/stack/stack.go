// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package stack records call stacks for the errors package. Harness and test
// code should create errors with go.chromium.org/sts/errors instead.
package stack

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	maxDepth = 8
	ellipsis = "\t..."
)

// Stack is a list of program counters captured by New.
type Stack []uintptr

// New records the current goroutine's stack. skip drops that many frames
// above the caller of New, so New(0) starts at the caller.
func New(skip int) Stack {
	var pcs [maxDepth + 1]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	return append(Stack(nil), pcs[:n]...)
}

// String renders s one frame per line as "\tat pkg.Func (file.go:N)". A
// stack deeper than maxDepth ends with a "\t..." line.
func (s Stack) String() string {
	var b strings.Builder
	frames := runtime.CallersFrames(s)
	for n := 0; ; n++ {
		if n == maxDepth {
			b.WriteString("\n" + ellipsis)
			break
		}
		f, more := frames.Next()
		if n > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "\tat %s (%s:%d)", f.Function, filepath.Base(f.File), f.Line)
		if !more {
			break
		}
	}
	return b.String()
}
