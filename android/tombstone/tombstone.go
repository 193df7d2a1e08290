// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package tombstone parses Android native crash dumps and decides whether a
// crash is security relevant.
package tombstone

import (
	"fmt"
	"path"
	"strings"
)

// Frame is a frame of a crashing thread's backtrace.
type Frame struct {
	Index int
	// PC is relative to the start of File.
	PC             uint64
	File           string
	Function       string
	FunctionOffset uint64
	BuildID        string
}

func (f *Frame) String() string {
	s := fmt.Sprintf("#%02d pc %016x  %s", f.Index, f.PC, f.File)
	if f.Function != "" {
		s += fmt.Sprintf(" (%s+%d)", f.Function, f.FunctionOffset)
	}
	return s
}

// Tombstone is a single native crash.
type Tombstone struct {
	// Path is the device path the tombstone was read from.
	Path string

	BuildFingerprint string
	PID              int
	TID              int
	UID              int
	// ThreadName is the name of the crashing thread.
	ThreadName string
	// CommandLine is the crashing process's command line.
	CommandLine []string

	Signal          int
	SignalName      string
	Code            int
	CodeName        string
	HasFaultAddress bool
	FaultAddress    uint64

	AbortMessage string
	// Backtrace is the crashing thread's backtrace, innermost first.
	Backtrace []Frame
}

// ProcessName returns the crashing process's name: its first command line
// argument, or the thread name if the command line is unknown.
func (t *Tombstone) ProcessName() string {
	if len(t.CommandLine) > 0 && t.CommandLine[0] != "" {
		return t.CommandLine[0]
	}
	return t.ThreadName
}

// processNames returns the names a process pattern is matched against.
func (t *Tombstone) processNames() []string {
	n := t.ProcessName()
	names := []string{n}
	if b := path.Base(n); b != n {
		names = append(names, b)
	}
	if t.ThreadName != "" && t.ThreadName != n {
		names = append(names, t.ThreadName)
	}
	return names
}

// String describes the crash in one line plus the top frames.
func (t *Tombstone) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (pid %d, tid %d) crashed with %s (%s)", t.ProcessName(), t.PID, t.TID, t.SignalName, t.CodeName)
	if t.HasFaultAddress {
		fmt.Fprintf(&b, " at 0x%x", t.FaultAddress)
	}
	if t.AbortMessage != "" {
		fmt.Fprintf(&b, ", abort message %q", t.AbortMessage)
	}
	for i, f := range t.Backtrace {
		if i == 8 {
			fmt.Fprintf(&b, "\n  ... %d more frames", len(t.Backtrace)-i)
			break
		}
		b.WriteString("\n  " + f.String())
	}
	return b.String()
}
