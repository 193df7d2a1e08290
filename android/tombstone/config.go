// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tombstone

import (
	"regexp"

	"golang.org/x/exp/slices"
)

// Signal names.
const (
	SIGSEGV = "SIGSEGV"
	SIGBUS  = "SIGBUS"
	SIGABRT = "SIGABRT"
	SIGILL  = "SIGILL"
	SIGFPE  = "SIGFPE"
	SIGSYS  = "SIGSYS"
	SIGTRAP = "SIGTRAP"
)

// DefaultSignals are the signals a crash must have to be security relevant
// unless a Config says otherwise.
var DefaultSignals = []string{SIGSEGV, SIGBUS}

// lowFaultAddress is the bound below which SIGSEGV/SIGBUS fault addresses
// are treated as plain null dereferences.
const lowFaultAddress = 0x8000

// BacktraceFilter matches a backtrace frame. Nil fields match anything.
type BacktraceFilter struct {
	File     *regexp.Regexp
	Function *regexp.Regexp
}

func (f *BacktraceFilter) matches(fr *Frame) bool {
	if f.File != nil && !f.File.MatchString(fr.File) {
		return false
	}
	if f.Function != nil && !f.Function.MatchString(fr.Function) {
		return false
	}
	return true
}

// Config decides which crashes are security relevant.
type Config struct {
	// ProcessPatterns restricts relevant crashes to processes whose name,
	// base name or crashing thread name matches one of them. Empty means
	// any process.
	ProcessPatterns []*regexp.Regexp
	// Signals a relevant crash must have. Nil means DefaultSignals.
	Signals []string
	// IgnoreLowFaultAddress drops SIGSEGV and SIGBUS crashes with a fault
	// address below 0x8000.
	IgnoreLowFaultAddress bool
	// AbortMessageIncludes, if non-empty, requires the abort message to
	// match one pattern; AbortMessageExcludes rejects crashes whose abort
	// message matches any pattern.
	AbortMessageIncludes []*regexp.Regexp
	AbortMessageExcludes []*regexp.Regexp
	// BacktraceIncludes, if non-empty, requires some frame to match one
	// filter; BacktraceExcludes rejects crashes with any frame matching
	// any filter.
	BacktraceIncludes []BacktraceFilter
	BacktraceExcludes []BacktraceFilter
}

// DefaultConfig returns a Config for crashes of processes matching any of
// processPatterns, with default signals and low fault addresses ignored.
func DefaultConfig(processPatterns ...string) *Config {
	c := &Config{IgnoreLowFaultAddress: true}
	for _, p := range processPatterns {
		c.ProcessPatterns = append(c.ProcessPatterns, regexp.MustCompile(p))
	}
	return c
}

// WithSignals returns c with the relevant signals replaced.
func (c *Config) WithSignals(sigs ...string) *Config {
	c.Signals = sigs
	return c
}

// WithBacktraceInclude adds a frame filter that a crash must match. Empty
// patterns match anything.
func (c *Config) WithBacktraceInclude(file, function string) *Config {
	c.BacktraceIncludes = append(c.BacktraceIncludes, newFilter(file, function))
	return c
}

// WithBacktraceExclude adds a frame filter that rules a crash out.
func (c *Config) WithBacktraceExclude(file, function string) *Config {
	c.BacktraceExcludes = append(c.BacktraceExcludes, newFilter(file, function))
	return c
}

func newFilter(file, function string) BacktraceFilter {
	var f BacktraceFilter
	if file != "" {
		f.File = regexp.MustCompile(file)
	}
	if function != "" {
		f.Function = regexp.MustCompile(function)
	}
	return f
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// SecurityCrash reports whether t is a security relevant crash under c.
func SecurityCrash(t *Tombstone, c *Config) bool {
	if c == nil {
		c = DefaultConfig()
	}
	if len(c.ProcessPatterns) > 0 {
		matched := false
		for _, n := range t.processNames() {
			if matchAny(c.ProcessPatterns, n) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	sigs := c.Signals
	if sigs == nil {
		sigs = DefaultSignals
	}
	if !slices.Contains(sigs, t.SignalName) {
		return false
	}

	if c.IgnoreLowFaultAddress && (t.SignalName == SIGSEGV || t.SignalName == SIGBUS) &&
		t.HasFaultAddress && t.FaultAddress < lowFaultAddress {
		return false
	}

	if len(c.AbortMessageIncludes) > 0 && !matchAny(c.AbortMessageIncludes, t.AbortMessage) {
		return false
	}
	if t.AbortMessage != "" && matchAny(c.AbortMessageExcludes, t.AbortMessage) {
		return false
	}

	if len(c.BacktraceIncludes) > 0 {
		found := false
		for i := range t.Backtrace {
			for j := range c.BacktraceIncludes {
				if c.BacktraceIncludes[j].matches(&t.Backtrace[i]) {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	for i := range t.Backtrace {
		for j := range c.BacktraceExcludes {
			if c.BacktraceExcludes[j].matches(&t.Backtrace[i]) {
				return false
			}
		}
	}
	return true
}
