// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package adbtest provides a scripted in-memory device for unit tests.
package adbtest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.chromium.org/sts/android/adb"
	"go.chromium.org/sts/errors"
)

// HandlerFunc computes the response to a shell command. m holds the
// submatches of the pattern the handler was registered with.
type HandlerFunc func(cmd string, m []string) (out string, exitCode int)

type handler struct {
	re *regexp.Regexp
	fn HandlerFunc
}

// File is a file on the fake device.
type File struct {
	Data []byte
	Mode os.FileMode
}

// Transport is an adb.Transport backed by scripted shell responses and an
// in-memory file system.
//
// Shell commands are matched against registered handlers, most recent
// first. Unmatched commands fall back to a few built-in file commands (test
// -e, rm -rf, mkdir -p, ls -1, chmod) and otherwise exit with 127.
type Transport struct {
	mu       sync.Mutex
	serial   string
	handlers []handler
	files    map[string]*File
	cmds     []string
	state    string
	rootOut  []string
	rootRuns int
	closed   bool
}

var _ adb.Transport = (*Transport)(nil)

// New returns a fake transport for an online device.
func New() *Transport {
	return &Transport{
		serial: "fake-serial",
		files:  make(map[string]*File),
		state:  "device",
	}
}

// Device returns an adb.Device using t.
func (t *Transport) Device() *adb.Device { return adb.New(t) }

// Handle registers fn for commands fully matching the regexp pattern.
func (t *Transport) Handle(pattern string, fn HandlerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, handler{regexp.MustCompile("^(?:" + pattern + ")$"), fn})
}

// Respond registers a fixed response for commands fully matching pattern.
func (t *Transport) Respond(pattern, out string, exitCode int) {
	t.Handle(pattern, func(string, []string) (string, int) { return out, exitCode })
}

// RespondSeq registers responses returned in order for commands matching
// pattern; the last one repeats once the others are used up.
func (t *Transport) RespondSeq(pattern string, outs ...string) {
	var mu sync.Mutex
	i := 0
	t.Handle(pattern, func(string, []string) (string, int) {
		mu.Lock()
		defer mu.Unlock()
		out := outs[i]
		if i < len(outs)-1 {
			i++
		}
		return out, 0
	})
}

// Commands returns the shell commands run so far.
func (t *Transport) Commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.cmds...)
}

// Ran reports whether a command fully matching pattern was run.
func (t *Transport) Ran(pattern string) bool {
	re := regexp.MustCompile("^(?:" + pattern + ")$")
	for _, c := range t.Commands() {
		if re.MatchString(c) {
			return true
		}
	}
	return false
}

// SetFile creates or replaces a file on the device.
func (t *Transport) SetFile(p string, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[path.Clean(p)] = &File{Data: data, Mode: 0644}
}

// File returns the file at p, or nil.
func (t *Transport) File(p string) *File {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.files[path.Clean(p)]
}

// SetState sets the state reported by State.
func (t *Transport) SetState(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// RootRuns returns the number of Root calls so far.
func (t *Transport) RootRuns() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootRuns
}

// SetRootOutputs sets the outputs of successive Root calls.
func (t *Transport) SetRootOutputs(outs ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rootOut = outs
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) Serial() string { return t.serial }

func (t *Transport) Shell(ctx context.Context, cmd string) ([]byte, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	t.mu.Lock()
	t.cmds = append(t.cmds, cmd)
	hs := append([]handler(nil), t.handlers...)
	t.mu.Unlock()

	for i := len(hs) - 1; i >= 0; i-- {
		if m := hs[i].re.FindStringSubmatch(cmd); m != nil {
			out, code := hs[i].fn(cmd, m)
			return []byte(out), code, nil
		}
	}
	out, code := t.builtin(cmd)
	return []byte(out), code, nil
}

// unquote undoes single-quote escaping of a shell word.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return strings.ReplaceAll(s[1:len(s)-1], `'"'"'`, "'")
	}
	return s
}

func (t *Transport) builtin(cmd string) (string, int) {
	args := strings.Fields(cmd)
	for i := range args {
		args[i] = unquote(args[i])
	}
	if len(args) == 0 {
		return "", 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	hasPrefix := func(dir string) bool {
		dir = path.Clean(dir) + "/"
		for p := range t.files {
			if strings.HasPrefix(p, dir) {
				return true
			}
		}
		return false
	}

	switch {
	case len(args) == 3 && args[0] == "test" && args[1] == "-e":
		p := path.Clean(args[2])
		if t.files[p] != nil || hasPrefix(p) {
			return "", 0
		}
		return "", 1
	case len(args) >= 3 && args[0] == "rm" && args[1] == "-rf":
		for _, a := range args[2:] {
			p := path.Clean(a)
			for f := range t.files {
				if f == p || strings.HasPrefix(f, p+"/") {
					delete(t.files, f)
				}
			}
		}
		return "", 0
	case len(args) >= 3 && args[0] == "mkdir" && args[1] == "-p":
		return "", 0
	case len(args) == 3 && args[0] == "chmod":
		if f := t.files[path.Clean(args[2])]; f != nil {
			var mode os.FileMode
			fmt.Sscanf(args[1], "%o", &mode)
			f.Mode = mode
		}
		return "", 0
	case len(args) == 3 && args[0] == "ls" && args[1] == "-1":
		dir := path.Clean(args[2]) + "/"
		seen := map[string]bool{}
		for p := range t.files {
			if rest, ok := strings.CutPrefix(p, dir); ok {
				seen[strings.SplitN(rest, "/", 2)[0]] = true
			}
		}
		if len(seen) == 0 && !hasPrefix(args[2]) {
			return "ls: " + args[2] + ": No such file or directory\n", 1
		}
		var names []string
		for n := range seen {
			names = append(names, n)
		}
		sort.Strings(names)
		var b strings.Builder
		for _, n := range names {
			b.WriteString(n + "\n")
		}
		return b.String(), 0
	}
	return "/system/bin/sh: " + args[0] + ": inaccessible or not found\n", 127
}

func (t *Transport) Push(ctx context.Context, r io.Reader, remote string, mode os.FileMode) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[path.Clean(remote)] = &File{Data: b, Mode: mode}
	return nil
}

func (t *Transport) Pull(ctx context.Context, remote string, w io.Writer) error {
	t.mu.Lock()
	f := t.files[path.Clean(remote)]
	t.mu.Unlock()
	if f == nil {
		return errors.Errorf("remote object '%s' does not exist", remote)
	}
	_, err := io.Copy(w, bytes.NewReader(f.Data))
	return err
}

func (t *Transport) State(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, nil
}

func (t *Transport) Root(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rootRuns++
	if len(t.rootOut) == 0 {
		return "adbd is already running as root\n", nil
	}
	out := t.rootOut[0]
	if len(t.rootOut) > 1 {
		t.rootOut = t.rootOut[1:]
	}
	return out, nil
}

func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
