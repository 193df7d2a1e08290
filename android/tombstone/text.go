// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tombstone

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"

	"go.chromium.org/sts/errors"
)

var (
	fingerprintRE = regexp.MustCompile(`^Build fingerprint: '([^']*)'`)
	pidLineRE     = regexp.MustCompile(`^pid: (\d+), tid: (\d+), name: (.*?)\s+>>> (.*) <<<`)
	uidLineRE     = regexp.MustCompile(`^uid: (\d+)`)
	signalLineRE  = regexp.MustCompile(`^signal (\d+) \(([A-Z0-9]+)\), code (-?\d+) \(([A-Z_0-9]+)[^)]*\)(?:, fault addr (0x[0-9a-fA-F]+|-+))?`)
	abortLineRE   = regexp.MustCompile(`^Abort message: '(.*)'$`)
	frameLineRE   = regexp.MustCompile(`^#(\d+) pc ([0-9a-fA-F]+)\s+(\S+)(.*)$`)
	buildIDRE     = regexp.MustCompile(`\s*\(BuildId: ([0-9a-fA-F]+)\)`)
	mapOffsetRE   = regexp.MustCompile(`\s*\(offset 0x[0-9a-fA-F]+\)`)
	funcOffsetRE  = regexp.MustCompile(`^\((.*)\+(\d+)\)$`)
)

// threadSeparator starts the dump of a thread other than the crashing one.
const threadSeparator = "--- --- --- --- --- --- --- --- --- --- --- --- --- --- --- ---"

// ParseText parses a text tombstone. Only the first crash in r is read.
func ParseText(r io.Reader) (*Tombstone, error) {
	t := &Tombstone{}
	sawHeader := false
	inBacktrace := false

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == threadSeparator {
			break
		}
		if inBacktrace {
			if m := frameLineRE.FindStringSubmatch(line); m != nil {
				t.Backtrace = append(t.Backtrace, parseFrame(m))
				continue
			}
			if len(t.Backtrace) > 0 {
				inBacktrace = false
			}
			continue
		}
		switch {
		case fingerprintRE.MatchString(line):
			t.BuildFingerprint = fingerprintRE.FindStringSubmatch(line)[1]
		case pidLineRE.MatchString(line):
			m := pidLineRE.FindStringSubmatch(line)
			t.PID, _ = strconv.Atoi(m[1])
			t.TID, _ = strconv.Atoi(m[2])
			t.ThreadName = m[3]
			t.CommandLine = strings.Fields(m[4])
			sawHeader = true
		case uidLineRE.MatchString(line):
			t.UID, _ = strconv.Atoi(uidLineRE.FindStringSubmatch(line)[1])
		case signalLineRE.MatchString(line):
			m := signalLineRE.FindStringSubmatch(line)
			t.Signal, _ = strconv.Atoi(m[1])
			t.SignalName = m[2]
			t.Code, _ = strconv.Atoi(m[3])
			t.CodeName = m[4]
			if strings.HasPrefix(m[5], "0x") {
				addr, err := strconv.ParseUint(m[5][2:], 16, 64)
				if err == nil {
					t.HasFaultAddress = true
					t.FaultAddress = addr
				}
			}
		case abortLineRE.MatchString(line):
			t.AbortMessage = abortLineRE.FindStringSubmatch(line)[1]
		case line == "backtrace:":
			inBacktrace = true
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !sawHeader {
		return nil, errors.New("no pid line found; not a tombstone")
	}
	return t, nil
}

func parseFrame(m []string) Frame {
	f := Frame{File: m[3]}
	f.Index, _ = strconv.Atoi(m[1])
	f.PC, _ = strconv.ParseUint(m[2], 16, 64)
	rest := m[4]
	if b := buildIDRE.FindStringSubmatch(rest); b != nil {
		f.BuildID = b[1]
		rest = buildIDRE.ReplaceAllString(rest, "")
	}
	rest = strings.TrimSpace(mapOffsetRE.ReplaceAllString(rest, ""))
	if fm := funcOffsetRE.FindStringSubmatch(rest); fm != nil {
		f.Function = fm[1]
		f.FunctionOffset, _ = strconv.ParseUint(fm[2], 10, 64)
	} else if strings.HasPrefix(rest, "(") && strings.HasSuffix(rest, ")") {
		f.Function = rest[1 : len(rest)-1]
	}
	return f
}
