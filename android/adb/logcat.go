// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package adb

import (
	"bufio"
	"context"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/internal/testingutil"
)

// LogcatMessage is a single message in `logcat -v long` format.
type LogcatMessage struct {
	Timestamp time.Time
	PID       int
	TID       int
	Priority  byte // one of VDIWEF
	Tag       string
	Message   string
}

var logcatHeaderRE = regexp.MustCompile(`^\[\s*([0-9]*)-([0-9]*)\s*([0-9]*):([0-9]*):([0-9]*)\.([0-9]*)\s*([0-9]*):\s*([0-9]*)\s*([VDIWEF])/([^\s]*)\s*\]`)

func parseLogcatHeader(s string, year int) (LogcatMessage, bool) {
	p := logcatHeaderRE.FindStringSubmatch(s)
	if p == nil {
		return LogcatMessage{}, false
	}
	n := make([]int, 8)
	for i := range n {
		n[i], _ = strconv.Atoi(p[i+1])
	}
	return LogcatMessage{
		Timestamp: time.Date(year, time.Month(n[0]), n[1], n[2], n[3], n[4], n[5]*int(time.Millisecond), time.Local),
		PID:       n[6],
		TID:       n[7],
		Priority:  p[9][0],
		Tag:       p[10],
	}, true
}

// ParseLogcat parses `logcat -v long` output. Lines before the first header
// are dropped.
func ParseLogcat(r io.Reader) ([]LogcatMessage, error) {
	year := time.Now().Year()
	var msgs []LogcatMessage
	var cur *LogcatMessage
	var lines []string

	flush := func() {
		if cur == nil {
			return
		}
		// Messages are separated with a blank line.
		for len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		cur.Message = strings.Join(lines, "\n")
		msgs = append(msgs, *cur)
		lines = lines[:0]
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if m, ok := parseLogcatHeader(line, year); ok {
			flush()
			cur = &m
		} else if cur != nil {
			lines = append(lines, line)
		}
	}
	flush()
	return msgs, sc.Err()
}

// ClearLogcat clears all logcat buffers.
func (d *Device) ClearLogcat(ctx context.Context) error {
	if _, err := d.ShellOutput(ctx, "logcat", "-b", "all", "-c"); err != nil {
		return errors.Wrap(err, "failed to clear logcat")
	}
	return nil
}

// DumpLogcat returns the buffered logcat messages. args are passed to logcat,
// e.g. "-b", "crash".
func (d *Device) DumpLogcat(ctx context.Context, args ...string) ([]LogcatMessage, error) {
	out, err := d.ShellOutput(ctx, append([]string{"logcat", "-d", "-v", "long"}, args...)...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dump logcat")
	}
	return ParseLogcat(strings.NewReader(out))
}

// DumpLogcatToFile writes the raw logcat buffer to the host file path.
func (d *Device) DumpLogcatToFile(ctx context.Context, path string) error {
	out, err := d.ShellOutput(ctx, "logcat", "-d", "-v", "threadtime")
	if err != nil {
		return errors.Wrap(err, "failed to dump logcat")
	}
	return os.WriteFile(path, []byte(out), 0644)
}

// RegexpPred returns a predicate matching messages whose text matches re.
func RegexpPred(re *regexp.Regexp) func(LogcatMessage) bool {
	return func(m LogcatMessage) bool { return re.MatchString(m.Message) }
}

// WaitForLogcat polls the logcat buffer until a message satisfies pred and
// returns it.
func (d *Device) WaitForLogcat(ctx context.Context, pred func(LogcatMessage) bool, timeout time.Duration) (*LogcatMessage, error) {
	var found *LogcatMessage
	err := testingutil.Poll(ctx, func(ctx context.Context) error {
		msgs, err := d.DumpLogcat(ctx)
		if err != nil {
			return testingutil.PollBreak(err)
		}
		for i := range msgs {
			if pred(msgs[i]) {
				found = &msgs[i]
				return nil
			}
		}
		return errors.New("no matching logcat message")
	}, &testingutil.PollOptions{Timeout: timeout, Interval: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "failed waiting for logcat")
	}
	return found, nil
}
