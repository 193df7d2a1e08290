// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package adb_test

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"go.chromium.org/sts/android/adb"
	"go.chromium.org/sts/android/adb/adbtest"
)

const logcatLong = `--------- beginning of main
[ 05-14 10:21:03.123  1234: 1250 I/ActivityManager ]
Start proc 4321:com.example/u0a123 for activity

[ 05-14 10:21:04.456  4321: 4321 F/libc     ]
Fatal signal 11 (SIGSEGV), code 1 (SEGV_MAPERR), fault addr 0x41414141
in tid 4321 (poc)

`

func TestParseLogcat(t *testing.T) {
	msgs, err := adb.ParseLogcat(strings.NewReader(logcatLong))
	if err != nil {
		t.Fatal(err)
	}
	want := []adb.LogcatMessage{
		{PID: 1234, TID: 1250, Priority: 'I', Tag: "ActivityManager", Message: "Start proc 4321:com.example/u0a123 for activity"},
		{PID: 4321, TID: 4321, Priority: 'F', Tag: "libc", Message: "Fatal signal 11 (SIGSEGV), code 1 (SEGV_MAPERR), fault addr 0x41414141\nin tid 4321 (poc)"},
	}
	if diff := cmp.Diff(msgs, want, cmpopts.IgnoreFields(adb.LogcatMessage{}, "Timestamp")); diff != "" {
		t.Errorf("ParseLogcat mismatch (-got +want):\n%s", diff)
	}
	if ts := msgs[1].Timestamp; ts.Month() != time.May || ts.Day() != 14 || ts.Second() != 4 {
		t.Errorf("Bad timestamp %v", ts)
	}
}

func TestWaitForLogcat(t *testing.T) {
	ft := adbtest.New()
	ft.Respond(`logcat -d -v long`, logcatLong, 0)
	ft.Respond(`logcat -b all -c`, "", 0)
	d := ft.Device()
	ctx := context.Background()

	if err := d.ClearLogcat(ctx); err != nil {
		t.Fatal(err)
	}
	m, err := d.WaitForLogcat(ctx, adb.RegexpPred(regexp.MustCompile(`SIGSEGV`)), time.Second)
	if err != nil {
		t.Fatal("WaitForLogcat failed: ", err)
	}
	if m.Tag != "libc" {
		t.Errorf("Matched message with tag %q; want libc", m.Tag)
	}
	if _, err := d.WaitForLogcat(ctx, adb.RegexpPred(regexp.MustCompile(`never`)), 100*time.Millisecond); err == nil {
		t.Error("WaitForLogcat matched a missing message")
	}
}
