// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package adb

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.chromium.org/sts/internal/sshtest"
	"go.chromium.org/sts/shutil"
)

func TestSplitExitMarker(t *testing.T) {
	out, code, err := splitExitMarker([]byte("hello\n" + exitMarker + " 113\n"))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "hello\n" || code != 113 {
		t.Errorf("splitExitMarker = (%q, %d); want (%q, 113)", out, code, "hello\n")
	}
	if _, _, err := splitExitMarker([]byte("no marker")); err == nil {
		t.Error("splitExitMarker accepted output without marker")
	}
}

func TestSSHTransport(t *testing.T) {
	const serial = "emulator-5554"
	prefix := "adb -s " + serial + " "
	env := sshtest.Start(t, func(req *sshtest.ExecReq) {
		switch {
		case req.Cmd == prefix+"shell "+shutil.Escape(withExitMarker("id -u")):
			req.Reply("0\n"+exitMarker+" 0\n", 0)
		case req.Cmd == prefix+"get-state":
			req.Reply("device\n", 0)
		case req.Cmd == prefix+"exec-out cat /data/tombstones/tombstone_00":
			req.Reply("*** *** ***", 0)
		case strings.Contains(req.Cmd, prefix+"push"):
			req.Start(true)
			var b bytes.Buffer
			b.ReadFrom(req)
			req.CloseOutput()
			if b.String() != "payload" {
				req.End(1)
				return
			}
			req.End(0)
		default:
			req.Reply("error: unknown command\n", 1)
		}
	})
	tr := NewSSHTransport(env.Conn, serial)
	ctx := context.Background()

	out, code, err := tr.Shell(ctx, "id -u")
	if err != nil {
		t.Fatal("Shell failed: ", err)
	}
	if string(out) != "0\n" || code != 0 {
		t.Errorf("Shell = (%q, %d); want (%q, 0)", out, code, "0\n")
	}
	if st, err := tr.State(ctx); err != nil || st != "device" {
		t.Errorf("State = (%q, %v); want device", st, err)
	}
	var buf bytes.Buffer
	if err := tr.Pull(ctx, "/data/tombstones/tombstone_00", &buf); err != nil {
		t.Error("Pull failed: ", err)
	} else if buf.String() != "*** *** ***" {
		t.Errorf("Pull got %q", buf.String())
	}
	if err := tr.Push(ctx, strings.NewReader("payload"), "/data/local/tmp/x", 0755); err != nil {
		t.Error("Push failed: ", err)
	}
	if _, err := tr.Root(ctx); err == nil {
		t.Error("Root succeeded despite adb failure")
	}
}
