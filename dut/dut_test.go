// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package dut

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/sts/internal/sshtest"
)

func TestParseTarget(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want *Target
	}{
		{"emulator-5554", &Target{Kind: KindADB, Serial: "emulator-5554"}},
		{"adb:0A121FDD4002RN", &Target{Kind: KindADB, Serial: "0A121FDD4002RN"}},
		{"adb:192.168.1.20:5555", &Target{Kind: KindADB, Serial: "192.168.1.20:5555"}},
		{"ssh:labhost/emulator-5554", &Target{Kind: KindSSH, Host: "labhost", Serial: "emulator-5554"}},
		{"ssh:user@labhost:2222/10.0.0.2:5555", &Target{Kind: KindSSH, Host: "user@labhost:2222", Serial: "10.0.0.2:5555"}},
	} {
		got, err := ParseTarget(tc.in)
		if err != nil {
			t.Errorf("ParseTarget(%q) failed: %v", tc.in, err)
			continue
		}
		if diff := cmp.Diff(got, tc.want); diff != "" {
			t.Errorf("ParseTarget(%q) mismatch (-got +want):\n%s", tc.in, diff)
		}
		if s := got.String(); !strings.HasSuffix(s, got.Serial) {
			t.Errorf("String() = %q", s)
		}
	}
}

func TestParseTargetErrors(t *testing.T) {
	for _, in := range []string{"", "adb:", "ssh:labhost", "ssh:/serial", "ssh:labhost/"} {
		if _, err := ParseTarget(in); err == nil {
			t.Errorf("ParseTarget(%q) succeeded unexpectedly", in)
		}
	}
}

func TestSSHDUT(t *testing.T) {
	const serial = "emulator-5554"
	var states int32
	userKey, hostKey, err := sshtest.Keys()
	if err != nil {
		t.Fatal(err)
	}
	srv, err := sshtest.NewServer(&userKey.PublicKey, hostKey, func(req *sshtest.ExecReq) {
		switch req.Cmd {
		case "adb -s " + serial + " get-state":
			atomic.AddInt32(&states, 1)
			req.Reply("device\n", 0)
		default:
			req.Reply("error: unknown command\n", 1)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()
	keyFile, err := sshtest.WriteKey(t.TempDir(), userKey)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	d, err := New(ctx, "ssh:root@"+srv.Addr().String()+"/"+serial, Options{KeyFile: keyFile})
	if err != nil {
		t.Fatal("New failed: ", err)
	}
	defer d.Close(ctx)

	if d.Target().Kind != KindSSH {
		t.Errorf("Target().Kind = %v; want %v", d.Target().Kind, KindSSH)
	}
	dev := d.Device()
	if dev.Serial() != serial {
		t.Errorf("Serial() = %q; want %q", dev.Serial(), serial)
	}

	if err := d.Reconnect(ctx); err != nil {
		t.Fatal("Reconnect failed: ", err)
	}
	if d.Device() != dev {
		t.Error("Reconnect replaced the device handle")
	}
	if n := atomic.LoadInt32(&states); n < 2 {
		t.Errorf("Device state was checked %d times; want at least 2", n)
	}
}

func TestSSHDUTOffline(t *testing.T) {
	userKey, hostKey, err := sshtest.Keys()
	if err != nil {
		t.Fatal(err)
	}
	srv, err := sshtest.NewServer(&userKey.PublicKey, hostKey, func(req *sshtest.ExecReq) {
		req.Reply("error: device 'gone' not found\n", 1)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()
	keyFile, err := sshtest.WriteKey(t.TempDir(), userKey)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*onlineTimeout/30)
	defer cancel()
	if _, err := New(ctx, "ssh:"+srv.Addr().String()+"/gone", Options{KeyFile: keyFile}); err == nil {
		t.Error("New succeeded for an offline device")
	}
}
