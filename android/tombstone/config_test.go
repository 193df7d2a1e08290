// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tombstone

import (
	"testing"
)

func TestSecurityCrash(t *testing.T) {
	base := func() *Tombstone {
		return &Tombstone{
			PID:             100,
			TID:             101,
			ThreadName:      "Binder:100_2",
			CommandLine:     []string{"/system/bin/mediaserver"},
			Signal:          11,
			SignalName:      SIGSEGV,
			HasFaultAddress: true,
			FaultAddress:    0x41414141,
			Backtrace: []Frame{
				{Index: 0, File: "/system/lib64/libc.so", Function: "memcpy"},
				{Index: 1, File: "/system/lib64/libstagefright.so", Function: "MPEG4Extractor::parseChunk"},
			},
		}
	}

	for _, tc := range []struct {
		name   string
		modify func(*Tombstone)
		cfg    *Config
		want   bool
	}{
		{"default", nil, DefaultConfig(), true},
		{"nil config", nil, nil, true},
		{"process full path", nil, DefaultConfig("^/system/bin/mediaserver$"), true},
		{"process base name", nil, DefaultConfig("^mediaserver$"), true},
		{"thread name", nil, DefaultConfig(`^Binder:\d+_\d+$`), true},
		{"other process", nil, DefaultConfig("^surfaceflinger$"), false},
		{"abort not default", func(t *Tombstone) {
			t.SignalName = SIGABRT
			t.HasFaultAddress = false
		}, DefaultConfig(), false},
		{"abort opted in", func(t *Tombstone) {
			t.SignalName = SIGABRT
			t.HasFaultAddress = false
		}, DefaultConfig().WithSignals(SIGSEGV, SIGABRT), true},
		{"null dereference", func(t *Tombstone) { t.FaultAddress = 0x10 }, DefaultConfig(), false},
		{"null dereference kept", func(t *Tombstone) { t.FaultAddress = 0x10 }, &Config{}, true},
		{"bus error low address", func(t *Tombstone) {
			t.SignalName = SIGBUS
			t.FaultAddress = 0x7fff
		}, DefaultConfig(), false},
		{"boundary address", func(t *Tombstone) { t.FaultAddress = 0x8000 }, DefaultConfig(), true},
		{"backtrace include hit", nil, DefaultConfig().WithBacktraceInclude("libstagefright", "parseChunk"), true},
		{"backtrace include miss", nil, DefaultConfig().WithBacktraceInclude("libaudio", ""), false},
		{"backtrace exclude", nil, DefaultConfig().WithBacktraceExclude("", "^memcpy$"), false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ts := base()
			if tc.modify != nil {
				tc.modify(ts)
			}
			if got := SecurityCrash(ts, tc.cfg); got != tc.want {
				t.Errorf("SecurityCrash() = %v; want %v", got, tc.want)
			}
		})
	}
}

func TestSecurityCrashAbortMessage(t *testing.T) {
	ts := &Tombstone{
		CommandLine:  []string{"/system/bin/app_process64"},
		SignalName:   SIGABRT,
		AbortMessage: "FORTIFY: memcpy: prevented 32-byte write into 16-byte buffer",
	}
	cfg := DefaultConfig().WithSignals(SIGABRT)
	cfg.AbortMessageIncludes = append(cfg.AbortMessageIncludes, mustRE(t, "^FORTIFY"))
	if !SecurityCrash(ts, cfg) {
		t.Error("FORTIFY abort was not considered security relevant")
	}
	cfg.AbortMessageExcludes = append(cfg.AbortMessageExcludes, mustRE(t, "memcpy"))
	if SecurityCrash(ts, cfg) {
		t.Error("Excluded abort message was considered security relevant")
	}
}
