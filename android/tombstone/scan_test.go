// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tombstone

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/sts/android/adb/adbtest"
	ststesting "go.chromium.org/sts/testing"
	"go.chromium.org/sts/testing/testcheck"
	"go.chromium.org/sts/testutil"
)

func mustRE(t *testing.T, s string) *regexp.Regexp {
	t.Helper()
	re, err := regexp.Compile(s)
	if err != nil {
		t.Fatal(err)
	}
	return re
}

// fakeDir serves listScript from a mutable path -> mtime table.
type fakeDir struct {
	mu    sync.Mutex
	files map[string]string
}

func newFakeDir(tr *adbtest.Transport) *fakeDir {
	fd := &fakeDir{files: map[string]string{}}
	tr.Handle(regexp.QuoteMeta(listScript), func(string, []string) (string, int) {
		fd.mu.Lock()
		defer fd.mu.Unlock()
		if len(fd.files) == 0 {
			return "", 1
		}
		var lines []string
		for p, mtime := range fd.files {
			lines = append(lines, mtime+" "+p)
		}
		sort.Strings(lines)
		return strings.Join(lines, "\n") + "\n", 0
	})
	return fd
}

func (fd *fakeDir) add(tr *adbtest.Transport, p, mtime string, data []byte) {
	fd.mu.Lock()
	fd.files[p] = mtime
	fd.mu.Unlock()
	tr.SetFile(p, data)
}

func paths(ts []*Tombstone) []string {
	var ps []string
	for _, t := range ts {
		ps = append(ps, t.Path)
	}
	return ps
}

func TestScan(t *testing.T) {
	ctx := context.Background()
	tr := adbtest.New()
	fd := newFakeDir(tr)
	d := tr.Device()

	fd.add(tr, "/data/tombstones/tombstone_00", "1000", []byte(segvTombstone))
	snap, err := TakeSnapshot(ctx, d)
	if err != nil {
		t.Fatal("TakeSnapshot failed: ", err)
	}

	fd.add(tr, "/data/tombstones/tombstone_01", "2000", []byte(segvTombstone))
	fd.add(tr, "/data/tombstones/tombstone_01.pb", "2000", encodeTombstone())
	fd.add(tr, "/data/tombstones/tombstone_02", "2001", []byte("garbage\n"))

	ts, err := Scan(ctx, d, snap)
	if err != nil {
		t.Fatal("Scan failed: ", err)
	}
	// The text form of tombstone_01 is shadowed by its proto form, and the
	// unparsable tombstone_02 is skipped.
	if diff := cmp.Diff(paths(ts), []string{"/data/tombstones/tombstone_01.pb"}); diff != "" {
		t.Errorf("Scan returned unexpected tombstones (-got +want):\n%s", diff)
	}

	// A rewritten slot counts as new.
	fd.add(tr, "/data/tombstones/tombstone_00", "3000", []byte(segvTombstone))
	ts, err = Scan(ctx, d, snap)
	if err != nil {
		t.Fatal("Scan failed: ", err)
	}
	want := []string{"/data/tombstones/tombstone_00", "/data/tombstones/tombstone_01.pb"}
	if diff := cmp.Diff(paths(ts), want); diff != "" {
		t.Errorf("Scan returned unexpected tombstones (-got +want):\n%s", diff)
	}

	all, err := Scan(ctx, d, nil)
	if err != nil {
		t.Fatal("Scan failed: ", err)
	}
	if len(all) != 2 {
		t.Errorf("Scan(nil) returned %v; want 2 tombstones", paths(all))
	}
}

func TestScanEmptyDir(t *testing.T) {
	ctx := context.Background()
	tr := adbtest.New()
	newFakeDir(tr)
	tr.Respond(`ls /data/tombstones`, "", 0)

	ts, err := Scan(ctx, tr.Device(), nil)
	if err != nil {
		t.Fatal("Scan failed: ", err)
	}
	if len(ts) != 0 {
		t.Errorf("Scan returned %v; want none", paths(ts))
	}
}

func TestScanUnreadableDir(t *testing.T) {
	ctx := context.Background()
	tr := adbtest.New()
	newFakeDir(tr)
	tr.Respond(`ls /data/tombstones`, "ls: /data/tombstones: Permission denied\n", 1)

	if _, err := Scan(ctx, tr.Device(), nil); err == nil {
		t.Error("Scan succeeded on an unreadable directory")
	}
}

func TestScanSavesRaw(t *testing.T) {
	for _, tc := range []struct {
		name     string
		blockDir bool
	}{
		{"saved", false},
		{"save fails", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tr := adbtest.New()
			fd := newFakeDir(tr)
			fd.add(tr, "/data/tombstones/tombstone_01", "1000", []byte(segvTombstone))

			outDir := testutil.TempDir(t)
			if tc.blockDir {
				// A regular file where the tombstones directory should go.
				if err := os.WriteFile(filepath.Join(outDir, "tombstones"), nil, 0644); err != nil {
					t.Fatal(err)
				}
			}
			ti := &ststesting.TestInstance{Name: "security.NativePocCrash"}
			var ts []*Tombstone
			var scanErr error
			_, out := testcheck.RunWithState(context.Background(), ti, &ststesting.TestConfig{OutDir: outDir},
				func(ctx context.Context, s *ststesting.State) {
					ts, scanErr = Scan(ctx, tr.Device(), nil)
				})
			if scanErr != nil {
				t.Fatal("Scan failed: ", scanErr)
			}
			if len(ts) != 1 {
				t.Errorf("Scan returned %v; want 1 tombstone", paths(ts))
			}

			_, statErr := os.Stat(filepath.Join(outDir, "tombstones", "tombstone_01"))
			logged := false
			for _, l := range out.Logs {
				if strings.HasPrefix(l, "Failed to save /data/tombstones/tombstone_01") {
					logged = true
				}
			}
			if tc.blockDir {
				if !logged {
					t.Errorf("Save failure was not logged; logs: %q", out.Logs)
				}
			} else {
				if statErr != nil {
					t.Error("Raw tombstone was not saved: ", statErr)
				}
				if logged {
					t.Error("Save failure was logged for a successful save")
				}
			}
		})
	}
}

func TestAssertNoSecurityCrash(t *testing.T) {
	ctx := context.Background()
	tr := adbtest.New()
	fd := newFakeDir(tr)
	d := tr.Device()
	tr.Respond(`ls /data/tombstones`, "", 0)

	snap, err := TakeSnapshot(ctx, d)
	if err != nil {
		t.Fatal("TakeSnapshot failed: ", err)
	}
	cfg := DefaultConfig("^CVE-2021-0330$")
	if err := AssertNoSecurityCrash(ctx, d, snap, cfg); err != nil {
		t.Error("AssertNoSecurityCrash failed without crashes: ", err)
	}

	fd.add(tr, "/data/tombstones/tombstone_05.pb", "10", encodeTombstone())
	if err := AssertNoSecurityCrash(ctx, d, snap, cfg); err != nil {
		t.Error("AssertNoSecurityCrash failed for an unrelated process: ", err)
	}

	fd.add(tr, "/data/tombstones/tombstone_06", "11", []byte(segvTombstone))
	err = AssertNoSecurityCrash(ctx, d, snap, cfg)
	ce, ok := err.(*CrashError)
	if !ok {
		t.Fatalf("AssertNoSecurityCrash returned %v; want *CrashError", err)
	}
	if ce.Crash.Path != "/data/tombstones/tombstone_06" {
		t.Errorf("CrashError names %s; want tombstone_06", ce.Crash.Path)
	}
}

func TestClear(t *testing.T) {
	tr := adbtest.New()
	tr.Respond(`rm -f /data/tombstones/\*`, "", 0)
	if err := Clear(context.Background(), tr.Device()); err != nil {
		t.Fatal("Clear failed: ", err)
	}
	if !tr.Ran(`rm -f /data/tombstones/\*`) {
		t.Errorf("Clear ran %q", tr.Commands())
	}
}
