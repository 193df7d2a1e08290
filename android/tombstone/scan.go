// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tombstone

import (
	"bytes"
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"go.chromium.org/sts/android/adb"
	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/shutil"
	"go.chromium.org/sts/testing"
)

// Dir is where tombstoned writes tombstones.
const Dir = "/data/tombstones"

// maxConcurrentPulls bounds parallel transfers from the device.
const maxConcurrentPulls = 4

// listScript prints "<mtime> <path>" for each tombstone. The glob stays
// unexpanded when the directory is empty, making stat fail.
var listScript = "stat -c '%Y %n' " + shutil.Escape(Dir) + "/* 2>/dev/null"

// Snapshot records the tombstones present at some point in time.
type Snapshot struct {
	files map[string]string // path -> mtime
}

func list(ctx context.Context, d *adb.Device) (map[string]string, error) {
	res, err := d.ShellScript(ctx, listScript)
	if err != nil {
		return nil, err
	}
	files := make(map[string]string)
	for _, l := range strings.Split(res.Stdout, "\n") {
		mtime, p, ok := strings.Cut(strings.TrimSpace(l), " ")
		if !ok || !strings.HasPrefix(p, Dir+"/") {
			continue
		}
		files[p] = mtime
	}
	if len(files) == 0 && res.ExitCode != 0 {
		// Either the directory is empty or unreadable; tell them apart.
		if _, err := d.ShellOutput(ctx, "ls", Dir); err != nil {
			return nil, errors.Wrap(err, "cannot read tombstones")
		}
	}
	return files, nil
}

// TakeSnapshot records the current tombstones so Scan can report only
// newer ones.
func TakeSnapshot(ctx context.Context, d *adb.Device) (*Snapshot, error) {
	files, err := list(ctx, d)
	if err != nil {
		return nil, err
	}
	return &Snapshot{files: files}, nil
}

// Clear removes all tombstones. It requires root.
func Clear(ctx context.Context, d *adb.Device) error {
	if _, err := d.ShellScriptOutput(ctx, "rm -f "+shutil.Escape(Dir)+"/*"); err != nil {
		return errors.Wrap(err, "failed to clear tombstones")
	}
	return nil
}

// newFiles returns the tombstones in cur that are not in since, preferring
// the protobuf form when both forms of a tombstone exist.
func newFiles(cur map[string]string, since *Snapshot) []string {
	byBase := map[string]string{}
	for p, mtime := range cur {
		if since != nil {
			if old, ok := since.files[p]; ok && old == mtime {
				continue
			}
		}
		base := strings.TrimSuffix(p, ".pb")
		if prev, ok := byBase[base]; ok && strings.HasSuffix(prev, ".pb") {
			continue
		}
		byBase[base] = p
	}
	var ps []string
	for _, p := range byBase {
		ps = append(ps, p)
	}
	sort.Strings(ps)
	return ps
}

// saveRaw copies the tombstone at device path p into outDir/tombstones.
func saveRaw(outDir, p string, b []byte) error {
	dir := filepath.Join(outDir, "tombstones")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, path.Base(p)), b, 0644)
}

// Scan pulls and parses the tombstones written after since. A nil since
// returns all tombstones. Files that fail to parse are logged and skipped.
// When ctx belongs to a test, raw files are saved under its output
// directory.
func Scan(ctx context.Context, d *adb.Device, since *Snapshot) ([]*Tombstone, error) {
	cur, err := list(ctx, d)
	if err != nil {
		return nil, err
	}
	paths := newFiles(cur, since)
	if len(paths) == 0 {
		return nil, nil
	}

	outDir, hasOutDir := testing.ContextOutDir(ctx)
	var mu sync.Mutex
	var ts []*Tombstone

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPulls)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			var buf bytes.Buffer
			if err := d.Pull(gctx, p, &buf); err != nil {
				return err
			}
			if hasOutDir {
				if err := saveRaw(outDir, p, buf.Bytes()); err != nil {
					testing.ContextLogf(ctx, "Failed to save %s: %v", p, err)
				}
			}
			var t *Tombstone
			var err error
			if strings.HasSuffix(p, ".pb") {
				t, err = ParseProto(buf.Bytes())
			} else {
				t, err = ParseText(&buf)
			}
			if err != nil {
				testing.ContextLogf(ctx, "Failed to parse %s: %v", p, err)
				return nil
			}
			t.Path = p
			mu.Lock()
			ts = append(ts, t)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "failed to pull tombstones")
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Path < ts[j].Path })
	return ts, nil
}

// CrashError reports a security relevant crash.
type CrashError struct {
	Crash *Tombstone
}

func (e *CrashError) Error() string {
	return "security crash detected: " + e.Crash.String()
}

// AssertNoSecurityCrash scans tombstones newer than since and returns a
// *CrashError for the first one that is security relevant under cfg.
func AssertNoSecurityCrash(ctx context.Context, d *adb.Device, since *Snapshot, cfg *Config) error {
	ts, err := Scan(ctx, d, since)
	if err != nil {
		return err
	}
	for _, t := range ts {
		if SecurityCrash(t, cfg) {
			return &CrashError{Crash: t}
		}
		testing.ContextLogf(ctx, "Ignoring crash in %s: %s %s", t.ProcessName(), t.SignalName, t.Path)
	}
	return nil
}

// WithAssertNoSecurityCrash runs f and fails s if a security relevant crash
// happened meanwhile. s is skipped if tombstones cannot be read.
func WithAssertNoSecurityCrash(ctx context.Context, s *testing.State, d *adb.Device, cfg *Config, f func(ctx context.Context)) {
	snap, err := TakeSnapshot(ctx, d)
	s.AssumeNoError(err, "Cannot read tombstones")
	f(ctx)
	if err := AssertNoSecurityCrash(ctx, d, snap, cfg); err != nil {
		s.Fatal("Crash check failed: ", err)
	}
}
