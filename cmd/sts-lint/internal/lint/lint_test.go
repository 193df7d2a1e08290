// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package lint

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/sts/testutil"
)

const badEntry = `package security

func init() {
	testing.AddTest(&testing.Test{
		Func:     DoStuff,
		Desc:     "Checks stuff",
		Contacts: []string{"me@google.com"},
		Attr:     []string{"group:sts"},
	})
}

func DoStuff(ctx context.Context, s *testing.State) {
	s.Log("Done.")
	s.Error(err) // NOLINT
}
`

func writeTree(t *testing.T) string {
	t.Helper()
	td := t.TempDir()
	if err := testutil.WriteFiles(td, map[string]string{
		"bundles/sts/security/do_stuff.go":      badEntry,
		"bundles/sts/security/do_stuff_test.go": "package security\n\nfunc f() { s.Log(\"Ignored.\") }\n",
		"android/adb/device.go":                 "package adb\n\nfunc f() { s.Log(\"Ignored.\") }\n",
		"bundles/sts/security/README":           "not go",
	}); err != nil {
		t.Fatal(err)
	}
	return td
}

func TestRun(t *testing.T) {
	td := writeTree(t)
	issues, err := Run(context.Background(), []string{td}, false)
	if err != nil {
		t.Fatal("Run failed: ", err)
	}
	var got []string
	for _, i := range issues {
		rel, _ := filepath.Rel(td, i.Pos.Filename)
		got = append(got, rel+": "+i.Msg)
	}
	want := []string{"bundles/sts/security/do_stuff.go: s.Log string arg should not contain trailing punctuation"}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Issues mismatch (-got +want):\n%s", diff)
	}
}

func TestRunFix(t *testing.T) {
	td := writeTree(t)
	issues, err := Run(context.Background(), []string{td}, true)
	if err != nil {
		t.Fatal("Run failed: ", err)
	}
	if len(issues) > 0 {
		t.Errorf("Run returned %v with fix", issues)
	}
	b, err := os.ReadFile(filepath.Join(td, "bundles/sts/security/do_stuff.go"))
	if err != nil {
		t.Fatal(err)
	}
	if want := `s.Log("Done")`; !containsLine(string(b), want) {
		t.Errorf("Fixed file doesn't contain %q:\n%s", want, b)
	}
	b, err = os.ReadFile(filepath.Join(td, "android/adb/device.go"))
	if err != nil {
		t.Fatal(err)
	}
	if !containsLine(string(b), `func f() { s.Log("Ignored.") }`) {
		t.Errorf("Non-bundle file was modified:\n%s", b)
	}
}

func containsLine(s, line string) bool {
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) == line {
			return true
		}
	}
	return false
}

func TestRunNoTarget(t *testing.T) {
	if _, err := Run(context.Background(), []string{t.TempDir()}, false); err != ErrNoTarget {
		t.Errorf("Run returned %v; want %v", err, ErrNoTarget)
	}
}
