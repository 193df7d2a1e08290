// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package plan

import (
	"context"
	"path/filepath"
	"strings"
	gotesting "testing"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/sts/testing"
	"go.chromium.org/sts/testutil"
)

// PlanTest is registered by the tests below. Its name matches this file.
func PlanTest(ctx context.Context, s *testing.State) {}

func newRegistry(t *gotesting.T) *testing.Registry {
	t.Helper()
	reg := testing.NewRegistry()
	if err := reg.AddTest(&testing.Test{
		Func: PlanTest,
		Attr: []string{"group:sts"},
		Params: []testing.Param{
			{Name: "cve_2021_0330"},
			{Name: "cve_2021_0478", ExtraAttr: []string{"informational"}},
			{Name: "cve_2023_1234", ExtraSoftwareDeps: []string{"multiuser"}},
		},
	}); err != nil {
		t.Fatal("AddTest failed: ", err)
	}
	return reg
}

func names(ts []*testing.TestInstance) []string {
	var ns []string
	for _, t := range ts {
		ns = append(ns, strings.TrimPrefix(t.Name, "plan.PlanTest."))
	}
	return ns
}

const plansSrc = `
ALL_CVES = ["plan.PlanTest.*"]

plan(name = "all")

plan(
    name = "stable",
    include = ALL_CVES,
    exclude = ["*.cve_2023_1234"],
    attr_expr = '"group:sts" && !informational',
    retries = 2,
)

plan(name = "multiuser", attr_expr = '"dep:multiuser"')
`

func TestParse(t *gotesting.T) {
	plans, err := Parse("plans.star", []byte(plansSrc))
	if err != nil {
		t.Fatal("Parse failed: ", err)
	}
	want := []*Plan{
		{Name: "all"},
		{
			Name:     "stable",
			Include:  []string{"plan.PlanTest.*"},
			Exclude:  []string{"*.cve_2023_1234"},
			AttrExpr: `"group:sts" && !informational`,
			Retries:  2,
		},
		{Name: "multiuser", AttrExpr: `"dep:multiuser"`},
	}
	if diff := cmp.Diff(plans, want); diff != "" {
		t.Errorf("Parse mismatch (-got +want):\n%s", diff)
	}
}

func TestSelect(t *gotesting.T) {
	reg := newRegistry(t)
	plans, err := Parse("plans.star", []byte(plansSrc))
	if err != nil {
		t.Fatal("Parse failed: ", err)
	}
	for _, tc := range []struct {
		plan string
		want []string
	}{
		{"all", []string{"cve_2021_0330", "cve_2021_0478", "cve_2023_1234"}},
		{"stable", []string{"cve_2021_0330"}},
		{"multiuser", []string{"cve_2023_1234"}},
	} {
		p, err := Find(plans, tc.plan)
		if err != nil {
			t.Fatal(err)
		}
		ts, err := p.Select(reg)
		if err != nil {
			t.Errorf("Select for %s failed: %v", tc.plan, err)
			continue
		}
		if diff := cmp.Diff(names(ts), tc.want); diff != "" {
			t.Errorf("Select for %s mismatch (-got +want):\n%s", tc.plan, diff)
		}
	}
}

func TestParseErrors(t *gotesting.T) {
	for _, src := range []string{
		``,
		`plan()`,
		`plan(name = "")`,
		`plan(name = "a")` + "\n" + `plan(name = "a")`,
		`plan(name = "a", include = [1])`,
		`plan(name = "a", retries = -1)`,
		`plan(name = "a", unknown = True)`,
		`plan(name = "a"`,
	} {
		if _, err := Parse("bad.star", []byte(src)); err == nil {
			t.Errorf("Parse(%q) succeeded unexpectedly", src)
		}
	}
}

func TestFind(t *gotesting.T) {
	one := []*Plan{{Name: "only"}}
	if p, err := Find(one, ""); err != nil || p.Name != "only" {
		t.Errorf("Find(one, \"\") = %v, %v", p, err)
	}
	two := []*Plan{{Name: "a"}, {Name: "b"}}
	if _, err := Find(two, ""); err == nil {
		t.Error("Find without a name succeeded for two plans")
	}
	if _, err := Find(two, "c"); err == nil {
		t.Error("Find succeeded for a missing plan")
	}
}

func TestLoad(t *gotesting.T) {
	td := testutil.TempDir(t)
	if err := testutil.WriteFiles(td, map[string]string{"weekly.star": plansSrc}); err != nil {
		t.Fatal(err)
	}
	plans, err := Load(filepath.Join(td, "weekly.star"))
	if err != nil {
		t.Fatal("Load failed: ", err)
	}
	if len(plans) != 3 {
		t.Errorf("Load returned %d plans; want 3", len(plans))
	}
	if _, err := Load(filepath.Join(td, "missing.star")); err == nil {
		t.Error("Load succeeded for a missing file")
	}
}
