// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package run

import (
	"context"
	"os"
	"path/filepath"
	gotesting "testing"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/sts/cmd/sts/internal/config"
	"go.chromium.org/sts/testing"
)

// SelectTest is registered by the tests below. Its name matches this file.
func SelectTest(ctx context.Context, s *testing.State) {}

const planSrc = `
plan(name = "weekly", include = ["run.SelectTest.*"], exclude = ["*.slow"], retries = 2)
plan(name = "fast", attr_expr = '!informational')
`

func newRegistry(t *gotesting.T) *testing.Registry {
	t.Helper()
	reg := testing.NewRegistry()
	if err := reg.AddTest(&testing.Test{
		Func: SelectTest,
		Attr: []string{"group:sts"},
		Params: []testing.Param{
			{Name: "quick"},
			{Name: "slow", ExtraAttr: []string{"informational"}},
			{Name: "other"},
		},
	}); err != nil {
		t.Fatal("AddTest failed: ", err)
	}
	return reg
}

func names(ts []*testing.TestInstance) []string {
	var ns []string
	for _, t := range ts {
		ns = append(ns, t.Name)
	}
	return ns
}

func TestSelectTests(t *gotesting.T) {
	reg := newRegistry(t)
	planFile := filepath.Join(t.TempDir(), "plans.star")
	if err := os.WriteFile(planFile, []byte(planSrc), 0644); err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		name        string
		planName    string
		patterns    []string
		retries     int
		wantTests   []string
		wantRetries int
		wantPlan    string
	}{
		{
			name:      "patterns only",
			patterns:  []string{"*.quick", "*.slow"},
			retries:   -1,
			wantTests: []string{"run.SelectTest.quick", "run.SelectTest.slow"},
		},
		{
			name:        "plan retries",
			planName:    "weekly",
			retries:     -1,
			wantTests:   []string{"run.SelectTest.other", "run.SelectTest.quick"},
			wantRetries: 2,
			wantPlan:    "weekly",
		},
		{
			name:        "flag overrides plan retries",
			planName:    "weekly",
			retries:     0,
			wantTests:   []string{"run.SelectTest.other", "run.SelectTest.quick"},
			wantRetries: 0,
			wantPlan:    "weekly",
		},
		{
			name:        "plan and patterns",
			planName:    "fast",
			patterns:    []string{"*.o*", "*.slow"},
			retries:     1,
			wantTests:   []string{"run.SelectTest.other"},
			wantRetries: 1,
			wantPlan:    "fast",
		},
	} {
		t.Run(tc.name, func(t *gotesting.T) {
			cfg := &config.Config{Patterns: tc.patterns, Retries: tc.retries}
			if tc.planName != "" {
				cfg.PlanFile = planFile
				cfg.PlanName = tc.planName
			}
			sel, err := SelectTests(cfg, reg)
			if err != nil {
				t.Fatal("SelectTests failed: ", err)
			}
			if diff := cmp.Diff(names(sel.Tests), tc.wantTests); diff != "" {
				t.Errorf("Tests mismatch (-got +want):\n%s", diff)
			}
			if sel.Retries != tc.wantRetries {
				t.Errorf("Retries = %d; want %d", sel.Retries, tc.wantRetries)
			}
			if sel.Plan != tc.wantPlan {
				t.Errorf("Plan = %q; want %q", sel.Plan, tc.wantPlan)
			}
		})
	}
}

func TestSelectTestsErrors(t *gotesting.T) {
	reg := newRegistry(t)
	planFile := filepath.Join(t.TempDir(), "plans.star")
	if err := os.WriteFile(planFile, []byte(planSrc), 0644); err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		name string
		cfg  *config.Config
	}{
		{"bad pattern", &config.Config{Patterns: []string{"foo-bar"}}},
		{"ambiguous plan", &config.Config{PlanFile: planFile}},
		{"unknown plan", &config.Config{PlanFile: planFile, PlanName: "monthly"}},
		{"missing plan file", &config.Config{PlanFile: filepath.Join(t.TempDir(), "none.star")}},
	} {
		if _, err := SelectTests(tc.cfg, reg); err == nil {
			t.Errorf("%s: SelectTests succeeded unexpectedly", tc.name)
		}
	}
}

func TestSelectTestsRegistryErrors(t *gotesting.T) {
	reg := testing.NewRegistry()
	reg.AddTest(&testing.Test{})
	if _, err := SelectTests(&config.Config{}, reg); err == nil {
		t.Error("SelectTests succeeded despite registration errors")
	}
}
