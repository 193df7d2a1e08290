// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package run

import (
	"go.chromium.org/sts/cmd/sts/internal/config"
	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/plan"
	"go.chromium.org/sts/testing"
)

// Selection is the outcome of test selection.
type Selection struct {
	Tests []*testing.TestInstance
	// Retries is the number of extra attempts for failed tests.
	Retries int
	// Plan is the name of the plan used, if any.
	Plan string
}

// SelectTests returns the tests in reg chosen by cfg's plan and patterns.
// With both, a test must be in the plan and match the patterns.
func SelectTests(cfg *config.Config, reg *testing.Registry) (*Selection, error) {
	if errs := reg.Errors(); len(errs) > 0 {
		return nil, errors.Wrapf(errs[0], "%d test(s) failed to register", len(errs))
	}

	sel := &Selection{}
	var planned map[string]bool
	if cfg.PlanFile != "" {
		plans, err := plan.Load(cfg.PlanFile)
		if err != nil {
			return nil, err
		}
		p, err := plan.Find(plans, cfg.PlanName)
		if err != nil {
			return nil, err
		}
		ts, err := p.Select(reg)
		if err != nil {
			return nil, errors.Wrapf(err, "plan %s", p.Name)
		}
		planned = make(map[string]bool)
		for _, t := range ts {
			planned[t.Name] = true
		}
		sel.Plan = p.Name
		sel.Retries = p.Retries
	}

	ts, err := reg.Select(cfg.Patterns)
	if err != nil {
		return nil, err
	}
	for _, t := range ts {
		if planned == nil || planned[t.Name] {
			sel.Tests = append(sel.Tests, t)
		}
	}
	if cfg.Retries >= 0 {
		sel.Retries = cfg.Retries
	}
	return sel, nil
}
