// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package testcheck_test

import (
	"context"
	gotesting "testing"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/sts/testing"
	"go.chromium.org/sts/testing/testcheck"
)

func TestRunWithState(t *gotesting.T) {
	reached := false
	s, out := testcheck.RunWithState(context.Background(), &testing.TestInstance{Name: "security.Foo"}, &testing.TestConfig{},
		func(ctx context.Context, s *testing.State) {
			testing.ContextLog(ctx, "hello")
			s.Error("first")
			s.Fatal("second")
			reached = true
		})
	if reached {
		t.Error("Fatal did not end the test function")
	}
	if !s.HasError() {
		t.Error("HasError() = false; want true")
	}
	if diff := cmp.Diff(out.Logs, []string{"hello"}); diff != "" {
		t.Errorf("Logs mismatch (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(out.ErrorReasons(), []string{"first", "second"}); diff != "" {
		t.Errorf("Errors mismatch (-got +want):\n%s", diff)
	}
}

func TestRunWithStateSkip(t *gotesting.T) {
	s, _ := testcheck.RunWithState(context.Background(), &testing.TestInstance{Name: "security.Foo"}, &testing.TestConfig{},
		func(ctx context.Context, s *testing.State) {
			s.Skip("no multi-user")
		})
	if s.SkipReason() != "no multi-user" {
		t.Errorf("SkipReason() = %q", s.SkipReason())
	}
	if s.HasError() {
		t.Error("Skipped test has errors")
	}
}
