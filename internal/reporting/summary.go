// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package reporting

import (
	"context"
	"fmt"
	"strings"

	"go.chromium.org/sts/internal/logging"
)

// WriteResultsToLogs writes a one-line summary per test via ctx.
// resDir is the directory where result files have been saved. complete
// indicates whether all tests could be run.
func WriteResultsToLogs(ctx context.Context, results []*Result, resDir string, complete bool) {
	ml := 0
	for _, res := range results {
		if len(res.Name) > ml {
			ml = len(res.Name)
		}
	}

	const (
		passStr = " [ PASS ]"
		skipStr = " [ SKIP ] "
		failStr = " [ FAIL ] "
	)
	sep := strings.Repeat("-", 80)
	logging.Info(ctx, sep)

	for _, res := range results {
		pn := fmt.Sprintf("%-*s", ml, res.Name)
		switch {
		case res.Failed():
			for i, e := range res.Errors {
				if i == 0 {
					logging.Info(ctx, pn+failStr+e.Reason)
				} else {
					logging.Info(ctx, strings.Repeat(" ", ml+len(failStr))+e.Reason)
				}
			}
		case res.Skipped():
			logging.Info(ctx, pn+skipStr+res.SkipReason)
		default:
			logging.Info(ctx, pn+passStr)
		}
	}

	if !complete {
		logging.Info(ctx, "")
		logging.Info(ctx, "Run did not finish successfully; results are incomplete")
	}

	logging.Info(ctx, sep)
	logging.Info(ctx, "Results saved to ", resDir)
}
