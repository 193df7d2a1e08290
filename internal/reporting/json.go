// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package reporting

import (
	"encoding/json"
	"os"
)

// ResultsFilename is a file name to be used with WriteResults.
const ResultsFilename = "results.json"

// WriteResults writes results to path as an indented JSON array.
func WriteResults(path string, results []*Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}
	return f.Close()
}

// ReadResults reads results written by WriteResults.
func ReadResults(path string) ([]*Result, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var results []*Result
	if err := json.Unmarshal(b, &results); err != nil {
		return nil, err
	}
	return results, nil
}
