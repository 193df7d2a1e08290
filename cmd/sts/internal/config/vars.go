// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package config

import (
	"os"

	"gopkg.in/yaml.v2"

	"go.chromium.org/sts/errors"
)

// dupPolicy decides what mergeVars does with a key present on both sides.
type dupPolicy int

const (
	keepExisting dupPolicy = iota // the value already in dst wins
	rejectDup                     // the merge fails
)

// mergeVars copies src into dst. With rejectDup, dst may be partially
// updated when an error is returned.
func mergeVars(dst, src map[string]string, p dupPolicy) error {
	for k, v := range src {
		if _, dup := dst[k]; dup {
			if p == rejectDup {
				return errors.Errorf("variable %q defined more than once", k)
			}
			continue
		}
		dst[k] = v
	}
	return nil
}

// mergeVarsFile merges the YAML map of runtime variables at path into dst.
func mergeVarsFile(dst map[string]string, path string, p dupPolicy) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var vars map[string]string
	if err := yaml.Unmarshal(b, &vars); err != nil {
		return errors.Wrapf(err, "bad vars file %s", path)
	}
	return mergeVars(dst, vars, p)
}
