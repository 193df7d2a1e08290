// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package command contains helpers shared by the sts command-line tool.
package command

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/maps"
)

// DurationFlag implements flag.Value for an integer count of units, e.g.
// "-timeout=300" in seconds.
type DurationFlag struct {
	units time.Duration
	dst   *time.Duration
}

// NewDurationFlag returns a DurationFlag that writes to dst, which is first
// set to def.
func NewDurationFlag(units time.Duration, dst *time.Duration, def time.Duration) *DurationFlag {
	*dst = def
	return &DurationFlag{units, dst}
}

func (f *DurationFlag) String() string {
	if f.dst == nil {
		return ""
	}
	return strconv.FormatInt(int64(*f.dst/f.units), 10)
}

func (f *DurationFlag) Set(v string) error {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("negative duration %d", n)
	}
	*f.dst = time.Duration(n) * f.units
	return nil
}

// ListFlag implements flag.Value for a separator-delimited list of strings.
type ListFlag struct {
	sep    string
	assign func([]string)
	def    []string
}

// NewListFlag returns a ListFlag that passes parsed values to assign. def is
// assigned immediately.
func NewListFlag(sep string, assign func([]string), def []string) *ListFlag {
	assign(def)
	return &ListFlag{sep, assign, def}
}

func (f *ListFlag) String() string { return strings.Join(f.def, f.sep) }

func (f *ListFlag) Set(v string) error {
	var vals []string
	for _, s := range strings.Split(v, f.sep) {
		if s = strings.TrimSpace(s); s != "" {
			vals = append(vals, s)
		}
	}
	f.assign(vals)
	return nil
}

// EnumFlag implements flag.Value to map a user-supplied string to an enum value.
type EnumFlag struct {
	valid  map[string]int
	assign func(val int)
	def    string
}

// NewEnumFlag returns an EnumFlag accepting the keys of valid. def is
// assigned immediately and must be a key of valid.
func NewEnumFlag(valid map[string]int, assign func(val int), def string) *EnumFlag {
	f := &EnumFlag{valid, assign, def}
	if err := f.Set(def); err != nil {
		panic(err)
	}
	return f
}

// QuotedValues returns a comma-separated list of quoted accepted values.
func (f *EnumFlag) QuotedValues() string {
	keys := maps.Keys(f.valid)
	sort.Strings(keys)
	for i, k := range keys {
		keys[i] = strconv.Quote(k)
	}
	return strings.Join(keys, ", ")
}

func (f *EnumFlag) String() string { return f.def }

func (f *EnumFlag) Set(v string) error {
	ev, ok := f.valid[v]
	if !ok {
		return fmt.Errorf("must be in %s", f.QuotedValues())
	}
	f.assign(ev)
	return nil
}

// RepeatedFlag implements flag.Value around an assignment function that is
// executed each time the flag is supplied.
type RepeatedFlag func(val string) error

func (f *RepeatedFlag) String() string { return "" }

func (f *RepeatedFlag) Set(val string) error { return (*f)(val) }
