// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package packages

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"go.chromium.org/sts/android/adb"
	"go.chromium.org/sts/errors"
)

// Info describes an installed package as reported by dumpsys package.
type Info struct {
	Name        string
	VersionCode int
	MinSDK      int
	TargetSDK   int
	VersionName string
	Flags       []string
	Debuggable  bool
}

// GetInfo returns information about the installed package pkg.
func GetInfo(ctx context.Context, d *adb.Device, pkg string) (*Info, error) {
	out, err := d.ShellOutput(ctx, "dumpsys", "package", pkg)
	if err != nil {
		return nil, err
	}
	infos := parsePackages(out)
	for _, i := range infos {
		if i.Name == pkg {
			return i, nil
		}
	}
	return nil, errors.Errorf("package %s not found", pkg)
}

var versionRE = regexp.MustCompile(`^versionCode=([0-9]+)(?: minSdk=([0-9]+))?(?: targetSdk=([0-9]+))?`)

// parsePackages reads the "Packages:" section of dumpsys package output.
func parsePackages(s string) []*Info {
	sec := parseTree(s).find("Packages:")
	if sec == nil {
		return nil
	}
	var infos []*Info
	for _, p := range sec.children {
		// Package [com.example.foo] (ffffffc):
		fs := strings.Fields(p.text)
		if len(fs) < 2 || fs[0] != "Package" {
			continue
		}
		info := &Info{Name: strings.Trim(fs[1], "[]")}
		for _, attr := range p.children {
			av := attr.text
			switch {
			case strings.HasPrefix(av, "versionCode="):
				if m := versionRE.FindStringSubmatch(av); m != nil {
					info.VersionCode, _ = strconv.Atoi(m[1])
					info.MinSDK, _ = strconv.Atoi(m[2])
					info.TargetSDK, _ = strconv.Atoi(m[3])
				}
			case strings.HasPrefix(av, "versionName="):
				info.VersionName = strings.TrimPrefix(av, "versionName=")
			case strings.HasPrefix(av, "flags=[") || strings.HasPrefix(av, "pkgFlags=["):
				_, v, _ := strings.Cut(av, "=")
				info.Flags = strings.Fields(strings.Trim(v, "[]"))
				for _, f := range info.Flags {
					if f == "DEBUGGABLE" {
						info.Debuggable = true
					}
				}
			}
		}
		infos = append(infos, info)
	}
	return infos
}

type treeNode struct {
	text     string
	depth    int
	parent   *treeNode
	children []*treeNode
}

func (t *treeNode) find(text string) *treeNode {
	if t == nil {
		return nil
	}
	for _, c := range t.children {
		if c.text == text {
			return c
		}
	}
	return nil
}

// parseTree builds a tree from space-indented dumpsys output.
func parseTree(s string) *treeNode {
	head := &treeNode{depth: -1}
	extra := 0
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		text := strings.TrimLeft(line, " ")
		depth := len(line) - len(text)
		if text == "" {
			// Whitespace-only lines carry the indent of the next line.
			extra += depth
			continue
		}
		depth += extra
		extra = 0
		for head.depth >= depth {
			head = head.parent
		}
		n := &treeNode{text: text, depth: depth, parent: head}
		head.children = append(head.children, n)
		head = n
	}
	for head.parent != nil {
		head = head.parent
	}
	return head
}
