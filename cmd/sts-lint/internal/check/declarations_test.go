// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package check

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDeclarationsPass(t *testing.T) {
	const code = `package security

func init() {
	testing.AddTest(&testing.Test{
		Func:         DoStuff,
		Desc:         "Checks that stuff is done",
		Contacts:     []string{"android-security-sts@google.com"},
		Attr:         []string{"group:sts", "sts_cve:CVE-2021-0487"},
		SoftwareDeps: []string{"managed_users", depNFC},
		Params: []testing.Param{{
			Name:      "arm",
			ExtraAttr: []string{"sts_cve:CVE-2023-21118"},
		}},
	})
}

// init without AddTest is allowed.
func init() {
	x = f()
}
`
	f, fs := parse(t, code, entryPath)
	verifyIssues(t, TestDeclarations(fs, f, false), nil)
}

func TestDeclarationsOnlyTopLevelAddTest(t *testing.T) {
	const code = `package security

func init() {
	for {
		testing.AddTest(&testing.Test{Func: DoStuff})
	}
}
`
	f, fs := parse(t, code, entryPath)
	verifyIssues(t, TestDeclarations(fs, f, false), []string{
		entryPath + ":5:3: " + notOnlyTopAddTestMsg,
	})
}

func TestDeclarationsIgnoresNonEntryFiles(t *testing.T) {
	const code = `package adb

func init() {
	testing.AddTest(t)
}
`
	f, fs := parse(t, code, "android/adb/do_stuff.go")
	verifyIssues(t, TestDeclarations(fs, f, false), nil)
}

func TestDeclarationsErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		decl string
		want []string
	}{
		{
			name: "not literal",
			decl: `testing.AddTest(t)`,
			want: []string{addTestArgLitMsg},
		},
		{
			name: "missing fields",
			decl: `testing.AddTest(&testing.Test{Func: DoStuff})`,
			want: []string{noDescMsg, noContactMsg, noGroupAttrMsg},
		},
		{
			name: "bad fields",
			decl: `testing.AddTest(&testing.Test{
		Func:     OtherStuff,
		Desc:     "checks stuff.",
		Contacts: []string{"nobody"},
		Attr:     []string{"sts_cve:2021-0487"},
		Params: []testing.Param{{
			Name:      name,
			ExtraAttr: []string{"sts_cve:CVE-21-1"},
		}},
	})`,
			want: []string{funcFileNameMsg, badDescMsg, badContactMsg, noGroupAttrMsg, badCVEAttrMsg, nonLiteralParamNameMsg, badCVEAttrMsg},
		},
		{
			name: "non-literal lists",
			decl: `testing.AddTest(&testing.Test{
		Func:         DoStuff,
		Desc:         "Checks stuff",
		Contacts:     contacts,
		Attr:         attrs,
		SoftwareDeps: deps(),
		Params:       params,
	})`,
			want: []string{nonLiteralContactsMsg, nonLiteralAttrMsg, nonLiteralSoftwareDepsMsg, nonLiteralParamsMsg},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			code := "package security\n\nfunc init() {\n\t" + tc.decl + "\n}\n"
			f, fs := parse(t, code, entryPath)
			if diff := cmp.Diff(messages(TestDeclarations(fs, f, false)), tc.want); diff != "" {
				t.Errorf("Issues mismatch (-got +want):\n%s", diff)
			}
		})
	}
}

func TestDeclarationsFixDesc(t *testing.T) {
	const code = `package security

func init() {
	testing.AddTest(&testing.Test{
		Func:     DoStuff,
		Desc:     "checks stuff.",
		Contacts: []string{"me@google.com"},
		Attr:     []string{"group:sts"},
	})
}
`
	f, fs := parse(t, code, entryPath)
	if issues := TestDeclarations(fs, f, true); len(issues) > 0 {
		t.Errorf("TestDeclarations returned %v with fix", issues)
	}
	want := strings.Replace(code, `"checks stuff."`, `"Checks stuff"`, 1)
	if got := formatFile(t, fs, f); got != want {
		t.Errorf("Fixed code mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}
