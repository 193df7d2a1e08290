// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package adb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/shutil"
	"go.chromium.org/sts/ssh"
)

// sshTransport runs the adb client installed on a lab host that has the
// device attached.
type sshTransport struct {
	conn   *ssh.Conn
	serial string
}

// NewSSHTransport returns a Transport for serial reached through the lab host
// behind conn. The transport takes ownership of conn.
func NewSSHTransport(conn *ssh.Conn, serial string) Transport {
	return &sshTransport{conn: conn, serial: serial}
}

func (t *sshTransport) adb(args ...string) string {
	return shutil.Command("adb", append([]string{"-s", t.serial}, args...)...)
}

func (t *sshTransport) Serial() string { return t.serial }

func (t *sshTransport) Shell(ctx context.Context, cmd string) ([]byte, int, error) {
	var out bytes.Buffer
	code, err := t.conn.Run(ctx, t.adb("shell", withExitMarker(cmd)), nil, &out, &out)
	if err != nil {
		return nil, 0, err
	}
	if code != 0 {
		// adb itself failed; the device never saw the command.
		return nil, 0, errors.Errorf("adb shell exited with %d: %s", code, truncate(strings.TrimSpace(out.String()), 200))
	}
	return splitExitMarker(out.Bytes())
}

func (t *sshTransport) Push(ctx context.Context, r io.Reader, remote string, mode os.FileMode) error {
	script := fmt.Sprintf(`tmp=$(mktemp) || exit 1; cat > "$tmp" && %s "$tmp" %s && %s; rc=$?; rm -f "$tmp"; exit $rc`,
		t.adb("push"), shutil.Escape(remote),
		t.adb("shell", fmt.Sprintf("chmod %o %s", mode.Perm(), shutil.Escape(remote))))
	var out bytes.Buffer
	code, err := t.conn.Run(ctx, script, r, &out, &out)
	if err != nil {
		return err
	}
	if code != 0 {
		return errors.Errorf("adb push %s failed with %d: %s", remote, code, truncate(strings.TrimSpace(out.String()), 200))
	}
	return nil
}

func (t *sshTransport) Pull(ctx context.Context, remote string, w io.Writer) error {
	var stderr bytes.Buffer
	code, err := t.conn.Run(ctx, t.adb("exec-out", "cat", remote), nil, w, &stderr)
	if err != nil {
		return err
	}
	if code != 0 {
		return errors.Errorf("adb pull %s failed with %d: %s", remote, code, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (t *sshTransport) State(ctx context.Context) (string, error) {
	var out bytes.Buffer
	code, err := t.conn.Run(ctx, t.adb("get-state"), nil, &out, io.Discard)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "disconnected", nil
	}
	return strings.TrimSpace(out.String()), nil
}

func (t *sshTransport) Root(ctx context.Context) (string, error) {
	var out bytes.Buffer
	code, err := t.conn.Run(ctx, t.adb("root"), nil, &out, &out)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return out.String(), errors.Errorf("adb root exited with %d", code)
	}
	return out.String(), nil
}

func (t *sshTransport) Close(ctx context.Context) error {
	return t.conn.Close(ctx)
}
