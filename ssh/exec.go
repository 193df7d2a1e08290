// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ssh

import (
	"bytes"
	"context"
	"io"

	"golang.org/x/crypto/ssh"

	"go.chromium.org/sts/errors"
)

// Run runs cmd on the host and waits for it to exit. stdin, stdout and
// stderr may be nil. The returned exit code is valid only if err is nil.
//
// If ctx is done before cmd exits, the session is closed and ctx.Err()
// is returned; the remote process may keep running.
func (c *Conn) Run(ctx context.Context, cmd string, stdin io.Reader, stdout, stderr io.Writer) (exitCode int, err error) {
	var sess *ssh.Session
	if err := doAsync(ctx, func() error {
		var err error
		sess, err = c.cl.NewSession()
		return err
	}, func() {
		if sess != nil {
			sess.Close()
		}
	}); err != nil {
		return 0, errors.Wrap(err, "failed to open session")
	}
	defer sess.Close()

	sess.Stdin = stdin
	sess.Stdout = stdout
	sess.Stderr = stderr

	err = doAsync(ctx, func() error { return sess.Run(cmd) }, nil)
	if err == nil {
		return 0, nil
	}
	var ee *ssh.ExitError
	if errors.As(err, &ee) {
		return ee.ExitStatus(), nil
	}
	return 0, err
}

// Output runs cmd on the host and returns its stdout. A non-zero exit status
// is reported as an error that includes stderr.
func (c *Conn) Output(ctx context.Context, cmd string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	code, err := c.Run(ctx, cmd, nil, &stdout, &stderr)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", cmd)
	}
	if code != 0 {
		return stdout.Bytes(), errors.Errorf("%s: exit status %d: %s", cmd, code, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}
