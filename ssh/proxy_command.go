// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ssh

import (
	"bytes"
	"context"
	"io"
	"net"
	"os/exec"
	"strings"
	"time"

	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/internal/logging"
)

// DialProxyCommand starts proxyCommand with %h and %p replaced by the host
// and port of hostPort and returns a connection over its stdin and stdout.
func DialProxyCommand(ctx context.Context, hostPort, proxyCommand string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		return nil, err
	}
	line := strings.NewReplacer("%%", "%", "%h", host, "%p", port).Replace(proxyCommand)
	logging.Debugf(ctx, "Connecting with proxy command: %s", line)

	args := strings.Fields(line)
	if len(args) == 0 {
		return nil, errors.New("empty proxy command")
	}
	cmd := exec.Command(args[0], args[1:]...)

	conn := &proxyCommandConn{}
	if conn.WriteCloser, err = cmd.StdinPipe(); err != nil {
		return nil, err
	}
	if conn.ReadCloser, err = cmd.StdoutPipe(); err != nil {
		return nil, err
	}
	cmd.Stderr = &conn.stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			logging.Infof(ctx, "Proxy command %q failed: %v; stderr: %s", line, err, conn.stderr.String())
		}
	}()
	return conn, nil
}

// proxyCommandConn implements net.Conn and net.Addr over a child process.
type proxyCommandConn struct {
	io.ReadCloser
	io.WriteCloser
	stderr bytes.Buffer
}

func (c *proxyCommandConn) Close() error {
	rerr := c.ReadCloser.Close()
	werr := c.WriteCloser.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}

func (c *proxyCommandConn) LocalAddr() net.Addr  { return c }
func (c *proxyCommandConn) RemoteAddr() net.Addr { return c }

func (*proxyCommandConn) SetDeadline(t time.Time) error      { return errors.New("not supported") }
func (*proxyCommandConn) SetReadDeadline(t time.Time) error  { return errors.New("not supported") }
func (*proxyCommandConn) SetWriteDeadline(t time.Time) error { return errors.New("not supported") }

func (*proxyCommandConn) Network() string { return "proxycommand" }
func (*proxyCommandConn) String() string  { return "0.0.0.0:0" }
