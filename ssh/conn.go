// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package ssh connects to lab hosts that have Android devices attached.
package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/net/proxy"
	"golang.org/x/term"

	"go.chromium.org/sts/errors"
)

const (
	defaultSSHUser = "root"
	defaultSSHPort = 22

	// sshMsgIgnore is the SSH global message sent to ping the host.
	// See RFC 4253 11.2, "Ignored Data Message".
	sshMsgIgnore = "SSH_MSG_IGNORE"
)

var targetRegexp = regexp.MustCompile("^([^@]+@)?([^@]+)$")

// Conn is an SSH connection to a lab host.
type Conn struct {
	cl *ssh.Client
}

// Options contains options used when connecting to an SSH server.
type Options struct {
	// User is the username to use when connecting.
	User string
	// Hostname is the SSH server's host:port.
	Hostname string

	// KeyFile is an optional path to an unencrypted SSH private key.
	KeyFile string
	// KeyDir is an optional directory (typically $HOME/.ssh) containing
	// standard unencrypted SSH keys tried after KeyFile.
	KeyDir string

	// ProxyCommand is run to reach the host, with %h and %p substituted.
	ProxyCommand string

	// ConnectTimeout bounds each TCP connection attempt.
	ConnectTimeout time.Duration
	// ConnectRetries is the number of retries after a failed attempt.
	ConnectRetries int
	// ConnectRetryInterval is the minimum time between attempts, including
	// the time spent on the failed attempt.
	ConnectRetryInterval time.Duration

	// WarnFunc (if non-nil) receives non-fatal errors seen while connecting.
	WarnFunc func(string)
}

func (o *Options) warn(format string, args ...interface{}) {
	if o.WarnFunc != nil {
		o.WarnFunc(fmt.Sprintf(format, args...))
	}
}

// ParseTarget parses target of the form "[<user>@]host[:<port>]" and fills
// User and Hostname in o with defaults for omitted parts.
func ParseTarget(target string, o *Options) error {
	m := targetRegexp.FindStringSubmatch(target)
	if m == nil {
		return errors.Errorf("couldn't parse %q as \"[user@]hostname[:port]\"", target)
	}
	o.User = defaultSSHUser
	if m[1] != "" {
		o.User = strings.TrimSuffix(m[1], "@")
	}
	if _, _, err := net.SplitHostPort(m[2]); err != nil {
		o.Hostname = net.JoinHostPort(m[2], strconv.Itoa(defaultSSHPort))
	} else {
		o.Hostname = m[2]
	}
	return nil
}

// authMethods returns authentication methods for o: keys, then ssh-agent,
// then keyboard-interactive when stdin is a terminal.
func authMethods(o *Options) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	var signers []ssh.Signer
	if o.KeyFile != "" {
		s, _, err := readPrivateKey(o.KeyFile)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read private key %s", o.KeyFile)
		}
		signers = append(signers, s)
	}
	if o.KeyDir != "" {
		for _, fn := range []string{"testing_rsa", "id_ecdsa", "id_ed25519", "id_rsa"} {
			p := filepath.Join(o.KeyDir, fn)
			if p == o.KeyFile {
				continue
			} else if _, err := os.Stat(p); os.IsNotExist(err) {
				continue
			}
			if s, rok, err := readPrivateKey(p); err == nil {
				signers = append(signers, s)
			} else if !rok {
				o.warn("Failed to read %v: %v", p, err)
			}
		}
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if a, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(a).Signers))
		} else {
			o.warn("Failed to connect to ssh-agent at %v: %v", sock, err)
		}
	}

	if stdin := int(os.Stdin.Fd()); term.IsTerminal(stdin) {
		prefix := "[" + o.Hostname + "] "
		methods = append(methods, ssh.KeyboardInteractive(
			func(user, inst string, qs []string, es []bool) ([]string, error) {
				as := make([]string, len(qs))
				for i, q := range qs {
					os.Stdout.WriteString(prefix + q)
					b, err := term.ReadPassword(stdin)
					os.Stdout.WriteString("\n")
					if err != nil {
						return nil, err
					}
					as[i] = string(b)
				}
				return as, nil
			}))
	}
	return methods, nil
}

// readPrivateKey reads a passphraseless private key. rok reports whether the
// file itself could be read.
func readPrivateKey(path string) (s ssh.Signer, rok bool, err error) {
	k, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	s, err = ssh.ParsePrivateKey(k)
	return s, true, err
}

// New connects to the host described by o, retrying per o's settings.
// Callers must call Conn.Close.
func New(ctx context.Context, o *Options) (*Conn, error) {
	if o.User == "" {
		o.User = defaultSSHUser
	}
	am, err := authMethods(o)
	if err != nil {
		return nil, err
	}
	cfg := &ssh.ClientConfig{
		User:            o.User,
		Auth:            am,
		Timeout:         o.ConnectTimeout,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	for i := 0; ; i++ {
		start := time.Now()
		cl, err := connect(ctx, o.Hostname, o.ProxyCommand, cfg)
		if err == nil {
			return &Conn{cl: cl}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if i >= o.ConnectRetries {
			return nil, err
		}
		remaining := o.ConnectRetryInterval - time.Since(start)
		if remaining <= 0 {
			o.warn("Retrying SSH connection: %v", err)
			continue
		}
		o.warn("Retrying SSH connection in %v: %v", remaining.Round(time.Millisecond), err)
		select {
		case <-time.After(remaining):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func connect(ctx context.Context, hostPort, proxyCommand string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	var cl *ssh.Client
	if err := doAsync(ctx, func() error {
		var conn net.Conn
		var err error
		if proxyCommand == "" || strings.EqualFold(proxyCommand, "none") {
			conn, err = proxy.FromEnvironment().Dial("tcp", hostPort)
		} else {
			conn, err = DialProxyCommand(ctx, hostPort, proxyCommand)
		}
		if err != nil {
			return err
		}
		c, chans, reqs, err := ssh.NewClientConn(conn, hostPort, cfg)
		if err != nil {
			conn.Close()
			return err
		}
		cl = ssh.NewClient(c, chans, reqs)
		return nil
	}, func() {
		if cl != nil {
			cl.Close()
		}
	}); err != nil {
		return nil, err
	}
	return cl, nil
}

// Close closes the connection.
func (c *Conn) Close(ctx context.Context) error {
	return doAsync(ctx, func() error { return c.cl.Close() }, nil)
}

// Ping checks that the connection is alive, waiting up to timeout for the
// host's response.
func (c *Conn) Ping(ctx context.Context, timeout time.Duration) error {
	ch := make(chan error, 1)
	go func() {
		_, _, err := c.cl.SendRequest(sshMsgIgnore, true, []byte{})
		ch <- err
	}()
	select {
	case err := <-ch:
		return err
	case <-time.After(timeout):
		return errors.New("timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}
