// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package dut provides a connection to the Android "Device Under Test",
// either through a local adb server or through a lab host reached over SSH.
package dut

import (
	"context"
	"strings"
	"time"

	"go.chromium.org/sts/android/adb"
	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/internal/logging"
	"go.chromium.org/sts/internal/testingutil"
	"go.chromium.org/sts/ssh"
)

const (
	defaultConnectTimeout = 10 * time.Second
	onlineTimeout         = 30 * time.Second
	reconnectRetryDelay   = time.Second
)

// Kind is the way a device is reached.
type Kind string

const (
	// KindADB reaches the device through a local adb server.
	KindADB Kind = "adb"
	// KindSSH runs adb on a lab host reached over SSH.
	KindSSH Kind = "ssh"
)

// Target identifies a device.
type Target struct {
	Kind Kind
	// Serial is the adb serial of the device. For network devices on a
	// local adb server it is "host:port".
	Serial string
	// Host is the lab host "[user@]host[:port]" for KindSSH.
	Host string
}

func (t *Target) String() string {
	if t.Kind == KindSSH {
		return string(KindSSH) + ":" + t.Host + "/" + t.Serial
	}
	return string(KindADB) + ":" + t.Serial
}

// ParseTarget parses a target of one of the forms
//
//	adb:<serial>
//	adb:<host>:<port>
//	ssh:[<user>@]<host>[:<port>]/<serial>
//
// A target without a prefix is an adb serial.
func ParseTarget(s string) (*Target, error) {
	kind, rest, ok := strings.Cut(s, ":")
	switch {
	case ok && kind == string(KindSSH):
		i := strings.LastIndex(rest, "/")
		if i <= 0 || i == len(rest)-1 {
			return nil, errors.Errorf("bad target %q: want ssh:[user@]host[:port]/serial", s)
		}
		return &Target{Kind: KindSSH, Host: rest[:i], Serial: rest[i+1:]}, nil
	case ok && kind == string(KindADB):
		if rest == "" {
			return nil, errors.Errorf("bad target %q: empty serial", s)
		}
		return &Target{Kind: KindADB, Serial: rest}, nil
	case s == "":
		return nil, errors.New("empty target")
	default:
		return &Target{Kind: KindADB, Serial: s}, nil
	}
}

// Options controls how a DUT is connected.
type Options struct {
	// ADB locates the local adb server for KindADB targets.
	ADB adb.ServerOptions

	// KeyFile and KeyDir hold SSH keys for KindSSH targets.
	KeyFile string
	KeyDir  string
	// ProxyCommand is used to reach lab hosts, as in ssh_config.
	ProxyCommand string
	// ConnectTimeout bounds each connection attempt.
	ConnectTimeout time.Duration
	// ConnectRetries is the number of extra SSH connection attempts.
	ConnectRetries int
}

// DUT is a connected Android device.
type DUT struct {
	target *Target
	opts   Options
	dev    *adb.Device
}

// New connects to target and waits for the device to be online. Callers
// must call Close.
func New(ctx context.Context, target string, opts Options) (*DUT, error) {
	t, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	d := &DUT{target: t, opts: opts}
	tr, err := d.dial(ctx)
	if err != nil {
		return nil, err
	}
	d.dev = adb.New(tr)
	if err := d.dev.WaitForDeviceOnline(ctx, onlineTimeout); err != nil {
		d.dev.Close(ctx)
		return nil, errors.Wrapf(err, "%v is not online", t)
	}
	return d, nil
}

func (d *DUT) dial(ctx context.Context) (adb.Transport, error) {
	switch d.target.Kind {
	case KindSSH:
		o := ssh.Options{
			KeyFile:              d.opts.KeyFile,
			KeyDir:               d.opts.KeyDir,
			ProxyCommand:         d.opts.ProxyCommand,
			ConnectTimeout:       d.opts.ConnectTimeout,
			ConnectRetries:       d.opts.ConnectRetries,
			ConnectRetryInterval: reconnectRetryDelay,
			WarnFunc:             func(msg string) { logging.Info(ctx, msg) },
		}
		if err := ssh.ParseTarget(d.target.Host, &o); err != nil {
			return nil, err
		}
		conn, err := ssh.New(ctx, &o)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to connect to lab host %s", d.target.Host)
		}
		return adb.NewSSHTransport(conn, d.target.Serial), nil
	default:
		cctx, cancel := context.WithTimeout(ctx, d.opts.ConnectTimeout)
		defer cancel()
		return adb.DialServer(cctx, d.target.Serial, d.opts.ADB)
	}
}

// Target returns the target d is connected to.
func (d *DUT) Target() *Target { return d.target }

// Device returns the device. The same *adb.Device stays valid across
// Reconnect.
func (d *DUT) Device() *adb.Device { return d.dev }

// Close releases the connection.
func (d *DUT) Close(ctx context.Context) error {
	return d.dev.Close(ctx)
}

// Reconnect re-establishes the connection, retrying until ctx expires, and
// waits for the device to be online.
func (d *DUT) Reconnect(ctx context.Context) error {
	var tr adb.Transport
	if err := testingutil.Poll(ctx, func(ctx context.Context) error {
		var err error
		tr, err = d.dial(ctx)
		return err
	}, &testingutil.PollOptions{Interval: reconnectRetryDelay}); err != nil {
		return errors.Wrapf(err, "failed to reconnect to %v", d.target)
	}
	if err := d.dev.Reset(ctx, tr); err != nil {
		logging.Debugf(ctx, "Closing old connection: %v", err)
	}
	return d.dev.WaitForDeviceOnline(ctx, onlineTimeout)
}

// Reboot reboots the device. If the device does not come back over the
// existing connection, the connection is re-established.
func (d *DUT) Reboot(ctx context.Context) error {
	err := d.dev.Reboot(ctx)
	if err == nil {
		return nil
	}
	logging.Infof(ctx, "Reconnecting after reboot: %v", err)
	if err := d.Reconnect(ctx); err != nil {
		return err
	}
	return d.dev.WaitForBootComplete(ctx, adb.DefaultBootTimeout)
}
