// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package adb

import (
	"context"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/electricbubble/gadb"

	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/internal/logging"
)

const defaultServerPort = 5037

// ServerOptions locates the adb server.
type ServerOptions struct {
	// Host and Port of the adb server. Defaults to localhost:5037.
	Host string
	Port int
	// Path of the host adb binary used for commands the server protocol
	// does not expose (adb root). Defaults to "adb".
	ADBPath string
}

// gadbTransport talks to a device through a local adb server.
type gadbTransport struct {
	client gadb.Client
	dev    gadb.Device
	opts   ServerOptions
}

// DialServer returns a Transport for serial through the adb server described
// by opts. If serial is host:port of a network device, it is connected first.
func DialServer(ctx context.Context, serial string, opts ServerOptions) (Transport, error) {
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.Port == 0 {
		opts.Port = defaultServerPort
	}
	if opts.ADBPath == "" {
		opts.ADBPath = "adb"
	}

	var client gadb.Client
	if err := doAsync(ctx, func() error {
		var err error
		client, err = gadb.NewClientWith(opts.Host, opts.Port)
		return err
	}); err != nil {
		return nil, errors.Wrapf(err, "failed to reach adb server at %s:%d", opts.Host, opts.Port)
	}

	if host, portStr, err := net.SplitHostPort(serial); err == nil {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, errors.Wrapf(err, "bad port in %q", serial)
		}
		logging.Infof(ctx, "Connecting adb to %s", serial)
		if err := doAsync(ctx, func() error { return client.Connect(host, port) }); err != nil {
			return nil, errors.Wrapf(err, "adb connect %s", serial)
		}
	}

	t := &gadbTransport{client: client, opts: opts}
	if err := t.findDevice(ctx, serial); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *gadbTransport) findDevice(ctx context.Context, serial string) error {
	var devs []gadb.Device
	if err := doAsync(ctx, func() error {
		var err error
		devs, err = t.client.DeviceList()
		return err
	}); err != nil {
		return errors.Wrap(err, "failed to list adb devices")
	}
	var seen []string
	for _, d := range devs {
		if d.Serial() == serial {
			t.dev = d
			return nil
		}
		seen = append(seen, d.Serial())
	}
	return errors.Errorf("device %s not found among [%s]", serial, strings.Join(seen, " "))
}

func (t *gadbTransport) Serial() string { return t.dev.Serial() }

func (t *gadbTransport) Shell(ctx context.Context, cmd string) ([]byte, int, error) {
	var out []byte
	if err := doAsync(ctx, func() error {
		var err error
		out, err = t.dev.RunShellCommandWithBytes(withExitMarker(cmd))
		return err
	}); err != nil {
		return nil, 0, err
	}
	return splitExitMarker(out)
}

func (t *gadbTransport) Push(ctx context.Context, r io.Reader, remote string, mode os.FileMode) error {
	return doAsync(ctx, func() error {
		return t.dev.Push(r, remote, time.Now(), mode)
	})
}

func (t *gadbTransport) Pull(ctx context.Context, remote string, w io.Writer) error {
	return doAsync(ctx, func() error {
		return t.dev.Pull(remote, w)
	})
}

func (t *gadbTransport) State(ctx context.Context) (string, error) {
	serial := t.dev.Serial()
	// Device handles are tied to a transport id that changes across
	// reboots, so the list is refreshed.
	if err := t.findDevice(ctx, serial); err != nil {
		return "disconnected", nil
	}
	var st string
	err := doAsync(ctx, func() error {
		s, err := t.dev.State()
		st = string(s)
		return err
	})
	return st, err
}

func (t *gadbTransport) Root(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, t.opts.ADBPath, "-H", t.opts.Host, "-P", strconv.Itoa(t.opts.Port), "-s", t.dev.Serial(), "root")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), errors.Wrapf(err, "%s root", t.opts.ADBPath)
	}
	return string(out), nil
}

func (t *gadbTransport) Close(ctx context.Context) error { return nil }
