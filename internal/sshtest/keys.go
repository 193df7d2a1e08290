// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sshtest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.chromium.org/sts/errors"
	"go.chromium.org/sts/ssh"
)

const defaultKeyBits = 1024

var (
	keysOnce               sync.Once
	staticUser, staticHost *rsa.PrivateKey
	keysErr                error
)

// Keys returns a user key and a host key shared by all tests in the process.
func Keys() (userKey, hostKey *rsa.PrivateKey, err error) {
	keysOnce.Do(func() {
		if staticUser, keysErr = rsa.GenerateKey(rand.Reader, defaultKeyBits); keysErr != nil {
			return
		}
		staticHost, keysErr = rsa.GenerateKey(rand.Reader, defaultKeyBits)
	})
	return staticUser, staticHost, keysErr
}

// WriteKey writes key in PEM format to a 0600 file in dir.
func WriteKey(dir string, key *rsa.PrivateKey) (path string, err error) {
	data := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	path = filepath.Join(dir, "sts_unittest_ssh_key")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", errors.Wrap(err, "failed to write key")
	}
	return path, nil
}

// Env is a running server plus a client connected to it.
type Env struct {
	Srv  *Server
	Conn *ssh.Conn
	// Opts are the options Conn was made with; KeyFile stays valid
	// until the test ends.
	Opts ssh.Options
}

// Start starts a server with handler and connects to it. Both are torn down
// when t finishes.
func Start(t *testing.T, handler ExecHandler) *Env {
	t.Helper()
	userKey, hostKey, err := Keys()
	if err != nil {
		t.Fatal("Failed to generate keys: ", err)
	}
	srv, err := NewServer(&userKey.PublicKey, hostKey, handler)
	if err != nil {
		t.Fatal("Failed to start server: ", err)
	}
	t.Cleanup(func() { srv.Close() })

	keyFile, err := WriteKey(t.TempDir(), userKey)
	if err != nil {
		t.Fatal(err)
	}
	env := &Env{Srv: srv, Opts: ssh.Options{KeyFile: keyFile}}
	if err := ssh.ParseTarget(srv.Addr().String(), &env.Opts); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	opts := env.Opts
	if env.Conn, err = ssh.New(ctx, &opts); err != nil {
		t.Fatal("Failed to connect: ", err)
	}
	t.Cleanup(func() { env.Conn.Close(ctx) })
	return env
}
