// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package sshtest runs an in-process SSH server for unit tests.
package sshtest

import (
	"bytes"
	"crypto/rsa"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"sync/atomic"

	"golang.org/x/crypto/ssh"

	"go.chromium.org/sts/errors"
)

const (
	sshMsgIgnore = "SSH_MSG_IGNORE"

	maxStringLen = 1 << 16
)

// Server is an SSH server listening on localhost that authenticates clients
// with a single RSA key.
//
// Only "exec" requests and pings (SSH_MSG_IGNORE) are supported. "exec"
// requests are passed to a caller-supplied handler.
type Server struct {
	cfg      *ssh.ServerConfig
	listener net.Listener

	answerPings atomic.Bool
	rejectConns atomic.Int64
	handler     ExecHandler
}

// ExecHandler services "exec" requests. It may be called concurrently.
type ExecHandler func(req *ExecReq)

func newServerConfig(pk *rsa.PublicKey, hk *rsa.PrivateKey) (*ssh.ServerConfig, error) {
	pub, err := ssh.NewPublicKey(pk)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate SSH public key")
	}
	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if subtle.ConstantTimeCompare(key.Marshal(), pub.Marshal()) == 1 {
				return &ssh.Permissions{}, nil
			}
			return nil, errors.Errorf("unknown public key for %q", c.User())
		},
	}
	signer, err := ssh.NewSignerFromKey(hk)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate host signer")
	}
	cfg.AddHostKey(signer)
	return cfg, nil
}

// NewServer starts a server on a random localhost port. It uses host key hk
// and accepts the user key pk.
func NewServer(pk *rsa.PublicKey, hk *rsa.PrivateKey, handler ExecHandler) (*Server, error) {
	cfg, err := newServerConfig(pk, hk)
	if err != nil {
		return nil, err
	}
	ls, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg, listener: ls, handler: handler}
	s.answerPings.Store(true)

	go func() {
		for {
			conn, err := ls.Accept()
			if err != nil {
				return
			}
			go func() {
				if err := s.handleConn(conn); err != nil {
					log.Print("Got error while handling connection: ", err)
				}
			}()
		}
	}()
	return s, nil
}

// Close stops listening for connections.
func (s *Server) Close() error { return s.listener.Close() }

// Addr returns the address the server listens on.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// AnswerPings sets whether SSH_MSG_IGNORE requests get a reply.
func (s *Server) AnswerPings(v bool) { s.answerPings.Store(v) }

// RejectConns makes the server drop the next n connections.
func (s *Server) RejectConns(n int) { s.rejectConns.Store(int64(n)) }

func (s *Server) handleConn(conn net.Conn) error {
	if s.rejectConns.Add(-1) >= 0 {
		conn.Close()
		return errors.New("intentionally rejecting")
	}

	_, chans, reqs, err := ssh.NewServerConn(conn, s.cfg)
	if err != nil {
		return errors.Wrap(err, "failed to handshake")
	}

	go func() {
		for req := range reqs {
			if !req.WantReply {
				continue
			}
			if req.Type == sshMsgIgnore {
				if s.answerPings.Load() {
					req.Reply(false, nil)
				}
				continue
			}
			req.Reply(false, nil)
		}
	}()

	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, fmt.Sprintf("%q unsupported", nc.ChannelType()))
			continue
		}
		ch, chReqs, err := nc.Accept()
		if err != nil {
			return errors.Wrap(err, "failed to accept channel")
		}
		go s.handleChannel(ch, chReqs)
	}
	return nil
}

func (s *Server) handleChannel(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()

	for req := range reqs {
		if req.Type != "exec" {
			req.Reply(false, nil)
			continue
		}
		cmd, err := readStringPayload(req.Payload)
		if err != nil || s.handler == nil {
			req.Reply(false, nil)
			continue
		}
		er := &ExecReq{Cmd: cmd, ch: ch, req: req}
		s.handler(er)
		if er.started {
			// Only one "exec" request can succeed per channel (RFC 4254 6.5).
			return
		}
	}
}

func readStringPayload(payload []byte) (string, error) {
	var n uint32
	br := bytes.NewReader(payload)
	if err := binary.Read(br, binary.BigEndian, &n); err != nil {
		return "", errors.Wrap(err, "failed to read length")
	}
	if n > maxStringLen {
		return "", errors.Errorf("string length %v too big", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(br, b); err != nil {
		return "", errors.Wrapf(err, "failed to read %v-byte string", n)
	}
	return string(b), nil
}

func makeIntPayload(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// ExecReq is an "exec" request (RFC 4254 6.5).
type ExecReq struct {
	// Cmd is the command line to execute.
	Cmd string

	ch      ssh.Channel
	req     *ssh.Request
	started bool
}

// Start replies to the request. If success is false, no other methods may be
// called; otherwise End must be called once the command finishes.
func (e *ExecReq) Start(success bool) error {
	e.started = success
	return e.req.Reply(success, nil)
}

// Read reads the client's stdin.
func (e *ExecReq) Read(p []byte) (int, error) { return e.ch.Read(p) }

// Write writes to the client's stdout.
func (e *ExecReq) Write(p []byte) (int, error) { return e.ch.Write(p) }

// Stderr returns the client's stderr stream.
func (e *ExecReq) Stderr() io.Writer { return e.ch.Stderr() }

// CloseOutput closes stdout and stderr.
func (e *ExecReq) CloseOutput() error { return e.ch.CloseWrite() }

// End reports the command's exit status.
func (e *ExecReq) End(status int) error {
	_, err := e.ch.SendRequest("exit-status", false, makeIntPayload(uint32(status)))
	return err
}

// Reply is a convenience for handlers that answer with canned output: it
// starts the request, writes stdout, closes output and ends with status.
func (e *ExecReq) Reply(stdout string, status int) {
	e.Start(true)
	io.WriteString(e, stdout)
	e.CloseOutput()
	e.End(status)
}
