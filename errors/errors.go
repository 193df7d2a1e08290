// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package errors creates errors that remember the call stack they were made
// on. Harness packages and security tests use it instead of the standard
// errors package and fmt.Errorf, so that a failure printed with "%+v" shows
// where each layer of context was added:
//
//	if err := d.PushFile(ctx, src, dst); err != nil {
//		return errors.Wrapf(err, "failed to push %s", src)
//	}
//
// testing.State prints that form when an error is passed to Error or Fatal.
// Is, As and Unwrap forward to the standard library.
package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"go.chromium.org/sts/errors/stack"
)

// chained is an error message plus the stack it was created on, optionally
// layered over a cause.
type chained struct {
	msg   string
	stk   stack.Stack
	cause error
}

// newChained must be called directly by the exported constructors; the
// recorded stack starts at their caller.
func newChained(cause error, msg string) *chained {
	return &chained{msg: msg, stk: stack.New(2), cause: cause}
}

func (e *chained) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return e.msg + ": " + e.cause.Error()
}

func (e *chained) Unwrap() error { return e.cause }

// Format prints the message for %v and %s, and every layer with its stack
// for %+v.
func (e *chained) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		io.WriteString(s, trace(e))
		return
	}
	io.WriteString(s, e.Error())
}

// trace renders each layer of err, outermost first. Layers created outside
// this package have no stack and are shown with "at ???".
func trace(err error) string {
	var b strings.Builder
	for err != nil {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		c, ok := err.(*chained)
		if !ok {
			b.WriteString(err.Error() + "\n\tat ???")
			break
		}
		b.WriteString(c.msg + "\n" + c.stk.String())
		err = c.cause
	}
	return b.String()
}

// New returns an error with msg.
func New(msg string) error {
	return newChained(nil, msg)
}

// Errorf returns an error with a formatted message. Use Wrapf rather than
// %v or %w to add context to another error.
func Errorf(format string, args ...interface{}) error {
	return newChained(nil, fmt.Sprintf(format, args...))
}

// Wrap returns an error with msg layered over cause. A nil cause gives the
// same result as New.
func Wrap(cause error, msg string) error {
	return newChained(cause, msg)
}

// Wrapf is like Wrap with a formatted message.
func Wrapf(cause error, format string, args ...interface{}) error {
	return newChained(cause, fmt.Sprintf(format, args...))
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// Unwrap returns the cause of err, or nil.
func Unwrap(err error) error { return stderrors.Unwrap(err) }
