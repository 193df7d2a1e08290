// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tombstone

import (
	"google.golang.org/protobuf/encoding/protowire"

	"go.chromium.org/sts/errors"
)

// Field numbers of AOSP system/core/debuggerd/proto/tombstone.proto.
const (
	fieldBuildFingerprint = 2
	fieldPID              = 5
	fieldTID              = 6
	fieldUID              = 7
	fieldCommandLine      = 9
	fieldSignalInfo       = 10
	fieldAbortMessage     = 14
	fieldThreads          = 16

	fieldSignalNumber          = 1
	fieldSignalName            = 2
	fieldSignalCode            = 3
	fieldSignalCodeName        = 4
	fieldSignalHasFaultAddress = 8
	fieldSignalFaultAddress    = 9

	fieldMapKey   = 1
	fieldMapValue = 2

	fieldThreadID        = 1
	fieldThreadName      = 2
	fieldThreadBacktrace = 4

	fieldFrameRelPC          = 1
	fieldFrameFunctionName   = 4
	fieldFrameFunctionOffset = 5
	fieldFrameFileName       = 6
	fieldFrameBuildID        = 8
)

// field is a decoded protobuf field. Exactly one of varint and bytes is
// meaningful, depending on the wire type.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

// forEachField calls f for each field in b. Fixed-width fields are skipped.
func forEachField(b []byte, f func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		fd := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			fd.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			fd.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n >= 0 {
				b = b[n:]
				continue
			}
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := f(fd); err != nil {
			return err
		}
	}
	return nil
}

type thread struct {
	id        int
	name      string
	backtrace []Frame
}

// ParseProto parses a protobuf tombstone (tombstone_NN.pb).
func ParseProto(b []byte) (*Tombstone, error) {
	t := &Tombstone{}
	threads := map[int]*thread{}
	err := forEachField(b, func(f field) error {
		switch f.num {
		case fieldBuildFingerprint:
			t.BuildFingerprint = string(f.bytes)
		case fieldPID:
			t.PID = int(f.varint)
		case fieldTID:
			t.TID = int(f.varint)
		case fieldUID:
			t.UID = int(f.varint)
		case fieldCommandLine:
			t.CommandLine = append(t.CommandLine, string(f.bytes))
		case fieldSignalInfo:
			return parseSignal(f.bytes, t)
		case fieldAbortMessage:
			t.AbortMessage = string(f.bytes)
		case fieldThreads:
			th, err := parseThreadEntry(f.bytes)
			if err != nil {
				return err
			}
			threads[th.id] = th
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "malformed tombstone proto")
	}
	if t.PID == 0 {
		return nil, errors.New("tombstone proto has no pid")
	}
	if th := threads[t.TID]; th != nil {
		t.ThreadName = th.name
		t.Backtrace = th.backtrace
	}
	return t, nil
}

func parseSignal(b []byte, t *Tombstone) error {
	return forEachField(b, func(f field) error {
		switch f.num {
		case fieldSignalNumber:
			t.Signal = int(int32(f.varint))
		case fieldSignalName:
			t.SignalName = string(f.bytes)
		case fieldSignalCode:
			t.Code = int(int32(f.varint))
		case fieldSignalCodeName:
			t.CodeName = string(f.bytes)
		case fieldSignalHasFaultAddress:
			t.HasFaultAddress = f.varint != 0
		case fieldSignalFaultAddress:
			t.FaultAddress = f.varint
		}
		return nil
	})
}

func parseThreadEntry(b []byte) (*thread, error) {
	th := &thread{}
	err := forEachField(b, func(f field) error {
		switch f.num {
		case fieldMapKey:
			th.id = int(f.varint)
		case fieldMapValue:
			return forEachField(f.bytes, func(f field) error {
				switch f.num {
				case fieldThreadID:
					th.id = int(int32(f.varint))
				case fieldThreadName:
					th.name = string(f.bytes)
				case fieldThreadBacktrace:
					fr, err := parseFrameProto(f.bytes)
					if err != nil {
						return err
					}
					fr.Index = len(th.backtrace)
					th.backtrace = append(th.backtrace, fr)
				}
				return nil
			})
		}
		return nil
	})
	return th, err
}

func parseFrameProto(b []byte) (Frame, error) {
	var fr Frame
	err := forEachField(b, func(f field) error {
		switch f.num {
		case fieldFrameRelPC:
			fr.PC = f.varint
		case fieldFrameFunctionName:
			fr.Function = string(f.bytes)
		case fieldFrameFunctionOffset:
			fr.FunctionOffset = f.varint
		case fieldFrameFileName:
			fr.File = string(f.bytes)
		case fieldFrameBuildID:
			fr.BuildID = string(f.bytes)
		}
		return nil
	})
	return fr, err
}
