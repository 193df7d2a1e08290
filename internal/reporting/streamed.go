// Copyright 2024 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package reporting

import (
	"encoding/json"
	"io"
	"os"
)

// StreamedResultsFilename is the name of the file holding one JSON result
// per line, written as tests run.
const StreamedResultsFilename = "streamed_results.jsonl"

// StreamedWriter appends results to a JSON Lines file. The last line can be
// replaced, so a result written when a test starts is updated when it ends.
// It is not safe for concurrent use.
type StreamedWriter struct {
	f    *os.File
	last int64 // offset of the last line
}

// NewStreamedWriter opens path for appending, creating it if needed.
func NewStreamedWriter(path string) (*StreamedWriter, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &StreamedWriter{f: f, last: end}, nil
}

// Append writes res as a new line.
func (w *StreamedWriter) Append(res *Result) error {
	end, err := w.f.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	w.last = end
	return w.writeLine(res)
}

// ReplaceLast overwrites the line written by the last Append with res.
func (w *StreamedWriter) ReplaceLast(res *Result) error {
	if err := w.f.Truncate(w.last); err != nil {
		return err
	}
	if _, err := w.f.Seek(w.last, io.SeekStart); err != nil {
		return err
	}
	return w.writeLine(res)
}

func (w *StreamedWriter) writeLine(res *Result) error {
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	_, err = w.f.Write(append(b, '\n'))
	return err
}

// Close closes the file.
func (w *StreamedWriter) Close() error {
	return w.f.Close()
}
