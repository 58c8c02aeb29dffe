// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package comms

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestFrame(t *testing.T) {
	var buf bytes.Buffer

	if err := WriteFrame(&buf, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]byte{3, 0, 1, 2, 3}, buf.Bytes()); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}

	msg, err := ReadFrame(&buf)

	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]byte{1, 2, 3}, msg); diff != "" {
		t.Errorf("message mismatch (-want +got):\n%s", diff)
	}

	if err = WriteFrame(&buf, make([]byte, MaxMessageSize+1)); !errors.Is(err, ErrMalformed) {
		t.Errorf("WriteFrame(oversized) = %v", err)
	}

	if _, err = ReadFrame(bytes.NewReader([]byte{0xff, 0xff})); !errors.Is(err, ErrMalformed) {
		t.Errorf("ReadFrame(oversized) = %v", err)
	}

	if _, err = ReadFrame(bytes.NewReader([]byte{4, 0, 1})); err != io.ErrUnexpectedEOF {
		t.Errorf("ReadFrame(truncated) = %v", err)
	}
}

func TestStreamLink(t *testing.T) {
	var out bytes.Buffer

	in := new(bytes.Buffer)
	WriteFrame(in, []byte("reply"))

	l := NewStreamLink(in, &out)

	if err := l.Send([]byte("req")); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]byte("\x03\x00req"), out.Bytes()); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, err := l.Wait(ctx)

	if err != nil || string(msg) != "reply" {
		t.Fatalf("Wait() = %q, %v", msg, err)
	}

	if _, err = l.Wait(ctx); err != io.EOF {
		t.Errorf("Wait(closed) = %v, want io.EOF", err)
	}
}
