// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package comms

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
)

// frameHeaderSize is the size of the stream frame length prefix.
const frameHeaderSize = 2

// WriteFrame writes a mailbox message to a byte stream, prefixed by its
// little-endian 16-bit length.
func WriteFrame(w io.Writer, msg []byte) (err error) {
	if len(msg) > MaxMessageSize {
		return fmt.Errorf("comms: %d bytes frame, %w", len(msg), ErrMalformed)
	}

	buf := make([]byte, frameHeaderSize+len(msg))
	binary.LittleEndian.PutUint16(buf, uint16(len(msg)))
	copy(buf[frameHeaderSize:], msg)

	_, err = w.Write(buf)

	return
}

// ReadFrame reads a mailbox message written by WriteFrame.
func ReadFrame(r io.Reader) (msg []byte, err error) {
	hdr := make([]byte, frameHeaderSize)

	if _, err = io.ReadFull(r, hdr); err != nil {
		return
	}

	size := int(binary.LittleEndian.Uint16(hdr))

	if size > MaxMessageSize {
		return nil, fmt.Errorf("comms: %d bytes frame, %w", size, ErrMalformed)
	}

	msg = make([]byte, size)
	_, err = io.ReadFull(r, msg)

	return
}

// StreamLink is a Link over a byte stream, such as a serial port.
type StreamLink struct {
	r io.Reader
	w io.Writer

	frames chan frame
}

type frame struct {
	msg []byte
	err error
}

// NewStreamLink returns a link which reads replies from r and writes
// requests to w.
func NewStreamLink(r io.Reader, w io.Writer) *StreamLink {
	l := &StreamLink{
		r:      r,
		w:      w,
		frames: make(chan frame, 1),
	}

	go l.read()

	return l
}

func (l *StreamLink) read() {
	for {
		msg, err := ReadFrame(l.r)
		l.frames <- frame{msg, err}

		if err != nil {
			close(l.frames)
			return
		}
	}
}

// Send implements Link.
func (l *StreamLink) Send(msg []byte) error {
	return WriteFrame(l.w, msg)
}

// Wait implements Link.
func (l *StreamLink) Wait(ctx context.Context) ([]byte, error) {
	select {
	case f, ok := <-l.frames:
		if !ok {
			return nil, io.EOF
		}

		return f.msg, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
