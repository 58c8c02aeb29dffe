// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package comms

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/usbarmory/GoTEE-spm/psa"
)

// Protocol versions.
const (
	ProtocolEmbed         uint8 = 0
	ProtocolPointerAccess uint8 = 1
)

// HeaderSize is the size of the message header.
const HeaderSize = 4

// EmbedPayloadSize is the largest payload of embed messages.
const EmbedPayloadSize = 0x800

// MaxMessageSize is the size of the largest valid message.
const MaxMessageSize = HeaderSize + embedMsgSize + EmbedPayloadSize

// Header is the header of every message and reply.
type Header struct {
	ProtocolVer uint8
	SeqNum      uint8
	ClientID    uint16
}

// Bytes returns the header wire encoding.
func (h *Header) Bytes() []byte {
	return marshal(h)
}

// Unmarshal decodes a header.
func (h *Header) Unmarshal(buf []byte) error {
	return unmarshal(buf, h)
}

// EmbedMsg is the fixed part of an embed request, the input vectors follow
// back to back.
type EmbedMsg struct {
	Handle    int32
	CtrlParam uint32
	IOSize    [psa.MaxIOVec]uint16
}

// EmbedReply is the fixed part of an embed reply, the written output vectors
// follow back to back.
type EmbedReply struct {
	ReturnVal int32
	OutSize   [psa.MaxIOVec]uint16
}

// PointerMsg is a pointer access request, vectors reference host memory.
type PointerMsg struct {
	Handle    int32
	CtrlParam uint32
	IOSizes   [psa.MaxIOVec]uint32
	HostPtrs  [psa.MaxIOVec]uint64
}

// PointerReply is a pointer access reply.
type PointerReply struct {
	ReturnVal int32
	OutSize   [psa.MaxIOVec]uint32
}

// wire sizes of the fixed message parts
const (
	embedMsgSize   = 16
	embedReplySize = 12
)

func marshal(v ...interface{}) []byte {
	buf := new(bytes.Buffer)

	for _, f := range v {
		// writes to a bytes.Buffer of fixed size values cannot fail
		binary.Write(buf, binary.LittleEndian, f)
	}

	return buf.Bytes()
}

func unmarshal(buf []byte, v interface{}) error {
	if len(buf) < binary.Size(v) {
		return fmt.Errorf("%d bytes, %w", len(buf), ErrMalformed)
	}

	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, v)
}

// Marshal returns the wire encoding of an embed request with its input
// payload.
func (m *EmbedMsg) Marshal(h Header, payload []byte) []byte {
	return append(marshal(&h, m), payload...)
}

// Marshal returns the wire encoding of a pointer access request.
func (m *PointerMsg) Marshal(h Header) []byte {
	return marshal(&h, m)
}

// UnmarshalEmbedReply decodes an embed reply and returns its output payload.
func UnmarshalEmbedReply(buf []byte) (h Header, r EmbedReply, payload []byte, err error) {
	if err = h.Unmarshal(buf); err != nil {
		return
	}

	if err = unmarshal(buf[HeaderSize:], &r); err != nil {
		return
	}

	payload = buf[HeaderSize+embedReplySize:]

	return
}

// UnmarshalPointerReply decodes a pointer access reply.
func UnmarshalPointerReply(buf []byte) (h Header, r PointerReply, err error) {
	if err = h.Unmarshal(buf); err != nil {
		return
	}

	err = unmarshal(buf[HeaderSize:], &r)

	return
}

// protocol is a wire protocol variant.
type protocol interface {
	// deserialize decodes a request body into r, mapping its vectors to
	// local memory.
	deserialize(t *Transport, r *Request, body []byte) error
	// serialize encodes the reply body of r.
	serialize(t *Transport, r *Request) ([]byte, error)
	// serializeError encodes an error reply body.
	serializeError(status psa.Status) []byte
}

var protocols = map[uint8]protocol{
	ProtocolEmbed:         embed{},
	ProtocolPointerAccess: pointerAccess{},
}

// vectors validates a control word against the vector sizes of a message
// and sets the request type and vector counts.
func vectors(r *Request, ctrl uint32) (inLen int, outLen int, err error) {
	typ, inLen, outLen := psa.UnpackParams(ctrl)

	if inLen+outLen > psa.MaxIOVec {
		return 0, 0, fmt.Errorf("%d+%d vectors, %w", inLen, outLen, ErrUnsupported)
	}

	r.Type = typ
	r.In = r.in[:inLen]
	r.Out = r.out[:outLen]

	return
}
