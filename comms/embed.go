// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package comms

import (
	"fmt"

	"github.com/usbarmory/GoTEE-spm/psa"
)

// embed carries vector data inline, input vectors are copied into the request
// payload buffer and output vectors are allocated after them.
type embed struct{}

func (embed) deserialize(t *Transport, r *Request, body []byte) (err error) {
	var msg EmbedMsg

	if err = unmarshal(body, &msg); err != nil {
		return
	}

	inLen, outLen, err := vectors(r, msg.CtrlParam)

	if err != nil {
		return
	}

	payload := body[embedMsgSize:]
	off := uint32(0)

	for i := 0; i < inLen; i++ {
		size := uint32(msg.IOSize[i])

		if off+size > uint32(len(payload)) {
			return fmt.Errorf("input vector %d exceeds payload, %w", i, ErrMalformed)
		}

		r.In[i] = psa.IOVec{Base: r.payload + uintptr(off), Len: size}
		off += size
	}

	if off != uint32(len(payload)) {
		return fmt.Errorf("payload size mismatch, %w", ErrMalformed)
	}

	if off > 0 {
		if err = t.conf.Memory.Write(r.payload, payload); err != nil {
			return
		}
	}

	for i := 0; i < outLen; i++ {
		size := uint32(msg.IOSize[inLen+i])

		if off+size > EmbedPayloadSize {
			return fmt.Errorf("output vector %d exceeds payload, %w", i, ErrMalformed)
		}

		r.Out[i] = psa.IOVec{Base: r.payload + uintptr(off), Len: size}
		r.OutSize[i] = size
		off += size
	}

	r.Handle = psa.Handle(msg.Handle)

	return
}

func (embed) serialize(t *Transport, r *Request) (buf []byte, err error) {
	reply := EmbedReply{
		ReturnVal: int32(r.ReturnVal),
	}

	var payload []byte

	for i, out := range r.Out {
		if out.Len > r.OutSize[i] {
			return nil, fmt.Errorf("output vector %d overflow, %w", i, ErrMalformed)
		}

		data := make([]byte, out.Len)

		if out.Len > 0 {
			if err = t.conf.Memory.Read(out.Base, data); err != nil {
				return
			}
		}

		reply.OutSize[i] = uint16(out.Len)
		payload = append(payload, data...)
	}

	return append(marshal(&reply), payload...), nil
}

func (embed) serializeError(status psa.Status) []byte {
	return marshal(&EmbedReply{ReturnVal: int32(status)})
}
