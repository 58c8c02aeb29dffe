// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package comms

import (
	"context"
	"fmt"

	"github.com/usbarmory/GoTEE-spm/psa"
)

// Link is the host endpoint of the mailbox.
type Link interface {
	Send(msg []byte) error
	// Wait blocks until a reply is received.
	Wait(ctx context.Context) ([]byte, error)
}

// Client issues embed protocol requests on behalf of a host client.
type Client struct {
	Link     Link
	ClientID uint16

	seq uint8
}

// Call sends a request to the service identified by h and returns its status
// and the written output vectors, outSize holds the output vector lengths.
func (c *Client) Call(ctx context.Context, h psa.Handle, typ int16, in [][]byte, outSize []uint32) (status psa.Status, out [][]byte, err error) {
	var payload []byte

	if len(in)+len(outSize) > psa.MaxIOVec {
		return psa.ErrProgrammerError, nil, fmt.Errorf("comms: %d+%d vectors, %w", len(in), len(outSize), ErrUnsupported)
	}

	msg := &EmbedMsg{
		Handle:    int32(h),
		CtrlParam: psa.PackParams(typ, len(in), len(outSize)),
	}

	for i, v := range in {
		msg.IOSize[i] = uint16(len(v))
		payload = append(payload, v...)
	}

	for i, size := range outSize {
		if size > EmbedPayloadSize {
			return psa.ErrProgrammerError, nil, fmt.Errorf("comms: output vector %d too large, %w", i, ErrMalformed)
		}

		msg.IOSize[len(in)+i] = uint16(size)
	}

	c.seq++

	hdr := Header{
		ProtocolVer: ProtocolEmbed,
		SeqNum:      c.seq,
		ClientID:    c.ClientID,
	}

	if err = c.Link.Send(msg.Marshal(hdr, payload)); err != nil {
		return
	}

	buf, err := c.Link.Wait(ctx)

	if err != nil {
		return
	}

	rh, reply, data, err := UnmarshalEmbedReply(buf)

	if err != nil {
		return
	}

	if rh.SeqNum != hdr.SeqNum || rh.ClientID != hdr.ClientID {
		return psa.ErrGenericError, nil, fmt.Errorf("comms: unexpected reply %d/%d, %w", rh.SeqNum, rh.ClientID, ErrMalformed)
	}

	status = psa.Status(reply.ReturnVal)

	for i := range outSize {
		size := int(reply.OutSize[i])

		if size > len(data) {
			return status, nil, fmt.Errorf("comms: short reply payload, %w", ErrMalformed)
		}

		out = append(out, data[:size])
		data = data[size:]
	}

	return
}
