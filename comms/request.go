// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package comms

import (
	"github.com/usbarmory/GoTEE-spm/psa"
)

// Request is a client request received from the host.
type Request struct {
	Protocol uint8
	SeqNum   uint8
	// ClientID is the host client ID, as received.
	ClientID uint16

	Handle psa.Handle
	Type   int16

	// In and Out vectors are rebased to local addresses, Out lengths are
	// updated with the written lengths on reply.
	In  []psa.IOVec
	Out []psa.IOVec
	// OutSize holds the requested output sizes.
	OutSize [psa.MaxIOVec]uint32

	// ReturnVal is the service status.
	ReturnVal psa.Status

	// ATU regions referenced by the request.
	regions uint32

	slot    int
	payload uintptr

	in  [psa.MaxIOVec]psa.IOVec
	out [psa.MaxIOVec]psa.IOVec
}

func (r *Request) reset() {
	slot := r.slot
	payload := r.payload

	*r = Request{
		slot:    slot,
		payload: payload,
	}
}

func (r *Request) header() Header {
	return Header{
		ProtocolVer: r.Protocol,
		SeqNum:      r.SeqNum,
		ClientID:    r.ClientID,
	}
}

// NSClientID returns the SPM client ID of the host client, Non-secure client
// IDs are negative.
func (r *Request) NSClientID() int32 {
	return -int32(r.ClientID) - 1
}
