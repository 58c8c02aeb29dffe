// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package comms

import (
	"fmt"

	"github.com/usbarmory/GoTEE-spm/psa"
)

// pointerAccess carries host physical pointers, vectors are accessed in
// place through ATU windows.
type pointerAccess struct{}

func (pointerAccess) deserialize(t *Transport, r *Request, body []byte) (err error) {
	var msg PointerMsg

	if err = unmarshal(body, &msg); err != nil {
		return
	}

	inLen, outLen, err := vectors(r, msg.CtrlParam)

	if err != nil {
		return
	}

	n := inLen + outLen

	// every pointer is validated before any mapping
	for i := 0; i < n; i++ {
		size := msg.IOSizes[i]
		host := msg.HostPtrs[i]

		if size == 0 {
			continue
		}

		if host == 0 || host+uint64(size) < host {
			return fmt.Errorf("invalid host pointer %#x, %w", host, ErrMalformed)
		}

		if err = t.conf.Permissions.CheckHostPointer(host, size, i >= inLen); err != nil {
			return
		}
	}

	for i := 0; i < n; i++ {
		var local uintptr

		size := msg.IOSizes[i]
		host := msg.HostPtrs[i]

		if size > 0 {
			if local, err = t.mapHost(r, host, size); err != nil {
				t.atu.FreeRegions(r.regions)
				r.regions = 0

				return
			}
		}

		if i < inLen {
			r.In[i] = psa.IOVec{Base: local, Len: size}
		} else {
			r.Out[i-inLen] = psa.IOVec{Base: local, Len: size}
			r.OutSize[i-inLen] = size
		}
	}

	r.Handle = psa.Handle(msg.Handle)

	return
}

// mapHost returns the local address of a host range, each ATU region is
// referenced at most once per request.
func (t *Transport) mapHost(r *Request, host uint64, size uint32) (local uintptr, err error) {
	if local, idx, err := t.atu.HostToLocal(host, size); err == nil && r.regions&(1<<idx) != 0 {
		return local, nil
	}

	idx, err := t.atu.AllocRegion(host, size)

	if err != nil {
		return
	}

	r.regions |= 1 << idx
	local, _, err = t.atu.HostToLocal(host, size)

	return
}

func (pointerAccess) serialize(t *Transport, r *Request) ([]byte, error) {
	reply := PointerReply{
		ReturnVal: int32(r.ReturnVal),
	}

	for i, out := range r.Out {
		reply.OutSize[i] = out.Len
	}

	return marshal(&reply), nil
}

func (pointerAccess) serializeError(status psa.Status) []byte {
	return marshal(&PointerReply{ReturnVal: int32(status)})
}
