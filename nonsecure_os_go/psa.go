// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package main

import (
	"runtime"
	"unsafe"

	"github.com/usbarmory/GoTEE-spm/psa"
)

func address(buf []byte) uint32 {
	if len(buf) == 0 {
		return 0
	}

	return uint32(uintptr(unsafe.Pointer(&buf[0])))
}

func frameworkVersion() uint32 {
	return smc(psa.SMCFrameworkVersion, 0, 0, 0)
}

func version(sid uint32) uint32 {
	return smc(psa.SMCVersion, sid, 0, 0)
}

func connect(sid uint32, version uint32) (psa.Handle, psa.Status) {
	r := int32(smc(psa.SMCConnect, sid, version, 0))

	if r < 0 {
		return psa.NullHandle, psa.Status(r)
	}

	return psa.Handle(r), psa.Success
}

func closeHandle(h psa.Handle) psa.Status {
	return psa.Status(int32(smc(psa.SMCClose, uint32(h), 0, 0)))
}

// call issues a client call, out is truncated to the written lengths.
func call(h psa.Handle, typ int16, in [][]byte, out [][]byte) (status psa.Status) {
	var v psa.SMCVectors

	for i, buf := range in {
		v.In[i] = psa.IOVec32{Base: address(buf), Len: uint32(len(buf))}
	}

	for i, buf := range out {
		v.Out[i] = psa.IOVec32{Base: address(buf), Len: uint32(len(buf))}
	}

	vec := v.Bytes()
	ctrl := psa.PackParams(typ, len(in), len(out))

	status = psa.Status(int32(smc(psa.SMCCall, uint32(h), ctrl, address(vec))))

	runtime.KeepAlive(in)
	runtime.KeepAlive(out)

	if err := v.Unmarshal(vec); err != nil {
		return psa.ErrGenericError
	}

	for i := range out {
		out[i] = out[i][:v.Out[i].Len]
	}

	return
}
