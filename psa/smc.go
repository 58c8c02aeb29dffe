// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package psa

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Secure monitor call functions of the TrustZone agent, the function ID is
// passed in r0, arguments in r1 to r3 and the result is returned in r0.
//
//	SMCFrameworkVersion                     -> version
//	SMCVersion   r1: sid                    -> version
//	SMCConnect   r1: sid r2: version        -> handle or status
//	SMCCall      r1: handle r2: control
//	             r3: SMCVectors address     -> status
//	SMCClose     r1: handle                 -> status
const (
	SMCFrameworkVersion = 0x50534100 + iota
	SMCVersion
	SMCConnect
	SMCCall
	SMCClose
)

// SMCVectorsSize is the size of the SMCVectors memory layout.
const SMCVectorsSize = 2 * MaxIOVec * 8

// IOVec32 is the Non-secure memory layout of a client vector.
type IOVec32 struct {
	Base uint32
	Len  uint32
}

// SMCVectors is the Non-secure memory layout of the vectors of an SMCCall
// request, output lengths are updated on return.
type SMCVectors struct {
	In  [MaxIOVec]IOVec32
	Out [MaxIOVec]IOVec32
}

// Bytes returns the memory layout of the vectors.
func (v *SMCVectors) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, v)

	return buf.Bytes()
}

// Unmarshal decodes the memory layout of the vectors.
func (v *SMCVectors) Unmarshal(buf []byte) error {
	if len(buf) < SMCVectorsSize {
		return fmt.Errorf("psa: short vectors (%d bytes)", len(buf))
	}

	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, v)
}

// Vectors returns the first inLen input and outLen output vectors.
func (v *SMCVectors) Vectors(inLen int, outLen int) (in []IOVec, out []IOVec) {
	for i := 0; i < inLen && i < MaxIOVec; i++ {
		in = append(in, IOVec{Base: uintptr(v.In[i].Base), Len: v.In[i].Len})
	}

	for i := 0; i < outLen && i < MaxIOVec; i++ {
		out = append(out, IOVec{Base: uintptr(v.Out[i].Base), Len: v.Out[i].Len})
	}

	return
}
