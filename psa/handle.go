// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package psa

import (
	"github.com/usbarmory/tamago/bits"
)

// Handle is a PSA connection handle, positive values are valid.
type Handle int32

const NullHandle Handle = 0

// Stateless handle layout:
//
//	| 31 | 30 | 29   16 | 15     8 | 7      0 |
//	|  0 |  1 | reserved| version  |  index   |
const (
	statelessIndicator = 30
	statelessVersion   = 8
	statelessIndex     = 0
)

// StatelessHandle returns the static handle of the stateless service
// at the given index with the given version.
func StatelessHandle(index int, version uint8) Handle {
	var h uint32

	bits.Set(&h, statelessIndicator)
	bits.SetN(&h, statelessVersion, 0xff, uint32(version))
	bits.SetN(&h, statelessIndex, 0xff, uint32(index)&0xff)

	return Handle(h)
}

// IsStateless returns whether the handle is a static stateless handle.
func (h Handle) IsStateless() bool {
	v := uint32(h)
	return h > 0 && bits.Get(&v, statelessIndicator, 1) == 1
}

// StatelessIndex returns the service index of a stateless handle.
func (h Handle) StatelessIndex() int {
	v := uint32(h)
	return int(bits.Get(&v, statelessIndex, 0xff))
}

// StatelessVersion returns the version encoded in a stateless handle.
func (h Handle) StatelessVersion() uint8 {
	v := uint32(h)
	return uint8(bits.Get(&v, statelessVersion, 0xff))
}

// Control word layout of psa_call:
//
//	| 31       16 | 15     8 | 7      0 |
//	|    type     |  in_len  |  out_len |
const (
	ctrlType   = 16
	ctrlInLen  = 8
	ctrlOutLen = 0
)

// PackParams packs a call type and vector counts in a control word.
func PackParams(typ int16, inLen int, outLen int) uint32 {
	var ctrl uint32

	bits.SetN(&ctrl, ctrlType, 0xffff, uint32(uint16(typ)))
	bits.SetN(&ctrl, ctrlInLen, 0xff, uint32(inLen)&0xff)
	bits.SetN(&ctrl, ctrlOutLen, 0xff, uint32(outLen)&0xff)

	return ctrl
}

// UnpackParams is the inverse of PackParams.
func UnpackParams(ctrl uint32) (typ int16, inLen int, outLen int) {
	typ = int16(bits.Get(&ctrl, ctrlType, 0xffff))
	inLen = int(bits.Get(&ctrl, ctrlInLen, 0xff))
	outLen = int(bits.Get(&ctrl, ctrlOutLen, 0xff))

	return
}
