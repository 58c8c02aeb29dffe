// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package isolation

import (
	"github.com/usbarmory/tamago/bits"
)

// MPU_RBAR fields
const (
	RBAR_BASE = 5
	RBAR_SH   = 3
	RBAR_RO   = 2
	RBAR_NP   = 1
	RBAR_XN   = 0
)

// MPU_RLAR fields
const (
	RLAR_LIMIT = 5
	RLAR_PXN   = 4
	RLAR_ATTR  = 1
	RLAR_EN    = 0
)

// MPU_CTRL fields
const (
	CTRL_ENABLE     = 0
	CTRL_HFNMIENA   = 1
	CTRL_PRIVDEFENA = 2
)

// AddressMask clears the low 5 bits ignored by MPU address fields.
const AddressMask = 0xffffffe0

// Memory attribute indices programmed by SetUpStaticBoundaries.
const (
	// normal memory, inner/outer write-through, read-allocate
	AttrCodeIndex = 0
	// normal memory, inner/outer write-back, read/write-allocate
	AttrDataIndex = 1
	// device memory, nGnRE
	AttrDeviceIndex = 2
)

// Memory attribute encodings (MAIR).
const (
	AttrNormalWTRA  = 0xaa
	AttrNormalWBRWA = 0xff
	AttrDeviceNGnRE = 0x04
)

// Region is an MPU region configuration.
type Region struct {
	Base  uint32
	Limit uint32

	ReadOnly         bool
	Unprivileged     bool
	ExecuteNever     bool
	PrivExecuteNever bool

	AttrIndex uint8
}

// RBAR returns the region base address register value.
func (r *Region) RBAR() (rbar uint32) {
	rbar = r.Base & AddressMask

	bits.SetN(&rbar, RBAR_RO, 1, b2u(r.ReadOnly))
	bits.SetN(&rbar, RBAR_NP, 1, b2u(r.Unprivileged))
	bits.SetN(&rbar, RBAR_XN, 1, b2u(r.ExecuteNever))

	return
}

// RLAR returns the region limit address register value, the region is
// enabled.
func (r *Region) RLAR() (rlar uint32) {
	rlar = r.Limit & AddressMask

	bits.SetN(&rlar, RLAR_PXN, 1, b2u(r.PrivExecuteNever))
	bits.SetN(&rlar, RLAR_ATTR, 0x7, uint32(r.AttrIndex)&0x7)
	bits.Set(&rlar, RLAR_EN)

	return
}

// DecodeRegion is the inverse of RBAR and RLAR, the limit low bits are set as
// the hardware considers limits inclusive of the last 32 byte granule.
func DecodeRegion(rbar uint32, rlar uint32) (r Region, enabled bool) {
	r.Base = rbar & AddressMask
	r.Limit = rlar&AddressMask | 0x1f
	r.ReadOnly = bits.Get(&rbar, RBAR_RO, 1) == 1
	r.Unprivileged = bits.Get(&rbar, RBAR_NP, 1) == 1
	r.ExecuteNever = bits.Get(&rbar, RBAR_XN, 1) == 1
	r.PrivExecuteNever = bits.Get(&rlar, RLAR_PXN, 1) == 1
	r.AttrIndex = uint8(bits.Get(&rlar, RLAR_ATTR, 0x7))

	return r, bits.Get(&rlar, RLAR_EN, 1) == 1
}

// DefaultControl is the MPU_CTRL value used when enabling the MPU: the
// default memory map is kept for privileged software and the MPU stays
// enabled during HardFault and NMI handlers.
func DefaultControl() (ctrl uint32) {
	bits.Set(&ctrl, CTRL_ENABLE)
	bits.Set(&ctrl, CTRL_HFNMIENA)
	bits.Set(&ctrl, CTRL_PRIVDEFENA)

	return
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}

	return 0
}
