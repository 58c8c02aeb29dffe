// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package boundary implements the partition boundary handle, an opaque word
// encoding the isolation attributes of a secure partition.
//
// The handle is compared by the scheduler on every context switch to decide
// whether the platform isolation state must be updated, its bit pattern is
// part of the platform ABI.
//
// Isolation level 1 and 2 layout:
//
//	| 31      2 |       1        |     0     |
//	|  reserved | 1: privileged  | 1: NS agent |
//
// Isolation level 3 layout:
//
//	| 31        24 | 23       20 | ... | 7          4 | 3     2 | 1    | 0  |
//	| unique index | region 5    | ... | region 1     | reserved | PRIV | NS |
//
// Each region slot is:
//
//	|      3       | 2          0 |
//	| 1: RW, 0: RO |  MMIO index  |
//
// A zero slot is empty, MMIO indices are therefore 1-based.
package boundary

import (
	"errors"
	"fmt"

	"github.com/usbarmory/tamago/bits"
)

// Handle is a partition boundary handle.
type Handle uint32

const (
	NSPos   = 0
	PrivPos = 1

	regionPos   = 4
	regionWidth = 4
	regionMask  = 0xf
	regionIndex = 0x7
	regionRW    = 3

	indexPos  = 24
	indexMask = 0xff
)

// MaxRegions is the number of MMIO region slots available at isolation
// level 3.
const MaxRegions = 5

// MaxMMIOIndex is the highest MMIO index a region slot can hold.
const MaxMMIOIndex = regionIndex

// ErrRegion is returned when a region slot or MMIO index is out of range.
var ErrRegion = errors.New("invalid boundary region")

// Encode returns the boundary handle for the given privilege and NS agent
// attributes.
func Encode(privileged bool, nsAgent bool) Handle {
	var h uint32

	bits.SetN(&h, PrivPos, 1, b2u(privileged))
	bits.SetN(&h, NSPos, 1, b2u(nsAgent))

	return Handle(h)
}

// SPM is the boundary of the partition manager itself.
var SPM = Encode(true, false)

// Privileged returns whether the partition runs privileged.
func (h Handle) Privileged() bool {
	v := uint32(h)
	return bits.Get(&v, PrivPos, 1) == 1
}

// NSAgent returns whether the partition is the TrustZone NS agent.
func (h Handle) NSAgent() bool {
	v := uint32(h)
	return bits.Get(&v, NSPos, 1) == 1
}

// WithIndex returns a copy of the handle with the unique index set.
func (h Handle) WithIndex(index uint8) Handle {
	v := uint32(h)
	bits.SetN(&v, indexPos, indexMask, uint32(index))
	return Handle(v)
}

// Index returns the unique index of a level 3 handle.
func (h Handle) Index() uint8 {
	v := uint32(h)
	return uint8(bits.Get(&v, indexPos, indexMask))
}

// WithRegion returns a copy of the handle with the region slot set to the
// given MMIO index and access.
func (h Handle) WithRegion(slot int, mmio uint8, rw bool) (Handle, error) {
	if slot < 0 || slot >= MaxRegions {
		return h, fmt.Errorf("%w: slot %d", ErrRegion, slot)
	}

	if mmio == 0 || mmio > MaxMMIOIndex {
		return h, fmt.Errorf("%w: mmio index %d", ErrRegion, mmio)
	}

	attr := uint32(mmio)

	if rw {
		bits.Set(&attr, regionRW)
	}

	v := uint32(h)
	bits.SetN(&v, regionPos+slot*regionWidth, regionMask, attr)

	return Handle(v), nil
}

// Region returns the MMIO index and access of a region slot, ok is false for
// empty or invalid slots.
func (h Handle) Region(slot int) (mmio uint8, rw bool, ok bool) {
	if slot < 0 || slot >= MaxRegions {
		return
	}

	v := uint32(h)
	attr := bits.Get(&v, regionPos+slot*regionWidth, regionMask)

	if attr == 0 {
		return
	}

	return uint8(attr & regionIndex), bits.Get(&attr, regionRW, 1) == 1, true
}

// NeedSwitch returns whether switching from one boundary to another requires
// an update of the platform isolation state.
//
// Privileged partitions share a single flat secure mapping, therefore
// switching between two privileged boundaries never requires an update.
func NeedSwitch(from Handle, to Handle) bool {
	if from == to {
		return false
	}

	if from.Privileged() && to.Privileged() {
		return false
	}

	return true
}

func (h Handle) String() string {
	return fmt.Sprintf("%#.8x priv:%v ns:%v", uint32(h), h.Privileged(), h.NSAgent())
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}

	return 0
}
