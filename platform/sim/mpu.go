// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sim

import (
	"sync"

	"github.com/usbarmory/tamago/bits"

	"github.com/usbarmory/GoTEE-spm/isolation"
)

type mpuRegion struct {
	rbar uint32
	rlar uint32
}

// MPU is an Armv8-M MPU model.
type MPU struct {
	sync.Mutex

	ctrl    uint32
	attrs   [8]uint8
	regions []mpuRegion

	// Writes counts region programming operations.
	Writes int
}

// NewMPU returns an MPU with n regions.
func NewMPU(n int) *MPU {
	return &MPU{
		regions: make([]mpuRegion, n),
	}
}

// RegionCount implements isolation.MPU.
func (mpu *MPU) RegionCount() int {
	return len(mpu.regions)
}

// Enabled implements isolation.MPU.
func (mpu *MPU) Enabled() bool {
	mpu.Lock()
	defer mpu.Unlock()

	return bits.Get(&mpu.ctrl, isolation.CTRL_ENABLE, 1) == 1
}

// Enable implements isolation.MPU.
func (mpu *MPU) Enable(ctrl uint32) {
	mpu.Lock()
	defer mpu.Unlock()

	mpu.ctrl = ctrl
	bits.Set(&mpu.ctrl, isolation.CTRL_ENABLE)
}

// Disable implements isolation.MPU.
func (mpu *MPU) Disable() {
	mpu.Lock()
	defer mpu.Unlock()

	bits.Clear(&mpu.ctrl, isolation.CTRL_ENABLE)
}

// Control returns the MPU_CTRL register value.
func (mpu *MPU) Control() uint32 {
	mpu.Lock()
	defer mpu.Unlock()

	return mpu.ctrl
}

// SetMemAttr implements isolation.MPU.
func (mpu *MPU) SetMemAttr(index int, attr uint8) {
	mpu.Lock()
	defer mpu.Unlock()

	mpu.attrs[index&0x7] = attr
}

// MemAttr returns a memory attribute encoding.
func (mpu *MPU) MemAttr(index int) uint8 {
	mpu.Lock()
	defer mpu.Unlock()

	return mpu.attrs[index&0x7]
}

// SetRegion implements isolation.MPU.
func (mpu *MPU) SetRegion(n int, rbar uint32, rlar uint32) {
	mpu.Lock()
	defer mpu.Unlock()

	if n < 0 || n >= len(mpu.regions) {
		return
	}

	mpu.regions[n] = mpuRegion{rbar, rlar}
	mpu.Writes++
}

// ClearRegion implements isolation.MPU.
func (mpu *MPU) ClearRegion(n int) {
	mpu.Lock()
	defer mpu.Unlock()

	if n < 0 || n >= len(mpu.regions) {
		return
	}

	mpu.regions[n] = mpuRegion{}
}

// Region returns the decoded configuration of region n.
func (mpu *MPU) Region(n int) (r isolation.Region, enabled bool) {
	mpu.Lock()
	defer mpu.Unlock()

	if n < 0 || n >= len(mpu.regions) {
		return
	}

	return isolation.DecodeRegion(mpu.regions[n].rbar, mpu.regions[n].rlar)
}

// check returns whether the range [start, end] is allowed by the MPU.
func (mpu *MPU) check(start uintptr, end uintptr, unpriv bool, write bool) bool {
	mpu.Lock()
	defer mpu.Unlock()

	if bits.Get(&mpu.ctrl, isolation.CTRL_ENABLE, 1) == 0 {
		return true
	}

	for _, reg := range mpu.regions {
		r, enabled := isolation.DecodeRegion(reg.rbar, reg.rlar)

		if !enabled || start < uintptr(r.Base) || start > uintptr(r.Limit) {
			continue
		}

		// the whole range must be covered by the same region
		if end > uintptr(r.Limit) {
			return false
		}

		if unpriv && !r.Unprivileged {
			return false
		}

		return !(write && r.ReadOnly)
	}

	return !unpriv && bits.Get(&mpu.ctrl, isolation.CTRL_PRIVDEFENA, 1) == 1
}
