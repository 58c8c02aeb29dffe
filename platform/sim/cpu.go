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

// CONTROL register fields
const (
	CONTROL_NPRIV = 0
	CONTROL_SPSEL = 1
	CONTROL_FPCA  = 2
)

// SAURegion is a Non-secure attribution region, Limit is inclusive.
type SAURegion struct {
	Start uintptr
	Limit uintptr
}

// SAU is a security attribution unit model, it also stands for the platform
// MPC and PPC reset configuration.
type SAU struct {
	sync.Mutex

	// NonSecure regions, effective once configured.
	NonSecure []SAURegion

	// MPCError and PPCError are returned by InitMPC and InitPPC.
	MPCError error
	PPCError error

	configured bool
}

// ConfigureSAU implements isolation.Attribution.
func (sau *SAU) ConfigureSAU() {
	sau.Lock()
	defer sau.Unlock()

	sau.configured = true
}

// InitMPC implements isolation.Attribution.
func (sau *SAU) InitMPC() error {
	return sau.MPCError
}

// InitPPC implements isolation.Attribution.
func (sau *SAU) InitPPC() error {
	return sau.PPCError
}

// Configured returns whether ConfigureSAU has been invoked.
func (sau *SAU) Configured() bool {
	sau.Lock()
	defer sau.Unlock()

	return sau.configured
}

func (sau *SAU) nonSecure(start uintptr, end uintptr) bool {
	sau.Lock()
	defer sau.Unlock()

	if !sau.configured {
		return false
	}

	for _, r := range sau.NonSecure {
		if start >= r.Start && end <= r.Limit {
			return true
		}
	}

	return false
}

// CPU is a model of the processor state relevant to isolation: the Secure
// and Non-secure CONTROL registers and the TT address range check.
type CPU struct {
	sync.Mutex

	SAU *SAU
	MPU *MPU

	control   uint32
	controlNS uint32

	// FPFlushes counts floating point context flushes.
	FPFlushes int
}

// NewCPU returns a CPU model in privileged thread mode.
func NewCPU(sau *SAU, mpu *MPU) *CPU {
	if sau == nil {
		sau = &SAU{}
	}

	return &CPU{
		SAU: sau,
		MPU: mpu,
	}
}

// SetPrivileged implements isolation.CPU.
func (cpu *CPU) SetPrivileged(privileged bool) {
	cpu.Lock()
	defer cpu.Unlock()

	bits.SetN(&cpu.control, CONTROL_NPRIV, 1, b2u(!privileged))
}

// Privileged implements isolation.CPU.
func (cpu *CPU) Privileged() bool {
	cpu.Lock()
	defer cpu.Unlock()

	return bits.Get(&cpu.control, CONTROL_NPRIV, 1) == 0
}

// SetNSPrivileged sets the Non-secure thread mode privilege.
func (cpu *CPU) SetNSPrivileged(privileged bool) {
	cpu.Lock()
	defer cpu.Unlock()

	bits.SetN(&cpu.controlNS, CONTROL_NPRIV, 1, b2u(!privileged))
}

// NSPrivileged implements isolation.CPU.
func (cpu *CPU) NSPrivileged() bool {
	cpu.Lock()
	defer cpu.Unlock()

	return bits.Get(&cpu.controlNS, CONTROL_NPRIV, 1) == 0
}

// SetFPActive marks the floating point context as active.
func (cpu *CPU) SetFPActive() {
	cpu.Lock()
	defer cpu.Unlock()

	bits.Set(&cpu.control, CONTROL_FPCA)
}

// FPActive returns whether the floating point context is active.
func (cpu *CPU) FPActive() bool {
	cpu.Lock()
	defer cpu.Unlock()

	return bits.Get(&cpu.control, CONTROL_FPCA, 1) == 1
}

// FlushFP implements isolation.CPU.
func (cpu *CPU) FlushFP() {
	cpu.Lock()
	defer cpu.Unlock()

	bits.Clear(&cpu.control, CONTROL_FPCA)
	cpu.FPFlushes++
}

// CheckAddressRange implements isolation.CPU.
func (cpu *CPU) CheckAddressRange(base uintptr, size uint32, flags isolation.RangeFlags) bool {
	if size == 0 {
		return true
	}

	end := base + uintptr(size) - 1

	if end < base {
		return false
	}

	if flags&isolation.RangeAUNonSecure != 0 {
		return cpu.SAU.nonSecure(base, end)
	}

	if cpu.MPU == nil {
		return true
	}

	return cpu.MPU.check(base, end, flags&isolation.RangeUnpriv != 0, flags&isolation.RangeReadWrite != 0)
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}

	return 0
}
