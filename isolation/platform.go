// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package isolation

import (
	"github.com/usbarmory/GoTEE-spm/load"
)

// DoNotConfigure marks peripherals without a protection controller bank.
const DoNotConfigure = -1

// PlatformData describes a peripheral which can be assigned to a partition
// as named MMIO.
type PlatformData struct {
	PeriphStart uint32
	PeriphLimit uint32
	PPCBank     int
	PPCMask     uint32
}

// NamedMMIO is an allow-list entry binding a device reference to its
// platform data.
type NamedMMIO struct {
	Ref  load.DeviceRef
	Data PlatformData
}

// PPC is a peripheral protection controller.
type PPC interface {
	// ConfigureToSecure routes the peripherals in mask to the Secure world.
	ConfigureToSecure(bank int, mask uint32)
	// ConfigureToNonSecure routes the peripherals in mask to the
	// Non-secure world.
	ConfigureToNonSecure(bank int, mask uint32)
	// EnableSecureUnpriv grants unprivileged Secure access.
	EnableSecureUnpriv(bank int, mask uint32)
	// ClearSecureUnpriv restricts Secure access to privileged software.
	ClearSecureUnpriv(bank int, mask uint32)
}

// MPU is an Armv8-M Memory Protection Unit, regions are programmed with
// their architectural RBAR and RLAR register values.
type MPU interface {
	RegionCount() int
	Enabled() bool
	Enable(ctrl uint32)
	Disable()
	SetMemAttr(index int, attr uint8)
	SetRegion(n int, rbar uint32, rlar uint32)
	ClearRegion(n int)
}

// RangeFlags are the Armv8-M TT address range check flags.
type RangeFlags uint32

const (
	RangeReadWrite    RangeFlags = 1 << 0
	RangeAUNonSecure  RangeFlags = 1 << 1
	RangeUnpriv       RangeFlags = 1 << 2
	RangeRead         RangeFlags = 1 << 3
	RangeMPUNonSecure RangeFlags = 1 << 4

	RangeNonSecure = RangeAUNonSecure | RangeMPUNonSecure
)

// CPU is the processor state and address check interface.
type CPU interface {
	// SetPrivileged sets the thread mode privilege (CONTROL.nPRIV).
	SetPrivileged(privileged bool)
	// Privileged returns the current thread mode privilege.
	Privileged() bool
	// NSPrivileged returns the Non-secure thread mode privilege
	// (CONTROL_NS.nPRIV).
	NSPrivileged() bool
	// CheckAddressRange returns whether the whole range is accessible
	// with the requested flags.
	CheckAddressRange(base uintptr, size uint32, flags RangeFlags) bool
	// FlushFP discards the lazily stacked floating point context.
	FlushFP()
}

// Attribution configures the static Secure/Non-secure split of the address
// space (SAU/IDAU, MPC and PPC reset configuration).
type Attribution interface {
	ConfigureSAU()
	InitMPC() error
	InitPPC() error
}
