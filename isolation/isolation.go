// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package isolation implements the platform isolation HAL of the Secure
// Partition Manager: static boundary setup, partition boundary binding,
// boundary activation on context switch and memory access validation.
//
// Three isolation levels are supported:
//
//	level 1: SPM and partitions are isolated from the Non-secure World only
//	level 2: PSA RoT partitions are further isolated from App RoT ones
//	level 3: each partition is isolated from every other one
package isolation

import (
	"fmt"
	"log"

	"github.com/usbarmory/GoTEE-spm/boundary"
	"github.com/usbarmory/GoTEE-spm/load"
)

// Access is the set of requested memory access attributes.
type Access uint32

const (
	AccessExecutable Access = 1 << iota
	AccessReadable
	AccessWritable
	AccessUnprivileged
	AccessDevice
	AccessNS

	AccessReadWrite = AccessReadable | AccessWritable
)

// Platform groups the hardware interfaces driven by the HAL.
type Platform struct {
	PPC         PPC
	MPU         MPU
	CPU         CPU
	Attribution Attribution
}

// Config is the HAL configuration.
type Config struct {
	// Level is the isolation level (1, 2 or 3).
	Level int
	// MemoryProtection enables the MPU, it is implied by levels 2 and 3.
	MemoryProtection bool
	// NamedMMIO is the allow-list of peripherals assignable to partitions.
	NamedMMIO []NamedMMIO
	// StaticRegions are programmed once by SetUpStaticBoundaries.
	StaticRegions []Region

	Platform
}

// HAL is the isolation hardware abstraction layer. Binding happens during
// system initialization from a single thread, activation and checks are
// invoked by the scheduler within its critical section.
type HAL struct {
	Config

	// configured is the number of MPU regions in use
	configured int
	// dynamic is the first MPU region reserved for level 3 slots
	dynamic int
	// bound counts level 3 bindings
	bound int
	// ready is set once static boundaries are in place
	ready bool
}

// New validates the configuration and returns an isolation HAL.
func New(conf Config) (hal *HAL, err error) {
	if conf.Level < 1 || conf.Level > 3 {
		return nil, fmt.Errorf("invalid isolation level %d, %w", conf.Level, ErrInvalidInput)
	}

	if conf.CPU == nil {
		return nil, fmt.Errorf("missing CPU interface, %w", ErrInvalidInput)
	}

	if conf.Level >= 2 {
		conf.MemoryProtection = true
	}

	if conf.MemoryProtection && conf.MPU == nil {
		return nil, fmt.Errorf("memory protection requires an MPU, %w", ErrInvalidInput)
	}

	if len(conf.NamedMMIO) > 0 && conf.PPC == nil {
		return nil, fmt.Errorf("named MMIO requires a PPC, %w", ErrInvalidInput)
	}

	return &HAL{Config: conf}, nil
}

// SetUpStaticBoundaries configures the static Secure/Non-secure memory and
// peripheral split and the static MPU regions, it returns the boundary of the
// SPM itself.
func (hal *HAL) SetUpStaticBoundaries() (h boundary.Handle, err error) {
	if a := hal.Attribution; a != nil {
		a.ConfigureSAU()

		if err = a.InitMPC(); err != nil {
			return 0, fmt.Errorf("could not initialize MPC, %v: %w", err, ErrGeneric)
		}

		if err = a.InitPPC(); err != nil {
			return 0, fmt.Errorf("could not initialize PPC, %v: %w", err, ErrGeneric)
		}
	}

	if hal.MemoryProtection {
		mpu := hal.MPU
		n := len(hal.StaticRegions)

		if mpu.RegionCount() < n {
			return 0, fmt.Errorf("%d static regions exceed MPU capacity, %w", n, ErrGeneric)
		}

		if hal.Level == 3 && mpu.RegionCount() < n+boundary.MaxRegions {
			return 0, fmt.Errorf("no MPU regions left for partition slots, %w", ErrGeneric)
		}

		mpu.Disable()

		for i := 0; i < mpu.RegionCount(); i++ {
			mpu.ClearRegion(i)
		}

		mpu.SetMemAttr(AttrCodeIndex, AttrNormalWTRA)
		mpu.SetMemAttr(AttrDataIndex, AttrNormalWBRWA)
		mpu.SetMemAttr(AttrDeviceIndex, AttrDeviceNGnRE)

		for i, r := range hal.StaticRegions {
			mpu.SetRegion(i, r.RBAR(), r.RLAR())
		}

		hal.configured = n
		hal.dynamic = n

		mpu.Enable(DefaultControl())
	}

	hal.ready = true

	return boundary.SPM, nil
}

// BindBoundary computes the boundary of a partition and configures the
// peripherals it owns. Failures leave already configured peripherals in
// place.
func (hal *HAL) BindBoundary(p *load.Partition) (h boundary.Handle, err error) {
	if p == nil {
		return 0, fmt.Errorf("missing partition, %w", ErrGeneric)
	}

	if !hal.ready {
		return 0, ErrNotInit
	}

	privileged := hal.Level == 1 || p.IsPSARoT()
	h = boundary.Encode(privileged, p.IsNSAgentTZ())

	slot := 0

	for _, asset := range p.Assets {
		if asset.Attr&load.NamedMMIO == 0 {
			continue
		}

		idx, ok := hal.lookup(asset.Dev)

		if !ok {
			return 0, fmt.Errorf("partition %s: device %q not allowed, %w", p.Name, asset.Dev, ErrGeneric)
		}

		data := hal.NamedMMIO[idx].Data

		if data.PPCBank != DoNotConfigure {
			hal.PPC.ConfigureToSecure(data.PPCBank, data.PPCMask)

			if privileged {
				hal.PPC.ClearSecureUnpriv(data.PPCBank, data.PPCMask)
			} else {
				hal.PPC.EnableSecureUnpriv(data.PPCBank, data.PPCMask)
			}
		}

		switch hal.Level {
		case 2:
			if privileged {
				continue
			}

			if err = hal.addDeviceRegion(data); err != nil {
				return 0, fmt.Errorf("partition %s: device %q, %w", p.Name, asset.Dev, err)
			}
		case 3:
			if slot >= boundary.MaxRegions || idx+1 > boundary.MaxMMIOIndex {
				return 0, fmt.Errorf("partition %s: too many MMIO regions, %w", p.Name, ErrGeneric)
			}

			if h, err = h.WithRegion(slot, uint8(idx+1), asset.Attr&load.ReadWrite != 0); err != nil {
				return 0, fmt.Errorf("partition %s: %v, %w", p.Name, err, ErrGeneric)
			}

			slot++
		}
	}

	if hal.Level == 3 {
		if hal.bound > 0xff {
			return 0, fmt.Errorf("partition %s: boundary index exhausted, %w", p.Name, ErrGeneric)
		}

		h = h.WithIndex(uint8(hal.bound))
		hal.bound++
	}

	log.Printf("SPM bound %s boundary:%s", p.Name, h)

	return
}

func (hal *HAL) lookup(ref load.DeviceRef) (int, bool) {
	for i, m := range hal.NamedMMIO {
		if m.Ref == ref {
			return i, true
		}
	}

	return -1, false
}

func (hal *HAL) addDeviceRegion(data PlatformData) error {
	mpu := hal.MPU

	if mpu.RegionCount() <= hal.configured {
		return fmt.Errorf("no MPU regions left, %w", ErrGeneric)
	}

	if data.PeriphStart&^AddressMask != 0 || data.PeriphLimit&0x1f != 0x1f {
		return fmt.Errorf("unaligned peripheral range %#x-%#x, %w", data.PeriphStart, data.PeriphLimit, ErrGeneric)
	}

	if mpu.Enabled() {
		mpu.Disable()
	}

	r := deviceRegion(data, true)
	mpu.SetRegion(hal.configured, r.RBAR(), r.RLAR())
	hal.configured++

	mpu.Enable(DefaultControl())

	return nil
}

func deviceRegion(data PlatformData, rw bool) Region {
	return Region{
		Base:             data.PeriphStart,
		Limit:            data.PeriphLimit,
		ReadOnly:         !rw,
		Unprivileged:     true,
		ExecuteNever:     true,
		PrivExecuteNever: true,
		AttrIndex:        AttrDeviceIndex,
	}
}

// ActivateBoundary applies the boundary of the partition about to run.
func (hal *HAL) ActivateBoundary(p *load.Partition, h boundary.Handle) error {
	privileged := h.Privileged()

	hal.CPU.SetPrivileged(privileged)

	if hal.Level != 3 || !hal.MemoryProtection {
		return nil
	}

	mpu := hal.MPU
	mpu.Disable()

	for slot := 0; slot < boundary.MaxRegions; slot++ {
		n := hal.dynamic + slot
		mmio, rw, ok := h.Region(slot)

		if privileged || !ok || int(mmio) > len(hal.NamedMMIO) {
			mpu.ClearRegion(n)
			continue
		}

		r := deviceRegion(hal.NamedMMIO[mmio-1].Data, rw)
		mpu.SetRegion(n, r.RBAR(), r.RLAR())
	}

	mpu.Enable(DefaultControl())

	return nil
}

// NeedSwitch returns whether switching between two boundaries requires the
// isolation state to be updated.
func (hal *HAL) NeedSwitch(from, to boundary.Handle) bool {
	return boundary.NeedSwitch(from, to)
}

// MemoryCheck validates that the memory range is accessible, with the
// requested access, by the owner of the boundary.
func (hal *HAL) MemoryCheck(h boundary.Handle, base uintptr, size uint32, access Access) error {
	var flags RangeFlags

	if size == 0 {
		return nil
	}

	if base == 0 {
		return ErrInvalidInput
	}

	switch {
	case access&AccessReadWrite == AccessReadWrite:
		flags |= RangeReadWrite
	case access&AccessReadable != 0:
		flags |= RangeRead
	default:
		return ErrInvalidInput
	}

	if access&AccessNS != 0 {
		flags |= RangeNonSecure
	}

	if !h.Privileged() {
		flags |= RangeUnpriv
	}

	if h.NSAgent() {
		if hal.CPU.NSPrivileged() {
			flags &^= RangeUnpriv
		} else {
			flags |= RangeUnpriv
		}

		flags |= RangeNonSecure
	}

	if !hal.CPU.CheckAddressRange(base, size, flags) {
		return ErrMemFault
	}

	return nil
}
