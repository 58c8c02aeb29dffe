// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sim

import (
	"github.com/usbarmory/GoTEE-spm/isolation"
	"github.com/usbarmory/GoTEE-spm/mem"
)

// Simulated host memory, reached through the ATU windows.
const (
	HostStart = 0x40000000
	HostSize  = 0x00400000 // 4MB
)

// Backed sizes of the local memory regions, smaller than their layout
// reservation.
const (
	PartitionDataSize  = 0x00100000
	NonSecureDataSize  = 0x00100000
	PeripheralDataSize = 0x00010000
)

// MPURegions is the default number of MPU regions.
const MPURegions = 16

// Peripherals assignable to partitions.
var Peripherals = []isolation.NamedMMIO{
	{Ref: "timer0", Data: isolation.PlatformData{PeriphStart: mem.PeripheralStart + 0x0000, PeriphLimit: mem.PeripheralStart + 0x0fff, PPCBank: 0, PPCMask: 1 << 0}},
	{Ref: "uart1", Data: isolation.PlatformData{PeriphStart: mem.PeripheralStart + 0x1000, PeriphLimit: mem.PeripheralStart + 0x1fff, PPCBank: 0, PPCMask: 1 << 1}},
	{Ref: "gpio", Data: isolation.PlatformData{PeriphStart: mem.PeripheralStart + 0x2000, PeriphLimit: mem.PeripheralStart + 0x2fff, PPCBank: 1, PPCMask: 1 << 0}},
	{Ref: "wdog", Data: isolation.PlatformData{PeriphStart: mem.PeripheralStart + 0x3000, PeriphLimit: mem.PeripheralStart + 0x3fff, PPCBank: isolation.DoNotConfigure}},
}

// StaticRegions returns the static MPU regions of the simulated memory
// layout.
func StaticRegions() []isolation.Region {
	return []isolation.Region{
		// SPM
		{
			Base:      mem.SecureStart,
			Limit:     mem.SecureStart + mem.SecureSize - 1,
			AttrIndex: isolation.AttrCodeIndex,
		},
		// partition stacks and data
		{
			Base:             mem.PartitionStart,
			Limit:            mem.PartitionStart + mem.PartitionSize - 1,
			Unprivileged:     true,
			ExecuteNever:     true,
			PrivExecuteNever: true,
			AttrIndex:        isolation.AttrDataIndex,
		},
		// mailbox request pool
		{
			Base:             mem.MailboxPoolStart,
			Limit:            mem.MailboxPoolStart + mem.MailboxPoolSize - 1,
			ExecuteNever:     true,
			PrivExecuteNever: true,
			AttrIndex:        isolation.AttrDataIndex,
		},
		// ATU windows
		{
			Base:             mem.ATULogStart,
			Limit:            mem.ATULogStart + mem.ATULogSize - 1,
			ExecuteNever:     true,
			PrivExecuteNever: true,
			AttrIndex:        isolation.AttrDataIndex,
		},
	}
}

// Platform is a complete simulated platform.
type Platform struct {
	PPC *PPC
	MPU *MPU
	SAU *SAU
	CPU *CPU
	ATU *ATU

	// Memory is the local address space.
	Memory *Memory
	// Host is the host processor address space.
	Host *mem.Map

	// Mailbox is the secure processor mailbox endpoint.
	Mailbox *Mailbox
	// HostMailbox is the host mailbox endpoint.
	HostMailbox *Mailbox
}

// New returns a simulated platform with the given number of MPU regions.
func New(mpuRegions int) (p *Platform, err error) {
	p = &Platform{
		PPC: &PPC{},
		MPU: NewMPU(mpuRegions),
		SAU: &SAU{
			NonSecure: []SAURegion{
				{Start: mem.NonSecureStart, Limit: mem.NonSecureStart + mem.NonSecureSize - 1},
			},
		},
		ATU:  &ATU{},
		Host: &mem.Map{},
	}

	p.CPU = NewCPU(p.SAU, p.MPU)
	p.Memory = &Memory{ATU: p.ATU, Host: p.Host}
	p.Mailbox, p.HostMailbox = NewMailboxPair()

	regions := []struct {
		name  string
		start uintptr
		size  int
	}{
		{"partitions", mem.PartitionStart, PartitionDataSize},
		{"pool", mem.MailboxPoolStart, mem.MailboxPoolSize},
		{"nonsecure", mem.NonSecureStart, NonSecureDataSize},
		{"peripherals", mem.PeripheralStart, PeripheralDataSize},
	}

	for _, r := range regions {
		if _, err = p.Memory.Add(r.name, r.start, r.size); err != nil {
			return nil, err
		}
	}

	if _, err = p.Host.Add("host", HostStart, HostSize); err != nil {
		return nil, err
	}

	return
}

// Isolation returns the platform interfaces driven by the isolation HAL.
func (p *Platform) Isolation() isolation.Platform {
	return isolation.Platform{
		PPC:         p.PPC,
		MPU:         p.MPU,
		CPU:         p.CPU,
		Attribution: p.SAU,
	}
}

// IsolationConfig returns an isolation HAL configuration for the platform.
func (p *Platform) IsolationConfig(level int) isolation.Config {
	return isolation.Config{
		Level:         level,
		NamedMMIO:     Peripherals,
		StaticRegions: StaticRegions(),
		Platform:      p.Isolation(),
	}
}
