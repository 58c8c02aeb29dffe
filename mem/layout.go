// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mem describes the memory layout shared by the Secure Partition
// Manager, its partitions and transports, and provides access to it.
package mem

// This memory layout allocates the upper 512MB of DDR to the Secure World.
const (
	// Non-secure World OS
	NonSecureStart = 0x80000000
	NonSecureSize  = 0x10000000 // 256MB

	// TrustZone agent data (top of Non-secure World memory)
	NSAgentDataSize  = 0x00100000 // 1MB
	NSAgentDataStart = NonSecureStart + NonSecureSize - NSAgentDataSize

	// Secure Partition Manager
	SecureStart = 0x90000000
	SecureSize  = 0x05f00000 // 95MB

	// SPM DMA (relocated to avoid conflicts with Non-secure World)
	SecureDMAStart = 0x95f00000
	SecureDMASize  = 0x00100000 // 1MB

	// Partition stacks and RW data (unprivileged accessible)
	PartitionStart = 0x96000000
	PartitionSize  = 0x01000000 // 16MB

	// Cross-core transport request pool
	MailboxPoolStart = 0x97000000
	MailboxPoolSize  = 0x00100000 // 1MB

	// ATU logical address windows
	ATULogStart = 0x98000000
	ATULogSize  = ATUSlotSize * ATUSlots

	// Device MMIO (peripherals assigned to partitions)
	PeripheralStart = 0x02000000
	PeripheralSize  = 0x00200000 // 2MB
)

const (
	// ATUSlots is the number of hardware ATU remap regions.
	ATUSlots = 14
	// ATUSlotSize is the largest window a single ATU region can map.
	ATUSlotSize = 0x00200000 // 2MB
	// ATUPageSize is the ATU translation granule.
	ATUPageSize = 0x2000 // 8KB
)

// PartitionStackSize is the default partition stack size.
const PartitionStackSize = 0x2000

// ATUSlotAddress returns the local logical address of an ATU region window.
func ATUSlotAddress(slot int) uintptr {
	return uintptr(ATULogStart) + uintptr(slot)*ATUSlotSize
}
