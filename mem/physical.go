// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago
// +build tamago

package mem

import (
	"unsafe"

	"github.com/usbarmory/tamago/dma"
)

var (
	PartitionRegion   *dma.Region
	NonSecureRegion   *dma.Region
	MailboxPoolRegion *dma.Region
)

// Init reserves the memory areas which are not managed by the Go runtime.
func Init() {
	PartitionRegion, _ = dma.NewRegion(PartitionStart, PartitionSize, false)
	PartitionRegion.Reserve(PartitionSize, 0)

	NonSecureRegion, _ = dma.NewRegion(NonSecureStart, NonSecureSize, false)
	NonSecureRegion.Reserve(NonSecureSize, 0)

	MailboxPoolRegion, _ = dma.NewRegion(MailboxPoolStart, MailboxPoolSize, false)
	MailboxPoolRegion.Reserve(MailboxPoolSize, 0)
}

// Physical accesses physical memory directly, address validation is the
// responsibility of the caller (see isolation.HAL.MemoryCheck).
type Physical struct{}

func (Physical) Read(addr uintptr, buf []byte) error {
	if addr == 0 {
		return ErrUnmapped
	}

	copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(buf)))

	return nil
}

func (Physical) Write(addr uintptr, buf []byte) error {
	if addr == 0 {
		return ErrUnmapped
	}

	copy(unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(buf)), buf)

	return nil
}
