// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package comms

// ATU is an address translation unit, it maps local logical address windows
// onto the physical address space of the host processor.
type ATU interface {
	// Program maps the window starting at the local address log onto the
	// host physical address phys, both page aligned.
	Program(slot int, log uintptr, phys uint64, size uint32) error
	// Clear disables a translation slot.
	Clear(slot int) error
}

// Mailbox is the inter-processor message handling unit towards the host.
type Mailbox interface {
	// Receive copies the pending message into buf, at most len(buf) bytes
	// are copied while the returned length is the one of the whole message.
	Receive(buf []byte) (n int, err error)
	// Send transmits a message to the host.
	Send(msg []byte) error
	// DisableIRQ masks the receive interrupt.
	DisableIRQ()
	// EnableIRQ unmasks the receive interrupt.
	EnableIRQ()
}
