// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sim implements a software model of an Armv8-M secure platform:
// peripheral protection controllers, MPU, CONTROL registers, security
// attribution, address translation unit and inter-core mailbox.
//
// It is used by tests and by the host simulator to run the Secure Partition
// Manager outside of real hardware.
package sim

import (
	"sync"
)

// PPC operations
const (
	OpSecure = iota
	OpNonSecure
	OpSecureUnpriv
	OpSecurePriv
)

// PPCCall records a peripheral protection controller operation.
type PPCCall struct {
	Op   int
	Bank int
	Mask uint32
}

// PPCBank is the state of a peripheral protection controller bank.
type PPCBank struct {
	// Secure is the set of peripherals routed to the Secure World.
	Secure uint32
	// Unpriv is the set of Secure peripherals accessible by unprivileged
	// software.
	Unpriv uint32
}

// PPC is a peripheral protection controller model.
type PPC struct {
	sync.Mutex

	Banks map[int]*PPCBank
	Calls []PPCCall
}

func (ppc *PPC) bank(n int, op int, mask uint32) *PPCBank {
	if ppc.Banks == nil {
		ppc.Banks = make(map[int]*PPCBank)
	}

	b, ok := ppc.Banks[n]

	if !ok {
		b = &PPCBank{}
		ppc.Banks[n] = b
	}

	ppc.Calls = append(ppc.Calls, PPCCall{Op: op, Bank: n, Mask: mask})

	return b
}

// ConfigureToSecure implements isolation.PPC.
func (ppc *PPC) ConfigureToSecure(bank int, mask uint32) {
	ppc.Lock()
	defer ppc.Unlock()

	ppc.bank(bank, OpSecure, mask).Secure |= mask
}

// ConfigureToNonSecure implements isolation.PPC.
func (ppc *PPC) ConfigureToNonSecure(bank int, mask uint32) {
	ppc.Lock()
	defer ppc.Unlock()

	ppc.bank(bank, OpNonSecure, mask).Secure &^= mask
}

// EnableSecureUnpriv implements isolation.PPC.
func (ppc *PPC) EnableSecureUnpriv(bank int, mask uint32) {
	ppc.Lock()
	defer ppc.Unlock()

	ppc.bank(bank, OpSecureUnpriv, mask).Unpriv |= mask
}

// ClearSecureUnpriv implements isolation.PPC.
func (ppc *PPC) ClearSecureUnpriv(bank int, mask uint32) {
	ppc.Lock()
	defer ppc.Unlock()

	ppc.bank(bank, OpSecurePriv, mask).Unpriv &^= mask
}

// Bank returns a copy of a bank state.
func (ppc *PPC) Bank(n int) (b PPCBank) {
	ppc.Lock()
	defer ppc.Unlock()

	if p, ok := ppc.Banks[n]; ok {
		b = *p
	}

	return
}
