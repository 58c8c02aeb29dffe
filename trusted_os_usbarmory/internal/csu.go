// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package gotee

import (
	"log"
	"sync"

	"github.com/usbarmory/tamago/soc/nxp/csu"
	"github.com/usbarmory/tamago/soc/nxp/imx6ul"

	"github.com/usbarmory/GoTEE-spm/isolation"
)

// CSL secure supervisor read/write, unprivileged Secure World access is
// SEC_LEVEL_4.
const cslSecurePrivileged = 0x22

// CSU is the peripheral protection controller of the i.MX6UL, banks are CSL
// register indexes and mask bits select their slaves (0 or 1).
type CSU struct {
	sync.Mutex

	// secure tracks the slaves routed to the Secure World
	secure map[int]uint32
	// unpriv tracks the secure slaves with unprivileged access
	unpriv map[int]uint32
}

// PPC is the peripheral protection controller driven by the isolation HAL.
var PPC = &CSU{
	secure: make(map[int]uint32),
	unpriv: make(map[int]uint32),
}

var _ isolation.PPC = PPC

func (c *CSU) apply(bank int, mask uint32) {
	for slave := 0; slave < 2; slave++ {
		if mask&(1<<slave) == 0 {
			continue
		}

		csl := uint8(csu.SEC_LEVEL_0)

		switch {
		case c.unpriv[bank]&(1<<slave) != 0:
			csl = csu.SEC_LEVEL_4
		case c.secure[bank]&(1<<slave) != 0:
			csl = cslSecurePrivileged
		}

		if !imx6ul.Native {
			continue
		}

		if err := imx6ul.CSU.SetSecurityLevel(bank, slave, csl, false); err != nil {
			log.Printf("SPM could not set CSL%.2d:%d, %v", bank, slave, err)
		}
	}
}

// ConfigureToSecure implements isolation.PPC.
func (c *CSU) ConfigureToSecure(bank int, mask uint32) {
	c.Lock()
	defer c.Unlock()

	c.secure[bank] |= mask
	c.apply(bank, mask)
}

// ConfigureToNonSecure implements isolation.PPC.
func (c *CSU) ConfigureToNonSecure(bank int, mask uint32) {
	c.Lock()
	defer c.Unlock()

	c.secure[bank] &^= mask
	c.unpriv[bank] &^= mask
	c.apply(bank, mask)
}

// EnableSecureUnpriv implements isolation.PPC.
func (c *CSU) EnableSecureUnpriv(bank int, mask uint32) {
	c.Lock()
	defer c.Unlock()

	c.unpriv[bank] |= mask & c.secure[bank]
	c.apply(bank, mask)
}

// ClearSecureUnpriv implements isolation.PPC.
func (c *CSU) ClearSecureUnpriv(bank int, mask uint32) {
	c.Lock()
	defer c.Unlock()

	c.unpriv[bank] &^= mask
	c.apply(bank, mask)
}

// Secure returns whether a CSL slave is routed to the Secure World.
func (c *CSU) Secure(bank int, slave int) bool {
	c.Lock()
	defer c.Unlock()

	return c.secure[bank]&(1<<slave) != 0
}
