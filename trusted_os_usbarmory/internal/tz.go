// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package gotee

import (
	"github.com/usbarmory/tamago/arm/tzc380"
	"github.com/usbarmory/tamago/soc/nxp/csu"
	"github.com/usbarmory/tamago/soc/nxp/imx6ul"

	"github.com/usbarmory/GoTEE-spm/mem"
)

// secureMemorySize covers the SPM, its DMA region, partition data and the
// transport request pool.
const secureMemorySize = mem.MailboxPoolStart + mem.MailboxPoolSize - mem.SecureStart

func configureTrustZone(lock bool) (err error) {
	// grant NonSecure access to CP10 and CP11
	imx6ul.ARM.NonSecureAccessControl(1<<11 | 1<<10)

	if !imx6ul.Native {
		return
	}

	// grant NonSecure access to all peripherals not assigned to partitions
	for i := csu.CSL_MIN; i <= csu.CSL_MAX; i++ {
		for slave := 0; slave < 2; slave++ {
			if PPC.Secure(i, slave) {
				continue
			}

			if err = imx6ul.CSU.SetSecurityLevel(i, slave, csu.SEC_LEVEL_0, false); err != nil {
				return
			}
		}
	}

	if imx6ul.CAAM != nil {
		// set CAAM as NonSecure
		imx6ul.CAAM.SetOwner(false)
	}

	// set default TZASC region (entire memory space) to NonSecure access
	if err = imx6ul.TZASC.EnableRegion(0, 0, 0, (1<<tzc380.SP_NW_RD)|(1<<tzc380.SP_NW_WR)); err != nil {
		return
	}

	// enable OCRAM TrustZone support
	if err = imx6ul.SetOCRAMProtection(imx6ul.OCRAM_START); err != nil {
		return
	}

	// set ARM debugging
	imx6ul.Debug(!lock)

	if !lock {
		return
	}

	// restrict SPM and partition memory
	if err = imx6ul.TZASC.EnableRegion(1, mem.SecureStart, secureMemorySize, (1<<tzc380.SP_SW_RD)|(1<<tzc380.SP_SW_WR)); err != nil {
		return
	}

	// set all controllers to NonSecure
	for i := csu.SA_MIN; i <= csu.SA_MAX; i++ {
		if err = imx6ul.CSU.SetAccess(i, false, false); err != nil {
			return
		}
	}

	// restrict access to USB, used by the SPM console
	if err = imx6ul.CSU.SetSecurityLevel(8, 0, csu.SEC_LEVEL_4, false); err != nil {
		return
	}

	// set USB controller as Secure
	if err = imx6ul.CSU.SetAccess(4, true, false); err != nil {
		return
	}

	// restrict access to ROMCP
	if err = imx6ul.CSU.SetSecurityLevel(13, 0, csu.SEC_LEVEL_4, false); err != nil {
		return
	}

	// restrict access to TZASC
	if err = imx6ul.CSU.SetSecurityLevel(16, 1, csu.SEC_LEVEL_4, false); err != nil {
		return
	}

	if imx6ul.DCP != nil {
		// restrict access to DCP
		if err = imx6ul.CSU.SetSecurityLevel(34, 0, csu.SEC_LEVEL_4, false); err != nil {
			return
		}

		// set DCP as Secure
		if err = imx6ul.CSU.SetAccess(14, true, false); err != nil {
			return
		}
	}

	return
}
