// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package main

import (
	"github.com/usbarmory/GoTEE-spm/isolation"
	"github.com/usbarmory/GoTEE-spm/mem"
	"github.com/usbarmory/GoTEE-spm/platform/sim"
	"github.com/usbarmory/GoTEE-spm/trusted_os_usbarmory/internal"
)

// Peripherals assignable to partitions, PPC banks are CSU CSL indexes.
var peripherals = []isolation.NamedMMIO{
	{Ref: "gpio4", Data: isolation.PlatformData{PeriphStart: 0x020a8000, PeriphLimit: 0x020abfff, PPCBank: 2, PPCMask: 1 << 1}},
	{Ref: "wdog2", Data: isolation.PlatformData{PeriphStart: 0x020c0000, PeriphLimit: 0x020c3fff, PPCBank: 5, PPCMask: 1 << 0}},
	{Ref: "rngb", Data: isolation.PlatformData{PeriphStart: 0x02284000, PeriphLimit: 0x02287fff, PPCBank: isolation.DoNotConfigure}},
}

// isolationConfig returns the isolation HAL configuration of the USB armory.
//
// The Cortex-A7 has no Armv8-M MPU, partition boundaries are enforced by the
// SPM on the MPU and attribution unit models of platform/sim while the
// TZASC and CSU enforce the separation from the Non-secure World.
func isolationConfig(level int) isolation.Config {
	sau := &sim.SAU{
		NonSecure: []sim.SAURegion{
			{Start: mem.NonSecureStart, Limit: mem.NonSecureStart + mem.NonSecureSize - 1},
		},
	}

	mpu := sim.NewMPU(sim.MPURegions)

	return isolation.Config{
		Level:         level,
		NamedMMIO:     peripherals,
		StaticRegions: sim.StaticRegions(),
		Platform: isolation.Platform{
			PPC:         gotee.PPC,
			MPU:         mpu,
			CPU:         sim.NewCPU(sau, mpu),
			Attribution: sau,
		},
	}
}
