// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

// Package gotee runs the Non-secure World under the GoTEE monitor as the
// TrustZone agent partition of the Secure Partition Manager.
package gotee

import (
	"log"
	"sync"

	"github.com/usbarmory/GoTEE/monitor"

	"github.com/usbarmory/GoTEE-spm/load"
	"github.com/usbarmory/GoTEE-spm/partitions"
	"github.com/usbarmory/GoTEE-spm/spm"
	"github.com/usbarmory/GoTEE-spm/util"
)

// NSClientID is the client ID of Non-secure World requests.
const NSClientID = -1

var (
	mux     sync.Mutex
	current *monitor.ExecCtx
)

// Console is the terminal which receives Non-secure World output.
var Console *util.Console

// Context returns the Non-secure World execution context, if running.
func Context() *monitor.ExecCtx {
	mux.Lock()
	defer mux.Unlock()

	return current
}

// NSAgent returns the TrustZone agent partition, its thread loads and runs
// the Non-secure World OS, whose secure monitor calls are served as PSA
// client calls.
func NSAgent() spm.PartitionInfo {
	return spm.PartitionInfo{
		Load: &load.Partition{
			Name:     "ns_agent",
			PID:      partitions.NSAgentPID,
			Flags:    load.IPC | load.NSAgentTZ,
			Priority: load.PriorityLowest,
		},
		Component: &spm.NSAgentTZ{Entry: nsAgent},
	}
}

func nsAgent(ctx *spm.Context) {
	os, err := loadNormalWorld(ctx)

	if err != nil {
		log.Printf("SPM could not load Non-secure World, %v", err)
		return
	}

	mux.Lock()
	current = os
	mux.Unlock()

	run(os)
}
