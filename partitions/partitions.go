// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package partitions provides example secure partitions.
package partitions

import (
	"github.com/usbarmory/GoTEE-spm/load"
	"github.com/usbarmory/GoTEE-spm/psa"
	"github.com/usbarmory/GoTEE-spm/spm"
)

// Partition IDs
const (
	EchoPID    = 0x100
	CounterPID = 0x101
	AgentPID   = 0x102
	NSAgentPID = 0x103
)

// Service IDs
const (
	EchoSID          = 0x00000105
	EchoStatelessSID = 0x00000106
	CounterSID       = 0x00000107
)

// Stateless service indexes of systems listing Echo before Counter, they
// select the static handles of Non-secure clients (see psa.StatelessHandle).
const (
	EchoStatelessIndex = 0
	CounterIndex       = 1
)

// Signals
const (
	EchoSignal          psa.Signal = 1 << 4
	EchoStatelessSignal psa.Signal = 1 << 5
	CounterSignal       psa.Signal = 1 << 6
	MailboxSignal       psa.Signal = 1 << 8
)

// MailboxAgent returns the agent partition of the cross-core transport.
func MailboxAgent() spm.PartitionInfo {
	return spm.PartitionInfo{
		Load: &load.Partition{
			Name:     "mailbox_agent",
			PID:      AgentPID,
			Flags:    load.PSARoT | load.IPC | load.NSAgentMailbox,
			Priority: load.PriorityLow,
			Signals:  MailboxSignal,
		},
		Component: &spm.MailboxAgent{Signal: MailboxSignal},
	}
}
