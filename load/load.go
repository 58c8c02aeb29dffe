// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package load describes the static, build time, information of secure
// partitions: their flags, services and assets.
package load

import (
	"fmt"

	"github.com/usbarmory/GoTEE-spm/psa"
)

// Flags are partition attributes.
type Flags uint32

const (
	// PSARoT marks PSA Root of Trust partitions, App RoT otherwise.
	PSARoT Flags = 1 << iota
	// IPC marks partitions with their own thread, SFN otherwise.
	IPC
	// NSAgentTZ marks the TrustZone non-secure agent.
	NSAgentTZ
	// NSAgentMailbox marks the agent of a companion core mailbox.
	NSAgentMailbox
)

// Priorities, lower values are scheduled first.
const (
	PriorityHighest = 0x00
	PriorityHigh    = 0x40
	PriorityNormal  = 0x80
	PriorityLow     = 0xc0
	PriorityLowest  = 0xff
)

// DeviceRef identifies a platform peripheral referenced by a named MMIO
// asset.
type DeviceRef string

// AssetAttr are asset attributes.
type AssetAttr uint32

const (
	ReadWrite AssetAttr = 1 << iota
	NamedMMIO
	NumberedMMIO
)

// Asset is a resource owned by a partition.
type Asset struct {
	Attr AssetAttr
	// Dev is the referenced peripheral of named MMIO assets.
	Dev DeviceRef
	// Start and Limit delimit numbered MMIO and memory assets.
	Start uint32
	Limit uint32
}

// VersionPolicy controls how client requested versions are matched.
type VersionPolicy int

const (
	// Strict requires an exact version match.
	Strict VersionPolicy = iota
	// Relaxed accepts any version not greater than the service one.
	Relaxed
)

// Service describes a RoT service exposed by a partition.
type Service struct {
	Name    string
	SID     uint32
	Signal  psa.Signal
	Version uint32
	Policy  VersionPolicy
	// NonSecure allows access from non-secure clients.
	NonSecure bool
	// Stateless services have a static handle and no connection.
	Stateless bool
}

// Partition is the load information of a secure partition.
type Partition struct {
	Name     string
	PID      int32
	Flags    Flags
	Priority uint8
	// StackSize is the partition thread stack size in bytes.
	StackSize uint32
	// Signals declared in addition to service signals (e.g. IRQs).
	Signals  psa.Signal
	Services []Service
	Assets   []Asset
}

// IsPSARoT returns whether the partition belongs to the PSA Root of Trust.
func (p *Partition) IsPSARoT() bool {
	return p.Flags&PSARoT != 0
}

// IsIPC returns whether the partition has its own thread.
func (p *Partition) IsIPC() bool {
	return p.Flags&IPC != 0
}

// IsNSAgent returns whether the partition is an agent for non-secure
// clients, either over TrustZone or a mailbox.
func (p *Partition) IsNSAgent() bool {
	return p.Flags&(NSAgentTZ|NSAgentMailbox) != 0
}

// IsNSAgentTZ returns whether the partition is the TrustZone NS agent.
func (p *Partition) IsNSAgentTZ() bool {
	return p.Flags&NSAgentTZ != 0
}

// SignalMask returns every signal the partition can wait on.
func (p *Partition) SignalMask() (mask psa.Signal) {
	mask = p.Signals | psa.AsyncMsgReply | psa.Doorbell

	for _, s := range p.Services {
		mask |= s.Signal
	}

	return
}

// Validate checks the internal consistency of the load information.
func (p *Partition) Validate() error {
	var used psa.Signal

	if p.Flags&NSAgentTZ != 0 && p.Flags&NSAgentMailbox != 0 {
		return fmt.Errorf("partition %s: conflicting agent flags", p.Name)
	}

	if !p.IsIPC() && p.IsNSAgent() {
		return fmt.Errorf("partition %s: agents must be IPC partitions", p.Name)
	}

	for _, s := range p.Services {
		switch {
		case s.Signal == 0 || s.Signal&(s.Signal-1) != 0:
			return fmt.Errorf("partition %s: service %s must have a single signal bit", p.Name, s.Name)
		case s.Signal < 1<<4:
			return fmt.Errorf("partition %s: service %s uses a reserved signal", p.Name, s.Name)
		case s.Signal&(used|p.Signals) != 0:
			return fmt.Errorf("partition %s: service %s signal conflict", p.Name, s.Name)
		}

		used |= s.Signal
	}

	return nil
}
