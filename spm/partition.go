// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package spm

import (
	"github.com/usbarmory/GoTEE-spm/boundary"
	"github.com/usbarmory/GoTEE-spm/load"
	"github.com/usbarmory/GoTEE-spm/psa"
)

// Entry is a partition thread body.
type Entry func(ctx *Context)

// SFN is a service function, invoked in the context of the calling thread
// with the isolation boundary of its partition.
type SFN func(ctx *Context, msg *Message) psa.Status

// Component is the runtime model of a partition.
type Component interface {
	// Start returns the partition thread entry, nil for partitions without
	// a thread.
	Start(p *Partition) Entry
}

// IPCPartition is a partition with its own thread.
type IPCPartition struct {
	Entry Entry
}

// Start implements Component.
func (c *IPCPartition) Start(p *Partition) Entry {
	return c.Entry
}

// SFNPartition is a partition without a thread, its services are functions.
type SFNPartition struct {
	// Services maps service IDs to their functions.
	Services map[uint32]SFN
	// Init is invoked once, with the partition boundary, before threads
	// are started.
	Init func(ctx *Context) error
}

// Start implements Component.
func (c *SFNPartition) Start(p *Partition) Entry {
	return nil
}

// NSAgentTZ is the agent of the TrustZone Non-secure World, its thread
// forwards Non-secure client requests to the SPM.
type NSAgentTZ struct {
	Entry Entry
}

// Start implements Component.
func (c *NSAgentTZ) Start(p *Partition) Entry {
	return c.Entry
}

// MailboxAgent is the agent of clients on a companion processor, requests are
// handled by the registered RPC operations whenever Signal is asserted.
type MailboxAgent struct {
	Signal psa.Signal
}

// Start implements Component.
func (c *MailboxAgent) Start(p *Partition) Entry {
	return func(ctx *Context) {
		for {
			sig := ctx.Wait(psa.WaitAny, true)
			ops := ctx.spm.rpc.Ops()

			if sig&c.Signal != 0 {
				ctx.EOI(c.Signal)

				if ops != nil {
					ops.HandleRequest(ctx)
				}
			}

			if sig&psa.AsyncMsgReply != 0 {
				for _, r := range ctx.AgentReplies() {
					if ops != nil {
						ops.Reply(r.CallerData, r.Status)
					}
				}
			}
		}
	}
}

// PartitionInfo pairs partition load information with its runtime model.
type PartitionInfo struct {
	Load      *load.Partition
	Component Component
}

// LocalStorage is the partition local storage, made current on each
// partition switch.
type LocalStorage struct {
	PID      int32
	Name     string
	Boundary boundary.Handle
}

type service struct {
	info *load.Service
	p    *Partition
	// index in the stateless handle table, -1 otherwise
	index   int
	pending []*connection
}

// Partition is the runtime state of a secure partition.
type Partition struct {
	Load      *load.Partition
	Component Component
	Boundary  boundary.Handle
	Local     LocalStorage

	thread   *Thread
	services []*service
	sfn      map[uint32]SFN

	// asserted and waited signals
	signals psa.Signal
	waiting psa.Signal
	// thread blocked on behalf of the partition
	waiter *Thread

	// replies to asynchronous agent requests
	replies []*connection

	heap      uintptr
	heapLimit uintptr
}

func (p *Partition) service(sig psa.Signal) *service {
	for _, s := range p.services {
		if s.info.Signal == sig {
			return s
		}
	}

	return nil
}

func (p *Partition) isMailboxAgent() bool {
	return p.Load.Flags&load.NSAgentMailbox != 0
}
