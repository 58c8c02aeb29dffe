// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package spm

import (
	"github.com/usbarmory/GoTEE-spm/psa"
)

// connection states
const (
	connIdle = iota
	connPending
	connProcessing
	connReplied
)

// connection handles carry the arena index in the low 16 bits and the slot
// generation in bits 16-29, bit 30 is reserved to stateless handles.
const (
	handleIndexMask = 0xffff
	handleGenShift  = 16
	handleGenMask   = 0x3fff
)

// DefaultMaxConnections is the connection arena size used when unset.
const DefaultMaxConnections = 32

type connection struct {
	index int
	gen   uint32
	used  bool

	client   *Partition
	clientID int32
	thread   *Thread
	service  *service

	// rpc is set for asynchronous mailbox agent requests
	rpc        bool
	callerData interface{}

	version   uint32
	connected bool
	stateless bool

	msgType int32
	in      [psa.MaxIOVec]psa.IOVec
	out     [psa.MaxIOVec]psa.IOVec
	inLen   int
	outLen  int
	read    [psa.MaxIOVec]uint32
	written [psa.MaxIOVec]uint32
	// caller out vectors, updated with written lengths on reply
	outRef []psa.IOVec

	status  psa.Status
	rhandle uintptr
	state   int
}

// arena is a fixed pool of connections, clients and services only ever hold
// index and generation references to them.
type arena struct {
	slots []connection
	free  []int
}

func newArena(n int) *arena {
	a := &arena{
		slots: make([]connection, n),
	}

	for i := n - 1; i >= 0; i-- {
		a.slots[i].gen = 1
		a.free = append(a.free, i)
	}

	return a
}

func (a *arena) alloc() (*connection, psa.Handle) {
	if len(a.free) == 0 {
		return nil, psa.NullHandle
	}

	i := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]

	c := &a.slots[i]
	gen := c.gen

	*c = connection{
		index: i,
		gen:   gen,
		used:  true,
	}

	return c, psa.Handle(gen<<handleGenShift | uint32(i+1))
}

func (a *arena) handle(c *connection) psa.Handle {
	return psa.Handle(c.gen<<handleGenShift | uint32(c.index+1))
}

func (a *arena) get(h psa.Handle) *connection {
	if h <= 0 || h.IsStateless() {
		return nil
	}

	i := int(uint32(h)&handleIndexMask) - 1
	gen := uint32(h) >> handleGenShift & handleGenMask

	if i < 0 || i >= len(a.slots) {
		return nil
	}

	c := &a.slots[i]

	if !c.used || c.gen != gen {
		return nil
	}

	return c
}

func (a *arena) release(c *connection) {
	if !c.used {
		return
	}

	i := c.index
	gen := c.gen + 1

	if gen > handleGenMask {
		gen = 1
	}

	*c = connection{gen: gen}

	a.free = append(a.free, i)
}

func (a *arena) inUse() (n int) {
	return len(a.slots) - len(a.free)
}
