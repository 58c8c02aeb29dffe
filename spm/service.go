// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package spm

import (
	"fmt"

	"github.com/usbarmory/GoTEE-spm/isolation"
	"github.com/usbarmory/GoTEE-spm/psa"
)

// Message is a message received by a RoT service.
type Message struct {
	Type     int32
	Handle   psa.Handle
	ClientID int32
	RHandle  uintptr
	InSize   [psa.MaxIOVec]uint32
	OutSize  [psa.MaxIOVec]uint32
}

func (conn *connection) message(h psa.Handle) (msg Message) {
	msg = Message{
		Type:     conn.msgType,
		Handle:   h,
		ClientID: conn.clientID,
		RHandle:  conn.rhandle,
	}

	for i := 0; i < conn.inLen; i++ {
		msg.InSize[i] = conn.in[i].Len
	}

	for i := 0; i < conn.outLen; i++ {
		msg.OutSize[i] = conn.out[i].Len
	}

	return
}

// Wait returns the asserted signals in mask, blocking until at least one is
// asserted when block is set.
func (c *Context) Wait(mask psa.Signal, block bool) psa.Signal {
	s := c.spm

	if c.p.sfn != nil || c.t == nil || c.t.p != c.p {
		c.fatal("wait outside of a partition thread")
	}

	if mask &= c.p.Load.SignalMask(); mask == 0 {
		c.fatal("wait on undeclared signals")
	}

	s.cs.Lock()

	if !block {
		defer s.cs.Unlock()
		return c.p.signals & mask
	}

	return s.block(c.t, c.p, mask)
}

// Get returns the next message for an asserted service signal.
func (c *Context) Get(sig psa.Signal) Message {
	s := c.spm

	if sig == 0 || sig&(sig-1) != 0 {
		c.fatal(fmt.Sprintf("invalid signal %#x", sig))
	}

	s.cs.Lock()

	svc := c.p.service(sig)

	if svc == nil || c.p.signals&sig == 0 || len(svc.pending) == 0 {
		s.cs.Unlock()
		c.fatal(fmt.Sprintf("no message for signal %#x", sig))
	}

	conn := svc.pending[0]
	svc.pending = svc.pending[1:]

	if len(svc.pending) == 0 {
		c.p.signals &^= sig
	}

	conn.state = connProcessing
	msg := conn.message(s.conns.handle(conn))

	s.cs.Unlock()

	return msg
}

// processing returns the connection of a message being processed by the
// calling partition with cs held, any other message is fatal.
func (c *Context) processing(h psa.Handle) *connection {
	s := c.spm

	s.cs.Lock()

	conn := s.conns.get(h)

	if conn == nil || conn.service.p != c.p || conn.state != connProcessing {
		s.cs.Unlock()
		c.fatal(fmt.Sprintf("message %#x is not being processed", h))
	}

	return conn
}

// Read copies input vector data, it returns the number of copied bytes.
func (c *Context) Read(h psa.Handle, idx int, buf []byte) uint32 {
	conn := c.processing(h)

	if conn.msgType < psa.IPCCall || idx < 0 || idx >= conn.inLen {
		c.spm.cs.Unlock()
		c.fatal(fmt.Sprintf("invalid input vector %d", idx))
	}

	n := conn.in[idx].Len - conn.read[idx]

	if uint32(len(buf)) < n {
		n = uint32(len(buf))
	}

	addr := conn.in[idx].Base + uintptr(conn.read[idx])
	conn.read[idx] += n

	c.spm.cs.Unlock()

	if n == 0 {
		return 0
	}

	if err := c.spm.conf.Memory.Read(addr, buf[:n]); err != nil {
		c.fatal(fmt.Sprintf("could not read input vector %d, %v", idx, err))
	}

	return n
}

// Skip advances the input vector read position, it returns the number of
// skipped bytes.
func (c *Context) Skip(h psa.Handle, idx int, num uint32) uint32 {
	conn := c.processing(h)
	defer c.spm.cs.Unlock()

	if conn.msgType < psa.IPCCall || idx < 0 || idx >= conn.inLen {
		return 0
	}

	n := conn.in[idx].Len - conn.read[idx]

	if num < n {
		n = num
	}

	conn.read[idx] += n

	return n
}

// Write appends data to an output vector.
func (c *Context) Write(h psa.Handle, idx int, buf []byte) {
	conn := c.processing(h)

	if conn.msgType < psa.IPCCall || idx < 0 || idx >= conn.outLen {
		c.spm.cs.Unlock()
		c.fatal(fmt.Sprintf("invalid output vector %d", idx))
	}

	if uint64(conn.written[idx])+uint64(len(buf)) > uint64(conn.out[idx].Len) {
		c.spm.cs.Unlock()
		c.fatal(fmt.Sprintf("output vector %d overflow", idx))
	}

	addr := conn.out[idx].Base + uintptr(conn.written[idx])
	conn.written[idx] += uint32(len(buf))

	c.spm.cs.Unlock()

	if len(buf) == 0 {
		return
	}

	if err := c.spm.conf.Memory.Write(addr, buf); err != nil {
		c.fatal(fmt.Sprintf("could not write output vector %d, %v", idx, err))
	}
}

// Reply completes a message with a status.
func (c *Context) Reply(h psa.Handle, status psa.Status) {
	s := c.spm
	conn := c.processing(h)

	reply, valid := s.replyStatus(conn, status)

	if !valid {
		s.cs.Unlock()
		c.fatal(fmt.Sprintf("invalid reply status %d", status))
	}

	s.backendReplying(conn, reply)
	s.cs.Unlock()

	s.schedule(c.t)
}

// SetRHandle associates a value with the connection of a message, it is
// returned with every subsequent message of the connection.
func (c *Context) SetRHandle(h psa.Handle, rhandle uintptr) {
	conn := c.processing(h)
	defer c.spm.cs.Unlock()

	if !conn.stateless {
		conn.rhandle = rhandle
	}
}

// Notify asserts the doorbell signal of a partition.
func (c *Context) Notify(pid int32) {
	s := c.spm

	s.cs.Lock()

	p := s.partition(pid)

	if p == nil {
		s.cs.Unlock()
		c.fatal(fmt.Sprintf("invalid partition %d", pid))
	}

	s.assertSignal(p, psa.Doorbell)
	s.cs.Unlock()

	if c.t != nil {
		s.schedule(c.t)
	}
}

// ClearDoorbell clears the asserted doorbell signal of the calling partition.
func (c *Context) ClearDoorbell() {
	c.clear(psa.Doorbell, "doorbell")
}

// EOI clears an asserted interrupt signal of the calling partition.
func (c *Context) EOI(sig psa.Signal) {
	if sig == 0 || sig&(sig-1) != 0 || sig&c.p.Load.Signals == 0 {
		c.fatal(fmt.Sprintf("invalid interrupt signal %#x", sig))
	}

	c.clear(sig, "interrupt")
}

func (c *Context) clear(sig psa.Signal, name string) {
	s := c.spm

	s.cs.Lock()

	if c.p.signals&sig == 0 {
		s.cs.Unlock()
		c.fatal(name + " signal not asserted")
	}

	c.p.signals &^= sig
	s.cs.Unlock()
}

// fatal handles a programmer error in the RoT service API, it terminates the
// system for every caller including Non-secure agents.
func (c *Context) fatal(reason string) {
	c.spm.fatal(fmt.Sprintf("programmer error in %s, %s", c.p.Load.Name, reason))
}

// Panic terminates the system on behalf of the calling partition.
func (c *Context) Panic() {
	c.spm.fatal(fmt.Sprintf("%s called panic", c.p.Load.Name))
}

// Yield passes the run token to any higher priority runnable thread.
func (c *Context) Yield() {
	if c.t != nil {
		c.spm.schedule(c.t)
	}
}

// Alloc reserves memory from the data area of the calling partition.
func (c *Context) Alloc(size uint32) (addr uintptr, err error) {
	c.spm.cs.Lock()
	defer c.spm.cs.Unlock()

	return c.spm.alloc(c.p, size)
}

// Load reads memory accessible within the calling partition boundary.
func (c *Context) Load(addr uintptr, buf []byte) (err error) {
	if err = c.spm.hal.MemoryCheck(c.p.Boundary, addr, uint32(len(buf)), c.access()|isolation.AccessReadable); err != nil {
		return
	}

	return c.spm.conf.Memory.Read(addr, buf)
}

// Store writes memory accessible within the calling partition boundary.
func (c *Context) Store(addr uintptr, buf []byte) (err error) {
	if err = c.spm.hal.MemoryCheck(c.p.Boundary, addr, uint32(len(buf)), c.access()|isolation.AccessReadWrite); err != nil {
		return
	}

	return c.spm.conf.Memory.Write(addr, buf)
}

func (c *Context) access() isolation.Access {
	if c.p.Load.IsNSAgentTZ() {
		return isolation.AccessNS
	}

	return 0
}

// SP returns the stack pointer of the running thread.
func (c *Context) SP() uintptr {
	c.spm.cs.Lock()
	defer c.spm.cs.Unlock()

	if c.t == nil {
		return 0
	}

	return c.t.sp
}

// SetSP updates the stack pointer of the running thread, it is checked
// against the stack bounds whenever the thread is scheduled in.
func (c *Context) SetSP(sp uintptr) {
	c.spm.cs.Lock()
	defer c.spm.cs.Unlock()

	if c.t != nil {
		c.t.sp = sp
	}
}
