// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package spm

import (
	"fmt"

	"github.com/usbarmory/GoTEE-spm/isolation"
	"github.com/usbarmory/GoTEE-spm/load"
	"github.com/usbarmory/GoTEE-spm/psa"
)

// NSClientID is the client ID of TrustZone Non-secure clients not using the
// agent API.
const NSClientID = -1

// Context is the execution context of a partition, it is passed to thread
// entries and service functions and exposes the PSA client and service API.
type Context struct {
	spm *SPM
	// calling partition
	p *Partition
	// running thread, nil during partition initialization
	t *Thread
}

// Partition returns the load information of the calling partition.
func (c *Context) Partition() *load.Partition {
	return c.p.Load
}

// SPM returns the Secure Partition Manager.
func (c *Context) SPM() *SPM {
	return c.spm
}

func (c *Context) clientID() int32 {
	if c.p.Load.IsNSAgentTZ() {
		return NSClientID
	}

	return c.p.Load.PID
}

func (c *Context) fault(reason string) psa.Status {
	return c.spm.programmerError(c.p, reason)
}

// FrameworkVersion returns the PSA Firmware Framework version.
func (c *Context) FrameworkVersion() uint32 {
	return psa.FrameworkVersion
}

// Version returns the version of a RoT service, or UndefinedVersion when the
// service does not exist or is not accessible by the caller.
func (c *Context) Version(sid uint32) uint32 {
	svc, ok := c.spm.services[sid]

	if !ok || (c.p.Load.IsNSAgent() && !svc.info.NonSecure) {
		return psa.UndefinedVersion
	}

	return svc.info.Version
}

func versionAllowed(svc *service, version uint32) bool {
	switch svc.info.Policy {
	case load.Relaxed:
		return version <= svc.info.Version
	default:
		return version == svc.info.Version
	}
}

// Connect establishes a connection to a connection-based RoT service.
func (c *Context) Connect(sid uint32, version uint32) (psa.Handle, psa.Status) {
	return c.connect(sid, version, c.clientID(), nil)
}

func (c *Context) connect(sid uint32, version uint32, clientID int32, callerData interface{}) (psa.Handle, psa.Status) {
	s := c.spm
	svc, ok := s.services[sid]

	switch {
	case !ok:
		return psa.NullHandle, psa.ErrConnectionRefused
	case c.p.Load.IsNSAgent() && !svc.info.NonSecure:
		return psa.NullHandle, psa.ErrConnectionRefused
	case svc.info.Stateless:
		return psa.NullHandle, psa.ErrConnectionRefused
	case !versionAllowed(svc, version):
		return psa.NullHandle, psa.ErrConnectionRefused
	}

	s.cs.Lock()

	conn, h := s.conns.alloc()

	if conn == nil {
		s.cs.Unlock()
		return psa.NullHandle, psa.ErrConnectionBusy
	}

	conn.client = c.p
	conn.clientID = clientID
	conn.thread = c.t
	conn.service = svc
	conn.version = version
	conn.rpc = c.p.isMailboxAgent()
	conn.callerData = callerData
	conn.msgType = psa.IPCConnect

	s.cs.Unlock()

	status := s.backendMessaging(c.t, conn)

	if status == psa.StatusNeedSchedule {
		return psa.NullHandle, status
	}

	s.cs.Lock()
	defer s.cs.Unlock()

	if !conn.connected {
		s.conns.release(conn)
		return psa.NullHandle, status
	}

	conn.state = connIdle

	return h, psa.Success
}

// Call sends a request to a RoT service, the written lengths of the output
// vectors are updated on return.
func (c *Context) Call(h psa.Handle, typ int32, in []psa.IOVec, out []psa.IOVec) psa.Status {
	return c.call(h, typ, in, out, c.clientID(), nil)
}

func (c *Context) call(h psa.Handle, typ int32, in []psa.IOVec, out []psa.IOVec, clientID int32, callerData interface{}) psa.Status {
	var conn *connection

	s := c.spm

	if typ < psa.IPCCall {
		return c.fault(fmt.Sprintf("invalid call type %d", typ))
	}

	if len(in) > psa.MaxIOVec || len(out) > psa.MaxIOVec || len(in)+len(out) > psa.MaxIOVec {
		return c.fault("too many vectors")
	}

	s.cs.Lock()

	if h.IsStateless() {
		idx := h.StatelessIndex()

		if idx >= len(s.stateless) {
			s.cs.Unlock()
			return c.fault("invalid stateless handle")
		}

		svc := s.stateless[idx]

		if !versionAllowed(svc, uint32(h.StatelessVersion())) || (c.p.Load.IsNSAgent() && !svc.info.NonSecure) {
			s.cs.Unlock()
			return c.fault("stateless service not accessible")
		}

		if conn, _ = s.conns.alloc(); conn == nil {
			s.cs.Unlock()
			return psa.ErrConnectionBusy
		}

		conn.client = c.p
		conn.clientID = clientID
		conn.service = svc
		conn.stateless = true
	} else {
		conn = s.conns.get(h)

		if conn == nil || conn.client != c.p || conn.clientID != clientID || !conn.connected || conn.state != connIdle {
			s.cs.Unlock()
			return c.fault(fmt.Sprintf("invalid handle %#x", h))
		}
	}

	s.cs.Unlock()

	access := c.access()

	for i := range in {
		if err := s.hal.MemoryCheck(c.p.Boundary, in[i].Base, in[i].Len, access|isolation.AccessReadable); err != nil {
			return c.abort(conn, fmt.Sprintf("invalid input vector %d, %v", i, err))
		}
	}

	for i := range out {
		if err := s.hal.MemoryCheck(c.p.Boundary, out[i].Base, out[i].Len, access|isolation.AccessReadWrite); err != nil {
			return c.abort(conn, fmt.Sprintf("invalid output vector %d, %v", i, err))
		}
	}

	s.cs.Lock()

	conn.thread = c.t
	conn.rpc = c.p.isMailboxAgent()
	conn.callerData = callerData
	conn.msgType = typ
	conn.inLen = copy(conn.in[:], in)
	conn.outLen = copy(conn.out[:], out)
	conn.read = [psa.MaxIOVec]uint32{}
	conn.written = [psa.MaxIOVec]uint32{}
	conn.outRef = out

	s.cs.Unlock()

	status := s.backendMessaging(c.t, conn)

	if status == psa.StatusNeedSchedule {
		return status
	}

	s.cs.Lock()
	s.dispose(conn)
	s.cs.Unlock()

	return status
}

// abort releases a connection of a failed call setup and reports the
// programmer error.
func (c *Context) abort(conn *connection, reason string) psa.Status {
	c.spm.cs.Lock()

	if conn.stateless {
		c.spm.conns.release(conn)
	}

	c.spm.cs.Unlock()

	return c.fault(reason)
}

// dispose updates a replied connection once its reply has been consumed by
// the client, cs must be held.
func (s *SPM) dispose(conn *connection) {
	conn.outRef = nil

	switch {
	case conn.stateless:
		s.conns.release(conn)
	case conn.msgType == psa.IPCDisconnect:
		s.conns.release(conn)
	case conn.msgType == psa.IPCConnect && !conn.connected:
		s.conns.release(conn)
	default:
		conn.state = connIdle
	}
}

// Close terminates a connection, closing the null handle has no effect.
func (c *Context) Close(h psa.Handle) psa.Status {
	return c.close(h, c.clientID())
}

func (c *Context) close(h psa.Handle, clientID int32) psa.Status {
	s := c.spm

	if h == psa.NullHandle {
		return psa.Success
	}

	s.cs.Lock()

	conn := s.conns.get(h)

	if conn == nil || conn.client != c.p || conn.clientID != clientID || conn.state != connIdle {
		s.cs.Unlock()
		return c.fault(fmt.Sprintf("invalid handle %#x", h))
	}

	conn.thread = c.t
	conn.rpc = c.p.isMailboxAgent()
	conn.msgType = psa.IPCDisconnect
	conn.inLen = 0
	conn.outLen = 0
	conn.outRef = nil

	if ops := s.rpc.Ops(); conn.rpc && ops != nil {
		conn.callerData = ops.CallerData(clientID)
	}

	s.cs.Unlock()

	status := s.backendMessaging(c.t, conn)

	if status == psa.StatusNeedSchedule {
		return status
	}

	s.cs.Lock()
	s.dispose(conn)
	s.cs.Unlock()

	return psa.Success
}
