// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package spm

import (
	"github.com/usbarmory/GoTEE-spm/psa"
)

// assertSignal asserts signals on a partition and wakes its waiting thread
// when satisfied, cs must be held.
func (s *SPM) assertSignal(p *Partition, sig psa.Signal) {
	p.signals |= sig

	t := p.waiter

	if t == nil || t.state != Blocked {
		return
	}

	if asserted := p.signals & p.waiting; asserted != 0 {
		t.ret = uint32(asserted)
		t.retAvailable = true
		t.state = Ready

		p.waiting = 0
		p.waiter = nil
	}
}

// backendMessaging delivers a message to its service. Synchronous callers
// block until the reply, whose status is returned, asynchronous (RPC)
// callers receive StatusNeedSchedule and are notified with ASYNC_MSG_REPLY.
func (s *SPM) backendMessaging(t *Thread, conn *connection) psa.Status {
	target := conn.service.p

	if target.sfn != nil {
		return s.callSFN(t, conn)
	}

	s.cs.Lock()

	if t == nil {
		s.conns.release(conn)
		s.cs.Unlock()

		return s.programmerError(conn.client, "blocking request without a thread")
	}

	conn.state = connPending
	conn.service.pending = append(conn.service.pending, conn)
	s.assertSignal(target, conn.service.info.Signal)

	if conn.rpc {
		s.cs.Unlock()
		s.schedule(t)

		return psa.StatusNeedSchedule
	}

	client := conn.client
	s.block(t, client, psa.AsyncMsgReply)

	s.cs.Lock()
	defer s.cs.Unlock()

	client.signals &^= psa.AsyncMsgReply

	return conn.status
}

// backendReplying completes a message with the service status, cs must be
// held.
func (s *SPM) backendReplying(conn *connection, status psa.Status) {
	conn.status = status
	conn.state = connReplied

	for i := 0; i < conn.outLen && i < len(conn.outRef); i++ {
		conn.outRef[i].Len = conn.written[i]
	}

	client := conn.client

	if conn.rpc {
		client.replies = append(client.replies, conn)
		s.assertSignal(client, psa.AsyncMsgReply)
		return
	}

	s.assertSignal(client, psa.AsyncMsgReply)
}

// replyStatus validates a service reply and returns the status seen by the
// client, cs must be held.
func (s *SPM) replyStatus(conn *connection, status psa.Status) (psa.Status, bool) {
	switch conn.msgType {
	case psa.IPCConnect:
		switch status {
		case psa.Success:
			conn.connected = true

			if conn.rpc {
				// agents learn the connection handle from
				// the reply status
				return psa.Status(s.conns.handle(conn)), true
			}
		case psa.ErrConnectionRefused, psa.ErrConnectionBusy:
		default:
			return status, false
		}
	case psa.IPCDisconnect:
		status = psa.Success
	default:
		if status == psa.StatusNeedSchedule {
			return status, false
		}
	}

	return status, true
}

// callSFN runs a service function in the calling thread, within the
// boundary of the service partition.
func (s *SPM) callSFN(t *Thread, conn *connection) psa.Status {
	target := conn.service.p
	fn, ok := target.sfn[conn.service.info.SID]

	if !ok {
		return s.programmerError(conn.client, "missing service function")
	}

	s.cs.Lock()

	caller := conn.client

	if t != nil {
		caller = t.active
		t.active = target
	}

	s.switchBoundary(caller, target)
	conn.state = connProcessing
	msg := conn.message(s.conns.handle(conn))
	s.cs.Unlock()

	status := fn(&Context{spm: s, p: target, t: t}, &msg)

	s.cs.Lock()

	reply, valid := s.replyStatus(conn, status)

	s.switchBoundary(target, caller)

	if t != nil {
		t.active = caller
	}

	if !valid {
		s.cs.Unlock()
		return s.programmerError(target, "invalid reply status")
	}

	conn.state = connReplied
	conn.status = reply

	for i := 0; i < conn.outLen && i < len(conn.outRef); i++ {
		conn.outRef[i].Len = conn.written[i]
	}

	s.cs.Unlock()

	return reply
}
