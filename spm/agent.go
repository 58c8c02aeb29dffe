// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package spm

import (
	"fmt"

	"github.com/usbarmory/GoTEE-spm/psa"
)

// ClientParams are the parameters of a request issued by an agent on behalf
// of a Non-secure client.
type ClientParams struct {
	// ClientID is the Non-secure client ID, it must be negative.
	ClientID int32
	In       []psa.IOVec
	// Out lengths are updated with the written lengths on reply.
	Out []psa.IOVec
}

// Reply is the completion of an asynchronous agent request.
type Reply struct {
	CallerData interface{}
	ClientID   int32
	Status     psa.Status
}

func (c *Context) agent(clientID int32) (ok bool) {
	if !c.p.Load.IsNSAgent() {
		c.fault("agent API used by a secure partition")
		return
	}

	if clientID >= 0 {
		c.fault(fmt.Sprintf("invalid Non-secure client id %d", clientID))
		return
	}

	return true
}

// AgentCall sends a request to a RoT service on behalf of a Non-secure client,
// control packs the call type and vector counts. Mailbox agents receive
// StatusNeedSchedule and the actual status through AgentReplies.
func (c *Context) AgentCall(h psa.Handle, control uint32, params *ClientParams, callerData interface{}) psa.Status {
	if params == nil {
		return c.fault("missing client parameters")
	}

	if !c.agent(params.ClientID) {
		return psa.ErrProgrammerError
	}

	typ, inLen, outLen := psa.UnpackParams(control)

	if inLen > len(params.In) || outLen > len(params.Out) {
		return c.fault("vector counts exceed client parameters")
	}

	return c.call(h, int32(typ), params.In[:inLen], params.Out[:outLen], params.ClientID, callerData)
}

// AgentConnect establishes a connection on behalf of a Non-secure client.
func (c *Context) AgentConnect(sid uint32, version uint32, clientID int32, callerData interface{}) (psa.Handle, psa.Status) {
	if !c.agent(clientID) {
		return psa.NullHandle, psa.ErrProgrammerError
	}

	return c.connect(sid, version, clientID, callerData)
}

// AgentClose terminates a connection on behalf of a Non-secure client.
func (c *Context) AgentClose(h psa.Handle, clientID int32) psa.Status {
	if !c.agent(clientID) {
		return psa.ErrProgrammerError
	}

	return c.close(h, clientID)
}

// AgentReplies returns the completed asynchronous requests of the calling
// agent and clears its ASYNC_MSG_REPLY signal.
func (c *Context) AgentReplies() (replies []Reply) {
	s := c.spm

	s.cs.Lock()
	defer s.cs.Unlock()

	for _, conn := range c.p.replies {
		replies = append(replies, Reply{
			CallerData: conn.callerData,
			ClientID:   conn.clientID,
			Status:     conn.status,
		})

		s.dispose(conn)
	}

	c.p.replies = nil
	c.p.signals &^= psa.AsyncMsgReply

	return
}
