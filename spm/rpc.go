// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package spm

import (
	"errors"
	"math"
	"sync"

	"github.com/usbarmory/GoTEE-spm/psa"
)

// ErrAlreadyRegistered is returned when registering RPC operations twice.
var ErrAlreadyRegistered = errors.New("RPC operations already registered")

// RPCOps are the operations of an inter-processor transport, invoked by the
// mailbox agent thread.
type RPCOps interface {
	// HandleRequest dispatches pending transport requests.
	HandleRequest(ctx *Context)
	// Reply completes the request identified by callerData.
	Reply(callerData interface{}, status psa.Status)
	// CallerData returns the caller data of requests issued without one.
	CallerData(clientID int32) interface{}
}

// RPCRegistry holds the operations of the registered transport.
type RPCRegistry struct {
	sync.Mutex
	ops RPCOps
}

// Register installs the transport operations.
func (r *RPCRegistry) Register(ops RPCOps) error {
	r.Lock()
	defer r.Unlock()

	if r.ops != nil {
		return ErrAlreadyRegistered
	}

	r.ops = ops

	return nil
}

// Unregister removes the transport operations.
func (r *RPCRegistry) Unregister() {
	r.Lock()
	r.ops = nil
	r.Unlock()
}

// Ops returns the registered transport operations, if any.
func (r *RPCRegistry) Ops() RPCOps {
	r.Lock()
	defer r.Unlock()

	return r.ops
}

// CallParams are the parameters of a transport request.
type CallParams struct {
	SID      uint32
	Version  uint32
	Handle   psa.Handle
	Type     int32
	ClientID int32
	In       []psa.IOVec
	Out      []psa.IOVec
}

// RPCClient forwards transport requests to the SPM on behalf of Non-secure
// clients, it is bound to the mailbox agent context.
type RPCClient struct {
	ctx *Context
}

// NewRPCClient returns a client for the agent context.
func NewRPCClient(ctx *Context) *RPCClient {
	return &RPCClient{ctx: ctx}
}

func (c *RPCClient) callerData(clientID int32, callerData interface{}) interface{} {
	if callerData != nil {
		return callerData
	}

	if ops := c.ctx.spm.rpc.Ops(); ops != nil {
		return ops.CallerData(clientID)
	}

	return nil
}

// FrameworkVersion returns the PSA Firmware Framework version.
func (c *RPCClient) FrameworkVersion() uint32 {
	return c.ctx.FrameworkVersion()
}

// Version returns the version of a Non-secure accessible RoT service.
func (c *RPCClient) Version(params *CallParams) uint32 {
	return c.ctx.Version(params.SID)
}

// Connect establishes a connection, on success the returned status is the
// (positive) connection handle.
func (c *RPCClient) Connect(params *CallParams, callerData interface{}) psa.Status {
	h, status := c.ctx.AgentConnect(params.SID, params.Version, params.ClientID, c.callerData(params.ClientID, callerData))

	if status == psa.Success {
		return psa.Status(h)
	}

	return status
}

// Call sends a request to a RoT service.
func (c *RPCClient) Call(params *CallParams, callerData interface{}) psa.Status {
	if params.Type < 0 || params.Type > math.MaxInt16 {
		return psa.ErrProgrammerError
	}

	if len(params.In) > psa.MaxIOVec || len(params.Out) > psa.MaxIOVec {
		return psa.ErrProgrammerError
	}

	ctrl := psa.PackParams(int16(params.Type), len(params.In), len(params.Out))

	cp := &ClientParams{
		ClientID: params.ClientID,
		In:       params.In,
		Out:      params.Out,
	}

	return c.ctx.AgentCall(params.Handle, ctrl, cp, c.callerData(params.ClientID, callerData))
}

// Close terminates a connection.
func (c *RPCClient) Close(params *CallParams) psa.Status {
	return c.ctx.AgentClose(params.Handle, params.ClientID)
}
