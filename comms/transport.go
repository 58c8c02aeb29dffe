// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package comms implements the cross-core RPC transport, PSA client requests
// of a host processor are received over a mailbox, with vectors either
// embedded in the message or referenced in host memory through ATU windows,
// and forwarded to the SPM by the mailbox agent partition.
package comms

import (
	"errors"
	"fmt"
	"log"

	"github.com/usbarmory/GoTEE-spm/mem"
	"github.com/usbarmory/GoTEE-spm/psa"
	"github.com/usbarmory/GoTEE-spm/spm"
)

// DefaultMaxRequests is the number of concurrent requests used when unset.
const DefaultMaxRequests = 4

// Config is the transport configuration.
type Config struct {
	Mailbox Mailbox
	ATU     ATU
	// Memory is the local address space of the request payloads and ATU
	// windows.
	Memory mem.Space
	// PoolBase is the local address of the request payload buffers.
	PoolBase uintptr
	// Permissions is the request policy, every request is permitted when
	// unset.
	Permissions Permissions
	// Protocols lists the accepted protocol versions, all of them when
	// unset.
	Protocols []uint8
	// MaxRequests is the number of concurrent requests.
	MaxRequests int
}

// Status is a transport status summary.
type Status struct {
	Pending   int
	InUse     int
	HighWater int
	Regions   []ATURegion
}

// Transport is the cross-core RPC transport, it implements spm.RPCOps.
type Transport struct {
	conf Config

	atu       *ATUManager
	pool      *pool
	queue     *queue
	protocols map[uint8]protocol

	rx []byte

	spm    *spm.SPM
	pid    int32
	signal psa.Signal
}

// New returns a transport instance.
func New(conf Config) (t *Transport, err error) {
	if conf.Mailbox == nil || conf.Memory == nil {
		return nil, errors.New("comms: transport requires a mailbox and memory")
	}

	if conf.MaxRequests <= 0 {
		conf.MaxRequests = DefaultMaxRequests
	}

	if conf.PoolBase == 0 {
		conf.PoolBase = mem.MailboxPoolStart
	}

	if conf.Permissions == nil {
		conf.Permissions = &Policy{}
	}

	if conf.MaxRequests*EmbedPayloadSize > mem.MailboxPoolSize {
		return nil, fmt.Errorf("comms: %d requests exceed the pool memory", conf.MaxRequests)
	}

	t = &Transport{
		conf:      conf,
		pool:      newPool(conf.MaxRequests, conf.PoolBase),
		queue:     newQueue(conf.MaxRequests),
		protocols: make(map[uint8]protocol),
		rx:        make([]byte, MaxMessageSize),
	}

	if conf.Protocols == nil {
		conf.Protocols = []uint8{ProtocolEmbed, ProtocolPointerAccess}
	}

	for _, v := range conf.Protocols {
		p, ok := protocols[v]

		if !ok {
			return nil, fmt.Errorf("comms: protocol %d, %w", v, ErrUnsupported)
		}

		if v == ProtocolPointerAccess && conf.ATU == nil {
			return nil, errors.New("comms: pointer access requires an ATU")
		}

		t.protocols[v] = p
	}

	if conf.ATU != nil {
		t.atu = NewATUManager(conf.ATU)
	}

	return
}

// Attach registers the transport as the RPC operations of the SPM, requests
// are signalled to the mailbox agent partition with sig.
func (t *Transport) Attach(s *spm.SPM, pid int32, sig psa.Signal) error {
	t.spm = s
	t.pid = pid
	t.signal = sig

	return s.RPC().Register(t)
}

// ATU returns the ATU window manager.
func (t *Transport) ATU() *ATUManager {
	return t.atu
}

// Status returns the transport status.
func (t *Transport) Status() (s Status) {
	t.conf.Mailbox.DisableIRQ()
	defer t.conf.Mailbox.EnableIRQ()

	s.Pending = t.queue.len()
	s.InUse = t.pool.inUse
	s.HighWater = t.pool.highWater

	if t.atu != nil {
		s.Regions = t.atu.Regions()
	}

	return
}

func (t *Transport) release(r *Request) {
	if t.atu != nil && r.regions != 0 {
		t.atu.FreeRegions(r.regions)
	}

	r.regions = 0
	t.pool.free(r)
}

// sendError replies to a message which could not be received, the mailbox
// IRQ must be disabled.
func (t *Transport) sendError(h Header, status psa.Status) {
	p, ok := t.protocols[h.ProtocolVer]

	if !ok {
		p = embed{}
	}

	msg := append(h.Bytes(), p.serializeError(status)...)

	if err := t.conf.Mailbox.Send(msg); err != nil {
		log.Printf("comms could not send error reply, %v", err)
	}
}

// IRQ handles a mailbox receive interrupt, it must be invoked by the SPM
// run token holder (see spm.SPM.Interrupt). Any message that cannot be
// queued is answered with an error reply and the reason is returned.
func (t *Transport) IRQ() (err error) {
	var h Header

	mb := t.conf.Mailbox

	mb.DisableIRQ()
	defer mb.EnableIRQ()

	n, err := mb.Receive(t.rx)

	if err != nil {
		return
	}

	if n < HeaderSize {
		t.sendError(h, psa.ErrConnectionBusy)
		return fmt.Errorf("comms: short message (%d bytes), %w", n, ErrMalformed)
	}

	h.Unmarshal(t.rx)

	if n > len(t.rx) {
		t.sendError(h, psa.ErrConnectionBusy)
		return fmt.Errorf("comms: oversized message (%d bytes), %w", n, ErrMalformed)
	}

	p, ok := t.protocols[h.ProtocolVer]

	if !ok {
		t.sendError(h, psa.ErrConnectionBusy)
		return fmt.Errorf("comms: protocol %d, %w", h.ProtocolVer, ErrUnsupported)
	}

	r, err := t.pool.alloc()

	if err != nil {
		t.sendError(h, psa.ErrConnectionBusy)
		return
	}

	r.Protocol = h.ProtocolVer
	r.SeqNum = h.SeqNum
	r.ClientID = h.ClientID

	if err = p.deserialize(t, r, t.rx[HeaderSize:n]); err != nil {
		t.release(r)
		t.sendError(h, psa.ErrConnectionBusy)

		return fmt.Errorf("comms: could not decode request, %w", err)
	}

	if err = t.queue.enqueue(r); err != nil {
		t.release(r)
		t.sendError(h, psa.ErrConnectionBusy)

		return
	}

	if t.spm != nil {
		return t.spm.AssertSignal(t.pid, t.signal)
	}

	return
}

// reply sends the reply of a request and releases it.
func (t *Transport) reply(r *Request, status psa.Status) {
	mb := t.conf.Mailbox

	mb.DisableIRQ()
	defer mb.EnableIRQ()

	defer t.release(r)

	h := r.header()
	r.ReturnVal = status

	body, err := t.protocols[r.Protocol].serialize(t, r)

	if err != nil {
		log.Printf("comms could not encode reply, %v", err)
		body = t.protocols[r.Protocol].serializeError(psa.ErrGenericError)
	}

	if err = mb.Send(append(h.Bytes(), body...)); err != nil {
		log.Printf("comms could not send reply, %v", err)
	}
}

// HandleRequest implements spm.RPCOps, queued requests are forwarded to
// their RoT services.
func (t *Transport) HandleRequest(ctx *spm.Context) {
	client := spm.NewRPCClient(ctx)
	mb := t.conf.Mailbox

	for {
		mb.DisableIRQ()
		r, err := t.queue.dequeue()
		mb.EnableIRQ()

		if err != nil {
			return
		}

		if err = t.conf.Permissions.CheckService(r.Handle, r.Type); err != nil {
			log.Printf("comms denied request from client %d, %v", r.ClientID, err)
			t.reply(r, psa.ErrNotPermitted)
			continue
		}

		params := &spm.CallParams{
			Handle:   r.Handle,
			Type:     int32(r.Type),
			ClientID: r.NSClientID(),
			In:       r.In,
			Out:      r.Out,
		}

		if status := client.Call(params, r); status != psa.StatusNeedSchedule {
			t.reply(r, status)
		}
	}
}

// Reply implements spm.RPCOps.
func (t *Transport) Reply(callerData interface{}, status psa.Status) {
	r, ok := callerData.(*Request)

	if !ok {
		log.Printf("comms reply without request (%d)", status)
		return
	}

	t.reply(r, status)
}

// CallerData implements spm.RPCOps, every request carries its own caller
// data.
func (t *Transport) CallerData(clientID int32) interface{} {
	return nil
}
