// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package comms_test

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/usbarmory/GoTEE-spm/comms"
	"github.com/usbarmory/GoTEE-spm/isolation"
	"github.com/usbarmory/GoTEE-spm/load"
	"github.com/usbarmory/GoTEE-spm/partitions"
	"github.com/usbarmory/GoTEE-spm/platform/sim"
	"github.com/usbarmory/GoTEE-spm/psa"
	"github.com/usbarmory/GoTEE-spm/spm"
)

const timeout = 5 * time.Second

type bench struct {
	spm       *spm.SPM
	platform  *sim.Platform
	transport *comms.Transport
	irq       chan error
	cancel    context.CancelFunc
}

func setup(t *testing.T, perm comms.Permissions) *bench {
	t.Helper()

	conf := comms.Config{Permissions: perm}

	return newBench(t, conf, partitions.Echo(), partitions.Counter(0), partitions.MailboxAgent())
}

func newBench(t *testing.T, conf comms.Config, parts ...spm.PartitionInfo) *bench {
	t.Helper()

	p, err := sim.New(sim.MPURegions)

	if err != nil {
		t.Fatal(err)
	}

	hal, err := isolation.New(p.IsolationConfig(2))

	if err != nil {
		t.Fatal(err)
	}

	s, err := spm.New(spm.Config{
		HAL:        hal,
		Memory:     p.Memory,
		Partitions: parts,
	})

	if err != nil {
		t.Fatal(err)
	}

	conf.Mailbox = p.Mailbox
	conf.ATU = p.ATU
	conf.Memory = p.Memory

	tr, err := comms.New(conf)

	if err != nil {
		t.Fatal(err)
	}

	if err = tr.Attach(s, partitions.AgentPID, partitions.MailboxSignal); err != nil {
		t.Fatal(err)
	}

	b := &bench{
		spm:       s,
		platform:  p,
		transport: tr,
		irq:       make(chan error, 16),
	}

	p.Mailbox.Notify = func() {
		s.Interrupt(func() {
			b.irq <- tr.IRQ()
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	go s.SystemRun(ctx)

	t.Cleanup(cancel)

	return b
}

func (b *bench) handle(t *testing.T, sid uint32) psa.Handle {
	t.Helper()

	h, ok := b.spm.StatelessHandle(sid)

	if !ok {
		t.Fatalf("no stateless handle for %#x", sid)
	}

	return h
}

func (b *bench) request(t *testing.T, msg []byte) []byte {
	t.Helper()

	if err := b.platform.HostMailbox.Send(msg); err != nil {
		t.Fatal(err)
	}

	return b.reply(t)
}

func (b *bench) reply(t *testing.T) []byte {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	reply, err := b.platform.HostMailbox.Wait(ctx)

	if err != nil {
		t.Fatal(err)
	}

	return reply
}

func (b *bench) irqError(t *testing.T) error {
	t.Helper()

	select {
	case err := <-b.irq:
		return err
	case <-time.After(timeout):
		t.Fatal("IRQ not handled")
	}

	return nil
}

type embedResult struct {
	Header  comms.Header
	Reply   comms.EmbedReply
	Payload string
}

func decodeEmbed(t *testing.T, buf []byte) embedResult {
	t.Helper()

	h, r, payload, err := comms.UnmarshalEmbedReply(buf)

	if err != nil {
		t.Fatal(err)
	}

	return embedResult{h, r, string(payload)}
}

func TestEmbedEcho(t *testing.T) {
	b := setup(t, nil)

	hdr := comms.Header{ProtocolVer: comms.ProtocolEmbed, SeqNum: 7, ClientID: 3}
	msg := &comms.EmbedMsg{
		Handle:    int32(b.handle(t, partitions.EchoStatelessSID)),
		CtrlParam: psa.PackParams(psa.IPCCall, 1, 1),
		IOSize:    [psa.MaxIOVec]uint16{5, 4},
	}

	got := decodeEmbed(t, b.request(t, msg.Marshal(hdr, []byte("hello"))))

	want := embedResult{
		Header:  hdr,
		Reply:   comms.EmbedReply{ReturnVal: 4, OutSize: [psa.MaxIOVec]uint16{4}},
		Payload: "hell",
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}

	if err := b.irqError(t); err != nil {
		t.Errorf("IRQ() = %v", err)
	}

	if s := b.transport.Status(); s.InUse != 0 || s.Pending != 0 || s.HighWater != 1 {
		t.Errorf("status %+v", s)
	}
}

func TestEmbedSFN(t *testing.T) {
	b := setup(t, nil)

	h := int32(b.handle(t, partitions.CounterSID))
	hdr := comms.Header{ProtocolVer: comms.ProtocolEmbed, ClientID: 1}

	for i := 0; i < 2; i++ {
		hdr.SeqNum = uint8(i)
		inc := &comms.EmbedMsg{Handle: h, CtrlParam: psa.PackParams(partitions.CounterIncrement, 0, 0)}

		if r := decodeEmbed(t, b.request(t, inc.Marshal(hdr, nil))); r.Reply.ReturnVal != 0 {
			t.Fatalf("increment status %d", r.Reply.ReturnVal)
		}
	}

	read := &comms.EmbedMsg{
		Handle:    h,
		CtrlParam: psa.PackParams(partitions.CounterRead, 0, 1),
		IOSize:    [psa.MaxIOVec]uint16{8},
	}

	r := decodeEmbed(t, b.request(t, read.Marshal(hdr, nil)))

	if r.Reply.ReturnVal != 0 || r.Reply.OutSize[0] != 4 || binary.LittleEndian.Uint32([]byte(r.Payload)) != 2 {
		t.Errorf("read reply %+v %x", r.Reply, r.Payload)
	}
}

func TestEmbedInvalidHandle(t *testing.T) {
	b := setup(t, nil)

	hdr := comms.Header{ProtocolVer: comms.ProtocolEmbed}
	msg := &comms.EmbedMsg{Handle: 0x1234, CtrlParam: psa.PackParams(psa.IPCCall, 0, 0)}

	if r := decodeEmbed(t, b.request(t, msg.Marshal(hdr, nil))); psa.Status(r.Reply.ReturnVal) != psa.ErrProgrammerError {
		t.Errorf("status %d, want %d", r.Reply.ReturnVal, psa.ErrProgrammerError)
	}
}

func TestPointerAccessEcho(t *testing.T) {
	b := setup(t, nil)

	in := uint64(sim.HostStart + 0x100)
	out := uint64(sim.HostStart + 0x3000)

	if err := b.platform.Host.Write(uintptr(in), []byte("ping")); err != nil {
		t.Fatal(err)
	}

	hdr := comms.Header{ProtocolVer: comms.ProtocolPointerAccess, SeqNum: 1, ClientID: 2}
	msg := &comms.PointerMsg{
		Handle:    int32(b.handle(t, partitions.EchoStatelessSID)),
		CtrlParam: psa.PackParams(psa.IPCCall, 1, 1),
		IOSizes:   [psa.MaxIOVec]uint32{4, 8},
		HostPtrs:  [psa.MaxIOVec]uint64{in, out},
	}

	h, r, err := comms.UnmarshalPointerReply(b.request(t, msg.Marshal(hdr)))

	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(hdr, h); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(comms.PointerReply{ReturnVal: 4, OutSize: [psa.MaxIOVec]uint32{4}}, r); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}

	buf := make([]byte, 8)
	b.platform.Host.Read(uintptr(out), buf)

	if string(buf[:4]) != "ping" || buf[4] != 0 {
		t.Errorf("host output %q", buf)
	}

	if s := b.transport.Status(); len(s.Regions) != 0 || s.InUse != 0 {
		t.Errorf("status %+v", s)
	}

	if n := b.platform.ATU.Active(); n != 0 {
		t.Errorf("%d ATU slots still active", n)
	}
}

func TestPointerAccessDenied(t *testing.T) {
	b := setup(t, &comms.Policy{
		Host: []comms.HostRange{{Start: sim.HostStart, Size: 0x1000, Writable: true}},
	})

	msg := &comms.PointerMsg{
		Handle:    int32(b.handle(t, partitions.EchoStatelessSID)),
		CtrlParam: psa.PackParams(psa.IPCCall, 1, 1),
		IOSizes:   [psa.MaxIOVec]uint32{4, 4},
		HostPtrs:  [psa.MaxIOVec]uint64{sim.HostStart, sim.HostStart + 0x2000},
	}

	_, r, err := comms.UnmarshalPointerReply(b.request(t, msg.Marshal(comms.Header{ProtocolVer: comms.ProtocolPointerAccess})))

	if err != nil {
		t.Fatal(err)
	}

	if psa.Status(r.ReturnVal) != psa.ErrConnectionBusy {
		t.Errorf("status %d, want %d", r.ReturnVal, psa.ErrConnectionBusy)
	}

	if err = b.irqError(t); !errors.Is(err, comms.ErrNotPermitted) {
		t.Errorf("IRQ() = %v, want %v", err, comms.ErrNotPermitted)
	}

	if s := b.transport.Status(); len(s.Regions) != 0 || s.InUse != 0 {
		t.Errorf("status %+v", s)
	}
}

func TestServiceDenied(t *testing.T) {
	b := setup(t, &comms.Policy{
		Services: map[psa.Handle][]int16{0x1234: nil},
	})

	msg := &comms.EmbedMsg{
		Handle:    int32(b.handle(t, partitions.EchoStatelessSID)),
		CtrlParam: psa.PackParams(psa.IPCCall, 0, 0),
	}

	r := decodeEmbed(t, b.request(t, msg.Marshal(comms.Header{}, nil)))

	if psa.Status(r.Reply.ReturnVal) != psa.ErrNotPermitted {
		t.Errorf("status %d, want %d", r.Reply.ReturnVal, psa.ErrNotPermitted)
	}
}

func TestReceiveErrors(t *testing.T) {
	b := setup(t, nil)

	h := int32(b.handle(t, partitions.EchoStatelessSID))
	oversized := make([]byte, comms.MaxMessageSize+1)

	for _, tc := range []struct {
		name string
		msg  []byte
		hdr  comms.Header
		err  error
	}{
		{
			name: "short",
			msg:  []byte{0},
			err:  comms.ErrMalformed,
		},
		{
			name: "oversized",
			msg:  oversized,
			err:  comms.ErrMalformed,
		},
		{
			name: "protocol",
			msg:  (&comms.EmbedMsg{Handle: h}).Marshal(comms.Header{ProtocolVer: 9, SeqNum: 3}, nil),
			hdr:  comms.Header{ProtocolVer: 9, SeqNum: 3},
			err:  comms.ErrUnsupported,
		},
		{
			name: "vectors",
			msg:  (&comms.EmbedMsg{Handle: h, CtrlParam: psa.PackParams(0, 3, 2)}).Marshal(comms.Header{SeqNum: 4}, nil),
			hdr:  comms.Header{SeqNum: 4},
			err:  comms.ErrUnsupported,
		},
		{
			name: "payload",
			msg:  (&comms.EmbedMsg{Handle: h, CtrlParam: psa.PackParams(0, 1, 0), IOSize: [psa.MaxIOVec]uint16{8}}).Marshal(comms.Header{SeqNum: 5}, []byte("abc")),
			hdr:  comms.Header{SeqNum: 5},
			err:  comms.ErrMalformed,
		},
	} {
		before := b.transport.Status().HighWater

		got := decodeEmbed(t, b.request(t, tc.msg))
		want := embedResult{Header: tc.hdr, Reply: comms.EmbedReply{ReturnVal: int32(psa.ErrConnectionBusy)}}

		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s: reply mismatch (-want +got):\n%s", tc.name, diff)
		}

		if err := b.irqError(t); !errors.Is(err, tc.err) {
			t.Errorf("%s: IRQ() = %v, want %v", tc.name, err, tc.err)
		}

		s := b.transport.Status()

		if s.InUse != 0 {
			t.Errorf("%s: %d requests in use", tc.name, s.InUse)
		}

		if tc.err == comms.ErrUnsupported && tc.name == "protocol" && s.HighWater != before {
			t.Errorf("%s: pool high water %d, want %d", tc.name, s.HighWater, before)
		}
	}
}

const (
	gatePID               = 0x110
	gateSID               = 0x200
	gateSignal psa.Signal = 1 << 4
	gateOpen   psa.Signal = 1 << 9
)

// gate returns a partition which holds its messages until gateOpen is
// asserted.
func gate() spm.PartitionInfo {
	entry := func(ctx *spm.Context) {
		for {
			ctx.Wait(gateOpen, true)
			ctx.EOI(gateOpen)

			for ctx.Wait(gateSignal, false) != 0 {
				msg := ctx.Get(gateSignal)
				ctx.Reply(msg.Handle, psa.Success)
			}
		}
	}

	return spm.PartitionInfo{
		Load: &load.Partition{
			Name:     "gate",
			PID:      gatePID,
			Flags:    load.IPC | load.PSARoT,
			Priority: load.PriorityNormal,
			Signals:  gateOpen,
			Services: []load.Service{
				{Name: "gate", SID: gateSID, Signal: gateSignal, Version: 1, NonSecure: true, Stateless: true},
			},
		},
		Component: &spm.IPCPartition{Entry: entry},
	}
}

func TestPoolExhausted(t *testing.T) {
	b := newBench(t, comms.Config{MaxRequests: 2}, gate(), partitions.MailboxAgent())

	msg := &comms.EmbedMsg{
		Handle:    int32(b.handle(t, gateSID)),
		CtrlParam: psa.PackParams(psa.IPCCall, 0, 0),
	}

	for i := 0; i < 2; i++ {
		if err := b.platform.HostMailbox.Send(msg.Marshal(comms.Header{SeqNum: uint8(i), ClientID: 1}, nil)); err != nil {
			t.Fatal(err)
		}

		if err := b.irqError(t); err != nil {
			t.Fatalf("IRQ() = %v", err)
		}
	}

	hdr := comms.Header{SeqNum: 2, ClientID: 1}

	got := decodeEmbed(t, b.request(t, msg.Marshal(hdr, nil)))
	want := embedResult{Header: hdr, Reply: comms.EmbedReply{ReturnVal: int32(psa.ErrConnectionBusy)}}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}

	if err := b.irqError(t); !errors.Is(err, comms.ErrPoolExhausted) {
		t.Errorf("IRQ() = %v, want %v", err, comms.ErrPoolExhausted)
	}

	if s := b.transport.Status(); s.InUse != 2 || s.HighWater != 2 {
		t.Errorf("status %+v", s)
	}

	b.spm.Interrupt(func() {
		if err := b.spm.AssertSignal(gatePID, gateOpen); err != nil {
			t.Error(err)
		}
	})

	seq := make(map[uint8]bool)

	for i := 0; i < 2; i++ {
		r := decodeEmbed(t, b.reply(t))

		if r.Reply.ReturnVal != 0 {
			t.Errorf("request %d status %d", r.Header.SeqNum, r.Reply.ReturnVal)
		}

		seq[r.Header.SeqNum] = true
	}

	if diff := cmp.Diff(map[uint8]bool{0: true, 1: true}, seq); diff != "" {
		t.Errorf("replies mismatch (-want +got):\n%s", diff)
	}

	if s := b.transport.Status(); s.InUse != 0 || s.Pending != 0 {
		t.Errorf("status %+v", s)
	}
}

func TestNew(t *testing.T) {
	p, _ := sim.New(sim.MPURegions)

	for _, conf := range []comms.Config{
		{Memory: p.Memory},
		{Mailbox: p.Mailbox, Memory: p.Memory, Protocols: []uint8{comms.ProtocolPointerAccess}},
		{Mailbox: p.Mailbox, Memory: p.Memory, Protocols: []uint8{7}},
		{Mailbox: p.Mailbox, Memory: p.Memory, MaxRequests: 0x1000},
	} {
		if _, err := comms.New(conf); err == nil {
			t.Errorf("New(%+v) succeeded", conf)
		}
	}

	tr, err := comms.New(comms.Config{Mailbox: p.Mailbox, Memory: p.Memory, Protocols: []uint8{comms.ProtocolEmbed}})

	if err != nil {
		t.Fatal(err)
	}

	if tr.ATU() != nil {
		t.Error("unexpected ATU manager")
	}
}

func TestClient(t *testing.T) {
	b := setup(t, nil)

	c := &comms.Client{
		Link:     b.platform.HostMailbox,
		ClientID: 3,
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	h := b.handle(t, partitions.EchoStatelessSID)
	status, out, err := c.Call(ctx, h, psa.IPCCall, [][]byte{[]byte("ab"), []byte("cd")}, []uint32{3, 3})

	if err != nil {
		t.Fatal(err)
	}

	if status != 4 {
		t.Errorf("status = %v, want 4", status)
	}

	got := []string{string(out[0]), string(out[1])}

	if diff := cmp.Diff([]string{"abc", "d"}, got); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}

	if _, _, err = c.Call(ctx, h, psa.IPCCall, make([][]byte, 3), make([]uint32, 2)); !errors.Is(err, comms.ErrUnsupported) {
		t.Errorf("Call(5 vectors) = %v, want ErrUnsupported", err)
	}
}
