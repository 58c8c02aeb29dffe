// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package spm_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/usbarmory/GoTEE-spm/isolation"
	"github.com/usbarmory/GoTEE-spm/load"
	"github.com/usbarmory/GoTEE-spm/mem"
	"github.com/usbarmory/GoTEE-spm/platform/sim"
	"github.com/usbarmory/GoTEE-spm/psa"
	"github.com/usbarmory/GoTEE-spm/spm"
)

const (
	echoSID      = 0x105
	statelessSID = 0x106
	counterSID   = 0x107

	echoSignal      psa.Signal = 1 << 4
	statelessSignal psa.Signal = 1 << 5
	irqSignal       psa.Signal = 1 << 8

	timeout = 5 * time.Second
)

func echoPartition(nonSecure bool) spm.PartitionInfo {
	return spm.PartitionInfo{
		Load: &load.Partition{
			Name:     "echo",
			PID:      0x100,
			Flags:    load.IPC | load.PSARoT,
			Priority: load.PriorityHigh,
			Services: []load.Service{
				{Name: "echo", SID: echoSID, Signal: echoSignal, Version: 1, NonSecure: nonSecure},
				{Name: "echo_stateless", SID: statelessSID, Signal: statelessSignal, Version: 1, NonSecure: nonSecure, Stateless: true},
			},
		},
		Component: &spm.IPCPartition{Entry: echo},
	}
}

func echo(ctx *spm.Context) {
	buf := make([]byte, 256)

	for {
		sig := ctx.Wait(echoSignal|statelessSignal, true)

		for _, s := range []psa.Signal{echoSignal, statelessSignal} {
			if sig&s == 0 {
				continue
			}

			msg := ctx.Get(s)
			status := psa.Success

			if msg.Type >= psa.IPCCall {
				var n uint32

				if msg.InSize[0] > 0 {
					n = ctx.Read(msg.Handle, 0, buf)
				}

				if msg.OutSize[0] > 0 {
					if n > msg.OutSize[0] {
						n = msg.OutSize[0]
					}

					ctx.Write(msg.Handle, 0, buf[:n])
				}

				status = psa.Status(n)
			}

			ctx.Reply(msg.Handle, status)
		}
	}
}

func client(name string, pid int32, flags load.Flags, entry spm.Entry) spm.PartitionInfo {
	c := spm.Component(&spm.IPCPartition{Entry: entry})

	if flags&load.NSAgentTZ != 0 {
		c = &spm.NSAgentTZ{Entry: entry}
	}

	return spm.PartitionInfo{
		Load: &load.Partition{
			Name:     name,
			PID:      pid,
			Flags:    load.IPC | flags,
			Priority: load.PriorityNormal,
		},
		Component: c,
	}
}

type system struct {
	*spm.SPM
	platform *sim.Platform
	err      chan error
	cancel   context.CancelFunc
	halts    chan string
}

func start(t *testing.T, level int, partitions ...spm.PartitionInfo) *system {
	t.Helper()

	p, err := sim.New(sim.MPURegions)

	if err != nil {
		t.Fatal(err)
	}

	hal, err := isolation.New(p.IsolationConfig(level))

	if err != nil {
		t.Fatal(err)
	}

	sys := &system{
		platform: p,
		err:      make(chan error, 1),
		halts:    make(chan string, 1),
	}

	sys.SPM, err = spm.New(spm.Config{
		HAL:        hal,
		Memory:     p.Memory,
		Partitions: partitions,
		Halt: func(reason string) {
			sys.halts <- reason
		},
	})

	if err != nil {
		t.Fatal(err)
	}

	return sys
}

func (sys *system) run() {
	ctx, cancel := context.WithCancel(context.Background())
	sys.cancel = cancel

	go func() {
		sys.err <- sys.SystemRun(ctx)
	}()
}

func (sys *system) stop(t *testing.T) {
	t.Helper()

	sys.cancel()

	select {
	case err := <-sys.err:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("SystemRun() = %v, want %v", err, context.Canceled)
		}
	case <-time.After(timeout):
		t.Fatal("SystemRun did not return")
	}
}

func (sys *system) halted(t *testing.T) string {
	t.Helper()

	select {
	case err := <-sys.err:
		if !errors.Is(err, spm.ErrHalted) {
			t.Errorf("SystemRun() = %v, want %v", err, spm.ErrHalted)
		}
	case <-time.After(timeout):
		t.Fatal("SystemRun did not halt")
	}

	return <-sys.halts
}

func receive[T any](t *testing.T, ch chan T) (v T) {
	t.Helper()

	select {
	case v = <-ch:
	case <-time.After(timeout):
		t.Fatal("timeout")
	}

	return
}

type callResult struct {
	Connect psa.Status
	Call    psa.Status
	Out     string
	OutLen  uint32
	Close   psa.Status
	Conns   int
}

func TestConnectCallClose(t *testing.T) {
	results := make(chan callResult, 1)

	entry := func(ctx *spm.Context) {
		var r callResult

		in, _ := ctx.Alloc(16)
		out, _ := ctx.Alloc(16)

		if err := ctx.Store(in, []byte("hello world")); err != nil {
			ctx.Panic()
		}

		h, status := ctx.Connect(echoSID, 1)
		r.Connect = status

		outVec := []psa.IOVec{{Base: out, Len: 5}}
		r.Call = ctx.Call(h, psa.IPCCall, []psa.IOVec{{Base: in, Len: 11}}, outVec)
		r.OutLen = outVec[0].Len

		buf := make([]byte, outVec[0].Len)
		ctx.Load(out, buf)
		r.Out = string(buf)

		r.Close = ctx.Close(h)
		r.Conns = ctx.SPM().Connections()

		results <- r
	}

	sys := start(t, 1, echoPartition(false), client("client", 0x101, 0, entry))
	sys.run()

	want := callResult{
		Connect: psa.Success,
		Call:    5,
		Out:     "hello",
		OutLen:  5,
		Close:   psa.Success,
	}

	if diff := cmp.Diff(want, receive(t, results)); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}

	sys.stop(t)
}

func TestConnectRefused(t *testing.T) {
	results := make(chan []psa.Status, 1)

	entry := func(ctx *spm.Context) {
		var r []psa.Status

		for _, req := range []struct {
			sid     uint32
			version uint32
		}{
			{0xdead, 1},
			{echoSID, 2},
			{statelessSID, 1},
		} {
			_, status := ctx.Connect(req.sid, req.version)
			r = append(r, status)
		}

		r = append(r, psa.Status(ctx.Version(echoSID)), psa.Status(ctx.Version(0xdead)))
		r = append(r, ctx.Close(psa.NullHandle))

		results <- r
	}

	sys := start(t, 1, echoPartition(false), client("client", 0x101, 0, entry))
	sys.run()

	want := []psa.Status{
		psa.ErrConnectionRefused,
		psa.ErrConnectionRefused,
		psa.ErrConnectionRefused,
		1,
		psa.UndefinedVersion,
		psa.Success,
	}

	if diff := cmp.Diff(want, receive(t, results)); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}

	sys.stop(t)
}

func TestStatelessCall(t *testing.T) {
	results := make(chan []psa.Status, 1)

	entry := func(ctx *spm.Context) {
		var r []psa.Status

		h, ok := ctx.SPM().StatelessHandle(statelessSID)

		if !ok || !h.IsStateless() {
			ctx.Panic()
		}

		in, _ := ctx.Alloc(8)

		for i := 0; i < 3; i++ {
			r = append(r, ctx.Call(h, psa.IPCCall, []psa.IOVec{{Base: in, Len: 8}}, nil))
		}

		r = append(r, psa.Status(ctx.SPM().Connections()))

		results <- r
	}

	sys := start(t, 1, echoPartition(false), client("client", 0x101, 0, entry))

	if _, ok := sys.StatelessHandle(echoSID); ok {
		t.Error("connection based service has a stateless handle")
	}

	sys.run()

	if diff := cmp.Diff([]psa.Status{8, 8, 8, 0}, receive(t, results)); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}

	sys.stop(t)
}

func counterPartition(local chan string) spm.PartitionInfo {
	var count uint32

	call := func(ctx *spm.Context, msg *spm.Message) psa.Status {
		local <- ctx.SPM().Local().Name

		switch msg.Type {
		case 1:
			count++
		case 2:
			ctx.Write(msg.Handle, 0, []byte{byte(count)})
		default:
			return psa.ErrNotSupported
		}

		return psa.Success
	}

	return spm.PartitionInfo{
		Load: &load.Partition{
			Name:     "counter",
			PID:      0x102,
			Flags:    load.PSARoT,
			Priority: load.PriorityNormal,
			Services: []load.Service{
				{Name: "counter", SID: counterSID, Signal: 1 << 6, Version: 1, Stateless: true},
			},
		},
		Component: &spm.SFNPartition{
			Services: map[uint32]spm.SFN{counterSID: call},
			Init: func(ctx *spm.Context) error {
				count = 10
				return nil
			},
		},
	}
}

func TestSFNCall(t *testing.T) {
	type result struct {
		Status []psa.Status
		Count  byte
		Local  string
	}

	results := make(chan result, 1)
	local := make(chan string, 8)

	entry := func(ctx *spm.Context) {
		var r result

		h, _ := ctx.SPM().StatelessHandle(counterSID)
		out, _ := ctx.Alloc(8)

		r.Status = append(r.Status, ctx.Call(h, 1, nil, nil))
		r.Status = append(r.Status, ctx.Call(h, 1, nil, nil))
		r.Status = append(r.Status, ctx.Call(h, 3, nil, nil))

		outVec := []psa.IOVec{{Base: out, Len: 8}}
		r.Status = append(r.Status, ctx.Call(h, 2, nil, outVec))

		buf := make([]byte, outVec[0].Len)
		ctx.Load(out, buf)
		r.Count = buf[0]
		r.Local = ctx.SPM().Local().Name

		results <- r
	}

	sys := start(t, 2, counterPartition(local), client("client", 0x101, 0, entry))
	sys.run()

	want := result{
		Status: []psa.Status{psa.Success, psa.Success, psa.ErrNotSupported, psa.Success},
		Count:  12,
		Local:  "client",
	}

	if diff := cmp.Diff(want, receive(t, results)); diff != "" {
		t.Errorf("SFN mismatch (-want +got):\n%s", diff)
	}

	if name := receive(t, local); name != "counter" {
		t.Errorf("SFN local storage = %s, want counter", name)
	}

	sys.stop(t)
}

func TestPriority(t *testing.T) {
	order := make(chan string, 2)

	entry := func(name string) spm.Entry {
		return func(ctx *spm.Context) {
			order <- name
		}
	}

	low := client("low", 0x101, 0, entry("low"))
	low.Load.Priority = load.PriorityLow

	high := client("high", 0x102, 0, entry("high"))
	high.Load.Priority = load.PriorityHigh

	sys := start(t, 1, low, high)
	sys.run()

	got := []string{receive(t, order), receive(t, order)}

	if diff := cmp.Diff([]string{"high", "low"}, got); diff != "" {
		t.Errorf("schedule order mismatch (-want +got):\n%s", diff)
	}

	sys.stop(t)
}

func TestProgrammerError(t *testing.T) {
	entry := func(ctx *spm.Context) {
		h, _ := ctx.Connect(echoSID, 1)
		ctx.Call(h, -5, nil, nil)
	}

	sys := start(t, 1, echoPartition(false), client("client", 0x101, 0, entry))
	sys.run()

	if reason := sys.halted(t); !strings.Contains(reason, "programmer error in client") {
		t.Errorf("halt reason = %q", reason)
	}

	if sys.Reason() == "" {
		t.Error("missing halt reason")
	}
}

func TestServiceAPIErrorNonSecureAgent(t *testing.T) {
	entry := func(ctx *spm.Context) {
		buf := make([]byte, 8)
		ctx.Read(psa.Handle(0x10001), 0, buf)
	}

	sys := start(t, 2, echoPartition(true), client("ns_agent", 0x101, load.NSAgentTZ, entry))
	sys.run()

	reason := sys.halted(t)

	if !strings.Contains(reason, "programmer error in ns_agent") || !strings.Contains(reason, "not being processed") {
		t.Errorf("halt reason = %q", reason)
	}
}

func TestSFNInitMissingFunction(t *testing.T) {
	broken := spm.PartitionInfo{
		Load: &load.Partition{
			Name:     "broken",
			PID:      0x103,
			Flags:    load.PSARoT,
			Priority: load.PriorityNormal,
			Services: []load.Service{
				{Name: "broken", SID: 0x108, Signal: 1 << 7, Version: 1, Stateless: true},
			},
		},
		Component: &spm.SFNPartition{
			Services: map[uint32]spm.SFN{},
		},
	}

	caller := spm.PartitionInfo{
		Load: &load.Partition{
			Name:     "caller",
			PID:      0x104,
			Flags:    load.PSARoT,
			Priority: load.PriorityNormal,
		},
		Component: &spm.SFNPartition{
			Init: func(ctx *spm.Context) error {
				h, _ := ctx.SPM().StatelessHandle(0x108)
				ctx.Call(h, psa.IPCCall, nil, nil)
				return nil
			},
		},
	}

	sys := start(t, 2, broken, caller)
	sys.run()

	if reason := sys.halted(t); reason != "programmer error in caller, missing service function" {
		t.Errorf("halt reason = %q", reason)
	}
}

func TestStackOverflow(t *testing.T) {
	entry := func(ctx *spm.Context) {
		ctx.SetSP(ctx.SP() - 2*mem.PartitionStackSize)
		ctx.Connect(echoSID, 1)
	}

	sys := start(t, 1, echoPartition(false), client("client", 0x101, 0, entry))
	sys.run()

	if reason := sys.halted(t); reason != "stack overflow in client" {
		t.Errorf("halt reason = %q", reason)
	}
}

func TestNonSecureAgent(t *testing.T) {
	results := make(chan []psa.Status, 1)

	entry := func(ctx *spm.Context) {
		var r []psa.Status

		h, _ := ctx.SPM().StatelessHandle(statelessSID)
		ns, _ := ctx.Alloc(8)

		// secure memory is not accessible to Non-secure clients
		r = append(r, ctx.Call(h, psa.IPCCall, []psa.IOVec{{Base: mem.PartitionStart, Len: 8}}, nil))
		r = append(r, ctx.Call(h, psa.IPCCall, []psa.IOVec{{Base: ns, Len: 8}}, nil))
		r = append(r, ctx.Call(h, -1, nil, nil))

		r = append(r, ctx.AgentCall(h, psa.PackParams(0, 1, 0), &spm.ClientParams{ClientID: -3, In: []psa.IOVec{{Base: ns, Len: 4}}}, nil))
		r = append(r, ctx.AgentCall(h, psa.PackParams(0, 2, 0), &spm.ClientParams{ClientID: -3}, nil))
		r = append(r, ctx.AgentCall(h, 0, &spm.ClientParams{ClientID: 3}, nil))

		results <- r
	}

	sys := start(t, 2, echoPartition(true), client("ns_agent", 0x101, load.NSAgentTZ, entry))

	if sys.StackSealed() {
		t.Error("stack sealed before run")
	}

	sys.run()

	want := []psa.Status{
		psa.ErrProgrammerError,
		8,
		psa.ErrProgrammerError,
		4,
		psa.ErrProgrammerError,
		psa.ErrProgrammerError,
	}

	if diff := cmp.Diff(want, receive(t, results)); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}

	if sys.StackSealed() {
		t.Error("stack sealed with a TrustZone agent")
	}

	sys.stop(t)
}

func TestNonSecureAccess(t *testing.T) {
	results := make(chan []psa.Status, 1)

	entry := func(ctx *spm.Context) {
		h, _ := ctx.SPM().StatelessHandle(statelessSID)
		_, status := ctx.Connect(echoSID, 1)

		results <- []psa.Status{
			status,
			psa.Status(ctx.Version(echoSID)),
			ctx.Call(h, psa.IPCCall, nil, nil),
		}
	}

	sys := start(t, 1, echoPartition(false), client("ns_agent", 0x101, load.NSAgentTZ, entry))
	sys.run()

	want := []psa.Status{
		psa.ErrConnectionRefused,
		psa.UndefinedVersion,
		psa.ErrProgrammerError,
	}

	if diff := cmp.Diff(want, receive(t, results)); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}

	sys.stop(t)
}

func TestInterrupt(t *testing.T) {
	results := make(chan psa.Signal, 1)

	info := client("driver", 0x101, 0, func(ctx *spm.Context) {
		sig := ctx.Wait(irqSignal, true)
		ctx.EOI(irqSignal)

		results <- sig | ctx.Wait(irqSignal, false)
	})

	info.Load.Signals = irqSignal

	sys := start(t, 1, info)
	sys.run()

	sys.Interrupt(func() {
		if err := sys.AssertSignal(0x101, irqSignal); err != nil {
			t.Error(err)
		}
	})

	if sig := receive(t, results); sig != irqSignal {
		t.Errorf("signals = %#x, want %#x", sig, irqSignal)
	}

	if err := sys.AssertSignal(0x999, irqSignal); err == nil {
		t.Error("asserted signal on invalid partition")
	}

	sys.stop(t)
}

func TestThreadState(t *testing.T) {
	done := make(chan struct{})

	sys := start(t, 1, echoPartition(false), client("client", 0x101, 0, func(ctx *spm.Context) {
		close(done)
	}))

	if _, ok := sys.ThreadState(0x999); ok {
		t.Error("thread state of invalid partition")
	}

	sys.run()
	receive(t, done)

	deadline := time.Now().Add(timeout)

	for {
		state, _ := sys.ThreadState(0x101)
		echo, _ := sys.ThreadState(0x100)

		if state == spm.Exited && echo == spm.Blocked {
			break
		}

		if time.Now().After(deadline) {
			t.Fatalf("thread states client:%s echo:%s", state, echo)
		}

		time.Sleep(time.Millisecond)
	}

	if !sys.StackSealed() {
		t.Error("stack not sealed")
	}

	want := []spm.PartitionStatus{
		{Name: "echo", PID: 0x100, Priority: load.PriorityHigh, Boundary: sys.Partitions()[0].Boundary, Thread: true, State: spm.Blocked},
		{Name: "client", PID: 0x101, Priority: load.PriorityNormal, Boundary: sys.Partitions()[1].Boundary, Thread: true, State: spm.Exited},
	}

	if diff := cmp.Diff(want, sys.Partitions()); diff != "" {
		t.Errorf("partitions mismatch (-want +got):\n%s", diff)
	}

	sys.stop(t)
}

func TestNewErrors(t *testing.T) {
	p, _ := sim.New(sim.MPURegions)
	hal, _ := isolation.New(p.IsolationConfig(1))

	dup := echoPartition(false)

	sfn := client("sfn", 0x101, 0, nil)
	sfn.Component = &spm.SFNPartition{}

	for _, partitions := range [][]spm.PartitionInfo{
		{echoPartition(false), dup},
		{sfn},
		{{Load: &load.Partition{Name: "nil"}}},
	} {
		if _, err := spm.New(spm.Config{HAL: hal, Memory: p.Memory, Partitions: partitions}); err == nil {
			t.Errorf("New(%s) succeeded", partitions[len(partitions)-1].Load.Name)
		}
	}

	if _, err := spm.New(spm.Config{Memory: p.Memory}); err == nil {
		t.Error("New() without HAL succeeded")
	}
}

func TestRPCRegistry(t *testing.T) {
	var r spm.RPCRegistry

	ops := &nopOps{}

	if err := r.Register(ops); err != nil {
		t.Fatal(err)
	}

	if err := r.Register(ops); !errors.Is(err, spm.ErrAlreadyRegistered) {
		t.Errorf("Register() = %v, want %v", err, spm.ErrAlreadyRegistered)
	}

	if r.Ops() != ops {
		t.Error("unexpected ops")
	}

	r.Unregister()

	if r.Ops() != nil {
		t.Error("ops not unregistered")
	}
}

type nopOps struct{}

func (o *nopOps) HandleRequest(ctx *spm.Context)                  {}
func (o *nopOps) Reply(callerData interface{}, status psa.Status) {}
func (o *nopOps) CallerData(clientID int32) interface{}           { return nil }
