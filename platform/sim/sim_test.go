// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sim

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/usbarmory/GoTEE-spm/mem"
)

func TestATUTranslation(t *testing.T) {
	p, err := New(MPURegions)

	if err != nil {
		t.Fatal(err)
	}

	log := mem.ATUSlotAddress(3)

	if err = p.ATU.Program(3, log, HostStart+0x4000, 0x2000); err != nil {
		t.Fatal(err)
	}

	if err = p.Host.Write(HostStart+0x4010, []byte("host")); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 4)

	if err = p.Memory.Read(log+0x10, buf); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(buf, []byte("host")) {
		t.Errorf("Read() = %q", buf)
	}

	// crossing the window end
	if err = p.Memory.Read(log+0x1ffe, buf); !errors.Is(err, mem.ErrUnmapped) {
		t.Errorf("window overflow err = %v", err)
	}

	if err = p.ATU.Clear(3); err != nil {
		t.Fatal(err)
	}

	if err = p.Memory.Read(log+0x10, buf); !errors.Is(err, mem.ErrUnmapped) {
		t.Errorf("cleared window err = %v", err)
	}
}

func TestATUProgramErrors(t *testing.T) {
	var atu ATU

	tests := []struct {
		slot int
		log  uintptr
		phys uint64
		size uint32
	}{
		{-1, mem.ATULogStart, 0, mem.ATUPageSize},
		{mem.ATUSlots, mem.ATULogStart, 0, mem.ATUPageSize},
		{0, mem.ATULogStart + 1, 0, mem.ATUPageSize},
		{0, mem.ATULogStart, 0x100, mem.ATUPageSize},
		{0, mem.ATULogStart, 0, 0},
		{0, mem.ATULogStart, 0, mem.ATUSlotSize + mem.ATUPageSize},
	}

	for _, tt := range tests {
		if err := atu.Program(tt.slot, tt.log, tt.phys, tt.size); !errors.Is(err, ErrATU) {
			t.Errorf("Program(%d, %#x, %#x, %#x) err = %v", tt.slot, tt.log, tt.phys, tt.size, err)
		}
	}

	if atu.Active() != 0 {
		t.Error("invalid programming left active slots")
	}
}

func TestMailboxPair(t *testing.T) {
	local, host := NewMailboxPair()

	notified := make(chan struct{}, 1)
	local.Notify = func() { notified <- struct{}{} }

	buf := make([]byte, 4)

	if _, err := local.Receive(buf); !errors.Is(err, ErrEmpty) {
		t.Errorf("Receive() on empty mailbox err = %v", err)
	}

	if err := host.Send([]byte("request")); err != nil {
		t.Fatal(err)
	}

	select {
	case <-notified:
	default:
		t.Error("receiver not notified")
	}

	n, err := local.Receive(buf)

	if err != nil {
		t.Fatal(err)
	}

	if n != len("request") || string(buf) != "requ" {
		t.Errorf("Receive() = %d %q", n, buf)
	}

	if err = local.Send([]byte("reply")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, err := host.Wait(ctx)

	if err != nil {
		t.Fatal(err)
	}

	if string(msg) != "reply" {
		t.Errorf("Wait() = %q", msg)
	}
}

func TestCPUControl(t *testing.T) {
	cpu := NewCPU(nil, nil)

	if !cpu.Privileged() || !cpu.NSPrivileged() {
		t.Error("CPU does not reset privileged")
	}

	cpu.SetPrivileged(false)
	cpu.SetNSPrivileged(false)

	if cpu.Privileged() || cpu.NSPrivileged() {
		t.Error("privilege not dropped")
	}

	cpu.SetFPActive()
	cpu.FlushFP()

	if cpu.FPActive() || cpu.FPFlushes != 1 {
		t.Errorf("FlushFP() active:%v flushes:%d", cpu.FPActive(), cpu.FPFlushes)
	}

	// without MPU every secure range is accessible, except wrapping ones
	if !cpu.CheckAddressRange(0x1000, 16, 0) {
		t.Error("range denied without MPU")
	}

	if cpu.CheckAddressRange(^uintptr(0)-2, 16, 0) {
		t.Error("wrapping range allowed")
	}
}
