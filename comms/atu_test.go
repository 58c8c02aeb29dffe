// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package comms

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/usbarmory/GoTEE-spm/mem"
	"github.com/usbarmory/GoTEE-spm/platform/sim"
	"github.com/usbarmory/GoTEE-spm/psa"
)

func TestATUShared(t *testing.T) {
	atu := &sim.ATU{}
	m := NewATUManager(atu)

	a, err := m.AllocRegion(0x40001010, 0x10)

	if err != nil {
		t.Fatal(err)
	}

	b, err := m.AllocRegion(0x40001100, 0x100)

	if err != nil {
		t.Fatal(err)
	}

	if a != b {
		t.Fatalf("covered range got region %d, want %d", b, a)
	}

	want := []ATURegion{
		{Slot: a, Log: mem.ATUSlotAddress(a), Phys: 0x40000000, Size: mem.ATUPageSize, Refs: 2},
	}

	if diff := cmp.Diff(want, m.Regions()); diff != "" {
		t.Errorf("regions mismatch (-want +got):\n%s", diff)
	}

	local, idx, err := m.HostToLocal(0x40001100, 0x100)

	if err != nil || idx != a || local != mem.ATUSlotAddress(a)+0x1100 {
		t.Errorf("HostToLocal() = %#x, %d, %v", local, idx, err)
	}

	if err = m.FreeRegion(a); err != nil {
		t.Fatal(err)
	}

	if !atu.Slot(a).Valid {
		t.Fatal("referenced region disabled")
	}

	if err = m.FreeRegion(a); err != nil {
		t.Fatal(err)
	}

	if atu.Slot(a).Valid || len(m.Regions()) != 0 {
		t.Fatal("unreferenced region still enabled")
	}

	if err = m.FreeRegion(a); err == nil {
		t.Error("free of disabled region succeeded")
	}
}

func TestATUWindow(t *testing.T) {
	atu := &sim.ATU{}
	m := NewATUManager(atu)

	// spans two pages
	idx, err := m.AllocRegion(0x40001ff0, 0x20)

	if err != nil {
		t.Fatal(err)
	}

	slot := atu.Slot(idx)

	if slot.Phys != 0x40000000 || slot.Size != 2*mem.ATUPageSize {
		t.Errorf("window %#x:%#x", slot.Phys, slot.Size)
	}

	if _, err = m.AllocRegion(0x50000000, mem.ATUSlotSize+1); !errors.Is(err, ErrNoATURegion) {
		t.Errorf("oversized range err = %v", err)
	}

	if _, _, err = m.HostToLocal(0x50000000, 4); !errors.Is(err, ErrNoATURegion) {
		t.Errorf("unmapped range err = %v", err)
	}
}

func TestATUExhausted(t *testing.T) {
	atu := &sim.ATU{}
	m := NewATUManager(atu)

	var set uint32

	for i := 0; i < mem.ATUSlots; i++ {
		idx, err := m.AllocRegion(uint64(0x40000000+i*mem.ATUSlotSize), 4)

		if err != nil {
			t.Fatal(err)
		}

		set |= 1 << idx
	}

	if _, err := m.AllocRegion(0x80000000, 4); !errors.Is(err, ErrNoATURegion) {
		t.Errorf("AllocRegion() on exhausted ATU err = %v", err)
	}

	m.FreeRegions(set)

	if atu.Active() != 0 {
		t.Errorf("%d slots still active", atu.Active())
	}
}

func TestPolicy(t *testing.T) {
	p := &Policy{
		Services: map[psa.Handle][]int16{
			0x40000100: nil,
			0x40000101: {1, 2},
		},
		Host: []HostRange{
			{Start: 0x1000, Size: 0x1000},
			{Start: 0x4000, Size: 0x1000, Writable: true},
		},
	}

	for _, tc := range []struct {
		h   psa.Handle
		typ int16
		ok  bool
	}{
		{0x40000100, 7, true},
		{0x40000101, 2, true},
		{0x40000101, 3, false},
		{0x40000102, 0, false},
	} {
		if err := p.CheckService(tc.h, tc.typ); (err == nil) != tc.ok {
			t.Errorf("CheckService(%#x, %d) = %v", tc.h, tc.typ, err)
		}
	}

	for _, tc := range []struct {
		host     uint64
		size     uint32
		writable bool
		ok       bool
	}{
		{0x1000, 0x1000, false, true},
		{0x1000, 0x1001, false, false},
		{0x1800, 0x10, true, false},
		{0x4800, 0x10, true, true},
		{0x8000, 0x10, false, false},
	} {
		if err := p.CheckHostPointer(tc.host, tc.size, tc.writable); (err == nil) != tc.ok {
			t.Errorf("CheckHostPointer(%#x, %d, %v) = %v", tc.host, tc.size, tc.writable, err)
		}
	}

	if err := (&Policy{}).CheckService(0x1234, 0); err != nil {
		t.Errorf("empty policy denied service, %v", err)
	}
}
