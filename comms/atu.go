// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package comms

import (
	"fmt"
	"log"

	"github.com/usbarmory/GoTEE-spm/mem"
)

// ATURegion is an active ATU window on host memory.
type ATURegion struct {
	Slot int
	// Log is the local address of the window.
	Log uintptr
	// Phys is the page aligned host physical address of the window.
	Phys uint64
	Size uint32
	Refs int
}

func (r *ATURegion) covers(host uint64, size uint32) bool {
	return host >= r.Phys && host+uint64(size) <= r.Phys+uint64(r.Size)
}

// ATUManager allocates reference counted ATU windows, windows are shared by
// every request whose host range they cover.
type ATUManager struct {
	atu     ATU
	regions [mem.ATUSlots]ATURegion
	used    [mem.ATUSlots]bool
}

// NewATUManager returns a manager of the translation unit slots.
func NewATUManager(atu ATU) *ATUManager {
	return &ATUManager{atu: atu}
}

// AllocRegion returns the index of a window covering the host range, either
// an existing one, whose reference count is incremented, or a new one.
func (m *ATUManager) AllocRegion(host uint64, size uint32) (idx int, err error) {
	if size == 0 || host+uint64(size) < host {
		return -1, fmt.Errorf("invalid host range %#x:%d, %w", host, size, ErrMalformed)
	}

	for i := range m.regions {
		if m.used[i] && m.regions[i].covers(host, size) {
			m.regions[i].Refs++
			return i, nil
		}
	}

	base := host &^ (mem.ATUPageSize - 1)
	limit := (host + uint64(size) + mem.ATUPageSize - 1) &^ (mem.ATUPageSize - 1)

	if limit-base > mem.ATUSlotSize {
		return -1, fmt.Errorf("host range %#x:%d exceeds window size, %w", host, size, ErrNoATURegion)
	}

	idx = -1

	for i, used := range m.used {
		if !used {
			idx = i
			break
		}
	}

	if idx < 0 {
		return -1, ErrNoATURegion
	}

	r := ATURegion{
		Slot: idx,
		Log:  mem.ATUSlotAddress(idx),
		Phys: base,
		Size: uint32(limit - base),
		Refs: 1,
	}

	if err = m.atu.Program(idx, r.Log, r.Phys, r.Size); err != nil {
		return -1, fmt.Errorf("could not program ATU slot %d, %v", idx, err)
	}

	m.regions[idx] = r
	m.used[idx] = true

	return
}

// FreeRegion releases a window reference, the window is disabled once
// unreferenced.
func (m *ATUManager) FreeRegion(idx int) (err error) {
	if idx < 0 || idx >= len(m.regions) || !m.used[idx] {
		return fmt.Errorf("invalid ATU region %d", idx)
	}

	if m.regions[idx].Refs--; m.regions[idx].Refs > 0 {
		return
	}

	m.regions[idx] = ATURegion{}
	m.used[idx] = false

	return m.atu.Clear(idx)
}

// FreeRegions releases a reference of every window in the set.
func (m *ATUManager) FreeRegions(set uint32) {
	for i := range m.regions {
		if set&(1<<i) == 0 {
			continue
		}

		if err := m.FreeRegion(i); err != nil {
			log.Printf("comms could not free ATU region, %v", err)
		}
	}
}

// HostToLocal returns the local address of a host range and the index of its
// window.
func (m *ATUManager) HostToLocal(host uint64, size uint32) (local uintptr, idx int, err error) {
	for i := range m.regions {
		r := &m.regions[i]

		if m.used[i] && r.covers(host, size) {
			return r.Log + uintptr(host-r.Phys), i, nil
		}
	}

	return 0, -1, fmt.Errorf("host range %#x:%d not mapped, %w", host, size, ErrNoATURegion)
}

// Regions returns the active windows.
func (m *ATUManager) Regions() (regions []ATURegion) {
	for i := range m.regions {
		if m.used[i] {
			regions = append(regions, m.regions[i])
		}
	}

	return
}
