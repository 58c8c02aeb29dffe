// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/usbarmory/GoTEE-spm/mem"
)

// ErrATU is returned on invalid ATU programming.
var ErrATU = errors.New("sim: invalid ATU operation")

// ATUSlot is an address translation slot.
type ATUSlot struct {
	Valid bool
	Log   uintptr
	Phys  uint64
	Size  uint32
}

// ATU is an address translation unit model.
type ATU struct {
	sync.RWMutex

	slots [mem.ATUSlots]ATUSlot
}

// Program implements comms.ATU.
func (atu *ATU) Program(slot int, log uintptr, phys uint64, size uint32) error {
	atu.Lock()
	defer atu.Unlock()

	switch {
	case slot < 0 || slot >= len(atu.slots):
		return fmt.Errorf("slot %d, %w", slot, ErrATU)
	case log%mem.ATUPageSize != 0 || phys%mem.ATUPageSize != 0:
		return fmt.Errorf("unaligned window %#x:%#x, %w", log, phys, ErrATU)
	case size == 0 || size > mem.ATUSlotSize:
		return fmt.Errorf("window size %#x, %w", size, ErrATU)
	}

	atu.slots[slot] = ATUSlot{
		Valid: true,
		Log:   log,
		Phys:  phys,
		Size:  size,
	}

	return nil
}

// Clear implements comms.ATU.
func (atu *ATU) Clear(slot int) error {
	atu.Lock()
	defer atu.Unlock()

	if slot < 0 || slot >= len(atu.slots) {
		return fmt.Errorf("slot %d, %w", slot, ErrATU)
	}

	atu.slots[slot] = ATUSlot{}

	return nil
}

// Slot returns a copy of a translation slot.
func (atu *ATU) Slot(n int) ATUSlot {
	atu.RLock()
	defer atu.RUnlock()

	return atu.slots[n]
}

// Active returns the number of valid translation slots.
func (atu *ATU) Active() (n int) {
	atu.RLock()
	defer atu.RUnlock()

	for _, s := range atu.slots {
		if s.Valid {
			n++
		}
	}

	return
}

// Translate returns the host physical address of a local range, the range
// must fit a single slot.
func (atu *ATU) Translate(addr uintptr, size int) (phys uint64, ok bool) {
	atu.RLock()
	defer atu.RUnlock()

	for _, s := range atu.slots {
		if !s.Valid || addr < s.Log || addr-s.Log >= uintptr(s.Size) {
			continue
		}

		if uint64(addr-s.Log)+uint64(size) > uint64(s.Size) {
			return 0, false
		}

		return s.Phys + uint64(addr-s.Log), true
	}

	return 0, false
}
