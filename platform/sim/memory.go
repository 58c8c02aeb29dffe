// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sim

import (
	"fmt"

	"github.com/usbarmory/GoTEE-spm/mem"
)

// Memory is the local address space, accesses to the ATU logical windows are
// translated to the host address space.
type Memory struct {
	mem.Map

	ATU  *ATU
	Host mem.Space
}

func (m *Memory) translate(addr uintptr, size int) (phys uintptr, remote bool, err error) {
	if addr < mem.ATULogStart || addr >= mem.ATULogStart+mem.ATULogSize {
		return addr, false, nil
	}

	if m.ATU == nil || m.Host == nil {
		return 0, true, fmt.Errorf("%#x, %w", addr, mem.ErrUnmapped)
	}

	p, ok := m.ATU.Translate(addr, size)

	if !ok {
		return 0, true, fmt.Errorf("%#x not translated, %w", addr, mem.ErrUnmapped)
	}

	return uintptr(p), true, nil
}

// Read implements mem.Space.
func (m *Memory) Read(addr uintptr, buf []byte) error {
	phys, remote, err := m.translate(addr, len(buf))

	if err != nil {
		return err
	}

	if remote {
		return m.Host.Read(phys, buf)
	}

	return m.Map.Read(addr, buf)
}

// Write implements mem.Space.
func (m *Memory) Write(addr uintptr, buf []byte) error {
	phys, remote, err := m.translate(addr, len(buf))

	if err != nil {
		return err
	}

	if remote {
		return m.Host.Write(phys, buf)
	}

	return m.Map.Write(addr, buf)
}
