// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mem

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnmapped is returned when accessing an address not backed by memory.
var ErrUnmapped = errors.New("address not mapped")

// Space is an address space accessor, addresses are local physical
// addresses as seen by the secure processor.
type Space interface {
	Read(addr uintptr, buf []byte) error
	Write(addr uintptr, buf []byte) error
}

// Region is an address range backed by a byte buffer.
type Region struct {
	Name  string
	Start uintptr
	Data  []byte
}

// End returns the first address past the region.
func (r *Region) End() uintptr {
	return r.Start + uintptr(len(r.Data))
}

func (r *Region) contains(addr uintptr, size int) bool {
	return addr >= r.Start && addr+uintptr(size) <= r.End() && addr+uintptr(size) >= addr
}

// Map is a sparse address space made of byte backed regions, it is used when
// running off target.
type Map struct {
	sync.RWMutex
	regions []*Region
}

// Add allocates a zeroed region.
func (m *Map) Add(name string, start uintptr, size int) (*Region, error) {
	m.Lock()
	defer m.Unlock()

	r := &Region{
		Name:  name,
		Start: start,
		Data:  make([]byte, size),
	}

	for _, o := range m.regions {
		if r.Start < o.End() && o.Start < r.End() {
			return nil, fmt.Errorf("region %s overlaps %s", name, o.Name)
		}
	}

	m.regions = append(m.regions, r)

	sort.Slice(m.regions, func(i, j int) bool {
		return m.regions[i].Start < m.regions[j].Start
	})

	return r, nil
}

// Lookup returns the region containing the given range.
func (m *Map) Lookup(addr uintptr, size int) (*Region, error) {
	m.RLock()
	defer m.RUnlock()

	i := sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].End() > addr
	})

	if i < len(m.regions) && m.regions[i].contains(addr, size) {
		return m.regions[i], nil
	}

	return nil, fmt.Errorf("%w: %#x-%#x", ErrUnmapped, addr, addr+uintptr(size))
}

// Read implements Space.
func (m *Map) Read(addr uintptr, buf []byte) error {
	r, err := m.Lookup(addr, len(buf))

	if err != nil {
		return err
	}

	copy(buf, r.Data[addr-r.Start:])

	return nil
}

// Write implements Space.
func (m *Map) Write(addr uintptr, buf []byte) error {
	r, err := m.Lookup(addr, len(buf))

	if err != nil {
		return err
	}

	copy(r.Data[addr-r.Start:], buf)

	return nil
}
