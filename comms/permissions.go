// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package comms

import (
	"fmt"

	"github.com/usbarmory/GoTEE-spm/psa"
)

// Permissions is the access policy of host requests.
type Permissions interface {
	// CheckService validates the target and type of a request.
	CheckService(h psa.Handle, typ int16) error
	// CheckHostPointer validates a host memory range referenced by a
	// request.
	CheckHostPointer(host uint64, size uint32, writable bool) error
}

// HostRange is a host memory range accessible by requests.
type HostRange struct {
	Start    uint64
	Size     uint64
	Writable bool
}

// Policy is a static permission policy.
type Policy struct {
	// Services maps permitted handles to their permitted call types, a nil
	// slice permits every type. A nil map permits every service.
	Services map[psa.Handle][]int16
	// Host lists the accessible host memory, a nil slice permits any
	// range.
	Host []HostRange
}

// CheckService implements Permissions.
func (p *Policy) CheckService(h psa.Handle, typ int16) error {
	if p.Services == nil {
		return nil
	}

	types, ok := p.Services[h]

	if !ok {
		return fmt.Errorf("handle %#x, %w", h, ErrNotPermitted)
	}

	if types == nil {
		return nil
	}

	for _, t := range types {
		if t == typ {
			return nil
		}
	}

	return fmt.Errorf("handle %#x type %d, %w", h, typ, ErrNotPermitted)
}

// CheckHostPointer implements Permissions.
func (p *Policy) CheckHostPointer(host uint64, size uint32, writable bool) error {
	if p.Host == nil {
		return nil
	}

	end := host + uint64(size)

	for _, r := range p.Host {
		if host >= r.Start && end <= r.Start+r.Size && (r.Writable || !writable) {
			return nil
		}
	}

	return fmt.Errorf("host range %#x:%d, %w", host, size, ErrNotPermitted)
}
