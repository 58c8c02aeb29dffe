// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package comms

import (
	"errors"
)

var (
	// ErrUnsupported is returned for unknown protocol versions or vector
	// counts.
	ErrUnsupported = errors.New("comms: unsupported request")
	// ErrMalformed is returned for messages which cannot be decoded.
	ErrMalformed = errors.New("comms: malformed message")
	// ErrPoolExhausted is returned when no request can be allocated.
	ErrPoolExhausted = errors.New("comms: request pool exhausted")
	// ErrQueueFull is returned when the request queue is full.
	ErrQueueFull = errors.New("comms: request queue full")
	// ErrQueueEmpty is returned when the request queue is empty.
	ErrQueueEmpty = errors.New("comms: request queue empty")
	// ErrNoATURegion is returned when no ATU region can map a host range.
	ErrNoATURegion = errors.New("comms: no ATU region available")
	// ErrNotPermitted is returned when a request is denied by the
	// permission policy.
	ErrNotPermitted = errors.New("comms: not permitted")
)
