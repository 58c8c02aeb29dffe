// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package psa defines the PSA Firmware Framework client-call types shared by
// the Secure Partition Manager and its transports.
package psa

import (
	"fmt"
)

// FrameworkVersion is the PSA Firmware Framework version implemented by the
// SPM (1.1).
const FrameworkVersion = 0x0101

// MaxIOVec is the maximum number of input plus output vectors in a single
// call.
const MaxIOVec = 4

// Message types, non-negative values are service specific call types.
const (
	IPCCall       = 0
	IPCConnect    = -1
	IPCDisconnect = -2
)

// UndefinedVersion is returned by Version for unknown or inaccessible
// services.
const UndefinedVersion = 0

// Signals reserved by the framework, bits 0 to 3 are never assigned to
// services.
const (
	AsyncMsgReply Signal = 1 << 2
	Doorbell      Signal = 1 << 3

	WaitAny Signal = 0xffffffff
)

// Signal is a partition signal mask.
type Signal uint32

// Status is a PSA status code, negative values are errors.
type Status int32

const (
	Success Status = 0

	// StatusNeedSchedule is an SPM internal status returned to
	// asynchronous callers whose reply is delivered later.
	StatusNeedSchedule Status = 1

	ErrProgrammerError   Status = -129
	ErrConnectionRefused Status = -130
	ErrConnectionBusy    Status = -131
	ErrGenericError      Status = -132
	ErrNotPermitted      Status = -133
	ErrNotSupported      Status = -134
	ErrInvalidArgument   Status = -135
	ErrInvalidHandle     Status = -136
	ErrBadState          Status = -137
	ErrBufferTooSmall    Status = -138
)

var statusNames = map[Status]string{
	Success:              "success",
	StatusNeedSchedule:   "need schedule",
	ErrProgrammerError:   "programmer error",
	ErrConnectionRefused: "connection refused",
	ErrConnectionBusy:    "connection busy",
	ErrGenericError:      "generic error",
	ErrNotPermitted:      "not permitted",
	ErrNotSupported:      "not supported",
	ErrInvalidArgument:   "invalid argument",
	ErrInvalidHandle:     "invalid handle",
	ErrBadState:          "bad state",
	ErrBufferTooSmall:    "buffer too small",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}

	return fmt.Sprintf("status %d", int32(s))
}

// Error implements the error interface, it is meaningful only for negative
// values (see Err).
func (s Status) Error() string {
	return "psa: " + s.String()
}

// Err returns the status as an error, nil for non-negative values.
func (s Status) Err() error {
	if s >= 0 {
		return nil
	}

	return s
}

// StatusOf converts an error into a PSA status, errors which are not a Status
// map to ErrGenericError.
func StatusOf(err error) Status {
	if err == nil {
		return Success
	}

	if s, ok := err.(Status); ok {
		return s
	}

	return ErrGenericError
}

// IOVec describes a client buffer in the caller address space.
type IOVec struct {
	Base uintptr
	Len  uint32
}
