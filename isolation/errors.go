// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package isolation

import (
	"errors"
)

var (
	// ErrGeneric signals a policy or configuration violation.
	ErrGeneric = errors.New("isolation: generic error")
	// ErrInvalidInput signals invalid arguments.
	ErrInvalidInput = errors.New("isolation: invalid input")
	// ErrMemFault signals a failed address range check.
	ErrMemFault = errors.New("isolation: memory fault")
	// ErrNotInit signals the use of an uninitialized HAL.
	ErrNotInit = errors.New("isolation: not initialized")
)

// StatusCode is the numeric HAL status as reported to the SPM console and
// logs.
type StatusCode int

const (
	Success StatusCode = iota
	ErrorGeneric
	ErrorInvalidInput
	ErrorMemFault
	ErrorNotInit
)

// Code returns the status code of a HAL error.
func Code(err error) StatusCode {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrInvalidInput):
		return ErrorInvalidInput
	case errors.Is(err, ErrMemFault):
		return ErrorMemFault
	case errors.Is(err, ErrNotInit):
		return ErrorNotInit
	default:
		return ErrorGeneric
	}
}
