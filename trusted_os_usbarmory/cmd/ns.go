// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package cmd

import (
	"errors"

	"golang.org/x/term"

	"github.com/usbarmory/GoTEE-spm/console"
	"github.com/usbarmory/GoTEE-spm/trusted_os_usbarmory/internal"
)

func init() {
	console.Add(console.Cmd{
		Name: "ns",
		Help: "show Non-secure World execution context",
		Fn:   nsCmd,
	})
}

func nsCmd(_ *term.Terminal, _ []string) (string, error) {
	ctx := gotee.Context()

	if ctx == nil {
		return "", errors.New("Non-secure World not running")
	}

	return ctx.String(), nil
}
