// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

// Package cmd registers the USB armory specific console commands.
package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"golang.org/x/term"

	"github.com/usbarmory/tamago/bits"
	"github.com/usbarmory/tamago/soc/nxp/csu"
	"github.com/usbarmory/tamago/soc/nxp/imx6ul"

	"github.com/usbarmory/GoTEE-spm/console"
	"github.com/usbarmory/GoTEE-spm/trusted_os_usbarmory/internal"
)

var errEmulated = errors.New("unsupported under emulation")

func init() {
	console.Add(console.Cmd{
		Name: "csl",
		Help: "show config security levels (CSL), * marks partition peripherals",
		Fn:   cslCmd,
	})

	console.Add(console.Cmd{
		Name:    "csl ",
		Args:    3,
		Pattern: regexp.MustCompile(`^csl (\d+) (\d+) ([[:xdigit:]]+)$`),
		Syntax:  "<periph> <slave> <hex csl>",
		Help:    "set config security level (CSL)",
		Fn:      cslCmd,
	})

	console.Add(console.Cmd{
		Name: "sa",
		Help: "show security access (SA)",
		Fn:   saCmd,
	})

	console.Add(console.Cmd{
		Name: "dbg",
		Help: "show ARM debug permissions",
		Fn:   dbgCmd,
	})
}

func cslCmd(_ *term.Terminal, arg []string) (res string, err error) {
	if len(arg) == 0 {
		var buf bytes.Buffer

		for i := csu.CSL_MIN; i <= csu.CSL_MAX; i++ {
			fmt.Fprintf(&buf, "CSL%.2d", i)

			for slave := 0; slave < 2; slave++ {
				mark := " "

				if gotee.PPC.Secure(i, slave) {
					mark = "*"
				}

				csl, _, _ := imx6ul.CSU.GetSecurityLevel(i, slave)
				fmt.Fprintf(&buf, " %d:%#.2x%s", slave, csl, mark)
			}

			buf.WriteByte('\n')
		}

		return buf.String(), nil
	}

	if !imx6ul.Native {
		return "", errEmulated
	}

	periph, err := strconv.ParseUint(arg[0], 10, 8)

	if err != nil {
		return "", fmt.Errorf("invalid peripheral index, %v", err)
	}

	slave, err := strconv.ParseUint(arg[1], 10, 1)

	if err != nil {
		return "", fmt.Errorf("invalid slave index, %v", err)
	}

	if gotee.PPC.Secure(int(periph), int(slave)) {
		return "", errors.New("peripheral assigned to a secure partition")
	}

	csl, err := strconv.ParseUint(arg[2], 16, 8)

	if err != nil {
		return "", fmt.Errorf("invalid csl, %v", err)
	}

	err = imx6ul.CSU.SetSecurityLevel(int(periph), int(slave), uint8(csl), false)

	return
}

func saCmd(_ *term.Terminal, _ []string) (string, error) {
	var buf bytes.Buffer

	for i := csu.SA_MIN; i <= csu.SA_MAX; i++ {
		if sa, _, _ := imx6ul.CSU.GetAccess(i); sa {
			fmt.Fprintf(&buf, "SA%.2d: secure\n", i)
		} else {
			fmt.Fprintf(&buf, "SA%.2d: nonsecure\n", i)
		}
	}

	return buf.String(), nil
}

func dbgCmd(_ *term.Terminal, _ []string) (string, error) {
	var buf bytes.Buffer

	if !imx6ul.Native {
		return "", errEmulated
	}

	status := imx6ul.ARM.DebugStatus()

	buf.WriteString("| type                    | implemented | enabled |\n")
	buf.WriteString("|-------------------------|-------------|---------|\n")

	for i, name := range []string{"Secure non-invasive", "Secure invasive", "Non-secure non-invasive", "Non-secure invasive"} {
		pos := 6 - i*2
		fmt.Fprintf(&buf, "| %-23s |           %d |       %d |\n", name, bits.Get(&status, pos+1, 1), bits.Get(&status, pos, 1))
	}

	return buf.String(), nil
}
