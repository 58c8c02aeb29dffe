// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package main

import (
	"encoding/binary"
	"log"
	"os"
	"runtime"
	_ "unsafe"

	"github.com/usbarmory/tamago/soc/nxp/imx6ul"

	"github.com/usbarmory/GoTEE-spm/mem"
	"github.com/usbarmory/GoTEE-spm/partitions"
	"github.com/usbarmory/GoTEE-spm/psa"
)

//go:linkname ramStart runtime.ramStart
var ramStart uint32 = mem.NonSecureStart

//go:linkname ramSize runtime.ramSize
var ramSize uint32 = mem.NonSecureSize - mem.NSAgentDataSize

//go:linkname hwinit runtime.hwinit
func hwinit() {
	imx6ul.Init()
}

//go:linkname printk runtime.printk
func printk(c byte) {
	printSecure(c)
}

func init() {
	log.SetFlags(log.Ltime)
	log.SetOutput(os.Stdout)

	imx6ul.SetARMFreq(900)
}

func testEcho() {
	v := version(partitions.EchoSID)
	log.Printf("client echo service version %d", v)

	h, status := connect(partitions.EchoSID, v)

	if status != psa.Success {
		log.Printf("client could not connect to echo service, %v", status)
		return
	}

	defer closeHandle(h)

	out := [][]byte{make([]byte, 16)}
	status = call(h, psa.IPCCall, [][]byte{[]byte("hello "), []byte("world")}, out)

	log.Printf("client echo status:%d output:%q", status, out[0])
}

func testCounter() {
	var status psa.Status

	h := psa.StatelessHandle(partitions.CounterIndex, 1)

	for i := 0; i < 3; i++ {
		call(h, partitions.CounterIncrement, nil, nil)
	}

	out := [][]byte{make([]byte, 4)}

	if status = call(h, partitions.CounterRead, nil, out); status != psa.Success {
		log.Printf("client could not read counter, %v", status)
		return
	}

	log.Printf("client counter value %d", binary.LittleEndian.Uint32(out[0]))
}

func main() {
	log.Printf("%s/%s (%s) • Non-secure World PSA client", runtime.GOOS, runtime.GOARCH, runtime.Version())
	log.Printf("client PSA framework version %#x", frameworkVersion())

	testEcho()
	testCounter()

	// yield back to secure monitor
	log.Printf("client is about to yield back")
	exit()

	// this should be unreachable
	log.Printf("client says goodbye")
}
