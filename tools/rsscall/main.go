// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// The rsscall command issues a PSA client call to the mailbox transport of
// the Secure Partition Manager over a serial device.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/mattn/go-tty"

	"github.com/usbarmory/GoTEE-spm/comms"
	"github.com/usbarmory/GoTEE-spm/partitions"
	"github.com/usbarmory/GoTEE-spm/psa"
)

var (
	device   = flag.String("s", "", "serial device")
	handle   = flag.String("h", "", "hex service handle (default: stateless echo)")
	callType = flag.Int("t", psa.IPCCall, "call type")
	input    = flag.String("i", "", "hex input vector")
	outSize  = flag.Uint("o", 0, "output vector size")
	clientID = flag.Uint("c", 1, "host client id")
	timeout  = flag.Duration("w", 5*time.Second, "reply timeout")
)

func init() {
	log.SetFlags(0)
	log.SetOutput(os.Stderr)
}

func call(link comms.Link) (err error) {
	h := psa.StatelessHandle(partitions.EchoStatelessIndex, 1)

	if *handle != "" {
		v, err := strconv.ParseUint(*handle, 16, 31)

		if err != nil {
			return fmt.Errorf("invalid handle, %v", err)
		}

		h = psa.Handle(v)
	}

	var in [][]byte
	var out []uint32

	if *input != "" {
		buf, err := hex.DecodeString(*input)

		if err != nil {
			return fmt.Errorf("invalid input, %v", err)
		}

		in = append(in, buf)
	}

	if *outSize > 0 {
		out = append(out, uint32(*outSize))
	}

	c := &comms.Client{
		Link:     link,
		ClientID: uint16(*clientID),
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	status, res, err := c.Call(ctx, h, int16(*callType), in, out)

	if err != nil {
		return
	}

	fmt.Printf("status: %d (%v)\n", int32(status), status)

	for i, v := range res {
		fmt.Printf("out[%d]:\n%s", i, hex.Dump(v))
	}

	return
}

func main() {
	flag.Parse()

	if *device == "" {
		flag.Usage()
		os.Exit(2)
	}

	t, err := tty.OpenDevice(*device)

	if err != nil {
		log.Fatalf("rsscall could not open %s, %v", *device, err)
	}

	defer t.Close()

	restore := t.MustRaw()
	defer restore()

	if err = call(comms.NewStreamLink(t.Input(), t.Output())); err != nil {
		restore()
		log.Fatalf("rsscall %v", err)
	}
}
