// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package console

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/usbarmory/GoTEE-spm/boundary"
	"github.com/usbarmory/GoTEE-spm/comms"
	"github.com/usbarmory/GoTEE-spm/mem"
	"github.com/usbarmory/GoTEE-spm/psa"
	"github.com/usbarmory/GoTEE-spm/spm"
)

const (
	maxBufferSize = 0x1000
	callTimeout   = 5 * time.Second
)

// Target is the system inspected by the console commands.
type Target struct {
	SPM       *spm.SPM
	Transport *comms.Transport
	// Client is a host client of the transport, used by `call`.
	Client *comms.Client
	// Memory is the address space displayed by `peek`.
	Memory mem.Space
}

var target Target

// ErrNoTarget is returned by commands whose target is not attached.
var ErrNoTarget = errors.New("not attached")

// Attach sets the system inspected by the console commands.
func Attach(t Target) {
	mux.Lock()
	defer mux.Unlock()

	target = t
}

func attached() Target {
	mux.Lock()
	defer mux.Unlock()

	return target
}

func init() {
	Add(Cmd{
		Name: "partitions",
		Help: "show secure partitions",
		Fn:   partitionsCmd,
	})

	Add(Cmd{
		Name:    "boundary",
		Args:    1,
		Pattern: regexp.MustCompile(`^boundary (\d+|0x[[:xdigit:]]+)$`),
		Syntax:  "<pid>",
		Help:    "show partition isolation boundary",
		Fn:      boundaryCmd,
	})

	Add(Cmd{
		Name: "comms",
		Help: "show mailbox transport status and ATU regions",
		Fn:   commsCmd,
	})

	Add(Cmd{
		Name:    "call",
		Args:    3,
		Pattern: regexp.MustCompile(`^call ([[:xdigit:]]+) ([[:xdigit:]]*) (\d+)$`),
		Syntax:  "<hex sid> <hex input> <output size>",
		Help:    "call stateless service over the mailbox",
		Fn:      callCmd,
	})

	Add(Cmd{
		Name:    "peek",
		Args:    2,
		Pattern: regexp.MustCompile(`^peek ([[:xdigit:]]+) (\d+)$`),
		Syntax:  "<hex address> <size>",
		Help:    "memory display",
		Fn:      peekCmd,
	})
}

func partitionsCmd(_ *term.Terminal, _ []string) (string, error) {
	var buf bytes.Buffer

	s := attached().SPM

	if s == nil {
		return "", ErrNoTarget
	}

	t := tabwriter.NewWriter(&buf, 8, 8, 1, ' ', 0)
	fmt.Fprintf(t, "PID\tname\tprio\tboundary\tsignals\tstate\n")

	for _, p := range s.Partitions() {
		state := "-"

		if p.Thread {
			state = p.State.String()
		}

		fmt.Fprintf(t, "%#x\t%s\t%d\t%s\t%#.8x\t%s\n", p.PID, p.Name, p.Priority, p.Boundary, uint32(p.Signals), state)
	}

	t.Flush()
	fmt.Fprintf(&buf, "connections: %d", s.Connections())

	return buf.String(), nil
}

func boundaryCmd(_ *term.Terminal, arg []string) (string, error) {
	var buf bytes.Buffer

	s := attached().SPM

	if s == nil {
		return "", ErrNoTarget
	}

	pid, err := strconv.ParseInt(arg[0], 0, 32)

	if err != nil {
		return "", fmt.Errorf("invalid pid, %v", err)
	}

	for _, p := range s.Partitions() {
		if p.PID != int32(pid) {
			continue
		}

		h := p.Boundary

		fmt.Fprintf(&buf, "handle:%#.8x privileged:%v ns_agent:%v index:%d\n", uint32(h), h.Privileged(), h.NSAgent(), h.Index())

		for slot := 0; slot < boundary.MaxRegions; slot++ {
			if mmio, rw, ok := h.Region(slot); ok {
				fmt.Fprintf(&buf, "mmio[%d]: %d rw:%v\n", slot, mmio, rw)
			}
		}

		return buf.String(), nil
	}

	return "", fmt.Errorf("unknown partition %#x", pid)
}

func commsCmd(_ *term.Terminal, _ []string) (string, error) {
	var buf bytes.Buffer

	t := attached().Transport

	if t == nil {
		return "", ErrNoTarget
	}

	st := t.Status()

	fmt.Fprintf(&buf, "pending:%d in_use:%d high_water:%d\n", st.Pending, st.InUse, st.HighWater)

	for _, r := range st.Regions {
		fmt.Fprintf(&buf, "ATU%.2d log:%#.8x phys:%#.16x size:%#x refs:%d\n", r.Slot, r.Log, r.Phys, r.Size, r.Refs)
	}

	return buf.String(), nil
}

func callCmd(_ *term.Terminal, arg []string) (string, error) {
	tg := attached()

	if tg.SPM == nil || tg.Client == nil {
		return "", ErrNoTarget
	}

	sid, err := strconv.ParseUint(arg[0], 16, 32)

	if err != nil {
		return "", fmt.Errorf("invalid sid, %v", err)
	}

	in, err := hex.DecodeString(arg[1])

	if err != nil {
		return "", fmt.Errorf("invalid input, %v", err)
	}

	size, err := strconv.ParseUint(arg[2], 10, 16)

	if err != nil || size > comms.EmbedPayloadSize {
		return "", fmt.Errorf("output size must be <= %d", comms.EmbedPayloadSize)
	}

	h, ok := tg.SPM.StatelessHandle(uint32(sid))

	if !ok {
		return "", fmt.Errorf("no stateless service %#x", sid)
	}

	var inVec [][]byte
	var outSize []uint32

	if len(in) > 0 {
		inVec = append(inVec, in)
	}

	if size > 0 {
		outSize = append(outSize, uint32(size))
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	status, out, err := tg.Client.Call(ctx, h, psa.IPCCall, inVec, outSize)

	if err != nil {
		return "", err
	}

	res := fmt.Sprintf("status: %d (%v)", int32(status), status)

	if len(out) > 0 {
		res += "\n" + hex.Dump(out[0])
	}

	return res, nil
}

func peekCmd(_ *term.Terminal, arg []string) (string, error) {
	m := attached().Memory

	if m == nil {
		return "", ErrNoTarget
	}

	addr, err := strconv.ParseUint(arg[0], 16, 64)

	if err != nil {
		return "", fmt.Errorf("invalid address, %v", err)
	}

	size, err := strconv.ParseUint(arg[1], 10, 32)

	if err != nil {
		return "", fmt.Errorf("invalid size, %v", err)
	}

	if size > maxBufferSize {
		return "", fmt.Errorf("size argument must be <= %d", maxBufferSize)
	}

	buf := make([]byte, size)

	if err = m.Read(uintptr(addr), buf); err != nil {
		return "", err
	}

	return hex.Dump(buf), nil
}
