// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package gotee

import (
	"errors"
	"fmt"
	"log"

	"github.com/usbarmory/tamago/arm"

	"github.com/usbarmory/GoTEE/monitor"
	"github.com/usbarmory/GoTEE/syscall"

	"github.com/usbarmory/GoTEE-spm/psa"
	"github.com/usbarmory/GoTEE-spm/spm"
	"github.com/usbarmory/GoTEE-spm/util"
)

// agent serves the secure monitor calls of the Non-secure World from the
// TrustZone agent thread.
type agent struct {
	ctx *spm.Context
}

func (a *agent) handler(ctx *monitor.ExecCtx) (err error) {
	if ctx.ExceptionVector == arm.DATA_ABORT && ctx.NonSecure() {
		log.Printf("SPM trapped Non-secure data abort pc:%#.8x", ctx.R15-8)

		log.Print(ctx)
		ctx.Stop()

		return
	}

	if ctx.ExceptionVector != arm.SUPERVISOR {
		return fmt.Errorf("exception %x", ctx.ExceptionVector)
	}

	switch fn := ctx.A0(); fn {
	case syscall.SYS_WRITE:
		// Override write syscall to avoid interleaved logs and to log
		// simultaneously to remote terminal and serial console.
		if Console != nil && Console.Term != nil {
			util.BufferedTermLog(byte(ctx.A1()), false, Console.Term)
		} else {
			util.BufferedStdoutLog(byte(ctx.A1()), false)
		}
	case syscall.SYS_EXIT:
		ctx.Stop()
	case psa.SMCFrameworkVersion, psa.SMCVersion, psa.SMCConnect, psa.SMCCall, psa.SMCClose:
		ctx.R0 = uint32(a.call(uint(fn), uint32(ctx.A1()), uint32(ctx.A2()), ctx.R3))
	default:
		log.Print(ctx)
		return errors.New("unexpected monitor call")
	}

	return
}

// call dispatches a PSA client call, the Non-secure World OS is blocked
// until the call completes.
func (a *agent) call(fn uint, r1 uint32, r2 uint32, r3 uint32) int32 {
	switch fn {
	case psa.SMCFrameworkVersion:
		return int32(a.ctx.FrameworkVersion())
	case psa.SMCVersion:
		return int32(a.ctx.Version(r1))
	case psa.SMCConnect:
		h, status := a.ctx.AgentConnect(r1, r2, NSClientID, nil)

		if status != psa.Success {
			return int32(status)
		}

		return int32(h)
	case psa.SMCClose:
		return int32(a.ctx.AgentClose(psa.Handle(r1), NSClientID))
	}

	var v psa.SMCVectors

	buf := make([]byte, psa.SMCVectorsSize)

	if err := a.ctx.Load(uintptr(r3), buf); err != nil {
		log.Printf("SPM could not read Non-secure vectors, %v", err)
		return int32(psa.ErrProgrammerError)
	}

	if err := v.Unmarshal(buf); err != nil {
		return int32(psa.ErrProgrammerError)
	}

	_, inLen, outLen := psa.UnpackParams(r2)
	in, out := v.Vectors(inLen, outLen)

	params := &spm.ClientParams{
		ClientID: NSClientID,
		In:       in,
		Out:      out,
	}

	status := a.ctx.AgentCall(psa.Handle(r1), r2, params, nil)

	for i, vec := range params.Out {
		v.Out[i].Len = vec.Len
	}

	if err := a.ctx.Store(uintptr(r3), v.Bytes()); err != nil {
		log.Printf("SPM could not update Non-secure vectors, %v", err)
	}

	return int32(status)
}
