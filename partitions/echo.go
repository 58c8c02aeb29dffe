// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package partitions

import (
	"github.com/usbarmory/GoTEE-spm/load"
	"github.com/usbarmory/GoTEE-spm/psa"
	"github.com/usbarmory/GoTEE-spm/spm"
)

// EchoBufferSize is the largest echoed request.
const EchoBufferSize = 0x800

// Echo returns an IPC partition whose services copy the input vectors of each
// call to its output vectors, truncating to the output sizes. The call status
// is the number of written bytes.
func Echo() spm.PartitionInfo {
	return spm.PartitionInfo{
		Load: &load.Partition{
			Name:     "echo",
			PID:      EchoPID,
			Flags:    load.IPC,
			Priority: load.PriorityNormal,
			Services: []load.Service{
				{
					Name:      "echo",
					SID:       EchoSID,
					Signal:    EchoSignal,
					Version:   1,
					Policy:    load.Relaxed,
					NonSecure: true,
				},
				{
					Name:      "echo_stateless",
					SID:       EchoStatelessSID,
					Signal:    EchoStatelessSignal,
					Version:   1,
					NonSecure: true,
					Stateless: true,
				},
			},
		},
		Component: &spm.IPCPartition{Entry: echo},
	}
}

func echo(ctx *spm.Context) {
	buf := make([]byte, EchoBufferSize)

	for {
		sig := ctx.Wait(EchoSignal|EchoStatelessSignal, true)

		for _, s := range []psa.Signal{EchoSignal, EchoStatelessSignal} {
			if sig&s == 0 {
				continue
			}

			msg := ctx.Get(s)

			if msg.Type < psa.IPCCall {
				ctx.Reply(msg.Handle, psa.Success)
				continue
			}

			ctx.Reply(msg.Handle, psa.Status(echoCall(ctx, &msg, buf)))
		}
	}
}

func echoCall(ctx *spm.Context, msg *spm.Message, buf []byte) (written uint32) {
	var data []byte

	for i := 0; i < psa.MaxIOVec; i++ {
		if msg.InSize[i] == 0 {
			continue
		}

		n := ctx.Read(msg.Handle, i, buf[len(data):])
		data = buf[:len(data)+int(n)]
	}

	for i := 0; i < psa.MaxIOVec && len(data) > 0; i++ {
		n := msg.OutSize[i]

		if n == 0 {
			continue
		}

		if n > uint32(len(data)) {
			n = uint32(len(data))
		}

		ctx.Write(msg.Handle, i, data[:n])
		data = data[n:]
		written += n
	}

	return
}
