// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package partitions

import (
	"encoding/binary"

	"github.com/usbarmory/GoTEE-spm/load"
	"github.com/usbarmory/GoTEE-spm/psa"
	"github.com/usbarmory/GoTEE-spm/spm"
)

// Counter call types
const (
	CounterIncrement = 1
	CounterRead      = 2
)

// Counter returns an SFN partition exposing a monotonic counter, its value is
// read as a little-endian uint32.
func Counter(initial uint32) spm.PartitionInfo {
	var count uint32

	call := func(ctx *spm.Context, msg *spm.Message) psa.Status {
		switch msg.Type {
		case CounterIncrement:
			if count == ^uint32(0) {
				return psa.ErrBadState
			}

			count++
		case CounterRead:
			if msg.OutSize[0] < 4 {
				return psa.ErrBufferTooSmall
			}

			buf := make([]byte, 4)
			binary.LittleEndian.PutUint32(buf, count)
			ctx.Write(msg.Handle, 0, buf)
		default:
			return psa.ErrNotSupported
		}

		return psa.Success
	}

	return spm.PartitionInfo{
		Load: &load.Partition{
			Name:  "counter",
			PID:   CounterPID,
			Flags: load.PSARoT,
			Services: []load.Service{
				{
					Name:      "counter",
					SID:       CounterSID,
					Signal:    CounterSignal,
					Version:   1,
					NonSecure: true,
					Stateless: true,
				},
			},
		},
		Component: &spm.SFNPartition{
			Services: map[uint32]spm.SFN{CounterSID: call},
			Init: func(ctx *spm.Context) error {
				count = initial
				return nil
			},
		},
	}
}
