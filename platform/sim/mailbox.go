// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sim

import (
	"context"
	"errors"
	"sync"
)

// MailboxDepth is the number of messages a mailbox endpoint can hold.
const MailboxDepth = 16

var (
	// ErrEmpty is returned when receiving without pending messages.
	ErrEmpty = errors.New("sim: no pending message")
	// ErrFull is returned when sending to a full endpoint.
	ErrFull = errors.New("sim: mailbox full")
)

// Mailbox is one endpoint of a message handling unit pair.
type Mailbox struct {
	irq  sync.Mutex
	in   chan []byte
	peer *Mailbox

	// Notify is invoked whenever a message is received.
	Notify func()
}

// NewMailboxPair returns two connected mailbox endpoints, conventionally the
// first one belongs to the secure processor and the second to the host.
func NewMailboxPair() (local *Mailbox, host *Mailbox) {
	local = &Mailbox{in: make(chan []byte, MailboxDepth)}
	host = &Mailbox{in: make(chan []byte, MailboxDepth)}

	local.peer = host
	host.peer = local

	return
}

// Send implements comms.Mailbox.
func (mb *Mailbox) Send(msg []byte) error {
	buf := make([]byte, len(msg))
	copy(buf, msg)

	select {
	case mb.peer.in <- buf:
	default:
		return ErrFull
	}

	if fn := mb.peer.Notify; fn != nil {
		fn()
	}

	return nil
}

// Receive implements comms.Mailbox.
func (mb *Mailbox) Receive(buf []byte) (n int, err error) {
	select {
	case msg := <-mb.in:
		copy(buf, msg)
		return len(msg), nil
	default:
		return 0, ErrEmpty
	}
}

// Wait blocks until a message is received.
func (mb *Mailbox) Wait(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-mb.in:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DisableIRQ implements comms.Mailbox.
func (mb *Mailbox) DisableIRQ() {
	mb.irq.Lock()
}

// EnableIRQ implements comms.Mailbox.
func (mb *Mailbox) EnableIRQ() {
	mb.irq.Unlock()
}
