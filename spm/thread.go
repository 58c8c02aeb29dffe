// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package spm

import (
	"fmt"
	"runtime"
	"sort"

	"github.com/usbarmory/GoTEE-spm/boundary"
	"github.com/usbarmory/GoTEE-spm/psa"
)

// State is a thread state.
type State int

const (
	Ready State = iota
	Running
	Blocked
	Exited
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Exited:
		return "exited"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// idlePriority is lower than any partition priority.
const idlePriority = 0x100

// Thread is a partition thread, threads run one at a time: only the holder
// of the run token executes and the token is passed only by schedule.
type Thread struct {
	// owner partition, nil for the idle thread
	p *Partition
	// partition whose boundary is active, differs from the owner while
	// running a service function
	active *Partition

	state    State
	priority int

	resume chan struct{}

	// value returned by a resolved blocking wait
	ret          uint32
	retAvailable bool

	// stack pointer and bounds
	sp         uintptr
	stackLimit uintptr
	stackTop   uintptr
}

func newThread(p *Partition, priority int) *Thread {
	return &Thread{
		p:        p,
		active:   p,
		priority: priority,
		resume:   make(chan struct{}, 1),
	}
}

func (t *Thread) name() string {
	if t.p == nil {
		return "idle"
	}

	return t.p.Load.Name
}

func (t *Thread) boundary(s *SPM) boundary.Handle {
	if t.active == nil {
		return s.boundary
	}

	return t.active.Boundary
}

func (s *SPM) sortThreads() {
	sort.SliceStable(s.threads, func(i, j int) bool {
		return s.threads[i].priority < s.threads[j].priority
	})
}

// pick returns the highest priority runnable thread, cs must be held.
func (s *SPM) pick() *Thread {
	for _, t := range s.threads {
		if t.state == Ready || t.state == Running {
			return t
		}
	}

	return nil
}

// Interrupt queues an event handler, handlers are invoked by the thread
// holding the run token at its next scheduling point, or by the idle thread.
func (s *SPM) Interrupt(fn func()) {
	s.irqMutex.Lock()
	s.irqs = append(s.irqs, fn)
	s.irqMutex.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *SPM) deliver() {
	for {
		s.irqMutex.Lock()
		irqs := s.irqs
		s.irqs = nil
		s.irqMutex.Unlock()

		if len(irqs) == 0 {
			return
		}

		for _, fn := range irqs {
			fn()
		}
	}
}

func (s *SPM) checkHalted() {
	select {
	case <-s.halted:
		runtime.Goexit()
	default:
	}
}

// switchBoundary updates the isolation state between two partitions, cs must
// be held.
func (s *SPM) switchBoundary(from, to *Partition) {
	if from == to {
		return
	}

	fb, tb := s.boundary, s.boundary

	if from != nil {
		fb = from.Boundary
	}

	if to != nil {
		tb = to.Boundary
	}

	if s.hal.NeedSwitch(fb, tb) {
		var p = s.spmLoad

		if to != nil {
			p = to.Load
		}

		if err := s.hal.ActivateBoundary(p, tb); err != nil {
			s.cs.Unlock()
			s.fatal(fmt.Sprintf("could not activate boundary %s, %v", tb, err))
		}
	}

	s.cpu.FlushFP()

	if to != nil {
		s.local = &to.Local
	} else {
		s.local = &s.spmLocal
	}
}

// schedule is invoked by the run token holder t, it delivers pending
// interrupts and passes the token to the highest priority runnable thread.
// The call returns once t holds the token again.
func (s *SPM) schedule(t *Thread) {
	s.checkHalted()
	s.deliver()

	s.cs.Lock()

	next := s.pick()

	if next == t {
		t.state = Running
		s.cs.Unlock()
		return
	}

	if next == nil {
		s.cs.Unlock()
		s.fatal("no runnable thread")
	}

	if next.stackLimit != 0 && next.sp < next.stackLimit {
		s.cs.Unlock()
		s.fatal(fmt.Sprintf("stack overflow in %s", next.name()))
	}

	s.switchBoundary(t.active, next.active)

	if t.state == Running {
		t.state = Ready
	}

	next.state = Running
	s.current = next
	exited := t.state == Exited

	s.cs.Unlock()

	next.resume <- struct{}{}

	if exited {
		return
	}

	select {
	case <-t.resume:
	case <-s.halted:
		runtime.Goexit()
	}
}

// block waits, on behalf of p, for any of the signals in mask, cs must be
// held and is released.
func (s *SPM) block(t *Thread, p *Partition, mask psa.Signal) psa.Signal {
	if asserted := p.signals & mask; asserted != 0 {
		s.cs.Unlock()
		return asserted
	}

	p.waiting = mask
	p.waiter = t
	t.state = Blocked
	t.retAvailable = false

	s.cs.Unlock()

	s.schedule(t)

	s.cs.Lock()
	defer s.cs.Unlock()

	t.retAvailable = false

	return psa.Signal(t.ret)
}

func (s *SPM) run(t *Thread, entry Entry, ctx *Context) {
	select {
	case <-t.resume:
	case <-s.halted:
		return
	}

	entry(ctx)

	s.cs.Lock()
	t.state = Exited
	s.cs.Unlock()

	s.log("%s exited", t.name())
	s.schedule(t)
}

func (s *SPM) idle(t *Thread) {
	select {
	case <-t.resume:
	case <-s.halted:
		return
	}

	for {
		s.schedule(t)

		select {
		case <-s.kick:
		case <-s.halted:
			return
		}
	}
}
