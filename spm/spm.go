// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package spm implements the Secure Partition Manager IPC backend: partition
// threads and their scheduling, signals, connections and messages between
// clients and RoT services, the agent API for Non-secure clients and the RPC
// registry of inter-processor transports.
package spm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"

	"github.com/usbarmory/GoTEE-spm/boundary"
	"github.com/usbarmory/GoTEE-spm/isolation"
	"github.com/usbarmory/GoTEE-spm/load"
	"github.com/usbarmory/GoTEE-spm/mem"
	"github.com/usbarmory/GoTEE-spm/psa"
)

// DefaultHeapSize is the partition data area size used when unset.
const DefaultHeapSize = 0x2000

var (
	// ErrHalted is returned by SystemRun after a fatal error.
	ErrHalted = errors.New("SPM halted")
	// ErrStarted is returned when running an already started SPM.
	ErrStarted = errors.New("SPM already started")
)

// Config is the SPM configuration.
type Config struct {
	// HAL is the isolation HAL, its CPU is used unless CPU is set.
	HAL *isolation.HAL
	CPU isolation.CPU
	// Memory is the address space of partition and client buffers.
	Memory mem.Space
	// Partitions are the secure partitions to run.
	Partitions []PartitionInfo
	// Halt is invoked on fatal errors.
	Halt func(reason string)
	// MaxConnections is the connection arena size.
	MaxConnections int

	// DataStart and DataSize delimit the secure partition stacks and
	// data.
	DataStart uintptr
	DataSize  uint32
	// NSDataStart and NSDataSize delimit the TrustZone agent data.
	NSDataStart uintptr
	NSDataSize  uint32
	// HeapSize is the data area size of each partition.
	HeapSize uint32
}

// SPM is the Secure Partition Manager.
type SPM struct {
	sync.Mutex

	conf Config
	hal  *isolation.HAL
	cpu  isolation.CPU

	// cs is the scheduler critical section
	cs sync.Mutex

	boundary boundary.Handle
	spmLoad  *load.Partition
	spmLocal LocalStorage
	local    *LocalStorage

	partitions []*Partition
	threads    []*Thread
	idleThread *Thread
	current    *Thread

	services  map[uint32]*service
	stateless []*service
	conns     *arena

	rpc RPCRegistry

	irqMutex sync.Mutex
	irqs     []func()
	kick     chan struct{}

	halted   chan struct{}
	haltOnce sync.Once
	reason   string

	started     bool
	stackSealed bool
	nsAgentTZ   bool
}

// New returns a Secure Partition Manager instance.
func New(conf Config) (s *SPM, err error) {
	if conf.HAL == nil || conf.Memory == nil {
		return nil, errors.New("SPM requires an isolation HAL and memory")
	}

	if conf.CPU == nil {
		conf.CPU = conf.HAL.CPU
	}

	if conf.MaxConnections <= 0 {
		conf.MaxConnections = DefaultMaxConnections
	}

	if conf.HeapSize == 0 {
		conf.HeapSize = DefaultHeapSize
	}

	if conf.DataStart == 0 {
		conf.DataStart = mem.PartitionStart
		conf.DataSize = mem.PartitionSize
	}

	if conf.NSDataStart == 0 {
		conf.NSDataStart = mem.NonSecureStart
		conf.NSDataSize = mem.NonSecureSize
	}

	s = &SPM{
		conf:     conf,
		hal:      conf.HAL,
		cpu:      conf.CPU,
		spmLoad:  &load.Partition{Name: "SPM", Flags: load.PSARoT},
		services: make(map[uint32]*service),
		conns:    newArena(conf.MaxConnections),
		kick:     make(chan struct{}, 1),
		halted:   make(chan struct{}),
	}

	s.spmLocal = LocalStorage{Name: "SPM"}
	s.local = &s.spmLocal

	next := conf.DataStart
	nsNext := conf.NSDataStart

	for _, info := range conf.Partitions {
		if err = s.addPartition(info, &next, &nsNext); err != nil {
			return nil, fmt.Errorf("SPM could not add partition, %v", err)
		}
	}

	return
}

func (s *SPM) log(format string, v ...interface{}) {
	log.Printf("SPM "+format, v...)
}

// Panic halts the system, the configured Halt hook is invoked.
func (s *SPM) Panic(reason string) {
	s.haltOnce.Do(func() {
		s.reason = reason
		log.Printf("SPM panic: %s", reason)

		if s.conf.Halt != nil {
			s.conf.Halt(reason)
		}

		close(s.halted)
	})
}

// fatal halts the system and terminates the calling thread.
func (s *SPM) fatal(reason string) {
	s.Panic(reason)
	runtime.Goexit()
}

// programmerError handles a PROGRAMMER ERROR of a calling partition: Non-secure
// agents receive an error status while secure partitions are fatal.
func (s *SPM) programmerError(p *Partition, reason string) psa.Status {
	if p != nil && p.Load.IsNSAgent() {
		s.log("programmer error from %s, %s", p.Load.Name, reason)
		return psa.ErrProgrammerError
	}

	name := "SPM"

	if p != nil {
		name = p.Load.Name
	}

	s.fatal(fmt.Sprintf("programmer error in %s, %s", name, reason))

	return psa.ErrProgrammerError
}

// Halted returns a channel closed once the system is halted.
func (s *SPM) Halted() <-chan struct{} {
	return s.halted
}

// Reason returns the halt reason.
func (s *SPM) Reason() string {
	select {
	case <-s.halted:
		return s.reason
	default:
		return ""
	}
}

// RPC returns the RPC registry.
func (s *SPM) RPC() *RPCRegistry {
	return &s.rpc
}

// StackSealed returns whether the SPM stack has been sealed, which happens
// in absence of a TrustZone Non-secure agent.
func (s *SPM) StackSealed() bool {
	s.cs.Lock()
	defer s.cs.Unlock()

	return s.stackSealed
}

// Local returns the partition local storage of the running partition.
func (s *SPM) Local() *LocalStorage {
	s.cs.Lock()
	defer s.cs.Unlock()

	return s.local
}

// ThreadState returns the state of a partition thread.
func (s *SPM) ThreadState(pid int32) (state State, ok bool) {
	s.cs.Lock()
	defer s.cs.Unlock()

	p := s.partition(pid)

	if p == nil || p.thread == nil {
		return
	}

	return p.thread.state, true
}

// PartitionStatus is a partition status summary.
type PartitionStatus struct {
	Name     string
	PID      int32
	Priority uint8
	Boundary boundary.Handle
	Signals  psa.Signal
	Thread   bool
	State    State
}

// Partitions returns the status of every partition.
func (s *SPM) Partitions() (status []PartitionStatus) {
	s.cs.Lock()
	defer s.cs.Unlock()

	for _, p := range s.partitions {
		ps := PartitionStatus{
			Name:     p.Load.Name,
			PID:      p.Load.PID,
			Priority: p.Load.Priority,
			Boundary: p.Boundary,
			Signals:  p.signals,
		}

		if p.thread != nil {
			ps.Thread = true
			ps.State = p.thread.state
		}

		status = append(status, ps)
	}

	return
}

// Connections returns the number of connections in use.
func (s *SPM) Connections() int {
	s.cs.Lock()
	defer s.cs.Unlock()

	return s.conns.inUse()
}

// StatelessHandle returns the static handle of a stateless service.
func (s *SPM) StatelessHandle(sid uint32) (psa.Handle, bool) {
	svc, ok := s.services[sid]

	if !ok || svc.index < 0 {
		return psa.NullHandle, false
	}

	return psa.StatelessHandle(svc.index, uint8(svc.info.Version)), true
}

func (s *SPM) partition(pid int32) *Partition {
	for _, p := range s.partitions {
		if p.Load.PID == pid {
			return p
		}
	}

	return nil
}

// AssertSignal asserts a signal on a partition, it must be invoked by the
// run token holder, typically within an Interrupt handler.
func (s *SPM) AssertSignal(pid int32, sig psa.Signal) error {
	s.cs.Lock()
	defer s.cs.Unlock()

	p := s.partition(pid)

	if p == nil {
		return fmt.Errorf("invalid partition %d", pid)
	}

	s.assertSignal(p, sig)

	select {
	case s.kick <- struct{}{}:
	default:
	}

	return nil
}

func (s *SPM) alloc(p *Partition, size uint32) (addr uintptr, err error) {
	size = (size + 7) &^ 7

	if p.heap+uintptr(size) > p.heapLimit || p.heap+uintptr(size) < p.heap {
		return 0, fmt.Errorf("partition %s: out of memory", p.Load.Name)
	}

	addr = p.heap
	p.heap += uintptr(size)

	return
}

func (s *SPM) addPartition(info PartitionInfo, next *uintptr, nsNext *uintptr) (err error) {
	l := info.Load

	if l == nil || info.Component == nil {
		return errors.New("incomplete partition information")
	}

	if err = l.Validate(); err != nil {
		return
	}

	if s.partition(l.PID) != nil {
		return fmt.Errorf("partition %s: duplicate id %d", l.Name, l.PID)
	}

	if _, ok := info.Component.(*SFNPartition); ok == l.IsIPC() {
		return fmt.Errorf("partition %s: component does not match its model", l.Name)
	}

	if l.IsNSAgentTZ() {
		s.nsAgentTZ = true
	}

	p := &Partition{
		Load:      l,
		Component: info.Component,
		Local: LocalStorage{
			PID:  l.PID,
			Name: l.Name,
		},
	}

	for i := range l.Services {
		info := &l.Services[i]

		if _, ok := s.services[info.SID]; ok {
			return fmt.Errorf("partition %s: duplicate service %#x", l.Name, info.SID)
		}

		svc := &service{
			info:  info,
			p:     p,
			index: -1,
		}

		if info.Stateless {
			svc.index = len(s.stateless)
			s.stateless = append(s.stateless, svc)
		}

		s.services[info.SID] = svc
		p.services = append(p.services, svc)
	}

	if sfn, ok := info.Component.(*SFNPartition); ok {
		p.sfn = sfn.Services
	}

	stack := l.StackSize

	if stack == 0 {
		stack = mem.PartitionStackSize
	}

	// Stacks and data of secure partitions are carved from the
	// partition data area, the TrustZone agent data lives in
	// Non-secure memory.
	limit := s.conf.DataStart + uintptr(s.conf.DataSize)
	base := *next

	if base+uintptr(stack)+uintptr(s.conf.HeapSize) > limit {
		return fmt.Errorf("partition %s: out of partition memory", l.Name)
	}

	*next += uintptr(stack) + uintptr(s.conf.HeapSize)

	p.heap = base + uintptr(stack)
	p.heapLimit = p.heap + uintptr(s.conf.HeapSize)

	if l.IsNSAgentTZ() {
		nsLimit := s.conf.NSDataStart + uintptr(s.conf.NSDataSize)

		if *nsNext+uintptr(s.conf.HeapSize) > nsLimit {
			return fmt.Errorf("partition %s: out of Non-secure memory", l.Name)
		}

		p.heap = *nsNext
		p.heapLimit = p.heap + uintptr(s.conf.HeapSize)
		*nsNext += uintptr(s.conf.HeapSize)
	}

	if l.IsIPC() {
		t := newThread(p, int(l.Priority))
		t.stackLimit = base
		t.stackTop = base + uintptr(stack)
		t.sp = t.stackTop

		p.thread = t
		s.threads = append(s.threads, t)
	}

	s.partitions = append(s.partitions, p)

	return
}

// SystemRun sets up the static isolation boundaries, binds every partition,
// starts the partition threads and schedules them until the context is
// cancelled or a fatal error occurs.
func (s *SPM) SystemRun(ctx context.Context) (err error) {
	s.Lock()

	if s.started {
		s.Unlock()
		return ErrStarted
	}

	s.started = true
	s.Unlock()

	if s.boundary, err = s.hal.SetUpStaticBoundaries(); err != nil {
		return fmt.Errorf("SPM could not set up static boundaries, %v", err)
	}

	s.spmLocal.Boundary = s.boundary

	for _, p := range s.partitions {
		if p.Boundary, err = s.hal.BindBoundary(p.Load); err != nil {
			return fmt.Errorf("SPM could not bind %s boundary, %v", p.Load.Name, err)
		}

		p.Local.Boundary = p.Boundary

		s.log("loaded %s pid:%d prio:%#x boundary:%s", p.Load.Name, p.Load.PID, p.Load.Priority, p.Boundary)
	}

	s.cs.Lock()
	s.stackSealed = !s.nsAgentTZ
	s.cs.Unlock()

	for _, p := range s.partitions {
		sfn, ok := p.Component.(*SFNPartition)

		if !ok || sfn.Init == nil {
			continue
		}

		if err = s.callInit(p, sfn.Init); err != nil {
			return fmt.Errorf("SPM could not initialize %s, %w", p.Load.Name, err)
		}
	}

	s.idleThread = newThread(nil, idlePriority)
	s.threads = append(s.threads, s.idleThread)
	s.sortThreads()

	for _, t := range s.threads {
		if t.p == nil {
			go s.idle(t)
			continue
		}

		pc := &Context{spm: s, p: t.p, t: t}

		if entry := t.p.Component.Start(t.p); entry != nil {
			go s.run(t, entry, pc)
		} else {
			t.state = Exited
		}
	}

	s.cs.Lock()
	first := s.pick()
	s.switchBoundary(nil, first.active)
	first.state = Running
	s.current = first
	s.cs.Unlock()

	first.resume <- struct{}{}

	select {
	case <-ctx.Done():
		s.haltOnce.Do(func() {
			close(s.halted)
		})

		return ctx.Err()
	case <-s.halted:
		return ErrHalted
	}
}

func (s *SPM) callInit(p *Partition, init func(*Context) error) error {
	s.cs.Lock()
	s.switchBoundary(nil, p)
	s.cs.Unlock()

	// fatal errors terminate the goroutine of the caller
	done := make(chan error, 1)

	go func() {
		done <- init(&Context{spm: s, p: p})
	}()

	var err error

	select {
	case err = <-done:
	case <-s.halted:
		return ErrHalted
	}

	s.cs.Lock()
	s.switchBoundary(p, nil)
	s.cs.Unlock()

	return err
}
