// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package main

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"
	_ "unsafe"

	usbarmory "github.com/usbarmory/tamago/board/usbarmory/mk2"
	"github.com/usbarmory/tamago/dma"
	"github.com/usbarmory/tamago/soc/nxp/imx6ul"

	"github.com/usbarmory/imx-usbnet"

	"github.com/usbarmory/GoTEE-spm/comms"
	"github.com/usbarmory/GoTEE-spm/console"
	"github.com/usbarmory/GoTEE-spm/isolation"
	"github.com/usbarmory/GoTEE-spm/mem"
	"github.com/usbarmory/GoTEE-spm/partitions"
	"github.com/usbarmory/GoTEE-spm/platform/sim"
	"github.com/usbarmory/GoTEE-spm/spm"
	"github.com/usbarmory/GoTEE-spm/util"

	_ "github.com/usbarmory/GoTEE-spm/trusted_os_usbarmory/cmd"
	"github.com/usbarmory/GoTEE-spm/trusted_os_usbarmory/internal"
)

const (
	sshPort = 22
	IP      = "10.0.0.1"
	MAC     = "1a:55:89:a2:69:41"
	hostMAC = "1a:55:89:a2:69:42"
)

// isolationLevel is the partition isolation level.
const isolationLevel = 2

//go:linkname ramStart runtime.ramStart
var ramStart uint32 = mem.SecureStart

//go:linkname ramSize runtime.ramSize
var ramSize uint32 = mem.SecureSize

//go:embed assets/nonsecure_os_go.elf
var osELF []byte

var banner = fmt.Sprintf("%s/%s (%s) • Secure Partition Manager", runtime.GOOS, runtime.GOARCH, runtime.Version())

func init() {
	log.SetFlags(log.Ltime)
	log.SetOutput(os.Stdout)

	// Move DMA region to prevent NonSecure access, alternatively
	// iRAM/OCRAM (default DMA region) can be locked down on its own (as it
	// is outside TZASC control).
	dma.Init(mem.SecureDMAStart, mem.SecureDMASize)
	mem.Init()

	if imx6ul.Native {
		imx6ul.SetARMFreq(900)

		debugConsole, _ := usbarmory.DetectDebugAccessory(250 * time.Millisecond)
		<-debugConsole
	}

	gotee.OS = osELF

	log.Print(banner)
}

// system returns the SPM with its example partitions, the mailbox transport
// is looped back to the console `call` command.
func system() (s *spm.SPM, t console.Target, err error) {
	hal, err := isolation.New(isolationConfig(isolationLevel))

	if err != nil {
		return
	}

	s, err = spm.New(spm.Config{
		HAL:    hal,
		Memory: mem.Physical{},
		Partitions: []spm.PartitionInfo{
			partitions.Echo(),
			partitions.Counter(0),
			partitions.MailboxAgent(),
			gotee.NSAgent(),
		},
		NSDataStart: mem.NSAgentDataStart,
		NSDataSize:  mem.NSAgentDataSize,
		Halt: func(reason string) {
			usbarmory.LED("white", true)
		},
	})

	if err != nil {
		return
	}

	local, host := sim.NewMailboxPair()

	tr, err := comms.New(comms.Config{
		Mailbox:   local,
		Memory:    mem.Physical{},
		Protocols: []uint8{comms.ProtocolEmbed},
	})

	if err != nil {
		return
	}

	if err = tr.Attach(s, partitions.AgentPID, partitions.MailboxSignal); err != nil {
		return
	}

	local.Notify = func() {
		s.Interrupt(func() {
			if err := tr.IRQ(); err != nil {
				log.Printf("comms %v", err)
			}
		})
	}

	t = console.Target{
		SPM:       s,
		Transport: tr,
		Client:    &comms.Client{Link: host, ClientID: 1},
		Memory:    mem.Physical{},
	}

	return
}

func main() {
	defer log.Printf("SPM says goodbye")

	s, target, err := system()

	if err != nil {
		log.Fatalf("SPM could not initialize, %v", err)
	}

	console.Attach(target)

	go func() {
		if err := s.SystemRun(context.Background()); err != nil {
			log.Printf("SPM halted, %v", err)
		}
	}()

	if !imx6ul.Native {
		<-s.Halted()
		return
	}

	iface, err := usbnet.Init(IP, MAC, hostMAC, 1)

	if err != nil {
		log.Fatalf("SPM could not initialize USB networking, %v", err)
	}

	iface.EnableICMP()

	listener, err := iface.ListenerTCP4(sshPort)

	if err != nil {
		log.Fatalf("SPM could not initialize SSH listener, %v", err)
	}

	ssh := &util.Console{
		Banner:  banner,
		Help:    console.Help,
		Handler: console.Handle,
	}

	gotee.Console = ssh

	if err = ssh.Start(listener); err != nil {
		log.Fatalf("SPM could not initialize SSH server, %v", err)
	}

	usbarmory.USB1.Init()
	usbarmory.USB1.DeviceMode()
	usbarmory.USB1.Reset()

	// never returns
	usbarmory.USB1.Start(iface.NIC.Device)
}
