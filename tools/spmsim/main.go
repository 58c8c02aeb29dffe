// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// The spmsim command runs the Secure Partition Manager with its example
// partitions on the simulated platform, with a local console and, optionally,
// the mailbox transport served on a serial device.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"

	"github.com/mattn/go-tty"
	"golang.org/x/term"

	"github.com/usbarmory/GoTEE-spm/comms"
	"github.com/usbarmory/GoTEE-spm/console"
	"github.com/usbarmory/GoTEE-spm/isolation"
	"github.com/usbarmory/GoTEE-spm/partitions"
	"github.com/usbarmory/GoTEE-spm/platform/sim"
	"github.com/usbarmory/GoTEE-spm/spm"
)

var (
	level  = flag.Int("l", 2, "isolation level (1, 2 or 3)")
	serial = flag.String("s", "", "serial device serving the mailbox transport")
)

func init() {
	log.SetFlags(log.Ltime)
	log.SetOutput(os.Stdout)
}

func system(level int) (s *spm.SPM, p *sim.Platform, tr *comms.Transport, err error) {
	if p, err = sim.New(sim.MPURegions); err != nil {
		return
	}

	hal, err := isolation.New(p.IsolationConfig(level))

	if err != nil {
		return
	}

	s, err = spm.New(spm.Config{
		HAL:    hal,
		Memory: p.Memory,
		Partitions: []spm.PartitionInfo{
			partitions.Echo(),
			partitions.Counter(0),
			partitions.MailboxAgent(),
		},
	})

	if err != nil {
		return
	}

	tr, err = comms.New(comms.Config{
		Mailbox: p.Mailbox,
		ATU:     p.ATU,
		Memory:  p.Memory,
	})

	if err != nil {
		return
	}

	if err = tr.Attach(s, partitions.AgentPID, partitions.MailboxSignal); err != nil {
		return
	}

	p.Mailbox.Notify = func() {
		s.Interrupt(func() {
			if err := tr.IRQ(); err != nil {
				log.Printf("comms %v", err)
			}
		})
	}

	return
}

// bridge forwards framed requests received on a serial device to the
// transport and its replies back.
func bridge(ctx context.Context, dev string, host *sim.Mailbox) (err error) {
	t, err := tty.OpenDevice(dev)

	if err != nil {
		return
	}

	restore := t.MustRaw()

	go func() {
		defer t.Close()
		defer restore()

		for {
			msg, err := host.Wait(ctx)

			if err != nil {
				return
			}

			if err = comms.WriteFrame(t.Output(), msg); err != nil {
				log.Printf("spmsim could not send reply, %v", err)
			}
		}
	}()

	go func() {
		for {
			msg, err := comms.ReadFrame(t.Input())

			if err != nil {
				log.Printf("spmsim serial bridge closed, %v", err)
				return
			}

			if err = host.Send(msg); err != nil {
				log.Printf("spmsim could not forward request, %v", err)
			}
		}
	}()

	return
}

func shell(banner string) (err error) {
	fd := int(os.Stdin.Fd())

	if !term.IsTerminal(fd) {
		return fmt.Errorf("stdin is not a terminal")
	}

	state, err := term.MakeRaw(fd)

	if err != nil {
		return
	}

	defer term.Restore(fd, state)

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, "")

	t.SetPrompt(string(t.Escape.Red) + "> " + string(t.Escape.Reset))
	log.SetOutput(t)

	fmt.Fprintf(t, "%s\n%s\n", banner, console.Help(t))

	for {
		line, err := t.ReadLine()

		if err != nil {
			return nil
		}

		if err = console.Handle(t, line); err == io.EOF {
			return nil
		} else if err != nil {
			fmt.Fprintf(t, "error: %v\n", err)
		}
	}
}

func main() {
	flag.Parse()

	banner := fmt.Sprintf("%s/%s (%s) • Secure Partition Manager simulator", runtime.GOOS, runtime.GOARCH, runtime.Version())

	s, p, tr, err := system(*level)

	if err != nil {
		log.Fatalf("spmsim could not initialize, %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	target := console.Target{
		SPM:       s,
		Transport: tr,
		Memory:    p.Memory,
	}

	if *serial != "" {
		if err = bridge(ctx, *serial, p.HostMailbox); err != nil {
			log.Fatalf("spmsim could not open %s, %v", *serial, err)
		}
	} else {
		target.Client = &comms.Client{Link: p.HostMailbox, ClientID: 1}
	}

	console.Attach(target)

	go func() {
		if err := s.SystemRun(ctx); err != nil {
			log.Printf("spmsim SPM halted, %v (%s)", err, s.Reason())
		}
	}()

	if err = shell(banner); err != nil {
		log.Print(banner)
		log.Printf("spmsim running without console, %v", err)
		<-s.Halted()
	}
}
