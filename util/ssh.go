// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"io"
	"log"
	"net"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

// Console is the SSH management console of the SPM.
type Console struct {
	// Banner is the login welcome banner
	Banner string
	// Help returns the command list shown on login
	Help func(*term.Terminal) string
	// Handler is the terminal command handler, io.EOF ends the session
	Handler func(*term.Terminal, string) error
	// HostKey is the server key, an ephemeral one is used when unset
	HostKey ssh.Signer

	// Term is the terminal of the last session, Non-secure World output
	// is mirrored on it.
	Term *term.Terminal
}

// session runs the command loop of a console session until the handler or
// the client ends it.
func (c *Console) session(rw io.ReadWriter) {
	t := term.NewTerminal(rw, "")
	t.SetPrompt(string(t.Escape.Red) + "> " + string(t.Escape.Reset))

	c.Term = t

	stdout := log.Writer()
	log.SetOutput(io.MultiWriter(stdout, t))
	defer log.SetOutput(stdout)

	fmt.Fprintf(t, "%s\n", c.Banner)

	if c.Help != nil {
		fmt.Fprintf(t, "%s\n", c.Help(t))
	}

	for {
		cmd, err := t.ReadLine()

		if err == io.EOF {
			return
		}

		if err != nil {
			log.Printf("readline error, %v", err)
			continue
		}

		if err = c.Handler(t, cmd); err == io.EOF {
			return
		} else if err != nil {
			fmt.Fprintf(t, "error: %v\n", err)
		}
	}
}

func (c *Console) handleChannel(newChannel ssh.NewChannel) {
	if t := newChannel.ChannelType(); t != "session" {
		_ = newChannel.Reject(ssh.UnknownChannelType, fmt.Sprintf("unknown channel type: %s", t))
		return
	}

	conn, requests, err := newChannel.Accept()

	if err != nil {
		log.Printf("SPM could not accept channel, %v", err)
		return
	}

	go func() {
		for req := range requests {
			// commands are only accepted from the interactive shell
			ok := req.Type == "pty-req" || (req.Type == "shell" && len(req.Payload) == 0)
			_ = req.Reply(ok, nil)
		}
	}()

	go func() {
		defer conn.Close()

		c.session(conn)
		log.Printf("SPM console session closed")
	}()
}

func (c *Console) listen(listener net.Listener, srv *ssh.ServerConfig) {
	for {
		conn, err := listener.Accept()

		if err != nil {
			log.Printf("SPM could not accept connection, %v", err)
			continue
		}

		sshConn, chans, reqs, err := ssh.NewServerConn(conn, srv)

		if err != nil {
			log.Printf("SPM could not complete handshake, %v", err)
			continue
		}

		log.Printf("SPM console connection from %s (%s)", sshConn.RemoteAddr(), sshConn.ClientVersion())

		go ssh.DiscardRequests(reqs)

		go func() {
			for newChannel := range chans {
				go c.handleChannel(newChannel)
			}
		}()
	}
}

// Start serves the console on the given listener.
func (c *Console) Start(listener net.Listener) (err error) {
	if c.HostKey == nil {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

		if err != nil {
			return fmt.Errorf("SPM could not generate host key, %v", err)
		}

		if c.HostKey, err = ssh.NewSignerFromKey(key); err != nil {
			return fmt.Errorf("SPM could not convert host key, %v", err)
		}
	}

	srv := &ssh.ServerConfig{
		NoClientAuth: true,
	}

	srv.AddHostKey(c.HostKey)

	log.Printf("SPM console started (%s)", ssh.FingerprintSHA256(c.HostKey.PublicKey()))

	go c.listen(listener, srv)

	return
}
