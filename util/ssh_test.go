// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/term"
)

func TestConsoleSession(t *testing.T) {
	var cmds []string

	c := &Console{
		Banner: "GoTEE SPM",
		Help: func(*term.Terminal) string {
			return "help text"
		},
		Handler: func(_ *term.Terminal, cmd string) error {
			cmds = append(cmds, cmd)

			switch cmd {
			case "fail":
				return errors.New("failed")
			case "exit":
				return io.EOF
			}

			return nil
		},
	}

	local, remote := net.Pipe()
	out := make(chan []byte, 1)

	go func() {
		buf, _ := io.ReadAll(remote)
		out <- buf
	}()

	go func() {
		_, _ = remote.Write([]byte("status\rfail\rexit\r"))
	}()

	c.session(local)
	local.Close()

	if diff := cmp.Diff([]string{"status", "fail", "exit"}, cmds); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}

	buf := <-out

	for _, s := range []string{"GoTEE SPM", "help text", "error: failed"} {
		if !bytes.Contains(buf, []byte(s)) {
			t.Errorf("session output missing %q", s)
		}
	}

	if c.Term == nil {
		t.Error("session terminal not recorded")
	}
}
