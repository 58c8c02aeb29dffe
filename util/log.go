// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"bytes"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

const outputLimit = 1024
const flushChr = 0x0a // \n

// lineBuffer collects the output of an execution context one character at a
// time, to keep it from interleaving with other logs.
type lineBuffer struct {
	sync.Mutex
	buf bytes.Buffer
}

func (b *lineBuffer) add(c byte, w io.Writer, pre []byte, post []byte) {
	b.Lock()
	defer b.Unlock()

	b.buf.WriteByte(c)

	if c != flushChr && b.buf.Len() <= outputLimit {
		return
	}

	w.Write(pre)
	w.Write(b.buf.Bytes())
	w.Write(post)

	b.buf.Reset()
}

var (
	secureOutput    lineBuffer
	nonSecureOutput lineBuffer
)

func output(secure bool) *lineBuffer {
	if secure {
		return &secureOutput
	}

	return &nonSecureOutput
}

// BufferedStdoutLog buffers a character of Secure or Non-secure World output,
// complete lines are written to stdout.
func BufferedStdoutLog(c byte, secure bool) {
	output(secure).add(c, os.Stdout, nil, nil)
}

// BufferedTermLog buffers a character of Secure or Non-secure World output,
// complete lines are written to the terminal in green (Secure) or red
// (Non-secure).
func BufferedTermLog(c byte, secure bool, t *term.Terminal) {
	color := t.Escape.Red

	if secure {
		color = t.Escape.Green
	}

	output(secure).add(c, t, color, t.Escape.Reset)
}
