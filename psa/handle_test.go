// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package psa

import (
	"testing"
)

func TestStatelessHandle(t *testing.T) {
	h := StatelessHandle(3, 0x12)

	if h != 0x40001203 {
		t.Fatalf("StatelessHandle(3, 0x12) = %#x", uint32(h))
	}

	if !h.IsStateless() || h.StatelessIndex() != 3 || h.StatelessVersion() != 0x12 {
		t.Errorf("decoded %#x as stateless:%v index:%d version:%d", uint32(h), h.IsStateless(), h.StatelessIndex(), h.StatelessVersion())
	}

	for _, h := range []Handle{NullHandle, 0x10001, -1} {
		if h.IsStateless() {
			t.Errorf("%#x is not stateless", uint32(h))
		}
	}
}

func TestPackParams(t *testing.T) {
	for _, tt := range []struct {
		typ     int16
		in, out int
		ctrl    uint32
	}{
		{0, 0, 0, 0},
		{1, 2, 3, 0x00010203},
		{0x7fff, 4, 4, 0x7fff0404},
	} {
		if ctrl := PackParams(tt.typ, tt.in, tt.out); ctrl != tt.ctrl {
			t.Errorf("PackParams(%d, %d, %d) = %#x, want %#x", tt.typ, tt.in, tt.out, ctrl, tt.ctrl)
		}

		typ, in, out := UnpackParams(tt.ctrl)

		if typ != tt.typ || in != tt.in || out != tt.out {
			t.Errorf("UnpackParams(%#x) = %d, %d, %d", tt.ctrl, typ, in, out)
		}
	}
}
