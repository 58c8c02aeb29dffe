// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package comms

// pool is a fixed set of requests, each slot owns a local payload buffer in
// the request pool memory.
type pool struct {
	requests []Request
	used     []bool

	inUse     int
	highWater int
}

func newPool(n int, base uintptr) *pool {
	p := &pool{
		requests: make([]Request, n),
		used:     make([]bool, n),
	}

	for i := range p.requests {
		p.requests[i].slot = i
		p.requests[i].payload = base + uintptr(i)*EmbedPayloadSize
	}

	return p
}

func (p *pool) alloc() (*Request, error) {
	for i, used := range p.used {
		if used {
			continue
		}

		p.used[i] = true
		p.inUse++

		if p.inUse > p.highWater {
			p.highWater = p.inUse
		}

		r := &p.requests[i]
		r.reset()

		return r, nil
	}

	return nil, ErrPoolExhausted
}

func (p *pool) free(r *Request) {
	if r == nil || !p.used[r.slot] {
		return
	}

	p.used[r.slot] = false
	p.inUse--
}
