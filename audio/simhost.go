/*
NAME
  simhost.go

DESCRIPTION
  simhost.go provides SimHost, a synthetic Host implementation driven
  explicitly by test code (or a standalone simulation) rather than by real
  hardware. It is the audio-graph analogue of the ManualInput device in the
  teacher's device package: a way to exercise the real-time callback
  contract without requiring physical audio hardware.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package audio

import (
	"fmt"
	"sync"
)

// SimHost is a Host whose "hardware" period is driven by explicit calls to
// Tick, rather than a real device clock. Each registered port owns its own
// float32 buffer, sized to the largest nframes seen so far.
type SimHost struct {
	mu         sync.Mutex
	rate       uint32
	cb         Callback
	ports      []*simPort
	connected  map[string]string
	activated  bool
	closed     bool
}

// NewSimHost returns a SimHost reporting the given device sample rate.
func NewSimHost(sampleRate uint32) *SimHost {
	return &SimHost{rate: sampleRate, connected: make(map[string]string)}
}

func (h *SimHost) SampleRate() uint32 { return h.rate }

func (h *SimHost) RegisterPort(name string, dir PortDirection) (Port, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	p := &simPort{name: name, dir: dir}
	h.ports = append(h.ports, p)
	return p, nil
}

func (h *SimHost) Connect(port Port, target string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.connected[port.Name()] = target
	return nil
}

func (h *SimHost) Unregister(port Port) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	sp, ok := port.(*simPort)
	if !ok {
		return fmt.Errorf("audio: port %v not owned by this SimHost", port)
	}
	for i, p := range h.ports {
		if p == sp {
			h.ports = append(h.ports[:i], h.ports[i+1:]...)
			delete(h.connected, sp.name)
			return nil
		}
	}
	return fmt.Errorf("audio: port %q not registered", port.Name())
}

func (h *SimHost) SetCallback(cb Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cb = cb
}

func (h *SimHost) Activate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cb == nil {
		return ErrCallbackNotSet
	}
	h.activated = true
	return nil
}

func (h *SimHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.activated = false
	return nil
}

// Tick invokes the installed callback once, as if the host's real-time
// thread had requested nframes frames for this period. It is the SimHost
// equivalent of a single JACK process-callback invocation.
func (h *SimHost) Tick(nframes int) {
	h.mu.Lock()
	cb := h.cb
	active := h.activated
	h.mu.Unlock()
	if !active || cb == nil {
		return
	}
	cb(nframes)
}

// Connected reports the target a port was last connected to, for assertions
// in tests.
func (h *SimHost) Connected(name string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.connected[name]
	return t, ok
}

// simPort is a Port backed by an in-memory float32 slice that grows as
// needed; it never shrinks, matching a real audio host's pre-allocated
// per-period buffer.
type simPort struct {
	name string
	dir  PortDirection
	buf  []float32
}

func (p *simPort) Name() string { return p.name }

func (p *simPort) Buffer(nframes int) []float32 {
	if cap(p.buf) < nframes {
		p.buf = make([]float32, nframes)
	}
	return p.buf[:nframes]
}
