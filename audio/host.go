/*
NAME
  host.go

DESCRIPTION
  host.go defines Host, the interface through which the sender and receiver
  pipelines talk to the host audio graph: a periodic callback delivering or
  consuming blocks of interleaved float32 samples, plus port registration
  and routing. Per spec.md §1 this is an external collaborator — the real
  audio subsystem (JACK, PipeWire, ALSA, ...) is specified only through the
  interface it must satisfy.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package audio models the host audio graph that Sender and Receiver attach
// to: a fixed-rate periodic callback over interleaved float32 sample blocks,
// plus named-port registration and routing. It provides two concrete
// implementations: SimHost, a synthetic in-process graph used by tests and
// by any deployment without a real audio subsystem, and AlsaHost, a
// capture-only backend over a real ALSA device.
package audio

import "errors"

// PortDirection distinguishes an input port (the host delivers samples into
// this process, i.e. a capture source) from an output port (this process
// delivers samples to the host, i.e. a playback sink).
type PortDirection int

const (
	// PortInput is a port the host captures from and this process reads.
	PortInput PortDirection = iota
	// PortOutput is a port this process writes and the host plays back.
	PortOutput
)

// Port is a single registered channel endpoint in the host's audio graph.
// Buffer returns the sample buffer for the current callback invocation; it
// is only valid for the duration of that callback and must not be retained.
type Port interface {
	// Name returns the port's registered name.
	Name() string
	// Buffer returns nframes float32 samples for the current callback. For
	// a PortOutput port, the callback writes into the returned slice; for a
	// PortInput port, it reads from it.
	Buffer(nframes int) []float32
}

// Callback is invoked by the Host once per period with the number of frames
// available/required this period. It must not allocate, acquire locks, or
// perform blocking I/O — see spec.md §5 ("Real-time audio thread").
type Callback func(nframes int)

// Host is the audio graph a Sender or Receiver attaches to.
type Host interface {
	// SampleRate returns the host's fixed device sample rate in Hz.
	SampleRate() uint32

	// RegisterPort creates a new named port of the given direction and
	// returns it. dir PortInput registers a capture (input) port; PortOutput
	// registers a playback (output) port.
	RegisterPort(name string, dir PortDirection) (Port, error)

	// Connect routes port to (or from, depending on direction) the named
	// external endpoint in the host graph, e.g. a physical input/output or
	// another client's port.
	Connect(port Port, target string) error

	// Unregister removes a previously registered port.
	Unregister(port Port) error

	// SetCallback installs the function the host invokes once per period.
	// It must be called before Activate.
	SetCallback(cb Callback)

	// Activate starts the host delivering periodic callbacks.
	Activate() error

	// Close deactivates the host and releases its resources. Ports
	// registered against this Host become invalid.
	Close() error
}

// ErrCallbackNotSet is returned by Activate when no callback has been
// installed via SetCallback.
var ErrCallbackNotSet = errors.New("audio: callback not set before activate")

// ErrClosed is returned by operations attempted on a Host after Close.
var ErrClosed = errors.New("audio: host is closed")
