/*
NAME
  alsahost.go

DESCRIPTION
  alsahost.go implements AlsaHost, a Host backed by a real ALSA capture
  device. It negotiates channels, rate, format, and period/buffer sizes the
  same way the teacher's ALSA capture device does, then drives the
  installed Callback once per negotiated period with samples converted to
  float32.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package audio

import (
	"encoding/binary"
	"fmt"
	"sync"

	yalsa "github.com/yobert/alsa"

	"github.com/ausocean/utils/logging"
)

// AlsaHost is a Host backed by a real ALSA PCM capture device. It only
// supports PortInput ports: the negotiation sequence below mirrors a
// recording device, and no ALSA playback call is exercised anywhere in the
// reference material this module is grounded on, so AlsaHost does not
// attempt to fabricate one. Playback-side hosts should use SimHost, or a
// future Host implementation grounded on a binding that actually exposes a
// write path.
type AlsaHost struct {
	l    logging.Logger
	rate uint32

	mu    sync.Mutex
	dev   *yalsa.Device
	ports []*alsaPort
	buf   []float32
	cb    Callback

	closed bool
	stop   chan struct{}
	done   chan struct{}

	bitDepth   int
	nchannel   int
	periodSize int
	started    bool
}

// AlsaConfig selects the capture device and the parameters AlsaHost will
// attempt to negotiate with it.
type AlsaConfig struct {
	// Title selects a specific recording device by name; the empty string
	// selects the first recording-capable device found.
	Title string
	// SampleRate is the desired capture rate in Hz.
	SampleRate uint
	// Channels is the desired channel count.
	Channels uint
	// BitDepth is the desired sample bit depth; 16 or 32.
	BitDepth uint
}

// OpenAlsaHost opens and negotiates an ALSA capture device per c, logging
// negotiation steps to l.
func OpenAlsaHost(l logging.Logger, c AlsaConfig) (*AlsaHost, error) {
	h := &AlsaHost{l: l, stop: make(chan struct{}), done: make(chan struct{})}
	if err := h.open(c); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *AlsaHost) open(c AlsaConfig) error {
	h.l.Debug("opening sound card")
	cards, err := yalsa.OpenCards()
	if err != nil {
		return err
	}
	defer yalsa.CloseCards(cards)

	h.l.Debug("finding audio device")
	for _, card := range cards {
		devices, err := card.Devices()
		if err != nil {
			continue
		}
		for _, dev := range devices {
			if dev.Type != yalsa.PCM || !dev.Record {
				continue
			}
			if dev.Title == c.Title || c.Title == "" {
				h.dev = dev
				break
			}
		}
		if h.dev != nil {
			break
		}
	}
	if h.dev == nil {
		return fmt.Errorf("audio: no ALSA capture device found (title=%q)", c.Title)
	}

	h.l.Debug("opening ALSA device", "title", h.dev.Title)
	if err := h.dev.Open(); err != nil {
		return err
	}

	channels, err := h.dev.NegotiateChannels(int(c.Channels))
	if err != nil {
		return fmt.Errorf("audio: negotiating channels: %w", err)
	}
	h.l.Debug("alsa device channels set", "channels", channels)
	h.nchannel = channels

	rate, err := h.dev.NegotiateRate(int(c.SampleRate))
	if err != nil {
		return fmt.Errorf("audio: negotiating rate: %w", err)
	}
	h.l.Debug("alsa device sample rate set", "rate", rate)
	h.rate = uint32(rate)

	var want yalsa.FormatType
	switch c.BitDepth {
	case 16:
		want = yalsa.S16_LE
	case 32:
		want = yalsa.S32_LE
	default:
		return fmt.Errorf("audio: unsupported bit depth %d", c.BitDepth)
	}
	got, err := h.dev.NegotiateFormat(want)
	if err != nil {
		return fmt.Errorf("audio: negotiating format: %w", err)
	}
	switch got {
	case yalsa.S16_LE:
		h.bitDepth = 16
	case yalsa.S32_LE:
		h.bitDepth = 32
	default:
		return fmt.Errorf("audio: device returned unsupported format %v", got)
	}
	h.l.Debug("alsa device bit depth set", "bitdepth", h.bitDepth)

	const wantPeriodSeconds = 0.05
	wantPeriodSize := int(float64(rate) * wantPeriodSeconds) // in frames.
	periodSize, err := h.dev.NegotiatePeriodSize(wantPeriodSize)
	if err != nil {
		return fmt.Errorf("audio: negotiating period size: %w", err)
	}
	h.periodSize = periodSize
	h.l.Debug("alsa device period size set", "periodsize", periodSize)

	bufSize, err := h.dev.NegotiateBufferSize(periodSize * 4)
	if err != nil {
		return fmt.Errorf("audio: negotiating buffer size: %w", err)
	}
	h.l.Debug("alsa device buffer size set", "buffersize", bufSize)

	if err := h.dev.Prepare(); err != nil {
		return fmt.Errorf("audio: preparing device: %w", err)
	}
	return nil
}

func (h *AlsaHost) SampleRate() uint32 { return h.rate }

// RegisterPort registers a named capture port. The device exposes one
// interleaved multichannel capture stream, so every registered port is a
// named view over the same shared buffer. Connect performs no routing for
// these ports: the capture stays the single negotiated hardware stream
// whatever target a port is connected to.
func (h *AlsaHost) RegisterPort(name string, dir PortDirection) (Port, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	if dir != PortInput {
		return nil, fmt.Errorf("audio: AlsaHost only supports capture (input) ports")
	}
	p := &alsaPort{name: name, h: h}
	h.ports = append(h.ports, p)
	return p, nil
}

func (h *AlsaHost) Connect(port Port, target string) error {
	// The underlying ALSA device is already bound to a specific hardware
	// card during negotiation; there is no separate routing step.
	return nil
}

func (h *AlsaHost) Unregister(port Port) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, p := range h.ports {
		if Port(p) == port {
			h.ports = append(h.ports[:i], h.ports[i+1:]...)
			break
		}
	}
	return nil
}

func (h *AlsaHost) SetCallback(cb Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cb = cb
}

// Activate starts the capture loop on its own goroutine: it reads one
// period at a time from the device, converts it to float32 into the
// registered port's buffer, and invokes the callback.
func (h *AlsaHost) Activate() error {
	h.mu.Lock()
	if h.cb == nil {
		h.mu.Unlock()
		return ErrCallbackNotSet
	}
	if len(h.ports) == 0 {
		h.mu.Unlock()
		return fmt.Errorf("audio: no port registered before activate")
	}
	cb := h.cb
	h.started = true
	h.mu.Unlock()

	go h.captureLoop(cb)
	return nil
}

func (h *AlsaHost) captureLoop(cb Callback) {
	defer close(h.done)
	bytesPerFrame := h.nchannel * (h.bitDepth / 8)
	raw := make([]byte, h.periodSize*bytesPerFrame)
	for {
		select {
		case <-h.stop:
			return
		default:
		}
		n, err := h.dev.Read(raw)
		if err != nil {
			h.l.Warning("alsa read failed", "error", err.Error())
			continue
		}
		nframes := n / bytesPerFrame
		buf := h.sharedBuffer(nframes * h.nchannel)
		h.decode(raw[:n], buf)
		cb(nframes)
	}
}

// sharedBuffer returns the shared interleaved capture buffer sized to hold
// at least n samples, growing it if necessary. Every registered port's
// Buffer call resolves to this same backing store, since the device
// delivers one interleaved multichannel stream regardless of how many
// named ports route it.
func (h *AlsaHost) sharedBuffer(n int) []float32 {
	if cap(h.buf) < n {
		h.buf = make([]float32, n)
	}
	return h.buf[:n]
}

// decode converts interleaved PCM samples in src to interleaved float32 in
// dst, scaling by the configured bit depth's full-scale integer range.
func (h *AlsaHost) decode(src []byte, dst []float32) {
	switch h.bitDepth {
	case 16:
		const scale = 1.0 / 32768.0
		for i := 0; i*2 < len(src) && i < len(dst); i++ {
			v := int16(binary.LittleEndian.Uint16(src[i*2 : i*2+2]))
			dst[i] = float32(v) * scale
		}
	case 32:
		const scale = 1.0 / 2147483648.0
		for i := 0; i*4 < len(src) && i < len(dst); i++ {
			v := int32(binary.LittleEndian.Uint32(src[i*4 : i*4+4]))
			dst[i] = float32(v) * scale
		}
	}
}

func (h *AlsaHost) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	started := h.started
	h.mu.Unlock()

	close(h.stop)
	if started {
		<-h.done
	}
	if h.dev != nil {
		h.dev.Close()
	}
	return nil
}

// alsaPort is a named view over its AlsaHost's single shared capture
// buffer; see RegisterPort.
type alsaPort struct {
	name string
	h    *AlsaHost
}

func (p *alsaPort) Name() string { return p.name }

func (p *alsaPort) Buffer(nframes int) []float32 {
	return p.h.sharedBuffer(nframes)
}
