/*
NAME
  sender.go

DESCRIPTION
  sender.go implements the Sender pipeline: a real-time audio callback that
  writes whole chunks into a lock-free ring, and a network goroutine that
  drains the ring over a reconnecting TCP connection, mirroring the
  teacher's rtmpSender dial/restart pattern but against a non-blocking raw
  TCP socket instead of an RTMP connection.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package sender implements the sending side of the stream: it owns the
// real-time audio callback that encodes captured frames into the wire
// protocol and pushes them into a ring, and the network loop that streams
// the ring's contents to a receiver over TCP, reconnecting with backoff
// when the connection drops.
package sender

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/ausocean/tcpaudio/audio"
	"github.com/ausocean/tcpaudio/ring"
	"github.com/ausocean/tcpaudio/wire"
	"github.com/ausocean/utils/logging"
)

// State is the sender's connection state, per the reconnect state machine.
type State int32

const (
	Disconnected State = iota
	Connecting
	Streaming
	Broken
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Broken:
		return "broken"
	default:
		return "unknown"
	}
}

// reconnectBackoff is the fixed delay between connection attempts.
const reconnectBackoff = 1 * time.Second

// netPollInterval is how long the network loop sleeps between drain
// attempts when there is nothing new to send.
const netPollInterval = 10 * time.Millisecond

// ringSize is the size in bytes of the sender's audio ring, sized to hold
// several seconds of multichannel float32 audio at typical rates.
const ringSize = 1 << 20

// Config configures a Sender.
type Config struct {
	Addr       string // destination host:port to dial.
	SampleRate uint32
	NChannel   uint32
}

// Sender owns the ring a real-time callback writes into and the network
// goroutine that drains it to addr, reconnecting on failure.
type Sender struct {
	cfg Config
	log logging.Logger

	r     *ring.Ring
	state atomic.Int32

	mu     sync.Mutex
	conn   net.Conn
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup

	// running is true only while the connection is Streaming; the audio
	// callback checks it before touching the ring at all, so the producer
	// is fully disabled in every other state (spec.md §4.3, §4.4, §9).
	running        atomic.Bool
	sentParameters atomic.Bool
}

// New returns a Sender configured per cfg. It does not dial or start
// streaming until Start is called.
func New(cfg Config, log logging.Logger) *Sender {
	return &Sender{
		cfg:  cfg,
		log:  log,
		r:    ring.New(ringSize),
		done: make(chan struct{}),
	}
}

// State returns the sender's current connection state.
func (s *Sender) State() State { return State(s.state.Load()) }

func (s *Sender) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st {
		s.log.Debug("sender state transition", "from", old.String(), "to", st.String())
	}
}

// Start launches the network goroutine. Callback (below) should be wired to
// the host's capture port via audio.Host.SetCallback before the host is
// activated.
func (s *Sender) Start() {
	s.wg.Add(1)
	go s.netLoop()
}

// Stop terminates the network goroutine and closes the connection.
func (s *Sender) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()
	s.running.Store(false)
	s.wg.Wait()
	s.closeConn()
}

// Callback is the real-time audio callback: it encodes nframes of captured
// samples from port into the wire protocol and writes them into the ring as
// a single whole chunk, never a partial header. Per spec.md §4.4, if the
// connection isn't Streaming (running == false) or the ring lacks room for
// the whole chunk, the callback returns immediately and the samples are
// dropped; it never blocks. It does allocate: a temporary buffer for the
// parameters chunk on the first call after each connect, and a temporary
// chunk buffer whenever the ring's free space wraps past the end of its
// backing buffer.
func (s *Sender) Callback(port audio.Port, nchannel, nframes int) {
	if !s.running.Load() {
		return
	}
	if !s.sentParameters.Load() {
		s.writeParameters()
	}
	s.writeAudioChunk(port, nchannel, nframes)
}

func (s *Sender) writeParameters() {
	buf := make([]byte, wire.HeaderSize+wire.ParametersBodySize)
	n := wire.EncodeParametersChunk(buf, wire.Parameters{
		SampleRate: s.cfg.SampleRate,
		NChannel:   s.cfg.NChannel,
		SampleType: wire.Float32Native,
	})
	if s.r.Write(n, buf) {
		s.sentParameters.Store(true)
	}
}

func (s *Sender) writeAudioChunk(port audio.Port, nchannel, nframes int) {
	payload := nframes * nchannel * wire.SampleSize
	total := wire.HeaderSize + payload
	if s.r.AvailableWrite() < total {
		// No room for a whole chunk; drop this period's audio rather than
		// write a partial chunk the decoder could never complete.
		return
	}
	span := s.r.BorrowWrite(total)
	if len(span) < total {
		// Not enough contiguous space; fall back to a temporary buffer so
		// the chunk is still written as one atomic unit.
		buf := make([]byte, total)
		s.encodeChunk(buf, port, nchannel, nframes)
		s.r.Write(total, buf)
		return
	}
	s.encodeChunk(span, port, nchannel, nframes)
	s.r.CommitWrite(total)
}

func (s *Sender) encodeChunk(buf []byte, port audio.Port, nchannel, nframes int) {
	payload := nframes * nchannel * wire.SampleSize
	wire.PutHeader(buf, wire.Header{Type: wire.TypeAudioChunk, Payload: uint32(payload)})
	samples := port.Buffer(nframes * nchannel)
	wire.PutFloat32Frames(buf[wire.HeaderSize:], nframes, nchannel, func(ch, fr int) float32 {
		return samples[fr*nchannel+ch]
	})
}

// netLoop drives the reconnect state machine and, while connected, drains
// the ring to the socket.
func (s *Sender) netLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		default:
		}

		switch s.State() {
		case Disconnected, Broken:
			s.setState(Connecting)
			if err := s.dial(); err != nil {
				s.log.Warning("dial failed, backing off", "error", err.Error())
				s.setState(Broken)
				s.sleepOrStop(reconnectBackoff)
				s.setState(Disconnected)
				continue
			}
			// running is still false here (set false below on every path
			// that leaves Streaming), so the drain and parameters reset are
			// safe from a concurrent producer per spec.md §4.3 step 1.
			s.r.Reset()
			s.sentParameters.Store(false)
			s.setState(Streaming)
			s.running.Store(true)
		case Streaming:
			if err := s.drain(); err != nil {
				s.running.Store(false)
				s.log.Warning("send failed, reconnecting", "error", err.Error())
				s.closeConn()
				s.setState(Broken)
				s.sleepOrStop(reconnectBackoff)
				s.setState(Disconnected)
			} else {
				s.sleepOrStop(netPollInterval)
			}
		}
	}
}

func (s *Sender) sleepOrStop(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.done:
	case <-t.C:
	}
}

func (s *Sender) dial() error {
	conn, err := net.DialTimeout("tcp", s.cfg.Addr, 5*time.Second)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

func (s *Sender) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// drain writes as much of the ring's readable bytes as the socket accepts
// within a short write deadline: it repeatedly borrows a contiguous span,
// writes it, and commits only the bytes actually accepted. A write that
// times out ends this pass without error; any other write error is returned.
func (s *Sender) drain() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("no connection")
	}

	for {
		span := s.r.BorrowRead(64 << 10)
		if len(span) == 0 {
			return nil
		}
		conn.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := conn.Write(span)
		if n > 0 {
			s.r.CommitRead(n)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil
			}
			return errors.Wrap(err, "write")
		}
		if n < len(span) {
			return nil
		}
	}
}
