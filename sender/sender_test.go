package sender

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/ausocean/tcpaudio/audio"
	"github.com/ausocean/tcpaudio/wire"
	"github.com/ausocean/utils/logging"
)

func testLogger() logging.Logger {
	return logging.New(logging.Debug, io.Discard, false)
}

// waitForStreaming blocks until s reaches Streaming or the deadline expires.
func waitForStreaming(t *testing.T, s *Sender) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == Streaming {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("sender never reached Streaming state, stuck at %v", s.State())
}

func TestCallbackWritesParametersThenAudio(t *testing.T) {
	s := New(Config{Addr: "unused:0", SampleRate: 48000, NChannel: 2}, testLogger())
	host := audio.NewSimHost(48000)
	port, err := host.RegisterPort("capture_1", audio.PortInput)
	if err != nil {
		t.Fatalf("register port: %v", err)
	}

	buf := port.Buffer(4 * 2)
	for i := range buf {
		buf[i] = float32(i)
	}
	s.running.Store(true) // simulate Streaming without a real netLoop/connection.
	s.Callback(port, 2, 4)

	d := wire.NewDecoder(s.r)
	h, err := d.Next()
	if err != nil {
		t.Fatalf("decode parameters chunk: %v", err)
	}
	if h.Type != wire.TypeStreamParameters {
		t.Fatalf("expected parameters chunk first, got type %d", h.Type)
	}
	s.r.Read(int(h.Payload), nil)

	h, err = d.Next()
	if err != nil {
		t.Fatalf("decode audio chunk: %v", err)
	}
	if h.Type != wire.TypeAudioChunk {
		t.Fatalf("expected audio chunk, got type %d", h.Type)
	}
	wantPayload := 4 * 2 * wire.SampleSize
	if int(h.Payload) != wantPayload {
		t.Fatalf("expected payload %d, got %d", wantPayload, h.Payload)
	}
}

func TestCallbackDropsChunkWhenRingFull(t *testing.T) {
	s := New(Config{Addr: "unused:0", SampleRate: 48000, NChannel: 1}, testLogger())
	host := audio.NewSimHost(48000)
	port, _ := host.RegisterPort("capture_1", audio.PortInput)
	s.running.Store(true) // simulate Streaming without a real netLoop/connection.

	// Prime parameters so only audio-chunk drop behaviour is under test.
	s.Callback(port, 1, 1)

	// Fill the ring almost entirely so the next chunk cannot fit.
	for s.r.AvailableWrite() > wire.HeaderSize {
		if !s.r.Write(1, []byte{0}) {
			break
		}
	}
	full := s.r.AvailableRead()
	s.Callback(port, 1, 4096)
	if s.r.AvailableRead() != full {
		t.Fatalf("expected dropped chunk to leave ring unchanged: before=%d after=%d", full, s.r.AvailableRead())
	}
}

// TestNetLoopStreamsToListener exercises the full reconnect/drain path
// against a real in-process TCP listener.
func TestNetLoopStreamsToListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, wire.HeaderSize+wire.ParametersBodySize)
		io.ReadFull(conn, buf)
		received <- buf
	}()

	s := New(Config{Addr: ln.Addr().String(), SampleRate: 48000, NChannel: 1}, testLogger())
	host := audio.NewSimHost(48000)
	port, _ := host.RegisterPort("capture_1", audio.PortInput)
	s.Start()
	defer s.Stop()

	waitForStreaming(t, s)
	s.Callback(port, 1, 16)

	select {
	case buf := <-received:
		if len(buf) != wire.HeaderSize+wire.ParametersBodySize {
			t.Fatalf("unexpected received length %d", len(buf))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for sender to stream parameters chunk")
	}
}

func TestStateTransitionsThroughConnectingToStreaming(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(io.Discard, conn)
	}()

	s := New(Config{Addr: ln.Addr().String(), SampleRate: 48000, NChannel: 1}, testLogger())
	if s.State() != Disconnected {
		t.Fatalf("expected initial state Disconnected, got %v", s.State())
	}
	s.Start()
	defer s.Stop()

	waitForStreaming(t, s)
}
