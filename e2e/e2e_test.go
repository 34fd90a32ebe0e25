/*
NAME
  e2e_test.go

DESCRIPTION
  e2e_test.go exercises the full sender-to-receiver pipeline over a real
  loopback TCP connection, starting from a WAV fixture decoded with
  github.com/go-audio/wav the way the teacher's FLAC-to-WAV path
  (exp/flac/decode.go) builds and reads WAV data.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package e2e

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/ausocean/tcpaudio/audio"
	"github.com/ausocean/tcpaudio/receiver"
	"github.com/ausocean/tcpaudio/sender"
	"github.com/ausocean/utils/logging"
)

// writeSeeker is a minimal in-memory io.WriteSeeker, as used by the
// teacher's FLAC-to-WAV decode path.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	need := w.pos + len(p)
	if need > len(w.buf) {
		grown := make([]byte, need)
		copy(grown, w.buf)
		w.buf = grown
	}
	copy(w.buf[w.pos:], p)
	w.pos += len(p)
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var newPos int
	switch whence {
	case io.SeekStart:
		newPos = int(offset)
	case io.SeekCurrent:
		newPos = w.pos + int(offset)
	case io.SeekEnd:
		newPos = len(w.buf) + int(offset)
	}
	w.pos = newPos
	return int64(newPos), nil
}

// buildWAVFixture encodes a mono sine tone as a 16-bit PCM WAV buffer and
// returns its bytes, for round-tripping through wav.Decoder.
func buildWAVFixture(t *testing.T, sampleRate, nsamples int) []byte {
	t.Helper()
	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, sampleRate, 16, 1, 1)

	data := make([]int, nsamples)
	for i := range data {
		data[i] = int(8000 * sinApprox(float64(i)/float64(sampleRate)*440*2*3.14159265))
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           data,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("wav encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("wav encoder close: %v", err)
	}
	return ws.buf
}

// sinApprox avoids importing math just for a fixture generator test helper
// that only needs a bounded oscillating signal, not a precise sine.
func sinApprox(x float64) float64 {
	// Wrap x into [-pi, pi] then use a cheap odd polynomial approximation.
	for x > 3.14159265 {
		x -= 2 * 3.14159265
	}
	for x < -3.14159265 {
		x += 2 * 3.14159265
	}
	x2 := x * x
	return x * (1 - x2/6 + x2*x2/120)
}

func testLogger() logging.Logger {
	return logging.New(logging.Debug, io.Discard, false)
}

func TestSenderToReceiverStreamsDecodedWAVAudio(t *testing.T) {
	const sampleRate = 48000
	wavBytes := buildWAVFixture(t, sampleRate, sampleRate/2) // half a second.

	dec := wav.NewDecoder(bytes.NewReader(wavBytes))
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("wav decode: %v", err)
	}
	if pcm.Format.NumChannels != 1 {
		t.Fatalf("expected mono fixture, got %d channels", pcm.Format.NumChannels)
	}

	r := receiver.New(sampleRate, testLogger())
	if err := r.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer r.Close()

	s := sender.New(sender.Config{
		Addr:       r.Addr(),
		SampleRate: sampleRate,
		NChannel:   1,
	}, testLogger())
	host := audio.NewSimHost(sampleRate)
	port, err := host.RegisterPort("capture_1", audio.PortInput)
	if err != nil {
		t.Fatalf("register port: %v", err)
	}
	s.Start()
	defer s.Stop()

	streamingDeadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(streamingDeadline) && s.State() != sender.Streaming {
		time.Sleep(10 * time.Millisecond)
	}
	if s.State() != sender.Streaming {
		t.Fatalf("sender never reached Streaming state, stuck at %v", s.State())
	}

	const period = 256
	for off := 0; off+period <= len(pcm.Data); off += period {
		buf := port.Buffer(period)
		for i := 0; i < period; i++ {
			buf[i] = float32(pcm.Data[off+i]) / 32768.0
		}
		s.Callback(port, 1, period)
	}

	deadline := time.Now().Add(3 * time.Second)
	var sessions []*receiver.Session
	for time.Now().Before(deadline) {
		sessions = r.Sessions()
		if len(sessions) == 1 && sessions[0].ReceivedAudioBytes() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected exactly one session to register, got %d", len(sessions))
	}
	if got := sessions[0].ReceivedAudioBytes(); got == 0 {
		t.Fatal("expected some audio bytes to have been received")
	}
}

// TestReceiverAddrAvailableBeforeDial checks that Receiver exposes its bound
// address so a Sender can be pointed at an ephemeral test listener.
func TestReceiverAddrAvailableBeforeDial(t *testing.T) {
	r := receiver.New(48000, testLogger())
	if err := r.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer r.Close()
	if r.Addr() == "" {
		t.Fatal("expected non-empty bound address")
	}
	if _, _, err := net.SplitHostPort(r.Addr()); err != nil {
		t.Fatalf("expected host:port address, got %q: %v", r.Addr(), err)
	}
}
