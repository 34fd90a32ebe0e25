package receiver

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/ausocean/tcpaudio/wire"
	"github.com/ausocean/utils/logging"
)

func testLogger() logging.Logger {
	return logging.New(logging.Debug, io.Discard, false)
}

func encodeParameters(rate, nchannel uint32) []byte {
	buf := make([]byte, wire.HeaderSize+wire.ParametersBodySize)
	wire.EncodeParametersChunk(buf, wire.Parameters{SampleRate: rate, NChannel: nchannel, SampleType: wire.Float32Native})
	return buf
}

func encodeAudio(frames [][]float32) []byte {
	nchannel := len(frames[0])
	payload := len(frames) * nchannel * wire.SampleSize
	buf := make([]byte, wire.HeaderSize+payload)
	wire.PutHeader(buf, wire.Header{Type: wire.TypeAudioChunk, Payload: uint32(payload)})
	wire.PutFloat32Frames(buf[wire.HeaderSize:], len(frames), nchannel, func(ch, fr int) float32 {
		return frames[fr][ch]
	})
	return buf
}

func TestSessionPumpAppliesParametersThenAudio(t *testing.T) {
	s := NewSession("test", 48000, testLogger())
	s.Feed(encodeParameters(48000, 1))
	if err := s.Pump(); err != nil {
		t.Fatalf("pump parameters: %v", err)
	}
	if s.NChannel() != 1 {
		t.Fatalf("expected nchannel 1, got %d", s.NChannel())
	}

	frames := make([][]float32, 32)
	for i := range frames {
		frames[i] = []float32{0.5}
	}
	s.Feed(encodeAudio(frames))
	if err := s.Pump(); err != nil {
		t.Fatalf("pump audio: %v", err)
	}
	if got := s.ReceivedAudioBytes(); got != int64(len(frames)*wire.SampleSize) {
		t.Fatalf("expected %d received bytes, got %d", len(frames)*wire.SampleSize, got)
	}
}

func TestSessionAudioBeforeParametersIsFatal(t *testing.T) {
	s := NewSession("test", 48000, testLogger())
	s.Feed(encodeAudio([][]float32{{1}}))
	if err := s.Pump(); err != wire.ErrAudioBeforeParameters {
		t.Fatalf("expected ErrAudioBeforeParameters, got %v", err)
	}
}

func TestSessionResamplesAndLatchesStarted(t *testing.T) {
	s := NewSession("test", 48000, testLogger())
	s.Feed(encodeParameters(48000, 1))
	s.Pump()

	// 1 second at 1:1 rate, plus 64 frames to cover the resampler's 32-frame
	// look-ahead, so a full second reaches the device-rate ring.
	frames := make([][]float32, 48000+64)
	for i := range frames {
		frames[i] = []float32{0.25}
	}
	s.Feed(encodeAudio(frames[:24000]))
	s.Pump()
	s.Feed(encodeAudio(frames[24000:]))
	s.Pump()

	s.Resample()

	if !s.Started() {
		t.Fatal("expected session to have started playback after buffering 1 full second at 1:1 rate")
	}
}

func TestSessionPlaybackCallbackSilentBeforeStart(t *testing.T) {
	s := NewSession("test", 48000, testLogger())
	buf := make([]float32, 16)
	for i := range buf {
		buf[i] = 1
	}
	s.PlaybackCallback(buf)
	for _, v := range buf {
		if v != 0 {
			t.Fatalf("expected silence before playback starts, got %v", buf)
		}
	}
}

func TestReceiverAcceptsAndStreamsAudio(t *testing.T) {
	r := New(48000, testLogger())
	if err := r.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer r.Close()

	conn, err := net.Dial("tcp", r.ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.Write(encodeParameters(48000, 1))
	frames := make([][]float32, 16)
	for i := range frames {
		frames[i] = []float32{0.1}
	}
	conn.Write(encodeAudio(frames))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sessions := r.Sessions()
		if len(sessions) == 1 && sessions[0].NChannel() == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("receiver never registered a session with applied parameters")
}
