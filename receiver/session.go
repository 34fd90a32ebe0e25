/*
NAME
  session.go

DESCRIPTION
  session.go implements Session, the per-connection state a Receiver keeps
  for a single sender: the raw network ring the connection's bytes land in,
  the decoder pulling wire chunks out of it, the original-rate ring those
  chunks' audio payloads are appended to, the resampler and rate controller
  converting that audio to the device rate, and the device-rate ring the
  real-time playback callback is the sole consumer of.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package receiver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ausocean/tcpaudio/diagnostics"
	"github.com/ausocean/tcpaudio/resample"
	"github.com/ausocean/tcpaudio/ring"
	"github.com/ausocean/tcpaudio/wire"
	"github.com/ausocean/utils/logging"
)

// netRingSize is the size in bytes of a session's raw incoming TCP ring.
const netRingSize = 1 << 18

// sampleRingSize is the size in bytes of a session's original-rate and
// device-rate sample rings.
const sampleRingSize = 1 << 20

// statsLogInterval is the minimum spacing between rate-controller stats log
// lines, matching the reference server's roughly-once-per-second cadence.
const statsLogInterval = 1 * time.Second

// Session holds all per-connection state for one streaming sender.
type Session struct {
	log  logging.Logger
	name string

	netRing *ring.Ring
	decoder *wire.Decoder

	mu           sync.Mutex
	params       wire.Parameters
	haveParams   bool
	originalRing *ring.Ring
	deviceRing   *ring.Ring
	resampler    *resample.Resampler
	rateCtl      *resample.RateController
	nchannel     int

	deviceRate uint32

	lastStatsLog time.Time

	started atomic.Bool

	receivedAudioBytes atomic.Int64
}

// NewSession returns a Session for a newly accepted connection named name
// (typically its remote address), which will play back at deviceRate.
func NewSession(name string, deviceRate uint32, log logging.Logger) *Session {
	s := &Session{
		log:        log,
		name:       name,
		netRing:    ring.New(netRingSize),
		deviceRate: deviceRate,
	}
	s.decoder = wire.NewDecoder(s.netRing)
	return s
}

// Name returns the session's identifying name.
func (s *Session) Name() string { return s.name }

// Feed appends received network bytes into the session's raw ring. It
// returns false if the ring lacks room, in which case the caller should
// treat the connection as broken (the protocol does not define partial
// backpressure on receive).
func (s *Session) Feed(b []byte) bool {
	return s.netRing.Write(len(b), b)
}

// Pump decodes as many complete chunks as are currently buffered in the
// raw ring, applying stream-parameters chunks and appending audio-chunk
// payloads to the original-rate ring. It is safe to call repeatedly as
// more bytes arrive; it stops (returning nil) as soon as a chunk is
// incomplete.
func (s *Session) Pump() error {
	for {
		h, err := s.decoder.Next()
		if err == wire.ErrIncomplete {
			return nil
		}
		if err != nil {
			return err
		}
		switch h.Type {
		case wire.TypeStreamParameters:
			if err := s.applyParameters(h); err != nil {
				return err
			}
		case wire.TypeAudioChunk:
			if err := s.appendAudio(h); err != nil {
				return err
			}
		}
	}
}

func (s *Session) applyParameters(h wire.Header) error {
	buf := make([]byte, h.Payload)
	if !s.netRing.Read(int(h.Payload), buf) {
		return wire.ErrIncomplete
	}
	p := wire.ParseParameters(buf)
	if p.SampleType != wire.Float32Native {
		return wire.ErrUnknownSampleType
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p
	s.haveParams = true
	s.nchannel = int(p.NChannel)
	s.originalRing = ring.New(sampleRingSize)
	s.deviceRing = ring.New(sampleRingSize)
	s.resampler = resample.New(s.nchannel, p.SampleRate, s.deviceRate)
	s.rateCtl = resample.NewRateController(p.SampleRate, resample.DefaultTargetBufferedSeconds)
	s.started.Store(false)
	s.log.Info("session stream parameters received", "session", s.name, "samplerate", p.SampleRate, "nchannel", p.NChannel)
	return nil
}

func (s *Session) appendAudio(h wire.Header) error {
	buf := make([]byte, h.Payload)
	if !s.netRing.Read(int(h.Payload), buf) {
		return wire.ErrIncomplete
	}
	s.receivedAudioBytes.Add(int64(len(buf)))

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveParams {
		return wire.ErrAudioBeforeParameters
	}
	if !s.originalRing.Write(len(buf), buf) {
		// Sender is outrunning the original-rate ring; drop this chunk
		// rather than block the decode loop.
		s.log.Warning("original-rate ring full, dropping audio chunk", "session", s.name)
	}
	return nil
}

// ReceivedAudioBytes returns the cumulative number of audio-chunk payload
// bytes received on this session, for diagnostics.
func (s *Session) ReceivedAudioBytes() int64 { return s.receivedAudioBytes.Load() }

// Resample drains whatever original-rate frames are buffered, pushes them
// through the resampler, and appends every output frame it can produce to
// the device-rate ring. It also updates the resampler's input rate from
// the rate controller based on current device-ring occupancy, and latches
// started once the device ring holds the target buffered duration.
func (s *Session) Resample() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveParams {
		return
	}

	frame := make([]float32, s.nchannel)
	frameBytes := s.nchannel * wire.SampleSize
	for s.originalRing.AvailableRead() >= frameBytes {
		raw := make([]byte, frameBytes)
		s.originalRing.Read(frameBytes, raw)
		for c := 0; c < s.nchannel; c++ {
			frame[c] = wire.ParseFloat32(raw[c*wire.SampleSize:])
		}
		s.resampler.Push(frame)
		for s.resampler.Ready() {
			out := make([]float32, s.nchannel)
			s.resampler.Pop(out)
			outBytes := make([]byte, frameBytes)
			for c, v := range out {
				wire.PutFloat32(outBytes[c*wire.SampleSize:], v)
			}
			if !s.deviceRing.Write(frameBytes, outBytes) {
				s.log.Warning("device-rate ring full, dropping resampled frame", "session", s.name)
			}
		}
	}

	bufferedFrames := s.deviceRing.AvailableRead() / frameBytes
	bufferedSeconds := float64(bufferedFrames) / float64(s.deviceRate)
	s.resampler.SetInRate(s.rateCtl.Update(bufferedSeconds))

	if now := time.Now(); now.Sub(s.lastStatsLog) >= statsLogInterval {
		s.lastStatsLog = now
		mean, variance := s.rateCtl.Stats()
		s.log.Debug("session buffer stats", "session", s.name, "buffered_seconds", bufferedSeconds,
			"mean_buffered_seconds", mean, "variance_buffered_seconds", variance, "resampler_in_rate", s.resampler.InRate())
	}

	if !s.started.Load() && bufferedSeconds >= resample.DefaultTargetBufferedSeconds {
		s.started.Store(true)
		s.log.Info("session playback starting", "session", s.name, "buffered_seconds", bufferedSeconds)
	}
}

// Started reports whether the session has buffered enough audio to begin
// playback.
func (s *Session) Started() bool { return s.started.Load() }

// DiagnosticSample captures the session's current state for persistence by
// package diagnostics.
func (s *Session) DiagnosticSample() diagnostics.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample := diagnostics.Sample{
		Session:            s.name,
		NChannel:           s.nchannel,
		ReceivedAudioBytes: s.receivedAudioBytes.Load(),
		Started:            s.started.Load(),
	}
	if s.haveParams {
		sample.SampleRate = s.params.SampleRate
		sample.ResamplerInRate = s.resampler.InRate()
		frameBytes := s.nchannel * wire.SampleSize
		if frameBytes > 0 {
			bufferedFrames := s.deviceRing.AvailableRead() / frameBytes
			sample.BufferedSeconds = float64(bufferedFrames) / float64(s.deviceRate)
		}
	}
	return sample
}

// NChannel returns the session's declared channel count, or 0 if stream
// parameters have not yet arrived.
func (s *Session) NChannel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nchannel
}

// PlaybackCallback is the real-time audio callback for this session: it is
// the device-rate ring's sole consumer. If playback hasn't started yet, or
// fewer samples are buffered than requested, it fills the remainder of buf
// with silence rather than blocking.
func (s *Session) PlaybackCallback(buf []float32) {
	if !s.started.Load() || s.deviceRing == nil {
		for i := range buf {
			buf[i] = 0
		}
		return
	}
	need := len(buf) * wire.SampleSize
	raw := make([]byte, need)
	got := s.deviceRing.AvailableRead()
	if got > need {
		got = need
	}
	got -= got % wire.SampleSize
	s.deviceRing.Read(got, raw[:got])
	for i := range buf {
		off := i * wire.SampleSize
		if off+wire.SampleSize <= got {
			buf[i] = wire.ParseFloat32(raw[off:])
		} else {
			buf[i] = 0
		}
	}
}
