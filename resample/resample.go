/*
NAME
  resample.go

DESCRIPTION
  resample.go implements a polyphase windowed-sinc resampler whose input
  rate can be adjusted at runtime, used by the receiver to convert a
  session's original sample rate to the local device rate while tracking
  small amounts of clock drift between sender and receiver.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package resample implements a runtime rate-adjustable polyphase resampler
// built on a windowed-sinc FIR low-pass kernel, the same construction the
// teacher's PCM filter package uses for its selective-frequency filters
// (github.com/mjibson/go-dsp/window). Rather than that package's one-shot
// fastConvolve over a whole buffer, the kernel here is split into a bank of
// fractional-delay phases so individual output frames can be produced as
// input arrives, and the effective input rate can be nudged between frames
// to let a Receiver session track sender clock drift.
package resample

import (
	"math"

	"github.com/mjibson/go-dsp/window"
)

// halfTaps is the FIR kernel half-width in input samples on each side of
// the interpolation point; it trades latency and CPU for stop-band
// attenuation.
const halfTaps = 16

// numPhases is the number of fractional-delay positions the kernel bank is
// precomputed for between consecutive input samples.
const numPhases = 256

// Resampler converts a stream of interleaved multichannel float32 samples
// from an adjustable input rate to a fixed output rate using a polyphase
// windowed-sinc filter bank. It is driven one input frame at a time via
// Push and one output frame at a time via Pop.
type Resampler struct {
	nchannel int
	outRate  uint32
	inRate   uint32
	step     float64 // input frames advanced per output frame = inRate/outRate.

	history    [][]float64 // per-channel history, oldest first.
	startIndex int         // absolute input-frame index of history[0].
	count      int         // total frames ever pushed.
	pos        float64     // next output frame's fractional input-domain position.

	phaseKernels [numPhases][2*halfTaps + 1]float64
	builtFc      float64
}

// New returns a Resampler for nchannel-channel audio, converting from
// inRate to a fixed outRate.
func New(nchannel int, inRate, outRate uint32) *Resampler {
	r := &Resampler{
		nchannel: nchannel,
		outRate:  outRate,
	}
	for c := 0; c < nchannel; c++ {
		r.history = append(r.history, nil)
	}
	r.pos = float64(halfTaps)
	r.SetInRate(inRate)
	return r
}

// SetInRate adjusts the resampler's input rate. It may be called between
// Push/Pop calls to nudge playback speed, as done by a rate controller
// tracking buffer occupancy.
func (r *Resampler) SetInRate(inRate uint32) {
	r.inRate = inRate
	r.step = float64(inRate) / float64(r.outRate)

	// The anti-aliasing cutoff tracks whichever side is slower (so we never
	// pass energy the narrower side can't represent), scaled slightly under
	// its Nyquist to leave transition-band headroom, matching the rationale
	// of newLoHiFilter's fc bound (0 < fc < rate/2).
	fc := 0.45
	if r.step > 1 {
		fc = 0.45 / r.step
	}
	if fc != r.builtFc {
		r.buildKernelBank(fc)
		r.builtFc = fc
	}
}

// InRate returns the resampler's current input rate.
func (r *Resampler) InRate() uint32 { return r.inRate }

// buildKernelBank precomputes, for each of numPhases fractional delays d in
// [0,1), a windowed-sinc kernel sampling the ideal low-pass response at
// (n - halfTaps - d) for n in [0, 2*halfTaps], normalized to unity DC gain.
func (r *Resampler) buildKernelBank(fc float64) {
	win := window.FlatTop(2*halfTaps + 1)
	for p := 0; p < numPhases; p++ {
		d := float64(p) / float64(numPhases)
		sum := 0.0
		for n := 0; n <= 2*halfTaps; n++ {
			x := float64(n-halfTaps) - d
			var v float64
			if x == 0 {
				v = 2 * fc
			} else {
				v = 2 * fc * math.Sin(2*math.Pi*fc*x) / (math.Pi * x)
			}
			v *= win[n]
			r.phaseKernels[p][n] = v
			sum += v
		}
		for n := range r.phaseKernels[p] {
			r.phaseKernels[p][n] /= sum
		}
	}
}

// Push feeds one input frame (nchannel samples) into the resampler's
// history window.
func (r *Resampler) Push(frame []float32) {
	for c := 0; c < r.nchannel; c++ {
		r.history[c] = append(r.history[c], float64(frame[c]))
	}
	r.count++
	r.trim()
}

// trim drops history no longer reachable by any future Pop, keeping a
// margin of halfTaps frames behind the earliest position still needed.
func (r *Resampler) trim() {
	keepFrom := int(math.Floor(r.pos)) - halfTaps - 1
	drop := keepFrom - r.startIndex
	if drop <= 0 {
		return
	}
	if drop > len(r.history[0]) {
		drop = len(r.history[0])
	}
	for c := range r.history {
		r.history[c] = r.history[c][drop:]
	}
	r.startIndex += drop
}

// Ready reports whether enough input has been buffered to produce the next
// output frame.
func (r *Resampler) Ready() bool {
	hi := int(math.Ceil(r.pos)) + halfTaps
	return hi < r.count
}

// Pop computes the next output frame from the kernel bank phase nearest the
// current fractional position and advances the position by one output
// step's worth of input frames. The caller must check Ready first.
func (r *Resampler) Pop(out []float32) {
	base := int(math.Floor(r.pos))
	frac := r.pos - float64(base)
	phase := int(frac*numPhases + 0.5)
	if phase >= numPhases {
		phase = numPhases - 1
	}
	kernel := r.phaseKernels[phase]

	rel := base - r.startIndex
	for c := 0; c < r.nchannel; c++ {
		h := r.history[c]
		var acc float64
		for n := 0; n <= 2*halfTaps; n++ {
			idx := rel + (n - halfTaps)
			if idx < 0 {
				idx = 0
			}
			if idx >= len(h) {
				idx = len(h) - 1
			}
			acc += kernel[n] * h[idx]
		}
		out[c] = float32(acc)
	}
	r.pos += r.step
}
