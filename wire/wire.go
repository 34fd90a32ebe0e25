/*
NAME
  wire.go

DESCRIPTION
  wire.go encodes and decodes the framed chunk protocol carried over the
  TCP byte stream between Sender and Receiver.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package wire implements the framed chunk protocol shared by the sender and
// receiver: an 8-byte little-endian (type, payload) header followed by
// exactly payload bytes, and a resumable decoder that can be fed a raw byte
// stream (via a ring.Ring) in arbitrarily small pieces.
package wire

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/ausocean/tcpaudio/ring"
)

// Chunk types. See tcp-protocol.h in the original reference implementation.
const (
	TypeAudioChunk       uint32 = 1
	TypeStreamParameters uint32 = 2
)

// SampleType identifies the wire encoding of a single audio sample. Only
// Float32Native is produced or accepted; the field exists on the wire for
// forward compatibility but any other value is a fatal stream error (see
// spec.md §9, Open Question: sampletype).
const Float32Native uint32 = 0

// HeaderSize is the size in bytes of a chunk header.
const HeaderSize = 8

// ParametersBodySize is the size in bytes of a stream-parameters chunk body
// (i.e. its payload, following the 8-byte header).
const ParametersBodySize = 12

// SampleSize is the size in bytes of a single float32 sample.
const SampleSize = 4

// ErrUnknownType is returned by the decoder when it encounters a chunk type
// outside {TypeAudioChunk, TypeStreamParameters}. Per spec.md §4.2 this is a
// fatal stream error.
var ErrUnknownType = errors.New("wire: unknown chunk type")

// ErrUnknownSampleType is returned when a stream-parameters chunk declares a
// sampletype other than Float32Native.
var ErrUnknownSampleType = errors.New("wire: unsupported sample type")

// ErrAudioBeforeParameters is returned when an audio chunk is the first
// chunk seen on a connection.
var ErrAudioBeforeParameters = errors.New("wire: audio chunk received before stream parameters")

// Header is the 8-byte record framing every chunk on the wire.
type Header struct {
	Type    uint32
	Payload uint32
}

// PutHeader encodes h into buf, which must be at least HeaderSize bytes.
func PutHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Type)
	binary.LittleEndian.PutUint32(buf[4:8], h.Payload)
}

// Parameters is the body of a TypeStreamParameters chunk.
type Parameters struct {
	SampleRate uint32
	NChannel   uint32
	SampleType uint32
}

// PutParameters encodes p into buf, which must be at least
// ParametersBodySize bytes.
func PutParameters(buf []byte, p Parameters) {
	binary.LittleEndian.PutUint32(buf[0:4], p.SampleRate)
	binary.LittleEndian.PutUint32(buf[4:8], p.NChannel)
	binary.LittleEndian.PutUint32(buf[8:12], p.SampleType)
}

// ParseParameters decodes a ParametersBodySize-byte buffer into a Parameters
// value.
func ParseParameters(buf []byte) Parameters {
	return Parameters{
		SampleRate: binary.LittleEndian.Uint32(buf[0:4]),
		NChannel:   binary.LittleEndian.Uint32(buf[4:8]),
		SampleType: binary.LittleEndian.Uint32(buf[8:12]),
	}
}

// EncodeParametersChunk writes a complete stream-parameters chunk (header +
// body) to buf, which must be at least HeaderSize+ParametersBodySize bytes,
// and returns the number of bytes written.
func EncodeParametersChunk(buf []byte, p Parameters) int {
	PutHeader(buf, Header{Type: TypeStreamParameters, Payload: ParametersBodySize})
	PutParameters(buf[HeaderSize:], p)
	return HeaderSize + ParametersBodySize
}

// PutFloat32Frames writes nframes frames of nchannel interleaved float32
// samples (channel-first: frame[0].ch0, frame[0].ch1, ..., frame[1].ch0, ...)
// into buf in native wire order (little-endian IEEE-754), reading samples
// from a per-channel accessor. buf must be at least
// nframes*nchannel*SampleSize bytes.
func PutFloat32Frames(buf []byte, nframes, nchannel int, sample func(channel, frame int) float32) {
	i := 0
	for f := 0; f < nframes; f++ {
		for c := 0; c < nchannel; c++ {
			binary.LittleEndian.PutUint32(buf[i:i+4], math.Float32bits(sample(c, f)))
			i += 4
		}
	}
}

// ParseFloat32 decodes a single little-endian float32 sample at buf[0:4].
func ParseFloat32(buf []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4]))
}

// PutFloat32 encodes a single float32 sample into buf[0:4] in native wire
// order.
func PutFloat32(buf []byte, f float32) {
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(f))
}

// Decoder is a resumable parser that pulls chunks out of a ring.Ring. Apart
// from whether a stream-parameters chunk has been seen, it retains no state
// across Next calls beyond what is already buffered in the ring, so a byte
// stream may be split arbitrarily across many Feed/Next
// cycles (the caller is expected to write into the ring directly and then
// call Next in a loop until it returns ErrIncomplete).
type Decoder struct {
	r             *ring.Ring
	sawParameters bool
}

// NewDecoder returns a Decoder reading chunk headers and bodies from r.
func NewDecoder(r *ring.Ring) *Decoder {
	return &Decoder{r: r}
}

// ErrIncomplete is returned by Next when the ring does not yet contain a
// full chunk (header, or header+payload). The caller should feed more bytes
// into the ring and call Next again; no bytes are consumed.
var ErrIncomplete = errors.New("wire: incomplete chunk buffered")

// Next attempts to decode and consume the next chunk from the ring. On
// success it returns the chunk's Header and the bytes of its payload are
// left positioned at the start of the ring's readable region (the caller
// reads exactly Payload bytes immediately after Next returns, before the
// next call to Next). On ErrIncomplete, no bytes are consumed and the
// caller should try again once more data has arrived. Any other error is
// fatal to the stream (per spec.md §4.2, §7).
func (d *Decoder) Next() (Header, error) {
	var hbuf [HeaderSize]byte
	if !d.r.Peek(HeaderSize, hbuf[:]) {
		return Header{}, ErrIncomplete
	}
	h := Header{
		Type:    binary.LittleEndian.Uint32(hbuf[0:4]),
		Payload: binary.LittleEndian.Uint32(hbuf[4:8]),
	}
	if d.r.AvailableRead() < HeaderSize+int(h.Payload) {
		return Header{}, ErrIncomplete
	}
	switch h.Type {
	case TypeStreamParameters:
		d.sawParameters = true
	case TypeAudioChunk:
		if !d.sawParameters {
			return Header{}, ErrAudioBeforeParameters
		}
	default:
		return Header{}, errors.Wrapf(ErrUnknownType, "type=%d", h.Type)
	}
	d.r.Read(HeaderSize, nil)
	return h, nil
}

// Reset clears the decoder's "have we seen parameters yet" state. Used when
// a session is torn down and its ring is about to be reused (not done in
// this implementation, but kept for symmetry with a fresh connection).
func (d *Decoder) Reset() { d.sawParameters = false }
