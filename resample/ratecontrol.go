/*
NAME
  ratecontrol.go

DESCRIPTION
  ratecontrol.go implements the buffer-occupancy-driven rate controller
  that nudges a Resampler's input rate to keep a receiver session's
  playback buffer near a target duration despite sender/receiver clock
  drift, mirroring the original reference implementation's resampler
  rate-adjustment thresholds.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package resample

import "gonum.org/v1/gonum/stat"

// DefaultTargetBufferedSeconds is the nominal buffered-duration setpoint a
// RateController steers towards, T in the reference design.
const DefaultTargetBufferedSeconds = 1.0

// RateController watches a session's buffered-seconds occupancy and adjusts
// a Resampler's input rate in ±1-3% steps to converge on the target, the
// same five-band control law as the original stream server.
type RateController struct {
	nominalRate uint32
	target      float64

	samples []float64
}

// NewRateController returns a controller for a stream whose nominal
// (sender-declared) sample rate is nominalRate, targeting targetSeconds of
// buffered audio.
func NewRateController(nominalRate uint32, targetSeconds float64) *RateController {
	return &RateController{nominalRate: nominalRate, target: targetSeconds}
}

// Update observes the session's current buffered duration in seconds and
// returns the input rate the Resampler should now use.
func (c *RateController) Update(bufferedSeconds float64) uint32 {
	c.samples = append(c.samples, bufferedSeconds)
	if len(c.samples) > 256 {
		c.samples = c.samples[len(c.samples)-256:]
	}

	nominal := float64(c.nominalRate)
	switch {
	case bufferedSeconds > c.target*1.4:
		return uint32(1.03 * nominal)
	case bufferedSeconds > c.target*1.2:
		return uint32(1.01 * nominal)
	case bufferedSeconds < c.target*0.6:
		return uint32(0.97 * nominal)
	case bufferedSeconds < c.target*0.8:
		return uint32(0.99 * nominal)
	default:
		return c.nominalRate
	}
}

// Stats returns the rolling mean and variance of recently observed
// buffered-seconds samples, for diagnostics logging.
func (c *RateController) Stats() (mean, variance float64) {
	if len(c.samples) == 0 {
		return 0, 0
	}
	return stat.MeanVariance(c.samples, nil)
}
