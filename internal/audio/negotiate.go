package audio

import "strings"

// DeviceRange describes one supported stream-configuration range reported by
// a capture or playback device, mirroring the fields malgo/miniaudio expose
// per device.
type DeviceRange struct {
	MinChannels int
	MaxChannels int
	MinRate     int
	MaxRate     int
}

// supports reports whether the range covers the given rate and channel count.
func (d DeviceRange) supports(rate, channels int) bool {
	return rate >= d.MinRate && rate <= d.MaxRate &&
		channels >= d.MinChannels && channels <= d.MaxChannels
}

// NegotiatedConfig is the outcome of device negotiation: the device's native
// rate/channel count to open it at, and whether the pipeline must resample
// to/from TargetSampleRate.
type NegotiatedConfig struct {
	Rate     int
	Channels int
	Resample bool
}

// preferredFallbackRates is tried, in order, before resorting to the
// fallback clamp, per spec.md §4.2 priority list.
var preferredFallbackRates = []int{96000, 44100, 24000, 16000, 8000}

// Negotiate applies spec.md §4.2's four-tier device negotiation priority:
//  1. Exact 48 kHz mono — no resample, no channel conversion.
//  2. 48 kHz, N channels — no resample, channel convert only.
//  3. One of {96000,44100,24000,16000,8000} Hz, preferring mono — resample.
//  4. Fallback: clamp to the device's supported range, resampling.
func Negotiate(ranges []DeviceRange) NegotiatedConfig {
	for _, r := range ranges {
		if r.supports(TargetSampleRate, 1) {
			return NegotiatedConfig{Rate: TargetSampleRate, Channels: 1, Resample: false}
		}
	}
	for _, r := range ranges {
		if r.MinRate <= TargetSampleRate && TargetSampleRate <= r.MaxRate {
			return NegotiatedConfig{Rate: TargetSampleRate, Channels: r.MinChannels, Resample: false}
		}
	}
	for _, rate := range preferredFallbackRates {
		for _, r := range ranges {
			if r.supports(rate, 1) {
				return NegotiatedConfig{Rate: rate, Channels: 1, Resample: true}
			}
		}
		for _, r := range ranges {
			if rate >= r.MinRate && rate <= r.MaxRate {
				return NegotiatedConfig{Rate: rate, Channels: r.MinChannels, Resample: true}
			}
		}
	}
	return fallbackClamp(ranges)
}

// fallbackClamp picks the first range's minimum channel count and clamps its
// rate bounds to a sane ceiling, matching the original's "fallback clamp
// <=96kHz" behavior when nothing else matched.
func fallbackClamp(ranges []DeviceRange) NegotiatedConfig {
	if len(ranges) == 0 {
		return NegotiatedConfig{Rate: TargetSampleRate, Channels: 1, Resample: true}
	}
	r := ranges[0]
	rate := r.MaxRate
	if rate > 96000 {
		rate = 96000
	}
	if rate < r.MinRate {
		rate = r.MinRate // device's floor exceeds our 96kHz ceiling
	}
	return NegotiatedConfig{Rate: rate, Channels: r.MinChannels, Resample: rate != TargetSampleRate}
}

// FindDeviceByName looks up a device by case-insensitive exact or
// substring match against its description, returning its index, or false
// when no description matches.
func FindDeviceByName(name string, descriptions []string) (int, bool) {
	for i, d := range descriptions {
		if strings.EqualFold(d, name) {
			return i, true
		}
	}
	for i, d := range descriptions {
		if name != "" && strings.Contains(strings.ToLower(d), strings.ToLower(name)) {
			return i, true
		}
	}
	return -1, false
}
