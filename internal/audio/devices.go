package audio

import (
	"fmt"

	"github.com/gen2brain/malgo"
)

// DeviceRanges queries the native stream-configuration ranges malgo/miniaudio
// reports for one playback or capture device (nil selects the default
// device), for use by Negotiate per spec.md §4.2.
func DeviceRanges(ctx *malgo.AllocatedContext, deviceType malgo.DeviceType, id *malgo.DeviceID) ([]DeviceRange, error) {
	infos, err := ctx.Devices(deviceType)
	if err != nil {
		return nil, fmt.Errorf("audio: enumerate devices: %w", err)
	}

	var target *malgo.DeviceInfo
	for i := range infos {
		if id == nil {
			if infos[i].IsDefault != 0 {
				target = &infos[i]
				break
			}
			continue
		}
		if infos[i].ID == *id {
			target = &infos[i]
			break
		}
	}
	if target == nil && len(infos) > 0 {
		target = &infos[0]
	}
	if target == nil {
		return nil, fmt.Errorf("audio: no devices of type %v found", deviceType)
	}

	full, err := ctx.DeviceInfo(deviceType, target.ID, malgo.Shared)
	if err != nil {
		return nil, fmt.Errorf("audio: query device info: %w", err)
	}

	ranges := make([]DeviceRange, 0, len(full.NativeDataFormats))
	for _, f := range full.NativeDataFormats {
		ranges = append(ranges, DeviceRange{
			MinChannels: int(f.Channels),
			MaxChannels: int(f.Channels),
			MinRate:     int(f.SampleRate),
			MaxRate:     int(f.SampleRate),
		})
	}
	return ranges, nil
}

// DeviceDescriptions returns the human-readable names of all devices of the
// given type, for FindDeviceByName.
func DeviceDescriptions(ctx *malgo.AllocatedContext, deviceType malgo.DeviceType) ([]string, []malgo.DeviceID, error) {
	infos, err := ctx.Devices(deviceType)
	if err != nil {
		return nil, nil, fmt.Errorf("audio: enumerate devices: %w", err)
	}
	names := make([]string, len(infos))
	ids := make([]malgo.DeviceID, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
		ids[i] = info.ID
	}
	return names, ids, nil
}
