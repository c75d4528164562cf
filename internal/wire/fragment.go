package wire

// MaxFragmentPayload is the largest payload that fits one datagram fragment:
// a 1200-byte MTU budget minus the 22-byte header.
const MaxFragmentPayload = 1178

// FragmentVideo splits an encoded video frame into one or more OutFrames
// sharing timestamp, each at most MaxFragmentPayload bytes of payload.
// An empty frame still produces exactly one zero-length fragment. The
// first fragment carries FlagKeyframe iff isKeyframe; the last fragment
// (and only the last) carries FlagEndOfFrame. seq is the caller's running
// video sequence counter: it is read as the starting sequence number and
// the caller is responsible for advancing it by the returned fragment
// count (wrapping at 2^32), matching spec.md §4.1.
func FragmentVideo(roomID, userID uint32, seq, timestamp uint32, isKeyframe bool, data []byte) []OutFrame {
	var chunks [][]byte
	if len(data) == 0 {
		chunks = [][]byte{{}}
	} else {
		for off := 0; off < len(data); off += MaxFragmentPayload {
			end := off + MaxFragmentPayload
			if end > len(data) {
				end = len(data)
			}
			chunks = append(chunks, data[off:end])
		}
	}

	frames := make([]OutFrame, len(chunks))
	lastIdx := len(chunks) - 1
	for i, chunk := range chunks {
		var flags uint8
		if isKeyframe && i == 0 {
			flags |= FlagKeyframe
		}
		if i == lastIdx {
			flags |= FlagEndOfFrame
		}
		frames[i] = OutFrame{
			Header: MediaHeader{
				Version:   ProtocolVersion,
				MediaType: MediaVideo,
				CodecID:   CodecAV1,
				Flags:     flags,
				RoomID:    roomID,
				UserID:    userID,
				Sequence:  seq + uint32(i),
				Timestamp: timestamp,
			},
			Payload: chunk,
		}
	}
	return frames
}
