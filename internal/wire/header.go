// Package wire implements the fixed media-frame header, datagram framing,
// and video fragmentation/reassembly used between the engine and the SFU.
//
// Wire layout (22 bytes, big-endian), mirrors the SFU's own header:
//
//	byte 0:      version
//	byte 1:      media type
//	byte 2:      codec id
//	byte 3:      flags
//	bytes 4-7:   room id   (u32)
//	bytes 8-11:  user id   (u32)
//	bytes 12-15: sequence  (u32)
//	bytes 16-19: timestamp (u32)
//	byte 20:     spatial_id<<4 | temporal_id
//	byte 21:     dtx flag in the MSB
package wire

// HeaderSize is the fixed size of a MediaHeader on the wire.
const HeaderSize = 22

// ProtocolVersion is the current wire protocol version. Every outbound
// datagram's first byte must equal this value.
const ProtocolVersion uint8 = 1

// Media types.
const (
	MediaAudio  uint8 = 0
	MediaVideo  uint8 = 1
	MediaScreen uint8 = 2
	MediaFEC    uint8 = 3
	MediaRTCPFB uint8 = 4
)

// Codec ids.
const (
	CodecNone      uint8 = 0
	CodecOpus      uint8 = 1
	CodecAV1       uint8 = 2
	CodecAV1Screen uint8 = 3
)

// Flag bits, byte 3.
const (
	FlagKeyframe    uint8 = 0x80
	FlagEndOfFrame  uint8 = 0x40
	FlagFEC         uint8 = 0x20
	FlagMarker      uint8 = 0x10
	FlagHasDepDesc  uint8 = 0x08
)

// MediaHeader is the fixed 22-byte header prefixed to every media datagram.
type MediaHeader struct {
	Version    uint8
	MediaType  uint8
	CodecID    uint8
	Flags      uint8
	RoomID     uint32
	UserID     uint32
	Sequence   uint32
	Timestamp  uint32
	SpatialID  uint8 // 0-15, high nibble of byte 20
	TemporalID uint8 // 0-15, low nibble of byte 20
	DTX        bool
}

// IsKeyframe reports whether FlagKeyframe is set.
func (h MediaHeader) IsKeyframe() bool { return h.Flags&FlagKeyframe != 0 }

// IsEndOfFrame reports whether FlagEndOfFrame is set.
func (h MediaHeader) IsEndOfFrame() bool { return h.Flags&FlagEndOfFrame != 0 }

// HasDepDesc reports whether FlagHasDepDesc is set.
func (h MediaHeader) HasDepDesc() bool { return h.Flags&FlagHasDepDesc != 0 }

// Encode serializes h into a 22-byte big-endian buffer.
func (h MediaHeader) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	buf[0] = h.Version
	buf[1] = h.MediaType
	buf[2] = h.CodecID
	buf[3] = h.Flags
	putU32(buf[4:8], h.RoomID)
	putU32(buf[8:12], h.UserID)
	putU32(buf[12:16], h.Sequence)
	putU32(buf[16:20], h.Timestamp)
	buf[20] = (h.SpatialID << 4) | (h.TemporalID & 0x0F)
	if h.DTX {
		buf[21] = 0x80
	}
	return buf
}

// ParseHeader parses a MediaHeader from the first HeaderSize bytes of data.
// It reports false if data is too short; the caller should discard such
// datagrams silently.
func ParseHeader(data []byte) (MediaHeader, bool) {
	if len(data) < HeaderSize {
		return MediaHeader{}, false
	}
	h := MediaHeader{
		Version:    data[0],
		MediaType:  data[1],
		CodecID:    data[2],
		Flags:      data[3],
		RoomID:     getU32(data[4:8]),
		UserID:     getU32(data[8:12]),
		Sequence:   getU32(data[12:16]),
		Timestamp:  getU32(data[16:20]),
		SpatialID:  data[20] >> 4,
		TemporalID: data[20] & 0x0F,
		DTX:        data[21]&0x80 != 0,
	}
	return h, true
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// OutFrame is an outbound media frame: a header plus its opaque payload.
type OutFrame struct {
	Header  MediaHeader
	Payload []byte
}

// Encode returns the wire representation of the frame (header || payload).
func (f OutFrame) Encode() []byte {
	hdr := f.Header.Encode()
	buf := make([]byte, 0, HeaderSize+len(f.Payload))
	buf = append(buf, hdr[:]...)
	buf = append(buf, f.Payload...)
	return buf
}

// AudioFrame builds an audio OutFrame with END_OF_FRAME always set, as
// required by spec: audio frames never span multiple datagrams.
func AudioFrame(roomID, userID uint32, codecID uint8, seq, timestamp uint32, dtx bool, payload []byte) OutFrame {
	return OutFrame{
		Header: MediaHeader{
			Version:   ProtocolVersion,
			MediaType: MediaAudio,
			CodecID:   codecID,
			Flags:     FlagEndOfFrame,
			RoomID:    roomID,
			UserID:    userID,
			Sequence:  seq,
			Timestamp: timestamp,
			DTX:       dtx,
		},
		Payload: payload,
	}
}

// InFrame is an inbound media frame received from the SFU.
type InFrame struct {
	Header  MediaHeader
	Payload []byte
}

// DecodeInFrame parses data into an InFrame. It reports false on datagrams
// shorter than HeaderSize; callers discard those silently.
func DecodeInFrame(data []byte) (InFrame, bool) {
	h, ok := ParseHeader(data)
	if !ok {
		return InFrame{}, false
	}
	return InFrame{Header: h, Payload: data[HeaderSize:]}, true
}
