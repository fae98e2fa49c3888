package box

import (
	"m7s.live/cenc/pkg/util"
)

// Make builds a box with a compact header around the concatenated payloads.
func Make(t [4]byte, payload ...[]byte) []byte {
	size := BasicBoxLen
	for _, p := range payload {
		size += len(p)
	}
	b := util.AppendBE(make([]byte, 0, size), 4, uint32(size))
	b = append(b, t[:]...)
	for _, p := range payload {
		b = append(b, p...)
	}
	return b
}

func MakeFull(t [4]byte, version uint8, flags uint32, payload ...[]byte) []byte {
	hdr := util.AppendBE([]byte{version}, 3, flags)
	return Make(t, append([][]byte{hdr}, payload...)...)
}

// MakeLarge builds a box using the 64-bit size form.
func MakeLarge(t [4]byte, payload ...[]byte) []byte {
	size := LargeBoxLen
	for _, p := range payload {
		size += len(p)
	}
	b := util.AppendBE(make([]byte, 0, size), 4, uint32(1))
	b = append(b, t[:]...)
	b = util.AppendBE(b, 8, uint64(size))
	for _, p := range payload {
		b = append(b, p...)
	}
	return b
}

func MakeUUID(userType [16]byte, payload ...[]byte) []byte {
	return Make(TypeUUID, append([][]byte{userType[:]}, payload...)...)
}

// U8/U16/U32/U64 encode big-endian fields for Make payloads.
func U8(v uint8) []byte   { return []byte{v} }
func U16(v uint16) []byte { return util.AppendBE(nil, 2, v) }
func U32(v uint32) []byte { return util.AppendBE(nil, 4, v) }
func U64(v uint64) []byte { return util.AppendBE(nil, 8, v) }
