package box

import (
	"encoding/binary"
)

// SaioBox - Sample Auxiliary Information Offsets Box (saio) (in stbl or traf box)
type SaioBox struct {
	FullBox
	AuxInfoType          [4]byte // Used for Common Encryption Scheme (4-bytes uint32 according to spec)
	AuxInfoTypeParameter uint32
	Offset               []int64
	offsetAt             int
}

func DecodeSaio(payload []byte) (*SaioBox, error) {
	s := &SaioBox{}
	n, err := s.FullBox.Decode(payload)
	if err != nil {
		return nil, err
	}
	if s.Flags&0x01 != 0 {
		if err = need(payload, n+8, "saio aux info type"); err != nil {
			return nil, err
		}
		copy(s.AuxInfoType[:], payload[n:])
		s.AuxInfoTypeParameter = binary.BigEndian.Uint32(payload[n+4:])
		n += 8
	}
	if err = need(payload, n+4, "saio entry count"); err != nil {
		return nil, err
	}
	entryCount := int(binary.BigEndian.Uint32(payload[n:]))
	n += 4
	s.offsetAt = n
	width := 4
	if s.Version != 0 {
		width = 8
	}
	if err = need(payload, n+entryCount*width, "saio offsets"); err != nil {
		return nil, err
	}
	s.Offset = make([]int64, entryCount)
	for i := range s.Offset {
		if width == 4 {
			s.Offset[i] = int64(binary.BigEndian.Uint32(payload[n:]))
		} else {
			s.Offset[i] = int64(binary.BigEndian.Uint64(payload[n:]))
		}
		n += width
	}
	return s, nil
}

// PatchSaio returns a copy of payload with every offset passed through remap.
func PatchSaio(payload []byte, remap func(int64) int64) ([]byte, error) {
	s, err := DecodeSaio(payload)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), payload...)
	n := s.offsetAt
	for _, off := range s.Offset {
		if s.Version == 0 {
			binary.BigEndian.PutUint32(out[n:], uint32(remap(off)))
			n += 4
		} else {
			binary.BigEndian.PutUint64(out[n:], uint64(remap(off)))
			n += 8
		}
	}
	return out, nil
}
