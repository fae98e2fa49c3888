package box

import (
	"encoding/binary"
)

// SaizBox - Sample Auxiliary Information Sizes Box (saiz)  (in stbl or traf box)
type SaizBox struct {
	FullBox
	AuxInfoType           [4]byte // Used for Common Encryption Scheme (4-bytes uint32 according to spec)
	AuxInfoTypeParameter  uint32
	SampleCount           uint32
	SampleInfo            []byte
	DefaultSampleInfoSize uint8
}

func DecodeSaiz(payload []byte) (*SaizBox, error) {
	s := &SaizBox{}
	n, err := s.FullBox.Decode(payload)
	if err != nil {
		return nil, err
	}
	buf := payload[n:]
	n = 0
	if s.Flags&0x01 != 0 {
		if err = need(buf, 8, "saiz aux info type"); err != nil {
			return nil, err
		}
		copy(s.AuxInfoType[:], buf)
		s.AuxInfoTypeParameter = binary.BigEndian.Uint32(buf[4:])
		n += 8
	}
	if err = need(buf, n+5, "saiz"); err != nil {
		return nil, err
	}
	s.DefaultSampleInfoSize = buf[n]
	n += 1
	s.SampleCount = binary.BigEndian.Uint32(buf[n:])
	n += 4
	if s.DefaultSampleInfoSize == 0 {
		if err = need(buf, n+int(s.SampleCount), "saiz sample sizes"); err != nil {
			return nil, err
		}
		s.SampleInfo = buf[n : n+int(s.SampleCount)]
	}
	return s, nil
}

func (s *SaizBox) Size(i int) int {
	if s.DefaultSampleInfoSize != 0 {
		return int(s.DefaultSampleInfoSize)
	}
	return int(s.SampleInfo[i])
}

// IsCENCAuxInfo reports whether the aux info describes common encryption: either
// no explicit type, or one of the scheme codes.
func IsCENCAuxInfo(flags uint32, t [4]byte) bool {
	if flags&0x01 == 0 {
		return true
	}
	switch t {
	case TypeCENC, TypeCENS, TypeCBC1, TypeCBCS:
		return true
	}
	return false
}

// AuxInfoIsCENC peeks the flags and aux_info_type of a saiz or saio
// payload; both boxes share that prefix.
func AuxInfoIsCENC(payload []byte) bool {
	var full FullBox
	n, err := full.Decode(payload)
	if err != nil {
		return false
	}
	var t [4]byte
	if full.Flags&0x01 != 0 {
		if len(payload) < n+4 {
			return false
		}
		copy(t[:], payload[n:])
	}
	return IsCENCAuxInfo(full.Flags, t)
}
