package box

import (
	"encoding/binary"

	. "m7s.live/cenc/pkg"
)

// aligned(8) class SampleSizeBox extends FullBox(‘stsz’, version = 0, 0) {
// 	unsigned int(32) sample_size;
// 	unsigned int(32) sample_count;
// 	if (sample_size==0) {
// 		for (i=1; i <= sample_count; i++) {
// 		unsigned int(32) entry_size;
// 		}
// 	}
// }
//
// aligned(8) class CompactSampleSizeBox extends FullBox(‘stz2’, version = 0, 0) {
// 	unsigned int(24) reserved = 0;
// 	unisgned int(8) field_size;
// 	unsigned int(32) sample_count;
// 	for (i=1; i <= sample_count; i++) {
// 		unsigned int(field_size) entry_size;
// 	}
// }

type SampleSizeBox struct {
	SampleSize  uint32
	SampleCount uint32
	EntrySizes  []uint32
}

func (s *SampleSizeBox) Size(i int) uint32 {
	if s.SampleSize != 0 {
		return s.SampleSize
	}
	return s.EntrySizes[i]
}

func DecodeStsz(payload []byte) (*SampleSizeBox, error) {
	var full FullBox
	n, err := full.Decode(payload)
	if err != nil {
		return nil, err
	}
	if err = need(payload, n+8, "stsz"); err != nil {
		return nil, err
	}
	s := &SampleSizeBox{}
	s.SampleSize = binary.BigEndian.Uint32(payload[n:])
	s.SampleCount = binary.BigEndian.Uint32(payload[n+4:])
	n += 8
	if s.SampleSize != 0 {
		if s.SampleCount > maxSampleCount {
			return nil, Malformed("stsz: %d samples", s.SampleCount)
		}
		return s, nil
	}
	if err = need(payload, n+4*int(s.SampleCount), "stsz entries"); err != nil {
		return nil, err
	}
	s.EntrySizes = make([]uint32, s.SampleCount)
	for i := range s.EntrySizes {
		s.EntrySizes[i] = binary.BigEndian.Uint32(payload[n:])
		n += 4
	}
	return s, nil
}

func DecodeStz2(payload []byte) (*SampleSizeBox, error) {
	var full FullBox
	n, err := full.Decode(payload)
	if err != nil {
		return nil, err
	}
	if err = need(payload, n+8, "stz2"); err != nil {
		return nil, err
	}
	fieldSize := int(payload[n+3])
	count := int(binary.BigEndian.Uint32(payload[n+4:]))
	n += 8
	s := &SampleSizeBox{SampleCount: uint32(count), EntrySizes: make([]uint32, 0, min(count, len(payload)))}
	switch fieldSize {
	case 4:
		if err = need(payload, n+(count+1)/2, "stz2 entries"); err != nil {
			return nil, err
		}
		for i := 0; i < count; i++ {
			b := payload[n+i/2]
			if i%2 == 0 {
				s.EntrySizes = append(s.EntrySizes, uint32(b>>4))
			} else {
				s.EntrySizes = append(s.EntrySizes, uint32(b&0x0f))
			}
		}
	case 8:
		if err = need(payload, n+count, "stz2 entries"); err != nil {
			return nil, err
		}
		for i := 0; i < count; i++ {
			s.EntrySizes = append(s.EntrySizes, uint32(payload[n+i]))
		}
	case 16:
		if err = need(payload, n+2*count, "stz2 entries"); err != nil {
			return nil, err
		}
		for i := 0; i < count; i++ {
			s.EntrySizes = append(s.EntrySizes, uint32(binary.BigEndian.Uint16(payload[n+2*i:])))
		}
	default:
		return nil, Malformed("stz2: field size %d", fieldSize)
	}
	return s, nil
}
