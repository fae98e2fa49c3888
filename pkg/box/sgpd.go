package box

import (
	"encoding/binary"
	"fmt"

	. "m7s.live/cenc/pkg"
)

// SeigSampleGroupEntry - CencSampleEncryptionInformationGroupEntry as defined in
// CEF ISO/IEC 23001-7 3rd edition 2016
type SeigSampleGroupEntry struct {
	CryptByteBlock  byte
	SkipByteBlock   byte
	IsProtected     byte
	PerSampleIVSize byte
	KID             KID
	// ConstantIVSize byte given by len(ConstantIV)
	ConstantIV []byte
}

// SgpdBox - Sample Group Description Box, ISO/IEC 14496-12 6'th edition 2020 Section 8.9.3
// Version 0 is deprecated
type SgpdBox struct {
	FullBox
	GroupingType                 [4]byte
	DefaultLength                uint32
	DefaultGroupDescriptionIndex uint32
	SampleGroupEntries           []*SeigSampleGroupEntry
}

// DecodeSgpd decodes the box header fields; entries are decoded only for
// the seig grouping type.
func DecodeSgpd(payload []byte) (*SgpdBox, error) {
	s := &SgpdBox{}
	n, err := s.FullBox.Decode(payload)
	if err != nil {
		return nil, err
	}
	if err = need(payload, n+4, "sgpd grouping type"); err != nil {
		return nil, err
	}
	copy(s.GroupingType[:], payload[n:])
	n += 4
	if s.Version == 1 {
		if err = need(payload, n+4, "sgpd default length"); err != nil {
			return nil, err
		}
		s.DefaultLength = binary.BigEndian.Uint32(payload[n:])
		n += 4
	} else if s.Version >= 2 {
		if err = need(payload, n+4, "sgpd default index"); err != nil {
			return nil, err
		}
		s.DefaultGroupDescriptionIndex = binary.BigEndian.Uint32(payload[n:])
		n += 4
	}
	if s.GroupingType != TypeSEIG {
		return s, nil
	}
	if err = need(payload, n+4, "sgpd entry count"); err != nil {
		return nil, err
	}
	entryCount := binary.BigEndian.Uint32(payload[n:])
	n += 4
	if uint64(entryCount)*20 > uint64(len(payload)) {
		return nil, Malformed("sgpd: %d seig entries do not fit", entryCount)
	}
	for i := uint32(0); i < entryCount; i++ {
		length := s.DefaultLength
		if s.Version == 1 && length == 0 {
			if err = need(payload, n+4, "sgpd description length"); err != nil {
				return nil, err
			}
			length = binary.BigEndian.Uint32(payload[n:])
			n += 4
		}
		entry, used, err := DecodeSeigSampleGroupEntry(payload[n:])
		if err != nil {
			return nil, err
		}
		if length != 0 && length != uint32(used) {
			return nil, Malformed("seig: given length %d different from calculated size %d", length, used)
		}
		n += used
		s.SampleGroupEntries = append(s.SampleGroupEntries, entry)
	}
	return s, nil
}

// DecodeSeigSampleGroupEntry - decode Common Encryption Sample Group Entry
func DecodeSeigSampleGroupEntry(buf []byte) (*SeigSampleGroupEntry, int, error) {
	if err := need(buf, 20, "seig"); err != nil {
		return nil, 0, err
	}
	s := &SeigSampleGroupEntry{}
	n := 0
	n += 1 // Reserved
	byteTwo := buf[n]
	n += 1

	s.CryptByteBlock = byteTwo >> 4
	s.SkipByteBlock = byteTwo & 0x0f

	s.IsProtected = buf[n]
	n += 1

	s.PerSampleIVSize = buf[n]
	n += 1

	copy(s.KID[:], buf[n:n+16])
	n += 16

	if s.IsProtected == 1 && s.PerSampleIVSize == 0 {
		if err := need(buf, n+1, "seig constant IV size"); err != nil {
			return nil, 0, err
		}
		constantIVSize := int(buf[n])
		n += 1
		if err := need(buf, n+constantIVSize, "seig constant IV"); err != nil {
			return nil, 0, err
		}
		s.ConstantIV = buf[n : n+constantIVSize]
		n += constantIVSize
	}
	return s, n, nil
}

func (s *SeigSampleGroupEntry) String() string {
	return fmt.Sprintf("seig{protected:%d iv:%d kid:%s pattern:%d/%d}", s.IsProtected, s.PerSampleIVSize, s.KID, s.CryptByteBlock, s.SkipByteBlock)
}

// SbgpBox - Sample To Group Box
type SbgpBox struct {
	FullBox
	GroupingType          [4]byte
	GroupingTypeParameter uint32
	Entries               []SbgpEntry
}

type SbgpEntry struct {
	SampleCount           uint32
	GroupDescriptionIndex uint32
}

func DecodeSbgp(payload []byte) (*SbgpBox, error) {
	s := &SbgpBox{}
	n, err := s.FullBox.Decode(payload)
	if err != nil {
		return nil, err
	}
	if err = need(payload, n+4, "sbgp grouping type"); err != nil {
		return nil, err
	}
	copy(s.GroupingType[:], payload[n:])
	n += 4
	if s.Version == 1 {
		if err = need(payload, n+4, "sbgp grouping type parameter"); err != nil {
			return nil, err
		}
		s.GroupingTypeParameter = binary.BigEndian.Uint32(payload[n:])
		n += 4
	}
	if err = need(payload, n+4, "sbgp entry count"); err != nil {
		return nil, err
	}
	entryCount := int(binary.BigEndian.Uint32(payload[n:]))
	n += 4
	if err = need(payload, n+8*entryCount, "sbgp entries"); err != nil {
		return nil, err
	}
	s.Entries = make([]SbgpEntry, entryCount)
	for i := range s.Entries {
		s.Entries[i].SampleCount = binary.BigEndian.Uint32(payload[n:])
		s.Entries[i].GroupDescriptionIndex = binary.BigEndian.Uint32(payload[n+4:])
		n += 8
	}
	return s, nil
}

// GroupingTypeOf peeks the grouping type of an sgpd or sbgp payload.
func GroupingTypeOf(payload []byte) (t [4]byte) {
	if len(payload) >= 8 {
		copy(t[:], payload[4:8])
	}
	return
}
