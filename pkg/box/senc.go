package box

import (
	"encoding/binary"

	. "m7s.live/cenc/pkg"
)

const (
	UseSubsampleEncryption      uint32 = 0x000002
	piffOverrideTrackEncryption uint32 = 0x000001
)

type SubSampleEntry struct {
	BytesOfClearData     uint16
	BytesOfProtectedData uint32
}

type SencEntry struct {
	IV         []byte
	SubSamples []SubSampleEntry
}

// SencBox - Sample Encryption Box (senc) (in trak or traf box)
// See ISO/IEC 23001-7 Section 7.2 and CMAF specification
// Full Box + SampleCount
type SencBox struct {
	FullBox
	SampleCount uint32
	EntryList   []SencEntry
	// PIFF boxes may carry their own IV size
	OverrideIVSize int
	OverrideKID    []byte
}

// DecodeSenc reads a senc payload (or a PIFF sample encryption uuid payload
// when piff is set). ivSize gives the per-sample IV size of sample i, which
// varies when sample groups override the track default.
func DecodeSenc(payload []byte, piff bool, ivSize func(i int) int) (*SencBox, error) {
	senc := &SencBox{}
	n, err := senc.FullBox.Decode(payload)
	if err != nil {
		return nil, err
	}
	buf := payload[n:]
	n = 0
	if piff && senc.Flags&piffOverrideTrackEncryption != 0 {
		if err = need(buf, 20, "piff senc override"); err != nil {
			return nil, err
		}
		senc.OverrideIVSize = int(buf[3])
		senc.OverrideKID = buf[4:20]
		n = 20
	}
	if err = need(buf, n+4, "senc sample count"); err != nil {
		return nil, err
	}
	senc.SampleCount = binary.BigEndian.Uint32(buf[n:])
	n += 4
	if senc.Flags&UseSubsampleEncryption != 0 && uint64(senc.SampleCount)*2 > uint64(len(buf)) ||
		senc.SampleCount > maxSampleCount {
		return nil, Malformed("senc: %d entries do not fit in %d bytes", senc.SampleCount, len(buf))
	}
	senc.EntryList = make([]SencEntry, senc.SampleCount)
	for i := range senc.EntryList {
		size := ivSize(i)
		if senc.OverrideIVSize > 0 {
			size = senc.OverrideIVSize
		}
		var used int
		if senc.EntryList[i], used, err = decodeAuxEntry(buf[n:], size, senc.Flags&UseSubsampleEncryption != 0); err != nil {
			return nil, err
		}
		n += used
	}
	return senc, nil
}

// DecodeSampleAuxInfo reads one CENC sample auxiliary information record as
// located by saiz/saio. Subsamples are present when the record is longer
// than the IV.
func DecodeSampleAuxInfo(buf []byte, ivSize int) (SencEntry, error) {
	e, _, err := decodeAuxEntry(buf, ivSize, len(buf) > ivSize)
	return e, err
}

func decodeAuxEntry(buf []byte, ivSize int, subsamples bool) (e SencEntry, n int, err error) {
	if err = need(buf, ivSize, "sample IV"); err != nil {
		return
	}
	e.IV = buf[:ivSize]
	n = ivSize
	if !subsamples {
		return
	}
	if err = need(buf, n+2, "subsample count"); err != nil {
		return
	}
	count := int(binary.BigEndian.Uint16(buf[n:]))
	n += 2
	if err = need(buf, n+6*count, "subsample entries"); err != nil {
		return
	}
	e.SubSamples = make([]SubSampleEntry, count)
	for j := range e.SubSamples {
		e.SubSamples[j].BytesOfClearData = binary.BigEndian.Uint16(buf[n:])
		n += 2
		e.SubSamples[j].BytesOfProtectedData = binary.BigEndian.Uint32(buf[n:])
		n += 4
	}
	return
}

func IsPIFFSenc(n *Node) bool {
	return n.Type == TypeUUID && n.UserType == UserTypePIFFSenc
}
