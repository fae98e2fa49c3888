package box

import (
	"encoding/binary"
)

// aligned(8) class SegmentIndexBox extends FullBox(‘sidx’, version, 0) {
//    unsigned int(32) reference_ID;
//    unsigned int(32) timescale;
//    if (version==0) {
//          unsigned int(32) earliest_presentation_time;
//          unsigned int(32) first_offset;
//    }
//    else {
//          unsigned int(64) earliest_presentation_time;
//          unsigned int(64) first_offset;
//    }
//    unsigned int(16) reserved = 0;
//    unsigned int(16) reference_count;
//    for(i=1; i <= reference_count; i++)
//    {
//       bit (1)           reference_type;
//       unsigned int(31)  referenced_size;
//       unsigned int(32)  subsegment_duration;
//       bit(1)            starts_with_SAP;
//       unsigned int(3)   SAP_type;
//       unsigned int(28)  SAP_delta_time;
//    }
// }

type SidxEntry struct {
	ReferenceType  uint8
	ReferencedSize uint32
}

type SegmentIndexBox struct {
	FullBox
	ReferenceID uint32
	TimeScale   uint32
	FirstOffset uint64
	Entries     []SidxEntry
	entriesAt   int
}

func DecodeSidx(payload []byte) (*SegmentIndexBox, error) {
	sidx := &SegmentIndexBox{}
	n, err := sidx.FullBox.Decode(payload)
	if err != nil {
		return nil, err
	}
	fixedLen := 8 + 8 + 4
	if sidx.Version != 0 {
		fixedLen = 8 + 16 + 4
	}
	if err = need(payload, n+fixedLen, "sidx"); err != nil {
		return nil, err
	}
	sidx.ReferenceID = binary.BigEndian.Uint32(payload[n:])
	sidx.TimeScale = binary.BigEndian.Uint32(payload[n+4:])
	n += 8
	if sidx.Version == 0 {
		sidx.FirstOffset = uint64(binary.BigEndian.Uint32(payload[n+4:]))
		n += 8
	} else {
		sidx.FirstOffset = binary.BigEndian.Uint64(payload[n+8:])
		n += 16
	}
	count := int(binary.BigEndian.Uint16(payload[n+2:]))
	n += 4
	if err = need(payload, n+12*count, "sidx references"); err != nil {
		return nil, err
	}
	sidx.entriesAt = n
	sidx.Entries = make([]SidxEntry, count)
	for i := range sidx.Entries {
		v := binary.BigEndian.Uint32(payload[n:])
		sidx.Entries[i].ReferenceType = uint8(v >> 31)
		sidx.Entries[i].ReferencedSize = v & 0x7fffffff
		n += 12
	}
	return sidx, nil
}

// PatchSidx rewrites first_offset and the referenced sizes of a sidx whose
// box ends at anchor. Byte positions are translated with remap.
func PatchSidx(payload []byte, anchor int64, remap func(int64) int64) ([]byte, error) {
	sidx, err := DecodeSidx(payload)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), payload...)
	start := anchor + int64(sidx.FirstOffset)
	first := remap(start) - remap(anchor)
	if sidx.Version == 0 {
		binary.BigEndian.PutUint32(out[16:], uint32(first))
	} else {
		binary.BigEndian.PutUint64(out[20:], uint64(first))
	}
	n := sidx.entriesAt
	for _, e := range sidx.Entries {
		end := start + int64(e.ReferencedSize)
		size := remap(end) - remap(start)
		binary.BigEndian.PutUint32(out[n:], uint32(e.ReferenceType)<<31|uint32(size)&0x7fffffff)
		start = end
		n += 12
	}
	return out, nil
}
