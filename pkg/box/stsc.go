package box

import (
	"encoding/binary"

	. "m7s.live/cenc/pkg"
)

// aligned(8) class SampleToChunkBox extends FullBox(‘stsc’, version = 0, 0) {
// 	unsigned int(32) entry_count;
// 	for (i=1; i <= entry_count; i++) {
// 		unsigned int(32) first_chunk;
// 		unsigned int(32) samples_per_chunk;
// 		unsigned int(32) sample_description_index;
// 	}
// }

type STSCEntry struct {
	FirstChunk             uint32
	SamplesPerChunk        uint32
	SampleDescriptionIndex uint32
}

func DecodeStsc(payload []byte) ([]STSCEntry, error) {
	var full FullBox
	n, err := full.Decode(payload)
	if err != nil {
		return nil, err
	}
	if err = need(payload, n+4, "stsc entry count"); err != nil {
		return nil, err
	}
	entryCount := int(binary.BigEndian.Uint32(payload[n:]))
	n += 4
	if err = need(payload, n+12*entryCount, "stsc entries"); err != nil {
		return nil, err
	}
	entries := make([]STSCEntry, entryCount)
	for i := range entries {
		entries[i].FirstChunk = binary.BigEndian.Uint32(payload[n:])
		entries[i].SamplesPerChunk = binary.BigEndian.Uint32(payload[n+4:])
		entries[i].SampleDescriptionIndex = binary.BigEndian.Uint32(payload[n+8:])
		n += 12
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].FirstChunk <= entries[i-1].FirstChunk {
			return nil, Malformed("stsc: first chunk %d not increasing", entries[i].FirstChunk)
		}
	}
	if len(entries) > 0 && entries[0].FirstChunk != 1 {
		return nil, Malformed("stsc: first entry starts at chunk %d", entries[0].FirstChunk)
	}
	return entries, nil
}
