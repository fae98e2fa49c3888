package box

import (
	"encoding/binary"
)

// aligned(8) class ChunkOffsetBox extends FullBox(‘stco’, version = 0, 0) {
// 	unsigned int(32) entry_count;
// 	for (i=1; i <= entry_count; i++) {
// 		unsigned int(32) chunk_offset;
// 	}
// }
// aligned(8) class ChunkLargeOffsetBox extends FullBox(‘co64’, version = 0, 0) {
// 	unsigned int(32) entry_count;
// 	for (i=1; i <= entry_count; i++) {
// 		unsigned int(64) chunk_offset;
// 	}
// }

// DecodeChunkOffsets reads a stco payload, or a co64 payload when large is set.
func DecodeChunkOffsets(payload []byte, large bool) ([]int64, error) {
	var full FullBox
	n, err := full.Decode(payload)
	if err != nil {
		return nil, err
	}
	if err = need(payload, n+4, "chunk offset count"); err != nil {
		return nil, err
	}
	entryCount := int(binary.BigEndian.Uint32(payload[n:]))
	n += 4
	width := 4
	if large {
		width = 8
	}
	if err = need(payload, n+width*entryCount, "chunk offsets"); err != nil {
		return nil, err
	}
	offsets := make([]int64, entryCount)
	for i := range offsets {
		if large {
			offsets[i] = int64(binary.BigEndian.Uint64(payload[n:]))
		} else {
			offsets[i] = int64(binary.BigEndian.Uint32(payload[n:]))
		}
		n += width
	}
	return offsets, nil
}

// PatchChunkOffsets returns a copy of payload with every chunk offset passed
// through remap.
func PatchChunkOffsets(payload []byte, large bool, remap func(int64) int64) ([]byte, error) {
	offsets, err := DecodeChunkOffsets(payload, large)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), payload...)
	n := 8
	for _, off := range offsets {
		if large {
			binary.BigEndian.PutUint64(out[n:], uint64(remap(off)))
			n += 8
		} else {
			binary.BigEndian.PutUint32(out[n:], uint32(remap(off)))
			n += 4
		}
	}
	return out, nil
}
