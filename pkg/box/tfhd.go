package box

import (
	"encoding/binary"
)

// aligned(8) class TrackFragmentHeaderBox extends FullBox(‘tfhd’, 0, tf_flags){
//     unsigned int(32) track_ID;
//     // all the following are optional fields
//     unsigned int(64) base_data_offset;
//     unsigned int(32) sample_description_index;
//     unsigned int(32) default_sample_duration;
//     unsigned int(32) default_sample_size;
//     unsigned int(32) default_sample_flags
// }

const (
	TF_FLAG_BASE_DATA_OFFSET                 uint32 = 0x000001
	TF_FLAG_SAMPLE_DESCRIPTION_INDEX_PRESENT uint32 = 0x000002
	TF_FLAG_DEFAULT_SAMPLE_DURATION_PRESENT  uint32 = 0x000008
	TF_FLAG_DEFAULT_SAMPLE_SIZE_PRESENT      uint32 = 0x000010
	TF_FLAG_DEFAULT_SAMPLE_FLAGS_PRESENT     uint32 = 0x000020
	TF_FLAG_DURATION_IS_EMPTY                uint32 = 0x010000
	TF_FLAG_DEFAULT_BASE_IS_MOOF             uint32 = 0x020000
)

type TrackFragmentHeaderBox struct {
	FullBox
	TrackID                uint32
	BaseDataOffset         uint64
	SampleDescriptionIndex uint32
	DefaultSampleDuration  uint32
	DefaultSampleSize      uint32
	DefaultSampleFlags     uint32
}

func (tfhd *TrackFragmentHeaderBox) Has(flag uint32) bool {
	return tfhd.Flags&flag != 0
}

func DecodeTfhd(payload []byte) (*TrackFragmentHeaderBox, error) {
	tfhd := &TrackFragmentHeaderBox{}
	n, err := tfhd.FullBox.Decode(payload)
	if err != nil {
		return nil, err
	}
	size := n + 4
	for _, f := range []struct {
		flag  uint32
		width int
	}{{TF_FLAG_BASE_DATA_OFFSET, 8}, {TF_FLAG_SAMPLE_DESCRIPTION_INDEX_PRESENT, 4}, {TF_FLAG_DEFAULT_SAMPLE_DURATION_PRESENT, 4}, {TF_FLAG_DEFAULT_SAMPLE_SIZE_PRESENT, 4}, {TF_FLAG_DEFAULT_SAMPLE_FLAGS_PRESENT, 4}} {
		if tfhd.Has(f.flag) {
			size += f.width
		}
	}
	if err = need(payload, size, "tfhd"); err != nil {
		return nil, err
	}
	tfhd.TrackID = binary.BigEndian.Uint32(payload[n:])
	n += 4
	if tfhd.Has(TF_FLAG_BASE_DATA_OFFSET) {
		tfhd.BaseDataOffset = binary.BigEndian.Uint64(payload[n:])
		n += 8
	}
	if tfhd.Has(TF_FLAG_SAMPLE_DESCRIPTION_INDEX_PRESENT) {
		tfhd.SampleDescriptionIndex = binary.BigEndian.Uint32(payload[n:])
		n += 4
	}
	if tfhd.Has(TF_FLAG_DEFAULT_SAMPLE_DURATION_PRESENT) {
		tfhd.DefaultSampleDuration = binary.BigEndian.Uint32(payload[n:])
		n += 4
	}
	if tfhd.Has(TF_FLAG_DEFAULT_SAMPLE_SIZE_PRESENT) {
		tfhd.DefaultSampleSize = binary.BigEndian.Uint32(payload[n:])
		n += 4
	}
	if tfhd.Has(TF_FLAG_DEFAULT_SAMPLE_FLAGS_PRESENT) {
		tfhd.DefaultSampleFlags = binary.BigEndian.Uint32(payload[n:])
	}
	return tfhd, nil
}

// PatchTfhdBase returns a copy of payload with base_data_offset passed
// through remap. Payloads without an explicit base are returned as is.
func PatchTfhdBase(payload []byte, remap func(int64) int64) ([]byte, error) {
	tfhd, err := DecodeTfhd(payload)
	if err != nil {
		return nil, err
	}
	if !tfhd.Has(TF_FLAG_BASE_DATA_OFFSET) {
		return payload, nil
	}
	out := append([]byte(nil), payload...)
	binary.BigEndian.PutUint64(out[8:], uint64(remap(int64(tfhd.BaseDataOffset))))
	return out, nil
}

// PatchTfhdBaseIsMoof returns a copy of payload with default-base-is-moof
// set, for a traf whose implicit base no longer holds.
func PatchTfhdBaseIsMoof(payload []byte) ([]byte, error) {
	if _, err := DecodeTfhd(payload); err != nil {
		return nil, err
	}
	out := append([]byte(nil), payload...)
	out[1] |= byte(TF_FLAG_DEFAULT_BASE_IS_MOOF >> 16)
	return out, nil
}
