package box

import (
	"encoding/binary"
)

// aligned(8) class TrackFragmentRandomAccessBox
// extends FullBox(‘tfra’, version, 0) {
// 	unsigned int(32)  track_ID;
// 	const unsigned int(26)  reserved = 0;
// 	unsigned int(2) length_size_of_traf_num;
// 	unsigned int(2) length_size_of_trun_num;
// 	unsigned int(2)  length_size_of_sample_num;
// 	unsigned int(32)  number_of_entry;
// 	for(i=1; i <= number_of_entry; i++){
// 		if(version==1){
// 			unsigned int(64)  time;
// 			unsigned int(64)  moof_offset;
// 		 }else{
// 			unsigned int(32)  time;
// 			unsigned int(32)  moof_offset;
// 		 }
// 		 unsignedint((length_size_of_traf_num+1)*8) traf_number;
// 		 unsignedint((length_size_of_trun_num+1)*8) trun_number;
// 		 unsigned int((length_size_of_sample_num+1) * 8)sample_number;
// 	}
// }

type TrackFragmentRandomAccessBox struct {
	FullBox
	TrackID     uint32
	MoofOffsets []int64
	moofAt      []int
}

func DecodeTfra(payload []byte) (*TrackFragmentRandomAccessBox, error) {
	tfra := &TrackFragmentRandomAccessBox{}
	n, err := tfra.FullBox.Decode(payload)
	if err != nil {
		return nil, err
	}
	if err = need(payload, n+12, "tfra"); err != nil {
		return nil, err
	}
	tfra.TrackID = binary.BigEndian.Uint32(payload[n:])
	lengths := binary.BigEndian.Uint32(payload[n+4:])
	count := int(binary.BigEndian.Uint32(payload[n+8:]))
	n += 12
	width := 4
	if tfra.Version == 1 {
		width = 8
	}
	numbers := int((lengths>>4)&3+1) + int((lengths>>2)&3+1) + int(lengths&3+1)
	stride := 2*width + numbers
	if err = need(payload, n+stride*count, "tfra entries"); err != nil {
		return nil, err
	}
	for i := 0; i < count; i++ {
		at := n + width
		tfra.moofAt = append(tfra.moofAt, at)
		if width == 8 {
			tfra.MoofOffsets = append(tfra.MoofOffsets, int64(binary.BigEndian.Uint64(payload[at:])))
		} else {
			tfra.MoofOffsets = append(tfra.MoofOffsets, int64(binary.BigEndian.Uint32(payload[at:])))
		}
		n += stride
	}
	return tfra, nil
}

// PatchTfra returns a copy of payload with every moof offset passed through remap.
func PatchTfra(payload []byte, remap func(int64) int64) ([]byte, error) {
	tfra, err := DecodeTfra(payload)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), payload...)
	for i, off := range tfra.MoofOffsets {
		if tfra.Version == 1 {
			binary.BigEndian.PutUint64(out[tfra.moofAt[i]:], uint64(remap(off)))
		} else {
			binary.BigEndian.PutUint32(out[tfra.moofAt[i]:], uint32(remap(off)))
		}
	}
	return out, nil
}

// aligned(8) class MovieFragmentRandomAccessOffsetBox extends FullBox(‘mfro’, version, 0) {
// 	unsigned int(32)  size;
// }

// PatchMfro returns a copy of payload carrying the new mfra size.
func PatchMfro(payload []byte, size uint32) ([]byte, error) {
	if err := need(payload, 8, "mfro"); err != nil {
		return nil, err
	}
	out := append([]byte(nil), payload...)
	binary.BigEndian.PutUint32(out[4:], size)
	return out, nil
}
