package box

import (
	"encoding/binary"
)

// aligned(8) class TrackExtendsBox extends FullBox(‘trex’, 0, 0){
// 	unsigned int(32) track_ID;
// 	unsigned int(32) default_sample_description_index;
// 	unsigned int(32) default_sample_duration;
// 	unsigned int(32) default_sample_size;
// 	unsigned int(32) default_sample_flags
// }

type TrackExtendsBox struct {
	TrackID                       uint32
	DefaultSampleDescriptionIndex uint32
	DefaultSampleDuration         uint32
	DefaultSampleSize             uint32
	DefaultSampleFlags            uint32
}

func DecodeTrex(payload []byte) (*TrackExtendsBox, error) {
	var full FullBox
	n, err := full.Decode(payload)
	if err != nil {
		return nil, err
	}
	if err = need(payload, n+20, "trex"); err != nil {
		return nil, err
	}
	return &TrackExtendsBox{
		TrackID:                       binary.BigEndian.Uint32(payload[n:]),
		DefaultSampleDescriptionIndex: binary.BigEndian.Uint32(payload[n+4:]),
		DefaultSampleDuration:         binary.BigEndian.Uint32(payload[n+8:]),
		DefaultSampleSize:             binary.BigEndian.Uint32(payload[n+12:]),
		DefaultSampleFlags:            binary.BigEndian.Uint32(payload[n+16:]),
	}, nil
}
