package box

import (
	"encoding/binary"
)

// aligned(8) class TrackHeaderBox extends FullBox(‘tkhd’, version, flags){
// 	if (version==1) {
// 		unsigned int(64) creation_time;
// 		unsigned int(64) modification_time;
// 		unsigned int(32) track_ID;
// 		const unsigned int(32) reserved = 0;
// 		unsigned int(64) duration;
// 	} else { // version==0
// 		unsigned int(32) creation_time;
// 		unsigned int(32) modification_time;
// 		unsigned int(32) track_ID;
// 		const unsigned int(32) reserved = 0;
// 		unsigned int(32) duration;
// 	}
//  ...
// }

// DecodeTrackID reads only the track_ID field of a tkhd payload.
func DecodeTrackID(payload []byte) (uint32, error) {
	var full FullBox
	n, err := full.Decode(payload)
	if err != nil {
		return 0, err
	}
	if full.Version == 1 {
		n += 16
	} else {
		n += 8
	}
	if err = need(payload, n+4, "tkhd track id"); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(payload[n:]), nil
}
