package box

import (
	"encoding/binary"

	. "m7s.live/cenc/pkg"
)

// aligned(8) class TrackRunBox extends FullBox(‘trun’, version, tr_flags) {
//      unsigned int(32) sample_count;
//      // the following are optional fields
//      signed int(32) data_offset;
//       unsigned int(32) first_sample_flags;
//      // all fields in the following array are optional
//      {
//          unsigned int(32) sample_duration;
//          unsigned int(32) sample_size;
//          unsigned int(32) sample_flags
//          if (version == 0)
//          {
//              unsigned int(32) sample_composition_time_offset;
//          }
//          else
//          {
//              signed int(32) sample_composition_time_offset;
//          }
//      }[ sample_count ]
// }

const (
	TR_FLAG_DATA_OFFSET                  uint32 = 0x000001
	TR_FLAG_DATA_FIRST_SAMPLE_FLAGS      uint32 = 0x000004
	TR_FLAG_DATA_SAMPLE_DURATION         uint32 = 0x000100
	TR_FLAG_DATA_SAMPLE_SIZE             uint32 = 0x000200
	TR_FLAG_DATA_SAMPLE_FLAGS            uint32 = 0x000400
	TR_FLAG_DATA_SAMPLE_COMPOSITION_TIME uint32 = 0x000800
)

type TrackRunBox struct {
	FullBox
	SampleCount      uint32
	DataOffset       int32
	FirstSampleFlags uint32
	// nil when the run takes the default sample size
	SampleSizes []uint32
}

func (trun *TrackRunBox) HasDataOffset() bool {
	return trun.Flags&TR_FLAG_DATA_OFFSET != 0
}

func DecodeTrun(payload []byte) (*TrackRunBox, error) {
	trun := &TrackRunBox{}
	n, err := trun.FullBox.Decode(payload)
	if err != nil {
		return nil, err
	}
	if err = need(payload, n+4, "trun sample count"); err != nil {
		return nil, err
	}
	trun.SampleCount = binary.BigEndian.Uint32(payload[n:])
	n += 4
	if trun.HasDataOffset() {
		if err = need(payload, n+4, "trun data offset"); err != nil {
			return nil, err
		}
		trun.DataOffset = int32(binary.BigEndian.Uint32(payload[n:]))
		n += 4
	}
	if trun.Flags&TR_FLAG_DATA_FIRST_SAMPLE_FLAGS != 0 {
		if err = need(payload, n+4, "trun first sample flags"); err != nil {
			return nil, err
		}
		trun.FirstSampleFlags = binary.BigEndian.Uint32(payload[n:])
		n += 4
	}
	stride, sizeAt := 0, -1
	for _, flag := range []uint32{TR_FLAG_DATA_SAMPLE_DURATION, TR_FLAG_DATA_SAMPLE_SIZE, TR_FLAG_DATA_SAMPLE_FLAGS, TR_FLAG_DATA_SAMPLE_COMPOSITION_TIME} {
		if trun.Flags&flag != 0 {
			if flag == TR_FLAG_DATA_SAMPLE_SIZE {
				sizeAt = stride
			}
			stride += 4
		}
	}
	if trun.SampleCount > maxSampleCount {
		return nil, Malformed("trun: %d samples", trun.SampleCount)
	}
	if err = need(payload, n+stride*int(trun.SampleCount), "trun entries"); err != nil {
		return nil, err
	}
	if sizeAt >= 0 {
		trun.SampleSizes = make([]uint32, trun.SampleCount)
		for i := range trun.SampleSizes {
			trun.SampleSizes[i] = binary.BigEndian.Uint32(payload[n+i*stride+sizeAt:])
		}
	}
	return trun, nil
}

// PatchTrunDataOffset returns a copy of payload with data_offset replaced.
// Runs without a data offset gain one, growing the payload by four bytes.
func PatchTrunDataOffset(payload []byte, offset int64) ([]byte, error) {
	trun, err := DecodeTrun(payload)
	if err != nil {
		return nil, err
	}
	if offset < -1<<31 || offset >= 1<<31 {
		return nil, Malformed("trun: data offset %d out of range", offset)
	}
	out := make([]byte, 0, len(payload)+4)
	if trun.HasDataOffset() {
		out = append(out, payload...)
	} else {
		out = append(out, payload[:8]...)
		out = append(out, 0, 0, 0, 0)
		out = append(out, payload[8:]...)
		out[3] |= byte(TR_FLAG_DATA_OFFSET)
	}
	binary.BigEndian.PutUint32(out[8:], uint32(int32(offset)))
	return out, nil
}
