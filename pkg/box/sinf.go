package box

import (
	"encoding/binary"
)

// aligned(8) class OriginalFormatBox(codingname) extends Box ('frma') {
//     unsigned int(32) data_format = codingname;
// }

func DecodeFrma(payload []byte) (format [4]byte, err error) {
	if err = need(payload, 4, "frma"); err != nil {
		return
	}
	copy(format[:], payload)
	return
}

// aligned(8) class SchemeTypeBox extends FullBox('schm', 0, flags) {
//     unsigned int(32) scheme_type;
//     unsigned int(32) scheme_version;
//     if (flags & 0x000001) {
//         unsigned int(8) scheme_uri[];
//     }
// }

type SchmBox struct {
	FullBox
	SchemeType    [4]byte
	SchemeVersion uint32
	SchemeURI     string
}

func DecodeSchm(payload []byte) (*SchmBox, error) {
	schm := &SchmBox{}
	n, err := schm.FullBox.Decode(payload)
	if err != nil {
		return nil, err
	}
	buf := payload[n:]
	if err = need(buf, 8, "schm"); err != nil {
		return nil, err
	}
	copy(schm.SchemeType[:], buf)
	schm.SchemeVersion = binary.BigEndian.Uint32(buf[4:])
	if schm.Flags&0x01 != 0 {
		schm.SchemeURI = string(buf[8:])
	}
	return schm, nil
}
