package box

import (
	. "m7s.live/cenc/pkg"
)

// aligned(8) class TrackEncryptionBox extends FullBox('tenc', version, flags=0) {
//     unsigned int(8) reserved = 0;
//     if (version==0) {
//         unsigned int(8) reserved = 0;
//     } else {
//         unsigned int(4) default_crypt_byte_block;
//         unsigned int(4) default_skip_byte_block;
//     }
//     unsigned int(8) default_isProtected;
//     unsigned int(8) default_Per_Sample_IV_Size;
//     unsigned int(8)[16] default_KID;
//     if (default_isProtected ==1 && default_Per_Sample_IV_Size == 0) {
//         unsigned int(8) default_constant_IV_size;
//         unsigned int(8)[default_constant_IV_size] default_constant_IV;
//     }
// }

type TencBox struct {
	FullBox
	DefaultCryptByteBlock  uint8
	DefaultSkipByteBlock   uint8
	DefaultIsProtected     uint8
	DefaultPerSampleIVSize uint8
	DefaultKID             KID
	DefaultConstantIV      []byte
}

func DecodeTenc(payload []byte) (*TencBox, error) {
	tenc := &TencBox{}
	n, err := tenc.FullBox.Decode(payload)
	if err != nil {
		return nil, err
	}
	buf := payload[n:]
	if err = need(buf, 20, "tenc"); err != nil {
		return nil, err
	}
	n = 1
	if tenc.Version != 0 {
		tenc.DefaultCryptByteBlock = buf[n] >> 4
		tenc.DefaultSkipByteBlock = buf[n] & 0x0f
	}
	n += 1
	tenc.DefaultIsProtected = buf[n]
	n += 1
	tenc.DefaultPerSampleIVSize = buf[n]
	n += 1
	copy(tenc.DefaultKID[:], buf[n:n+16])
	n += 16
	if tenc.DefaultIsProtected == 1 && tenc.DefaultPerSampleIVSize == 0 {
		if err = need(buf, n+1, "tenc constant IV size"); err != nil {
			return nil, err
		}
		size := int(buf[n])
		n += 1
		if err = need(buf, n+size, "tenc constant IV"); err != nil {
			return nil, err
		}
		tenc.DefaultConstantIV = buf[n : n+size]
	}
	return tenc, nil
}
