package box

import (
	"encoding/binary"

	. "m7s.live/cenc/pkg"
)

const (
	BasicBoxLen = 8
	LargeBoxLen = 16
	FullBoxLen  = 12
)

func f(s string) [4]byte {
	return [4]byte([]byte(s))
}

var (
	TypeFTYP = f("ftyp")
	TypeSTYP = f("styp")
	TypeMOOV = f("moov")
	TypeMVHD = f("mvhd")
	TypeTRAK = f("trak")
	TypeTKHD = f("tkhd")
	TypeEDTS = f("edts")
	TypeMDIA = f("mdia")
	TypeMDHD = f("mdhd")
	TypeHDLR = f("hdlr")
	TypeMINF = f("minf")
	TypeSTBL = f("stbl")
	TypeSTSD = f("stsd")
	TypeSTTS = f("stts")
	TypeSTSC = f("stsc")
	TypeSTSZ = f("stsz")
	TypeSTZ2 = f("stz2")
	TypeSTCO = f("stco")
	TypeCO64 = f("co64")
	TypeMDAT = f("mdat")
	TypeFREE = f("free")
	TypeUUID = f("uuid")
	TypePSSH = f("pssh")

	TypeENCV = f("encv")
	TypeENCA = f("enca")
	TypeSINF = f("sinf")
	TypeFRMA = f("frma")
	TypeSCHM = f("schm")
	TypeSCHI = f("schi")
	TypeTENC = f("tenc")
	TypeAVC1 = f("avc1")
	TypeMP4A = f("mp4a")

	TypeMVEX = f("mvex")
	TypeTREX = f("trex")
	TypeMOOF = f("moof")
	TypeMFHD = f("mfhd")
	TypeTRAF = f("traf")
	TypeTFHD = f("tfhd")
	TypeTFDT = f("tfdt")
	TypeTRUN = f("trun")
	TypeSENC = f("senc")
	TypeSAIZ = f("saiz")
	TypeSAIO = f("saio")
	TypeSGPD = f("sgpd")
	TypeSBGP = f("sbgp")
	TypeSEIG = f("seig")
	TypeSIDX = f("sidx")
	TypeMFRA = f("mfra")
	TypeTFRA = f("tfra")
	TypeMFRO = f("mfro")

	TypeCENC = f("cenc")
	TypeCENS = f("cens")
	TypeCBC1 = f("cbc1")
	TypeCBCS = f("cbcs")
)

// UserTypePIFFSenc is the extended type of the PIFF 1.1 sample encryption box.
var UserTypePIFFSenc = [16]byte{0xa2, 0x39, 0x4f, 0x52, 0x5a, 0x9b, 0x4f, 0x14, 0xa2, 0x44, 0x6c, 0x42, 0x7c, 0x64, 0x8d, 0xf4}

//	aligned(8) class Box (unsigned int(32) boxtype, optional unsigned int(8)[16] extended_type) {
//	    unsigned int(32) size;
//	    unsigned int(32) type = boxtype;
//	    if (size==1) {
//	       unsigned int(64) largesize;
//	    } else if (size==0) {
//	       // box extends to end of file
//	    }
//	    if (boxtype=='uuid') {
//	    unsigned int(8)[16] usertype = extended_type;
//	 }
//	}
type BasicBox struct {
	Offset     int64
	Size       uint64
	HeaderSize int
	Type       [4]byte
	UserType   [16]byte
	Large      bool
	ToEOF      bool
}

// DecodeHeader reads the box header at offset. end bounds the enclosing box
// (or the stream); the declared size must fit inside it.
func DecodeHeader(buf []byte, offset, end int64, topLevel bool) (box BasicBox, err error) {
	box.Offset = offset
	if end-offset < BasicBoxLen {
		return box, Malformed("truncated box header at %d", offset)
	}
	b := buf[offset:end]
	size := uint64(binary.BigEndian.Uint32(b))
	copy(box.Type[:], b[4:8])
	box.HeaderSize = BasicBoxLen
	switch size {
	case 1:
		if len(b) < LargeBoxLen {
			return box, Malformed("%s at %d: extended size lacks 8 bytes", box.Type[:], offset)
		}
		size = binary.BigEndian.Uint64(b[8:])
		box.HeaderSize = LargeBoxLen
		box.Large = true
	case 0:
		if !topLevel {
			return box, Malformed("%s at %d: zero size inside a container", box.Type[:], offset)
		}
		size = uint64(end - offset)
		box.ToEOF = true
	}
	if box.Type == TypeUUID {
		if len(b) < box.HeaderSize+16 {
			return box, Malformed("uuid at %d: truncated user type", offset)
		}
		copy(box.UserType[:], b[box.HeaderSize:])
		box.HeaderSize += 16
	}
	if size < uint64(box.HeaderSize) {
		return box, Malformed("%s at %d: size %d below header size %d", box.Type[:], offset, size, box.HeaderSize)
	}
	if size > uint64(end-offset) {
		return box, Malformed("%s at %d: size %d exceeds the %d bytes left", box.Type[:], offset, size, end-offset)
	}
	box.Size = size
	return
}

func (box *BasicBox) End() int64 {
	return box.Offset + int64(box.Size)
}

func (box *BasicBox) PayloadOffset() int64 {
	return box.Offset + int64(box.HeaderSize)
}

// EncodeHeader writes the header of box with a new total size, keeping the
// original header layout (large size, uuid user type, to-end-of-file).
func (box *BasicBox) EncodeHeader(dst []byte, size uint64) []byte {
	var hdr [32]byte
	n := BasicBoxLen
	switch {
	case box.ToEOF:
	case box.Large:
		binary.BigEndian.PutUint32(hdr[:], 1)
		binary.BigEndian.PutUint64(hdr[8:], size)
		n = LargeBoxLen
	default:
		binary.BigEndian.PutUint32(hdr[:], uint32(size))
	}
	copy(hdr[4:], box.Type[:])
	if box.Type == TypeUUID {
		copy(hdr[n:], box.UserType[:])
		n += 16
	}
	return append(dst, hdr[:n]...)
}

// aligned(8) class FullBox(unsigned int(32) boxtype, unsigned int(8) v, bit(24) f) extends Box(boxtype) {
//     unsigned int(8) version = v;
//     bit(24) flags = f;
// }

type FullBox struct {
	Version uint8
	Flags   uint32
}

func (box *FullBox) Decode(payload []byte) (int, error) {
	if len(payload) < 4 {
		return 0, Malformed("truncated full box header")
	}
	box.Version = payload[0]
	box.Flags = uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
	return 4, nil
}

func need(buf []byte, n int, what string) error {
	if n < 0 || len(buf) < n {
		return Malformed("%s: need %d bytes, have %d", what, n, len(buf))
	}
	return nil
}
