package cenc

import (
	"bytes"
	"testing"

	"m7s.live/cenc/pkg/box"
	"m7s.live/cenc/pkg/crypt"
)

// Test files are synthesized: samples are encrypted with the same sample
// engine, so every expected plaintext is exact.

func typ(s string) [4]byte {
	return [4]byte([]byte(s))
}

func fill(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*13)
	}
	return b
}

var (
	mk   = box.Make
	full = box.MakeFull
	u8   = box.U8
	u16  = box.U16
	u32  = box.U32
	u64  = box.U64
)

type rotation struct {
	kid, key []byte
}

type fixtureTrack struct {
	id         uint32
	scheme     crypt.Scheme // empty for a clear track
	kid, key   []byte
	ivSize     int
	constIV    []byte
	pattern    crypt.Pattern
	subsamples bool
	// odd samples use a second key through a fragment local seig group
	rotate *rotation

	plain, enc [][]byte
	aux        [][]byte
}

func newTrack(id uint32, scheme crypt.Scheme, samples int) *fixtureTrack {
	ft := &fixtureTrack{id: id, scheme: scheme, kid: bytes.Repeat([]byte{byte(id)}, 16), key: fill(16, byte(0x40+id)), ivSize: 8}
	for i := 0; i < samples; i++ {
		ft.plain = append(ft.plain, fill(90+37*i, byte(id*50+uint32(i))))
	}
	return ft
}

func (ft *fixtureTrack) protected() bool {
	return ft.scheme != ""
}

func (ft *fixtureTrack) encrypt(t *testing.T) {
	t.Helper()
	ft.enc, ft.aux = nil, nil
	for i, p := range ft.plain {
		if !ft.protected() {
			ft.enc = append(ft.enc, p)
			continue
		}
		key := ft.key
		if ft.rotate != nil && i%2 == 1 {
			key = ft.rotate.key
		}
		d, err := crypt.NewDecrypter(ft.scheme, key)
		if err != nil {
			t.Fatal(err)
		}
		info := crypt.SampleInfo{IV: ft.constIV, Pattern: ft.pattern}
		var aux []byte
		if ft.ivSize > 0 {
			info.IV = fill(ft.ivSize, byte(ft.id*31)+byte(i))
			aux = append(aux, info.IV...)
		}
		if ft.subsamples {
			info.Subsamples = []crypt.Subsample{{Clear: 7, Protected: uint32(len(p) - 7)}}
			aux = append(aux, u16(1)...)
			aux = append(aux, u16(7)...)
			aux = append(aux, u32(uint32(len(p)-7))...)
		}
		enc := make([]byte, len(p))
		if err = d.EncryptSample(enc, p, info); err != nil {
			t.Fatal(err)
		}
		ft.enc = append(ft.enc, enc)
		ft.aux = append(ft.aux, aux)
	}
}

func (ft *fixtureTrack) sampleEntry() []byte {
	visual := make([]byte, 78)
	visual[7] = 1                            // data_reference_index
	copy(visual[24:], []byte{0, 64, 0, 48})  // width, height
	copy(visual[28:], []byte{0, 0x48, 0, 0}) // horizresolution
	copy(visual[32:], []byte{0, 0x48, 0, 0}) // vertresolution
	visual[41] = 1                           // frame_count
	copy(visual[74:], []byte{0, 0x18, 0xff, 0xff})
	if !ft.protected() {
		return mk(box.TypeAVC1, visual)
	}
	version := uint8(0)
	if ft.pattern != (crypt.Pattern{}) {
		version = 1
	}
	tenc := []byte{0, ft.pattern.CryptByteBlock<<4 | ft.pattern.SkipByteBlock, 1, byte(ft.ivSize)}
	tenc = append(tenc, ft.kid...)
	if ft.ivSize == 0 {
		tenc = append(append(tenc, byte(len(ft.constIV))), ft.constIV...)
	}
	sinf := mk(box.TypeSINF,
		mk(box.TypeFRMA, box.TypeAVC1[:]),
		full(box.TypeSCHM, 0, 0, []byte(ft.scheme), u32(0x00010000)),
		mk(box.TypeSCHI, full(box.TypeTENC, version, 0, tenc)))
	return mk(box.TypeENCV, visual, sinf)
}

func (ft *fixtureTrack) senc(from, to int, piff bool) []byte {
	flags := uint32(0)
	if ft.subsamples {
		flags = box.UseSubsampleEncryption
	}
	payload := [][]byte{u32(uint32(to - from))}
	payload = append(payload, ft.aux[from:to]...)
	if piff {
		hdr := append([]byte{0}, u32(flags)[1:]...)
		return box.MakeUUID(box.UserTypePIFFSenc, append([][]byte{hdr}, payload...)...)
	}
	return full(box.TypeSENC, 0, flags, payload...)
}

func (ft *fixtureTrack) saiz(from, to int) []byte {
	sizes := make([]byte, 0, to-from)
	for _, a := range ft.aux[from:to] {
		sizes = append(sizes, byte(len(a)))
	}
	return full(box.TypeSAIZ, 0, 0, u8(0), u32(uint32(to-from)), sizes)
}

func (ft *fixtureTrack) auxBlob(from, to int) []byte {
	return bytes.Join(ft.aux[from:to], nil)
}

type fixture struct {
	tracks     []*fixtureTrack
	fragmented bool
	fragments  int
	piff       bool
	auxOnly    bool // locate auxiliary information through saiz/saio only
	index      bool // add sidx and mfra
	// trafs after the first take their data base from the previous traf,
	// and their runs carry no data offset
	implicit bool
	pssh     bool
}

func matrix() []byte {
	return bytes.Join([][]byte{u32(0x00010000), u32(0), u32(0), u32(0), u32(0x00010000), u32(0), u32(0), u32(0), u32(0x40000000)}, nil)
}

func (fx *fixture) ftyp() []byte {
	return mk(box.TypeFTYP, []byte("isom"), u32(0x200), []byte("isomiso6"))
}

func (fx *fixture) trak(ft *fixtureTrack, stbl ...[]byte) []byte {
	tkhd := full(box.TypeTKHD, 0, 3, u32(0), u32(0), u32(ft.id), u32(0), u32(0), make([]byte, 8), u16(0), u16(0), u16(0), u16(0), matrix(), u32(64<<16), u32(48<<16))
	mdhd := full(box.TypeMDHD, 0, 0, u32(0), u32(0), u32(1000), u32(0), u16(0x55c4), u16(0))
	hdlr := full(box.TypeHDLR, 0, 0, u32(0), []byte("vide"), make([]byte, 12), []byte("VideoHandler\x00"))
	vmhd := full(typ("vmhd"), 0, 1, make([]byte, 8))
	dinf := mk(typ("dinf"), full(typ("dref"), 0, 0, u32(1), full(typ("url "), 0, 1)))
	stsd := full(box.TypeSTSD, 0, 0, u32(1), ft.sampleEntry())
	minf := mk(box.TypeMINF, vmhd, dinf, mk(box.TypeSTBL, append([][]byte{stsd}, stbl...)...))
	return mk(box.TypeTRAK, tkhd, mk(box.TypeMDIA, mdhd, hdlr, minf))
}

func (fx *fixture) moov(traks, extra [][]byte) []byte {
	mvhd := full(box.TypeMVHD, 0, 0, u32(0), u32(0), u32(1000), u32(0), u32(0x00010000), u16(0x0100), make([]byte, 10), matrix(), make([]byte, 24), u32(uint32(len(fx.tracks)+1)))
	parts := append([][]byte{mvhd}, traks...)
	if fx.pssh {
		parts = append(parts, fx.psshBox())
	}
	return mk(box.TypeMOOV, append(parts, extra...)...)
}

func (fx *fixture) psshBox() []byte {
	return full(box.TypePSSH, 0, 0, box.SystemIDWidevine[:], u32(4), []byte("data"))
}

// build returns the encrypted file.
func (fx *fixture) build(t *testing.T) []byte {
	t.Helper()
	for _, ft := range fx.tracks {
		ft.encrypt(t)
	}
	if fx.fragmented {
		return fx.buildFragmented(t)
	}
	return fx.buildProgressive(t)
}

// Progressive files keep two samples per chunk, chunks of the tracks
// interleaved in mdat.
func (fx *fixture) buildProgressive(t *testing.T) []byte {
	t.Helper()
	type chunk struct {
		track int
		data  []byte
	}
	var auxBlob []byte
	auxAt := make([]int, len(fx.tracks))
	for i, ft := range fx.tracks {
		if ft.protected() && fx.auxOnly {
			auxAt[i] = len(auxBlob)
			auxBlob = append(auxBlob, ft.auxBlob(0, len(ft.aux))...)
		}
	}
	var chunks []chunk
	for c := 0; ; c++ {
		more := false
		for i, ft := range fx.tracks {
			if 2*c < len(ft.enc) {
				more = true
				chunks = append(chunks, chunk{i, bytes.Join(ft.enc[2*c:min(2*c+2, len(ft.enc))], nil)})
			}
		}
		if !more {
			break
		}
	}
	moov := func(mdatPayload int) []byte {
		var traks [][]byte
		for i, ft := range fx.tracks {
			n := len(ft.enc)
			var sizes, offsets [][]byte
			for _, s := range ft.enc {
				sizes = append(sizes, u32(uint32(len(s))))
			}
			pos := mdatPayload + len(auxBlob)
			for _, c := range chunks {
				if c.track == i {
					offsets = append(offsets, u32(uint32(pos)))
				}
				pos += len(c.data)
			}
			stsc := [][]byte{u32(1), u32(1), u32(2), u32(1)}
			if n%2 == 1 {
				stsc = [][]byte{u32(2), u32(1), u32(2), u32(1), u32(uint32(len(offsets))), u32(1), u32(1)}
				if n == 1 {
					stsc = [][]byte{u32(1), u32(1), u32(1), u32(1)}
				}
			}
			stbl := [][]byte{
				full(box.TypeSTTS, 0, 0, u32(1), u32(uint32(n)), u32(1000)),
				full(box.TypeSTSC, 0, 0, stsc...),
				full(box.TypeSTSZ, 0, 0, append([][]byte{u32(0), u32(uint32(n))}, sizes...)...),
				full(box.TypeSTCO, 0, 0, append([][]byte{u32(uint32(len(offsets)))}, offsets...)...),
			}
			if ft.protected() {
				if fx.auxOnly {
					stbl = append(stbl, ft.saiz(0, n), full(box.TypeSAIO, 0, 0, u32(1), u32(uint32(mdatPayload+auxAt[i]))))
				} else {
					stbl = append(stbl, ft.senc(0, n, false))
				}
			}
			traks = append(traks, fx.trak(ft, stbl...))
		}
		return fx.moov(traks, nil)
	}
	head := len(fx.ftyp()) + len(moov(0)) + 8
	mdat := [][]byte{auxBlob}
	for _, c := range chunks {
		mdat = append(mdat, c.data)
	}
	return bytes.Join([][]byte{fx.ftyp(), moov(head), mk(box.TypeMDAT, mdat...)}, nil)
}

func (fx *fixture) buildFragmented(t *testing.T) []byte {
	t.Helper()
	frags := max(fx.fragments, 1)
	var traks, trexes [][]byte
	for _, ft := range fx.tracks {
		traks = append(traks, fx.trak(ft,
			full(box.TypeSTTS, 0, 0, u32(0)),
			full(box.TypeSTSC, 0, 0, u32(0)),
			full(box.TypeSTSZ, 0, 0, u32(0), u32(0)),
			full(box.TypeSTCO, 0, 0, u32(0))))
		trexes = append(trexes, full(box.TypeTREX, 0, 0, u32(ft.id), u32(1), u32(1000), u32(0), u32(0)))
	}
	out := [][]byte{fx.ftyp(), fx.moov(traks, [][]byte{mk(box.TypeMVEX, trexes...)})}

	var segments [][]byte
	for f := 0; f < frags; f++ {
		var auxBlob, data []byte
		auxAt := make([]int, len(fx.tracks))
		dataAt := make([]int, len(fx.tracks))
		ranges := make([][2]int, len(fx.tracks))
		for i, ft := range fx.tracks {
			per := (len(ft.enc) + frags - 1) / frags
			from, to := min(f*per, len(ft.enc)), min((f+1)*per, len(ft.enc))
			ranges[i] = [2]int{from, to}
			if ft.protected() && fx.auxOnly {
				auxAt[i] = len(auxBlob)
				auxBlob = append(auxBlob, ft.auxBlob(from, to)...)
			}
		}
		for i, ft := range fx.tracks {
			dataAt[i] = len(auxBlob) + len(data)
			data = append(data, bytes.Join(ft.enc[ranges[i][0]:ranges[i][1]], nil)...)
		}
		moof := func(dataOffset []int, saioOffset []int) []byte {
			parts := [][]byte{full(box.TypeMFHD, 0, 0, u32(uint32(f+1)))}
			for i, ft := range fx.tracks {
				from, to := ranges[i][0], ranges[i][1]
				tfhdFlags, trunFlags := box.TF_FLAG_DEFAULT_BASE_IS_MOOF, box.TR_FLAG_DATA_OFFSET|box.TR_FLAG_DATA_SAMPLE_SIZE
				trun := [][]byte{u32(uint32(to - from)), u32(uint32(dataOffset[i]))}
				if fx.implicit {
					tfhdFlags = 0
					if i > 0 {
						trunFlags = box.TR_FLAG_DATA_SAMPLE_SIZE
						trun = trun[:1]
					}
				}
				for _, s := range ft.enc[from:to] {
					trun = append(trun, u32(uint32(len(s))))
				}
				traf := [][]byte{
					full(box.TypeTFHD, 0, tfhdFlags, u32(ft.id)),
					full(box.TypeTFDT, 1, 0, u64(uint64(from*1000))),
					full(box.TypeTRUN, 0, trunFlags, trun...),
				}
				if ft.protected() {
					if ft.rotate != nil {
						var entries [][]byte
						for k := from; k < to; k++ {
							idx := uint32(0)
							if k%2 == 1 {
								idx = 0x10001
							}
							entries = append(entries, u32(1), u32(idx))
						}
						seig := append([]byte{0, ft.pattern.CryptByteBlock<<4 | ft.pattern.SkipByteBlock, 1, byte(ft.ivSize)}, ft.rotate.kid...)
						traf = append(traf,
							full(box.TypeSBGP, 0, 0, append([][]byte{box.TypeSEIG[:], u32(uint32(to - from))}, entries...)...),
							full(box.TypeSGPD, 1, 0, box.TypeSEIG[:], u32(20), u32(1), seig))
					}
					if !fx.auxOnly {
						traf = append(traf, ft.senc(from, to, fx.piff))
					}
					if !fx.implicit {
						traf = append(traf, ft.saiz(from, to), full(box.TypeSAIO, 0, 0, u32(1), u32(uint32(saioOffset[i]))))
					}
				}
				parts = append(parts, mk(box.TypeTRAF, traf...))
			}
			return mk(box.TypeMOOF, parts...)
		}
		zero := make([]int, len(fx.tracks))
		draft := moof(zero, zero)
		saioOffset := make([]int, len(fx.tracks))
		dataOffset := make([]int, len(fx.tracks))
		parsed, err := box.Parse(draft)
		if err != nil {
			t.Fatal(err)
		}
		for i, traf := range parsed.Boxes[0].ChildrenOf(box.TypeTRAF) {
			dataOffset[i] = len(draft) + 8 + dataAt[i]
			if fx.auxOnly {
				saioOffset[i] = len(draft) + 8 + auxAt[i]
				continue
			}
			for _, n := range traf.Children {
				if n.Type == box.TypeSENC || box.IsPIFFSenc(n) {
					saioOffset[i] = int(n.PayloadOffset()) + 8
				}
			}
		}
		segments = append(segments, moof(dataOffset, saioOffset), mk(box.TypeMDAT, auxBlob, data))
	}
	if !fx.index {
		return bytes.Join(append(out, segments...), nil)
	}

	var refs [][]byte
	for f := 0; f < frags; f++ {
		refs = append(refs, u32(uint32(len(segments[2*f])+len(segments[2*f+1]))), u32(1000), u32(0x90000000))
	}
	sidx := full(box.TypeSIDX, 0, 0, append([][]byte{u32(1), u32(1000), u32(0), u32(0), u16(0), u16(uint16(frags))}, refs...)...)
	out = append(out, sidx)
	pos := len(bytes.Join(out, nil))
	var moofAt []int
	for f := 0; f < frags; f++ {
		moofAt = append(moofAt, pos)
		pos += len(segments[2*f]) + len(segments[2*f+1])
	}
	var tfras [][]byte
	for _, ft := range fx.tracks {
		entries := [][]byte{u32(ft.id), u32(0), u32(uint32(frags))}
		for f := 0; f < frags; f++ {
			entries = append(entries, u64(uint64(f*1000)), u64(uint64(moofAt[f])), u8(1), u8(1), u8(1))
		}
		tfras = append(tfras, full(box.TypeTFRA, 1, 0, entries...))
	}
	mfraSize := 8 + len(bytes.Join(tfras, nil)) + 16
	mfra := mk(box.TypeMFRA, append(tfras, full(box.TypeMFRO, 0, 0, u32(uint32(mfraSize))))...)
	return bytes.Join(append(append(out, segments...), mfra), nil)
}

// sampleData reads every sample of every track back through the sample
// tables of file.
func sampleData(t *testing.T, file []byte) map[uint32][][]byte {
	t.Helper()
	f, err := box.Parse(file)
	if err != nil {
		t.Fatal(err)
	}
	m, err := loadMovie(f)
	if err != nil {
		t.Fatal(err)
	}
	for _, tr := range m.tracks {
		tr.layout = true
		if err = m.layoutProgressive(tr); err != nil {
			t.Fatal(err)
		}
	}
	if err = m.layoutFragments(); err != nil {
		t.Fatal(err)
	}
	ret := make(map[uint32][][]byte)
	for _, tr := range m.tracks {
		ret[tr.TrackID] = [][]byte{}
		for i := range tr.samples {
			s := &tr.samples[i]
			ret[tr.TrackID] = append(ret[tr.TrackID], file[s.offset:s.end()])
		}
	}
	return ret
}

// count returns how many boxes of type t the file holds at any depth.
func count(t *testing.T, file []byte, types ...[4]byte) (n int) {
	t.Helper()
	f, err := box.Parse(file)
	if err != nil {
		t.Fatal(err)
	}
	f.Walk(func(node, _ *box.Node) bool {
		for _, ty := range types {
			if node.Type == ty {
				n++
			}
		}
		return true
	})
	return
}
