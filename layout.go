package cenc

import (
	"fmt"
	"sort"

	. "m7s.live/cenc/pkg"
	"m7s.live/cenc/pkg/box"
)

// layoutProgressive lists the samples described by the stbl of t, walking
// the chunks in stco/co64 order the way sample-to-chunk assigns them.
func (m *movie) layoutProgressive(t *track) error {
	var sizes *box.SampleSizeBox
	var err error
	if n := t.stbl.Child(box.TypeSTSZ); n != nil {
		sizes, err = box.DecodeStsz(n.Payload(m.src))
	} else if n = t.stbl.Child(box.TypeSTZ2); n != nil {
		sizes, err = box.DecodeStz2(n.Payload(m.src))
	}
	if err != nil {
		return fmt.Errorf("track %d: %w", t.TrackID, err)
	}
	if sizes == nil || sizes.SampleCount == 0 {
		return nil
	}
	var offsets []int64
	if n := t.stbl.Child(box.TypeSTCO); n != nil {
		offsets, err = box.DecodeChunkOffsets(n.Payload(m.src), false)
	} else if n = t.stbl.Child(box.TypeCO64); n != nil {
		offsets, err = box.DecodeChunkOffsets(n.Payload(m.src), true)
	}
	if err != nil {
		return fmt.Errorf("track %d: %w", t.TrackID, err)
	}
	stsc := t.stbl.Child(box.TypeSTSC)
	if stsc == nil {
		return Malformed("track %d: %d samples without stsc", t.TrackID, sizes.SampleCount)
	}
	entries, err := box.DecodeStsc(stsc.Payload(m.src))
	if err != nil {
		return fmt.Errorf("track %d: %w", t.TrackID, err)
	}
	if len(entries) == 0 {
		return Malformed("track %d: empty stsc", t.TrackID)
	}
	count := int(sizes.SampleCount)
	t.samples = make([]sample, 0, count)
	k := 0
	for c, off := range offsets {
		for k+1 < len(entries) && int64(entries[k+1].FirstChunk) <= int64(c+1) {
			k++
		}
		e := entries[k]
		for j := uint32(0); j < e.SamplesPerChunk && len(t.samples) < count; j++ {
			size := sizes.Size(len(t.samples))
			t.samples = append(t.samples, sample{offset: off, size: size, desc: e.SampleDescriptionIndex, chunk: c})
			off += int64(size)
		}
	}
	if len(t.samples) < count {
		return Malformed("track %d: chunks hold %d of %d samples", t.TrackID, len(t.samples), count)
	}
	t.chunks = len(offsets)
	t.stblCount = count
	return nil
}

// layoutFragments resolves the data base of every traf, and lists the
// samples of the tracks marked for layout.
func (m *movie) layoutFragments() error {
	for _, moof := range m.file.ChildrenOf(box.TypeMOOF) {
		m.fragmented = true
		var prevEnd int64
		for i, traf := range moof.ChildrenOf(box.TypeTRAF) {
			node := traf.Child(box.TypeTFHD)
			if node == nil {
				return Malformed("traf at %d without tfhd", traf.Offset)
			}
			tfhd, err := box.DecodeTfhd(node.Payload(m.src))
			if err != nil {
				return err
			}
			base := moof.Offset
			switch {
			case tfhd.Has(box.TF_FLAG_BASE_DATA_OFFSET):
				base = int64(tfhd.BaseDataOffset)
			case tfhd.Has(box.TF_FLAG_DEFAULT_BASE_IS_MOOF), i == 0:
			default:
				base = prevEnd
			}
			m.trafBase[traf] = base

			t := m.byID[tfhd.TrackID]
			collect := t != nil && t.layout
			desc, defaultSize, hasSize := uint32(1), uint32(0), false
			if t != nil && t.trex != nil {
				desc, defaultSize, hasSize = t.trex.DefaultSampleDescriptionIndex, t.trex.DefaultSampleSize, true
			}
			if tfhd.Has(box.TF_FLAG_SAMPLE_DESCRIPTION_INDEX_PRESENT) {
				desc = tfhd.SampleDescriptionIndex
			}
			if tfhd.Has(box.TF_FLAG_DEFAULT_SAMPLE_SIZE_PRESENT) {
				defaultSize, hasSize = tfhd.DefaultSampleSize, true
			}
			frag := &fragment{moof: moof, traf: traf, base: base}
			if collect {
				frag.first = len(t.samples)
			}
			pos := base
			for j, n := range traf.ChildrenOf(box.TypeTRUN) {
				trun, err := box.DecodeTrun(n.Payload(m.src))
				if err != nil {
					return err
				}
				if trun.HasDataOffset() {
					pos = base + int64(trun.DataOffset)
				}
				if trun.SampleSizes == nil && !hasSize && trun.SampleCount > 0 {
					return Malformed("track %d: trun without sample sizes or defaults", tfhd.TrackID)
				}
				for k := 0; k < int(trun.SampleCount); k++ {
					size := defaultSize
					if trun.SampleSizes != nil {
						size = trun.SampleSizes[k]
					}
					if collect {
						t.samples = append(t.samples, sample{offset: pos, size: size, desc: desc, chunk: j})
					}
					pos += int64(size)
				}
				frag.truns++
			}
			prevEnd = pos
			if collect {
				frag.count = len(t.samples) - frag.first
				t.fragments = append(t.fragments, frag)
			}
		}
	}
	return nil
}

// checkSamples rejects sample data outside the top level media boxes and
// sample data claimed twice.
func (m *movie) checkSamples(tracks []*track) error {
	type claim struct {
		start, end int64
		track      uint32
	}
	var claims []claim
	top := m.file.Boxes
	for _, t := range tracks {
		for i := range t.samples {
			s := &t.samples[i]
			if s.size == 0 {
				continue
			}
			k := sort.Search(len(top), func(k int) bool { return top[k].End() > s.offset })
			if k == len(top) || top[k].Container || s.offset < top[k].PayloadOffset() || s.end() > top[k].End() {
				return Malformed("track %d sample %d at %d+%d lies outside the media data", t.TrackID, i, s.offset, s.size)
			}
			claims = append(claims, claim{s.offset, s.end(), t.TrackID})
		}
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].start < claims[j].start })
	for i := 1; i < len(claims); i++ {
		if claims[i].start < claims[i-1].end {
			return fmt.Errorf("%w: tracks %d and %d at %d", ErrOverlappingSamples, claims[i-1].track, claims[i].track, claims[i].start)
		}
	}
	return nil
}

// seigGroups returns the seig entries described by an sgpd under parent.
func (m *movie) seigGroups(parent *box.Node) ([]*box.SeigSampleGroupEntry, error) {
	for _, n := range parent.ChildrenOf(box.TypeSGPD) {
		if box.GroupingTypeOf(n.Payload(m.src)) != box.TypeSEIG {
			continue
		}
		sgpd, err := box.DecodeSgpd(n.Payload(m.src))
		if err != nil {
			return nil, missing("seig sample group description", err)
		}
		return sgpd.SampleGroupEntries, nil
	}
	return nil, nil
}

// assignGroups maps the samples under parent to seig entries. Indices above
// 0x10000 refer to the fragment local description.
func (m *movie) assignGroups(parent *box.Node, samples []sample, global, local []*box.SeigSampleGroupEntry) error {
	for _, n := range parent.ChildrenOf(box.TypeSBGP) {
		if box.GroupingTypeOf(n.Payload(m.src)) != box.TypeSEIG {
			continue
		}
		sbgp, err := box.DecodeSbgp(n.Payload(m.src))
		if err != nil {
			return missing("seig sample to group", err)
		}
		i := 0
		for _, e := range sbgp.Entries {
			var g *box.SeigSampleGroupEntry
			switch idx := e.GroupDescriptionIndex; {
			case idx == 0:
			case idx > 0x10000 && int(idx-0x10001) < len(local):
				g = local[idx-0x10001]
			case idx <= 0x10000 && int(idx) <= len(global):
				g = global[idx-1]
			default:
				return fmt.Errorf("%w: seig group description index %#x out of range", ErrMissingProtectionInfo, idx)
			}
			for c := uint32(0); c < e.SampleCount && i < len(samples); c++ {
				samples[i].group = g
				i++
			}
		}
		return nil
	}
	return nil
}

// prepare works out the protection parameters and auxiliary information
// of every sample of t. Problems found here fail only t.
func (m *movie) prepare(t *track) error {
	for _, e := range t.entries {
		if e.err != nil {
			return e.err
		}
	}
	var err error
	if t.groups, err = m.seigGroups(t.stbl); err != nil {
		return err
	}
	if err = m.assignGroups(t.stbl, t.samples[:t.stblCount], t.groups, nil); err != nil {
		return err
	}
	for _, f := range t.fragments {
		local, err := m.seigGroups(f.traf)
		if err != nil {
			return err
		}
		if err = m.assignGroups(f.traf, t.samples[f.first:f.first+f.count], t.groups, local); err != nil {
			return err
		}
	}
	for i := range t.samples {
		s := &t.samples[i]
		if s.desc == 0 || int(s.desc) > len(t.entries) {
			return Malformed("track %d sample %d: sample description index %d of %d", t.TrackID, i, s.desc, len(t.entries))
		}
		if prot := t.entries[s.desc-1].prot; prot != nil {
			if s.params, err = prot.params(s.group); err != nil {
				return NewTrackError(t.TrackID, i, err)
			}
		}
	}
	if err = m.loadAux(t.stbl, t.samples[:t.stblCount], 0, t.chunks); err != nil {
		return err
	}
	for _, f := range t.fragments {
		if err = m.loadAux(f.traf, t.samples[f.first:f.first+f.count], f.base, f.truns); err != nil {
			return err
		}
	}
	for i := range t.samples {
		s := &t.samples[i]
		if s.params.protected && s.params.ivSize > 0 && s.aux == nil {
			return NewTrackError(t.TrackID, i, fmt.Errorf("%w: no sample auxiliary information", ErrMissingProtectionInfo))
		}
		if s.params.protected {
			t.addKID(s.params.kid)
		}
	}
	return nil
}

// loadAux attaches IVs and subsample maps to samples, from a senc (or PIFF
// sample encryption box) under parent, or else from CENC saiz/saio. saio
// offsets are relative to base: zero in stbl, the data base in a traf.
func (m *movie) loadAux(parent *box.Node, samples []sample, base int64, runs int) error {
	if len(samples) == 0 {
		return nil
	}
	// entries past the samples are counted, then rejected below
	ivSize := func(i int) int {
		if i >= len(samples) {
			return 0
		}
		return samples[i].params.ivSize
	}
	senc, piff := parent.Child(box.TypeSENC), false
	if senc == nil {
		for _, n := range parent.ChildrenOf(box.TypeUUID) {
			if box.IsPIFFSenc(n) {
				senc, piff = n, true
				break
			}
		}
	}
	if senc != nil {
		s, err := box.DecodeSenc(senc.Payload(m.src), piff, ivSize)
		if err != nil {
			return missing("sample encryption box", err)
		}
		if int(s.SampleCount) != len(samples) {
			return fmt.Errorf("%w: senc describes %d of %d samples", ErrMissingProtectionInfo, s.SampleCount, len(samples))
		}
		for i := range samples {
			samples[i].aux = &s.EntryList[i]
			if s.OverrideKID != nil && samples[i].params.protected {
				samples[i].params.kid = KID(s.OverrideKID)
				if s.OverrideIVSize > 0 {
					samples[i].params.ivSize = s.OverrideIVSize
				}
			}
		}
		return nil
	}

	var saizNode, saioNode *box.Node
	for _, n := range parent.Children {
		switch {
		case n.Type == box.TypeSAIZ && saizNode == nil && box.AuxInfoIsCENC(n.Payload(m.src)):
			saizNode = n
		case n.Type == box.TypeSAIO && saioNode == nil && box.AuxInfoIsCENC(n.Payload(m.src)):
			saioNode = n
		}
	}
	if saizNode == nil && saioNode == nil {
		return nil
	}
	if saizNode == nil || saioNode == nil {
		return missing("saiz and saio pair", nil)
	}
	saiz, err := box.DecodeSaiz(saizNode.Payload(m.src))
	if err != nil {
		return missing("saiz", err)
	}
	saio, err := box.DecodeSaio(saioNode.Payload(m.src))
	if err != nil {
		return missing("saio", err)
	}
	if int(saiz.SampleCount) != len(samples) {
		return fmt.Errorf("%w: saiz describes %d of %d samples", ErrMissingProtectionInfo, saiz.SampleCount, len(samples))
	}
	perRun := len(saio.Offset) > 1
	if len(saio.Offset) == 0 || perRun && len(saio.Offset) != runs {
		return fmt.Errorf("%w: saio has %d offsets for %d runs", ErrMissingProtectionInfo, len(saio.Offset), runs)
	}
	pos := base + saio.Offset[0]
	for i := range samples {
		if perRun && (i == 0 || samples[i].chunk != samples[i-1].chunk) {
			pos = base + saio.Offset[samples[i].chunk]
		}
		size := int64(saiz.Size(i))
		if pos < 0 || pos+size > int64(len(m.src)) {
			return fmt.Errorf("%w: auxiliary information of sample %d at %d+%d is out of range", ErrMissingProtectionInfo, i, pos, size)
		}
		if size > 0 {
			e, err := box.DecodeSampleAuxInfo(m.src[pos:pos+size], ivSize(i))
			if err != nil {
				return missing("sample auxiliary information", err)
			}
			samples[i].aux = &e
		}
		pos += size
	}
	return nil
}
