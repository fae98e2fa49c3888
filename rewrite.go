package cenc

import (
	"sort"

	. "m7s.live/cenc/pkg"
	"m7s.live/cenc/pkg/box"
)

type span struct {
	start, end int64
}

// rewriter emits the output box tree. Dropped boxes and holes (sample data
// of omitted tracks) are left out, and every offset that points past them
// is moved back by the number of bytes removed before it. Runs that gain a
// data offset move later offsets forward.
type rewriter struct {
	src, work []byte
	drop      map[*box.Node]bool
	rename    map[*box.Node][4]byte
	trafBase  map[*box.Node]int64
	moofOf    map[*box.Node]*box.Node // trafs rebased on their moof
	grow      map[*box.Node]int64
	holes     []span
	removed   []span
	shift     []int64 // shift[i] is the removed length ahead of removed[i]
	inserts   []span  // growth at start, sorted
	grown     []int64 // grown[i] is the inserted length ahead of inserts[i]
}

func (m *movie) rewrite(work []byte) ([]byte, error) {
	w := &rewriter{
		src:      m.src,
		work:     work,
		drop:     make(map[*box.Node]bool),
		rename:   make(map[*box.Node][4]byte),
		trafBase: m.trafBase,
		moofOf:   make(map[*box.Node]*box.Node),
		grow:     make(map[*box.Node]int64),
	}
	var decrypted, protected bool
	for _, t := range m.tracks {
		switch t.State {
		case TrackDecrypted:
			decrypted = true
			w.unprotect(t)
		case TrackFailed, TrackCanceled:
			w.omit(m, t)
		case TrackSkipped:
			protected = true
		}
	}
	if decrypted && !protected {
		w.dropPssh(m.file.Boxes)
	}
	if len(w.drop) == 0 && len(w.rename) == 0 && len(w.holes) == 0 {
		return work, nil
	}
	if err := w.rebase(m); err != nil {
		return nil, err
	}
	w.collect(m.file.Boxes)
	out := make([]byte, 0, len(work))
	var err error
	for _, n := range m.file.Boxes {
		if out, err = w.emit(out, n, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// unprotect restores the original sample entry formats of t and drops the
// boxes that only served decryption.
func (w *rewriter) unprotect(t *track) {
	for _, e := range t.entries {
		if e.prot == nil {
			continue
		}
		w.rename[e.node] = e.prot.format
		for _, sinf := range e.node.ChildrenOf(box.TypeSINF) {
			w.drop[sinf] = true
		}
	}
	w.dropAux(t.stbl)
	for _, f := range t.fragments {
		w.dropAux(f.traf)
	}
}

func (w *rewriter) dropAux(parent *box.Node) {
	for _, n := range parent.Children {
		var drop bool
		switch n.Type {
		case box.TypeSENC:
			drop = true
		case box.TypeUUID:
			drop = box.IsPIFFSenc(n)
		case box.TypeSAIZ, box.TypeSAIO:
			drop = box.AuxInfoIsCENC(n.Payload(w.src))
		case box.TypeSGPD, box.TypeSBGP:
			drop = box.GroupingTypeOf(n.Payload(w.src)) == box.TypeSEIG
		}
		if drop {
			w.drop[n] = true
		}
	}
}

// omit removes every trace of t, sample data included.
func (w *rewriter) omit(m *movie, t *track) {
	w.drop[t.trak] = true
	if t.trexNode != nil {
		w.drop[t.trexNode] = true
	}
	for _, f := range t.fragments {
		w.drop[f.traf] = true
	}
	for _, mfra := range m.file.ChildrenOf(box.TypeMFRA) {
		for _, n := range mfra.ChildrenOf(box.TypeTFRA) {
			if tfra, err := box.DecodeTfra(n.Payload(w.src)); err == nil && tfra.TrackID == t.TrackID {
				w.drop[n] = true
			}
		}
	}
	for i := range t.samples {
		if s := &t.samples[i]; s.size > 0 {
			w.holes = append(w.holes, span{s.offset, s.end()})
		}
	}
}

func (w *rewriter) dropPssh(nodes []*box.Node) {
	for _, n := range nodes {
		switch n.Type {
		case box.TypePSSH:
			w.drop[n] = true
		case box.TypeMOOV, box.TypeMOOF:
			w.dropPssh(n.Children)
		}
	}
}

// rebase finds kept trafs whose implicit data base was the data end of a
// dropped traf. They are switched to a moof relative base, and a first run
// without a data offset gains one.
func (w *rewriter) rebase(m *movie) error {
	for _, moof := range m.file.ChildrenOf(box.TypeMOOF) {
		trafs := moof.ChildrenOf(box.TypeTRAF)
		for i := 1; i < len(trafs); i++ {
			traf := trafs[i]
			if w.drop[traf] || !w.drop[trafs[i-1]] {
				continue
			}
			node := traf.Child(box.TypeTFHD)
			if node == nil {
				return Malformed("traf at %d without tfhd", traf.Offset)
			}
			tfhd, err := box.DecodeTfhd(node.Payload(w.src))
			if err != nil {
				return err
			}
			if tfhd.Has(box.TF_FLAG_BASE_DATA_OFFSET) || tfhd.Has(box.TF_FLAG_DEFAULT_BASE_IS_MOOF) {
				continue
			}
			w.moofOf[traf] = moof
			runs := traf.ChildrenOf(box.TypeTRUN)
			if len(runs) == 0 {
				continue
			}
			trun, err := box.DecodeTrun(runs[0].Payload(w.src))
			if err != nil {
				return err
			}
			if !trun.HasDataOffset() {
				w.grow[runs[0]] = 4
				w.inserts = append(w.inserts, span{runs[0].End(), runs[0].End() + 4})
			}
		}
	}
	return nil
}

// collect builds the sorted removed ranges from the outermost dropped
// boxes and the holes.
func (w *rewriter) collect(nodes []*box.Node) {
	var walk func(nodes []*box.Node)
	walk = func(nodes []*box.Node) {
		for _, n := range nodes {
			if w.drop[n] {
				w.removed = append(w.removed, span{n.Offset, n.End()})
			} else if n.Container {
				walk(n.Children)
			}
		}
	}
	walk(nodes)
	sort.Slice(w.holes, func(i, j int) bool { return w.holes[i].start < w.holes[j].start })
	w.removed = append(w.removed, w.holes...)
	sort.Slice(w.removed, func(i, j int) bool { return w.removed[i].start < w.removed[j].start })
	merged := w.removed[:0]
	for _, r := range w.removed {
		if k := len(merged) - 1; k >= 0 && r.start <= merged[k].end {
			merged[k].end = max(merged[k].end, r.end)
			continue
		}
		merged = append(merged, r)
	}
	w.removed = merged
	w.shift = make([]int64, len(merged)+1)
	for i, r := range merged {
		w.shift[i+1] = w.shift[i] + r.end - r.start
	}
	w.grown = make([]int64, len(w.inserts)+1)
	for i, r := range w.inserts {
		w.grown[i+1] = w.grown[i] + r.end - r.start
	}
}

// remap translates a position in the input to the output. Positions inside
// a removed range land where the range used to start.
func (w *rewriter) remap(x int64) int64 {
	i := sort.Search(len(w.removed), func(i int) bool { return w.removed[i].start >= x })
	d := w.shift[i]
	if i > 0 && w.removed[i-1].end > x {
		d -= w.removed[i-1].end - x
	}
	j := sort.Search(len(w.inserts), func(j int) bool { return w.inserts[j].start > x })
	return x - d + w.grown[j]
}

// relative remaps an offset measured from base.
func (w *rewriter) relative(base int64) func(int64) int64 {
	return func(off int64) int64 {
		return w.remap(base+off) - w.remap(base)
	}
}

// dataOffset remaps an offset measured from the data base of traf, onto
// the moof start for rebased trafs.
func (w *rewriter) dataOffset(traf *box.Node) func(int64) int64 {
	base := w.trafBase[traf]
	if moof := w.moofOf[traf]; moof != nil {
		return func(off int64) int64 {
			return w.remap(base+off) - w.remap(moof.Offset)
		}
	}
	return w.relative(base)
}

func (w *rewriter) emit(out []byte, n, parent *box.Node) ([]byte, error) {
	if w.drop[n] {
		return out, nil
	}
	start := len(out)
	out = append(out, make([]byte, n.HeaderSize)...)
	if n.Container {
		payload := n.PayloadOffset()
		out = append(out, w.src[payload:payload+int64(n.Prefix)]...)
		var err error
		for _, c := range n.Children {
			if out, err = w.emit(out, c, n); err != nil {
				return nil, err
			}
		}
		out = append(out, w.src[n.End()-int64(n.Trailer):n.End()]...)
	} else {
		body, err := w.patch(n, parent)
		if err != nil {
			return nil, err
		}
		if body != nil {
			out = append(out, body...)
		} else {
			out = w.copyLeaf(out, n)
		}
	}
	hdr := n.BasicBox
	if t, ok := w.rename[n]; ok {
		hdr.Type = t
	}
	copy(out[start:], hdr.EncodeHeader(nil, uint64(len(out)-start)))
	return out, nil
}

// patch returns the rewritten payload of leaves holding offsets into the
// file, or nil for leaves copied as they are.
func (w *rewriter) patch(n, parent *box.Node) ([]byte, error) {
	if parent == nil {
		if n.Type == box.TypeSIDX {
			return box.PatchSidx(n.Payload(w.src), n.End(), w.remap)
		}
		return nil, nil
	}
	payload := n.Payload(w.src)
	switch {
	case parent.Type == box.TypeSTBL && n.Type == box.TypeSTCO:
		return box.PatchChunkOffsets(payload, false, w.remap)
	case parent.Type == box.TypeSTBL && n.Type == box.TypeCO64:
		return box.PatchChunkOffsets(payload, true, w.remap)
	case parent.Type == box.TypeSTBL && n.Type == box.TypeSAIO:
		return box.PatchSaio(payload, w.remap)
	case parent.Type == box.TypeTRAF && n.Type == box.TypeSAIO:
		return box.PatchSaio(payload, w.dataOffset(parent))
	case parent.Type == box.TypeTRAF && n.Type == box.TypeTFHD:
		if w.moofOf[parent] != nil {
			return box.PatchTfhdBaseIsMoof(payload)
		}
		return box.PatchTfhdBase(payload, w.remap)
	case parent.Type == box.TypeTRAF && n.Type == box.TypeTRUN:
		trun, err := box.DecodeTrun(payload)
		if err != nil || !trun.HasDataOffset() && w.grow[n] == 0 {
			return nil, err
		}
		return box.PatchTrunDataOffset(payload, w.dataOffset(parent)(int64(trun.DataOffset)))
	case parent.Type == box.TypeMFRA && n.Type == box.TypeTFRA:
		return box.PatchTfra(payload, w.remap)
	case parent.Type == box.TypeMFRA && n.Type == box.TypeMFRO:
		size := w.size(parent)
		if size >= 1<<32 {
			return nil, Malformed("mfra of %d bytes", size)
		}
		return box.PatchMfro(payload, uint32(size))
	}
	return nil, nil
}

// copyLeaf appends the payload of n from the working buffer, skipping holes.
func (w *rewriter) copyLeaf(out []byte, n *box.Node) []byte {
	pos, end := n.PayloadOffset(), n.End()
	for _, h := range w.holesIn(pos, end) {
		if h.start > pos {
			out = append(out, w.work[pos:h.start]...)
		}
		pos = max(pos, min(h.end, end))
	}
	return append(out, w.work[pos:end]...)
}

func (w *rewriter) holesIn(start, end int64) []span {
	i := sort.Search(len(w.holes), func(i int) bool { return w.holes[i].end > start })
	j := i
	for j < len(w.holes) && w.holes[j].start < end {
		j++
	}
	return w.holes[i:j]
}

// size is the output size of n.
func (w *rewriter) size(n *box.Node) int64 {
	if w.drop[n] {
		return 0
	}
	size := int64(n.HeaderSize)
	if !n.Container {
		start, end := n.PayloadOffset(), n.End()
		size += end - start + w.grow[n]
		for _, h := range w.holesIn(start, end) {
			size -= min(h.end, end) - max(h.start, start)
		}
		return size
	}
	size += int64(n.Prefix + n.Trailer)
	for _, c := range n.Children {
		size += w.size(c)
	}
	return size
}
