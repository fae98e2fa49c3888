package cenc

import (
	"errors"
	"fmt"

	. "m7s.live/cenc/pkg"
	"m7s.live/cenc/pkg/box"
	"m7s.live/cenc/pkg/crypt"
)

type TrackState int

const (
	TrackClear     TrackState = iota // no protection signaled, passed through
	TrackDecrypted                   // samples decrypted, protection signaling removed
	TrackSkipped                     // protected but not selected, passed through untouched
	TrackFailed                      // omitted from the output, see Err
	TrackCanceled                    // unfinished when the context ended, omitted from the output
)

var trackStateNames = [...]string{"clear", "decrypted", "skipped", "failed", "canceled"}

func (s TrackState) String() string {
	if int(s) < len(trackStateNames) {
		return trackStateNames[s]
	}
	return fmt.Sprintf("TrackState(%d)", int(s))
}

type TrackStatus struct {
	TrackID uint32
	State   TrackState
	Scheme  crypt.Scheme
	KIDs    []KID
	// protected samples decrypted and their total size
	Samples int
	Bytes   int64
	Err     error
}

type sample struct {
	offset int64
	size   uint32
	desc   uint32
	// chunk index, or trun index inside the traf
	chunk  int
	group  *box.SeigSampleGroupEntry
	params cryptParams
	aux    *box.SencEntry
}

func (s *sample) end() int64 {
	return s.offset + int64(s.size)
}

type fragment struct {
	moof, traf *box.Node
	base       int64
	first      int
	count      int
	truns      int
}

type track struct {
	TrackStatus
	trak     *box.Node
	stbl     *box.Node
	trexNode *box.Node
	trex     *box.TrackExtendsBox
	entries  []*sampleEntry
	groups   []*box.SeigSampleGroupEntry
	selected bool
	layout   bool

	samples   []sample
	chunks    int // chunk count of the progressive layout
	stblCount int // samples described by stbl, ahead of fragment samples
	fragments []*fragment
}

func (t *track) protected() bool {
	for _, e := range t.entries {
		if e.protected() {
			return true
		}
	}
	return false
}

// pending tracks are protected, selected and not failed yet.
func (t *track) pending() bool {
	return t.selected && t.State == TrackClear && t.protected()
}

func (t *track) fail(sample int, err error) {
	if t.State == TrackFailed {
		return
	}
	var te *TrackError
	if !errors.As(err, &te) {
		err = NewTrackError(t.TrackID, sample, err)
	}
	t.State, t.Err = TrackFailed, err
}

func (t *track) addKID(kid KID) {
	for _, k := range t.KIDs {
		if k == kid {
			return
		}
	}
	t.KIDs = append(t.KIDs, kid)
}

type movie struct {
	file       *box.File
	src        []byte
	tracks     []*track
	byID       map[uint32]*track
	fragmented bool
	trafBase   map[*box.Node]int64
}

// loadMovie collects the tracks of moov and resolves the protection of
// every sample entry. Tracks without a moov are unknown and left alone.
func loadMovie(file *box.File) (*movie, error) {
	m := &movie{file: file, src: file.Src, byID: make(map[uint32]*track), trafBase: make(map[*box.Node]int64)}
	moov := file.Child(box.TypeMOOV)
	if moov == nil {
		return m, nil
	}
	trexes := make(map[uint32]*box.Node)
	if mvex := moov.Child(box.TypeMVEX); mvex != nil {
		for _, n := range mvex.ChildrenOf(box.TypeTREX) {
			trex, err := box.DecodeTrex(n.Payload(m.src))
			if err != nil {
				return nil, err
			}
			trexes[trex.TrackID] = n
		}
	}
	for _, trak := range moov.ChildrenOf(box.TypeTRAK) {
		t, err := m.loadTrack(trak)
		if err != nil {
			return nil, err
		}
		if _, dup := m.byID[t.TrackID]; dup {
			return nil, Malformed("duplicate track id %d", t.TrackID)
		}
		if n := trexes[t.TrackID]; n != nil {
			t.trexNode = n
			t.trex, _ = box.DecodeTrex(n.Payload(m.src))
		}
		m.tracks = append(m.tracks, t)
		m.byID[t.TrackID] = t
	}
	return m, nil
}

func (m *movie) loadTrack(trak *box.Node) (t *track, err error) {
	t = &track{trak: trak}
	tkhd := trak.Child(box.TypeTKHD)
	if tkhd == nil {
		return nil, Malformed("trak at %d without tkhd", trak.Offset)
	}
	if t.TrackID, err = box.DecodeTrackID(tkhd.Payload(m.src)); err != nil {
		return nil, err
	}
	if t.stbl = trak.Find(box.TypeMDIA, box.TypeMINF, box.TypeSTBL); t.stbl == nil {
		return nil, Malformed("track %d without stbl", t.TrackID)
	}
	stsd := t.stbl.Child(box.TypeSTSD)
	if stsd == nil {
		return nil, Malformed("track %d without stsd", t.TrackID)
	}
	for _, n := range stsd.Children {
		e := resolveEntry(m.src, n)
		t.entries = append(t.entries, e)
		if e.prot != nil && t.Scheme == "" {
			t.Scheme = e.prot.scheme
		}
	}
	return t, nil
}
