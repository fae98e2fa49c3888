package cenc

import (
	"strings"

	"m7s.live/cenc/pkg/util"
)

// TrackSelector picks the tracks to decrypt. The zero value selects all
// tracks; unselected tracks are passed through untouched.
type TrackSelector struct {
	ids util.Ranges[uint32]
}

func ParseTrackSelector(s string) (sel TrackSelector, err error) {
	if s = strings.TrimSpace(s); s == "" || strings.EqualFold(s, "all") {
		return
	}
	err = sel.ids.Resolve(s)
	return
}

func SelectTracks(ids ...uint32) TrackSelector {
	var sel TrackSelector
	for _, id := range ids {
		sel.ids = append(sel.ids, util.Range[uint32]{id, id})
	}
	return sel
}

func (s TrackSelector) All() bool {
	return len(s.ids) == 0
}

func (s TrackSelector) Selected(trackID uint32) bool {
	return s.All() || s.ids.Within(trackID)
}

func (s TrackSelector) String() string {
	if s.All() {
		return "all"
	}
	return s.ids.String()
}
