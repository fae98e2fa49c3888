package util

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestRanges(t *testing.T) {
	t.Run("resolve", func(t *testing.T) {
		var rs Ranges[uint32]
		if err := rs.Resolve("1, 3-5,9"); err != nil {
			t.Fatal(err)
		}
		for x, want := range map[uint32]bool{1: true, 2: false, 3: true, 5: true, 6: false, 9: true} {
			if rs.Within(x) != want {
				t.Errorf("%d within=%v", x, !want)
			}
		}
		if rs.String() != "1,3-5,9" {
			t.Errorf("string %q", rs.String())
		}
	})
	t.Run("invalid", func(t *testing.T) {
		for _, s := range []string{"a", "5-3", "1-2-3", "-1"} {
			var rs Ranges[uint32]
			if rs.Resolve(s) == nil {
				t.Errorf("%q accepted", s)
			}
		}
	})
	t.Run("yaml", func(t *testing.T) {
		var v struct {
			Tracks Ranges[uint32]
		}
		if err := yaml.Unmarshal([]byte("tracks: 2-4"), &v); err != nil {
			t.Fatal(err)
		}
		if len(v.Tracks) != 1 || v.Tracks[0] != (Range[uint32]{2, 4}) {
			t.Errorf("%v", v.Tracks)
		}
	})
}
