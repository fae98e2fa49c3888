package cenc

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	. "m7s.live/cenc/pkg"
)

// KeySpec is one caller supplied key. KID and TrackID are both optional;
// a spec with neither is the fallback key.
type KeySpec struct {
	KID     []byte
	TrackID uint32
	Key     []byte
}

func (k KeySpec) String() string {
	switch {
	case k.KID != nil:
		return KID(k.KID).String()
	case k.TrackID != 0:
		return "track " + strconv.FormatUint(uint64(k.TrackID), 10)
	}
	return "fallback"
}

// ParseKeySpec accepts "KID:KEY", "TRACKID:KEY" or a bare "KEY". KIDs may
// be written as 32 hex digits or in UUID form; keys are 32 hex digits.
func ParseKeySpec(s string) (spec KeySpec, err error) {
	left, right, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		right, left = left, ""
	}
	if spec.Key, err = hex.DecodeString(right); err != nil || len(spec.Key) != KeySize {
		return spec, fmt.Errorf("%w: key %q is not %d hex bytes", ErrInvalidKey, right, KeySize)
	}
	if left == "" {
		return
	}
	if id, perr := strconv.ParseUint(left, 10, 32); perr == nil && len(left) < 32 {
		if id == 0 {
			return spec, fmt.Errorf("%w: track id 0", ErrInvalidKey)
		}
		spec.TrackID = uint32(id)
		return
	}
	kid, perr := uuid.Parse(left)
	if perr != nil {
		return spec, fmt.Errorf("%w: key-ID %q: %v", ErrInvalidKey, left, perr)
	}
	spec.KID = kid[:]
	return
}

// newKeyStore builds the store for one call. With fallbackSingleKey exactly
// one spec must be given and it answers every lookup.
func newKeyStore(keys []KeySpec, fallbackSingleKey bool) (*KeyStore, error) {
	store := NewKeyStore()
	if fallbackSingleKey {
		if len(keys) != 1 {
			return nil, fmt.Errorf("%w: single key fallback needs exactly one key, got %d", ErrInvalidKey, len(keys))
		}
		return store, store.SetFallback(keys[0].Key, true)
	}
	var fallbacks int
	for _, k := range keys {
		var err error
		switch {
		case k.KID != nil:
			err = store.Register(k.KID, k.Key)
		case k.TrackID != 0:
			err = store.RegisterTrack(k.TrackID, k.Key)
		default:
			if fallbacks++; fallbacks > 1 {
				return nil, fmt.Errorf("%w: more than one key without a key-ID or track id", ErrInvalidKey)
			}
			err = store.SetFallback(k.Key, false)
		}
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", k, err)
		}
	}
	return store, nil
}
