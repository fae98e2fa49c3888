package pkg

import (
	"fmt"

	"github.com/google/uuid"
)

const KeySize = 16

type KID [16]byte

func (k KID) String() string {
	return uuid.UUID(k).String()
}

// KeyStore maps key-IDs (and optionally track IDs) to raw 16-byte keys.
// Registration must complete before the store is handed to a decryption
// call; lookups do not lock.
type KeyStore struct {
	byKID     map[KID][]byte
	byTrack   map[uint32][]byte
	fallback  []byte
	forceFall bool
}

func NewKeyStore() *KeyStore {
	return &KeyStore{
		byKID:   make(map[KID][]byte),
		byTrack: make(map[uint32][]byte),
	}
}

func checkKey(key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	return append([]byte(nil), key...), nil
}

func (s *KeyStore) Register(kid []byte, key []byte) error {
	if len(kid) != len(KID{}) {
		return fmt.Errorf("%w: key-ID must be 16 bytes, got %d", ErrInvalidKey, len(kid))
	}
	k, err := checkKey(key)
	if err != nil {
		return err
	}
	s.byKID[KID(kid)] = k
	return nil
}

func (s *KeyStore) RegisterTrack(trackID uint32, key []byte) error {
	k, err := checkKey(key)
	if err != nil {
		return err
	}
	s.byTrack[trackID] = k
	return nil
}

// SetFallback installs the key used when no KID or track entry matches.
// With force set, the fallback answers every lookup and the input's
// key-IDs are ignored.
func (s *KeyStore) SetFallback(key []byte, force bool) error {
	k, err := checkKey(key)
	if err != nil {
		return err
	}
	s.fallback, s.forceFall = k, force
	return nil
}

func (s *KeyStore) Len() int {
	n := len(s.byKID) + len(s.byTrack)
	if s.fallback != nil {
		n++
	}
	return n
}

// Resolve returns the key for the given track and key-ID. Track entries win
// over KID entries; the fallback key is consulted last.
func (s *KeyStore) Resolve(trackID uint32, kid KID) ([]byte, error) {
	if s.forceFall {
		return s.fallback, nil
	}
	if key, ok := s.byTrack[trackID]; ok {
		return key, nil
	}
	if key, ok := s.byKID[kid]; ok {
		return key, nil
	}
	if s.fallback != nil {
		return s.fallback, nil
	}
	return nil, fmt.Errorf("%w: kid %s", ErrKeyNotAvailable, kid)
}
