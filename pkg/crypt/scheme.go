package crypt

import (
	"fmt"

	. "m7s.live/cenc/pkg"
)

// Scheme is a common encryption protection scheme, ISO/IEC 23001-7.
type Scheme string

const (
	SchemeCENC Scheme = "cenc" // AES-CTR, full protected ranges
	SchemeCENS Scheme = "cens" // AES-CTR with pattern
	SchemeCBC1 Scheme = "cbc1" // AES-CBC, full protected ranges
	SchemeCBCS Scheme = "cbcs" // AES-CBC with pattern, IV reset per subsample
)

func ParseScheme(code [4]byte) (Scheme, error) {
	switch s := Scheme(code[:]); s {
	case SchemeCENC, SchemeCENS, SchemeCBC1, SchemeCBCS:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, code[:])
}

func (s Scheme) CBC() bool {
	return s == SchemeCBC1 || s == SchemeCBCS
}

// Patterned schemes encrypt crypt blocks out of every crypt+skip blocks.
func (s Scheme) Patterned() bool {
	return s == SchemeCENS || s == SchemeCBCS
}

// Pattern counts 16 byte blocks. The zero value means every whole block is
// encrypted.
type Pattern struct {
	CryptByteBlock uint8
	SkipByteBlock  uint8
}

func (p Pattern) String() string {
	return fmt.Sprintf("%d:%d", p.CryptByteBlock, p.SkipByteBlock)
}

type Subsample struct {
	Clear     uint32
	Protected uint32
}

// SampleInfo carries what is needed to transform one sample. A nil
// Subsamples means the whole sample is one protected range.
type SampleInfo struct {
	IV         []byte
	Subsamples []Subsample
	Pattern    Pattern
}
