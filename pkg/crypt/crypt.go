package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	. "m7s.live/cenc/pkg"
)

const BlockSize = aes.BlockSize

type Decrypter struct {
	scheme Scheme
	block  cipher.Block
}

func NewDecrypter(scheme Scheme, key []byte) (*Decrypter, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key is %d bytes", ErrInvalidKey, len(key))
	}
	switch scheme {
	case SchemeCENC, SchemeCENS, SchemeCBC1, SchemeCBCS:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, string(scheme))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Decrypter{scheme: scheme, block: block}, nil
}

func (d *Decrypter) Scheme() Scheme {
	return d.scheme
}

// DecryptSample writes the clear sample for src into dst, which must have
// the same length. Clear ranges and any trailing partial block of a CBC or
// pattern range are copied unchanged.
func (d *Decrypter) DecryptSample(dst, src []byte, info SampleInfo) error {
	return d.transform(dst, src, info, false)
}

// EncryptSample is the inverse of DecryptSample.
func (d *Decrypter) EncryptSample(dst, src []byte, info SampleInfo) error {
	return d.transform(dst, src, info, true)
}

func (d *Decrypter) transform(dst, src []byte, info SampleInfo, encrypt bool) error {
	if len(dst) != len(src) {
		return fmt.Errorf("%w: output %d bytes for a %d byte sample", ErrDecryptionSizeMismatch, len(dst), len(src))
	}
	iv, err := padIV(info.IV)
	if err != nil {
		return err
	}
	subsamples := info.Subsamples
	if subsamples == nil {
		subsamples = []Subsample{{Protected: uint32(len(src))}}
	}
	var total uint64
	for _, s := range subsamples {
		total += uint64(s.Clear) + uint64(s.Protected)
	}
	if total != uint64(len(src)) {
		return fmt.Errorf("%w: subsamples cover %d of %d bytes", ErrDecryptionSizeMismatch, total, len(src))
	}
	pattern := info.Pattern
	if !d.scheme.Patterned() {
		pattern = Pattern{}
	}

	var ctr cipher.Stream
	var cbc cipher.BlockMode
	newCBC := func() cipher.BlockMode {
		if encrypt {
			return cipher.NewCBCEncrypter(d.block, iv)
		}
		return cipher.NewCBCDecrypter(d.block, iv)
	}
	switch d.scheme {
	case SchemeCENC, SchemeCENS:
		ctr = cipher.NewCTR(d.block, iv)
	case SchemeCBC1:
		// one chain per sample, carried across its subsamples
		cbc = newCBC()
	}

	pos := 0
	for _, s := range subsamples {
		plain, protected := int(s.Clear), int(s.Protected)
		copy(dst[pos:pos+plain], src[pos:pos+plain])
		pos += plain
		out, in := dst[pos:pos+protected], src[pos:pos+protected]
		pos += protected
		switch d.scheme {
		case SchemeCENC:
			ctr.XORKeyStream(out, in)
		case SchemeCENS:
			applyPattern(out, in, pattern, ctr.XORKeyStream)
		case SchemeCBC1:
			applyPattern(out, in, pattern, cbc.CryptBlocks)
		case SchemeCBCS:
			applyPattern(out, in, pattern, newCBC().CryptBlocks)
		}
	}
	return nil
}

// applyPattern runs fn over the crypt blocks of each crypt+skip period and
// copies everything else. Only whole blocks are handed to fn.
func applyPattern(dst, src []byte, p Pattern, fn func(dst, src []byte)) {
	crypt, skip := int(p.CryptByteBlock)*BlockSize, int(p.SkipByteBlock)*BlockSize
	if crypt == 0 {
		crypt, skip = len(src), 0
	}
	i := 0
	for i < len(src) {
		n := min(crypt, (len(src)-i)/BlockSize*BlockSize)
		if n == 0 {
			break
		}
		fn(dst[i:i+n], src[i:i+n])
		i += n
		n = min(skip, len(src)-i)
		copy(dst[i:i+n], src[i:i+n])
		i += n
	}
	copy(dst[i:], src[i:])
}

// 8 byte IVs are the high half of the counter block.
func padIV(iv []byte) ([]byte, error) {
	switch len(iv) {
	case 8:
		ret := make([]byte, BlockSize)
		copy(ret, iv)
		return ret, nil
	case 16:
		return iv, nil
	}
	return nil, fmt.Errorf("%w: IV of %d bytes", ErrMissingProtectionInfo, len(iv))
}
