package cenc

import (
	"bytes"
	"fmt"

	. "m7s.live/cenc/pkg"
	"m7s.live/cenc/pkg/box"
	"m7s.live/cenc/pkg/crypt"
)

// protection is what the sinf subtree of one protected sample entry says.
type protection struct {
	format  [4]byte
	scheme  crypt.Scheme
	version uint32
	tenc    *box.TencBox
	sinf    *box.Node
}

type sampleEntry struct {
	node *box.Node
	prot *protection
	// set when the entry claims encryption but cannot be used
	err error
}

func (e *sampleEntry) protected() bool {
	return e.prot != nil || e.err != nil
}

// resolveEntry reads the protection scheme information of one sample
// entry. Entries that do not claim an encrypted format are clear.
func resolveEntry(src []byte, n *box.Node) *sampleEntry {
	e := &sampleEntry{node: n}
	switch {
	case n.Type == box.TypeENCV, n.Type == box.TypeENCA:
		e.prot, e.err = resolveSinf(src, n)
	case bytes.HasPrefix(n.Type[:], []byte("enc")):
		e.err = fmt.Errorf("%w: sample entry %s", ErrUnsupportedScheme, n.Type[:])
	}
	return e
}

func resolveSinf(src []byte, entry *box.Node) (*protection, error) {
	sinfs := entry.ChildrenOf(box.TypeSINF)
	if len(sinfs) == 0 {
		return nil, fmt.Errorf("%w: %s without sinf", ErrMissingProtectionInfo, entry.Type[:])
	}
	var firstErr error
	for _, sinf := range sinfs {
		p, err := decodeSinf(src, sinf)
		if err == nil {
			return p, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func missing(what string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: no %s", ErrMissingProtectionInfo, what)
	}
	return fmt.Errorf("%w: %s: %v", ErrMissingProtectionInfo, what, err)
}

func decodeSinf(src []byte, sinf *box.Node) (p *protection, err error) {
	p = &protection{sinf: sinf}
	frma := sinf.Child(box.TypeFRMA)
	if frma == nil {
		return nil, missing("frma", nil)
	}
	if p.format, err = box.DecodeFrma(frma.Payload(src)); err != nil {
		return nil, missing("frma", err)
	}
	schmNode := sinf.Child(box.TypeSCHM)
	if schmNode == nil {
		return nil, missing("schm", nil)
	}
	schm, err := box.DecodeSchm(schmNode.Payload(src))
	if err != nil {
		return nil, missing("schm", err)
	}
	if p.scheme, err = crypt.ParseScheme(schm.SchemeType); err != nil {
		return nil, err
	}
	p.version = schm.SchemeVersion
	tencNode := sinf.Find(box.TypeSCHI, box.TypeTENC)
	if tencNode == nil {
		return nil, missing("tenc", nil)
	}
	if p.tenc, err = box.DecodeTenc(tencNode.Payload(src)); err != nil {
		return nil, missing("tenc", err)
	}
	return p, nil
}

// cryptParams are the effective protection parameters of one sample: the
// track encryption defaults, overridden by a seig sample group.
type cryptParams struct {
	protected bool
	scheme    crypt.Scheme
	ivSize    int
	kid       KID
	constIV   []byte
	pattern   crypt.Pattern
}

func (p *protection) params(group *box.SeigSampleGroupEntry) (cp cryptParams, err error) {
	tenc := p.tenc
	cp = cryptParams{
		protected: tenc.DefaultIsProtected == 1,
		scheme:    p.scheme,
		ivSize:    int(tenc.DefaultPerSampleIVSize),
		kid:       tenc.DefaultKID,
		constIV:   tenc.DefaultConstantIV,
		pattern:   crypt.Pattern{CryptByteBlock: tenc.DefaultCryptByteBlock, SkipByteBlock: tenc.DefaultSkipByteBlock},
	}
	if group != nil {
		cp.protected = group.IsProtected == 1
		cp.ivSize = int(group.PerSampleIVSize)
		cp.kid = group.KID
		cp.constIV = group.ConstantIV
		cp.pattern = crypt.Pattern{CryptByteBlock: group.CryptByteBlock, SkipByteBlock: group.SkipByteBlock}
	}
	if !cp.protected {
		cp.ivSize = 0
		return
	}
	switch cp.ivSize {
	case 0:
		if len(cp.constIV) != 8 && len(cp.constIV) != 16 {
			err = fmt.Errorf("%w: constant IV of %d bytes", ErrMissingProtectionInfo, len(cp.constIV))
		}
	case 8, 16:
	default:
		err = fmt.Errorf("%w: per-sample IV size %d", ErrMissingProtectionInfo, cp.ivSize)
	}
	return
}
