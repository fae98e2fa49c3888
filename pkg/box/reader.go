package box

import (
	"encoding/binary"

	. "m7s.live/cenc/pkg"
)

const (
	maxDepth       = 32
	maxSampleCount = 1 << 24
)

// prefixFunc returns how many payload bytes precede the nested boxes of a
// container type.
type prefixFunc func(payload []byte) (int, error)

func fixed(n int) prefixFunc {
	return func(payload []byte) (int, error) {
		if len(payload) < n {
			return 0, Malformed("container payload shorter than its %d byte prefix", n)
		}
		return n, nil
	}
}

//	aligned(8) class AudioSampleEntry(codingname) extends SampleEntry (codingname){
//		const unsigned int(32)[2] reserved = 0;
//	 ...
//	}
//
// QuickTime sound description version 1 adds 16 bytes, version 2 adds 36.
func audioEntryPrefix(payload []byte) (int, error) {
	if len(payload) < 28 {
		return 0, Malformed("audio sample entry shorter than 28 bytes")
	}
	n := 28
	switch binary.BigEndian.Uint16(payload[8:]) {
	case 1:
		n += 16
	case 2:
		n += 36
	}
	if len(payload) < n {
		return 0, Malformed("audio sample entry shorter than %d bytes", n)
	}
	return n, nil
}

// Only the types listed here are descended into; every other box is an
// opaque leaf, whatever its payload looks like.
var containers = map[[4]byte]prefixFunc{
	TypeMOOV: fixed(0),
	TypeTRAK: fixed(0),
	TypeEDTS: fixed(0),
	TypeMDIA: fixed(0),
	TypeMINF: fixed(0),
	TypeSTBL: fixed(0),
	TypeSTSD: fixed(8),
	TypeENCV: fixed(78),
	TypeENCA: audioEntryPrefix,
	TypeSINF: fixed(0),
	TypeSCHI: fixed(0),
	TypeMVEX: fixed(0),
	TypeMOOF: fixed(0),
	TypeTRAF: fixed(0),
	TypeMFRA: fixed(0),
}

func IsContainer(t [4]byte) bool {
	_, ok := containers[t]
	return ok
}

// Node is either a container, holding a prefix and child boxes, or an
// opaque leaf whose payload is referenced in place.
type Node struct {
	BasicBox
	Prefix    int
	Trailer   int
	Children  []*Node
	Container bool
}

func (n *Node) Payload(src []byte) []byte {
	return src[n.PayloadOffset():n.End()]
}

func (n *Node) Child(t [4]byte) *Node {
	for _, c := range n.Children {
		if c.Type == t {
			return c
		}
	}
	return nil
}

func (n *Node) ChildrenOf(t [4]byte) (ret []*Node) {
	for _, c := range n.Children {
		if c.Type == t {
			ret = append(ret, c)
		}
	}
	return
}

func (n *Node) Find(path ...[4]byte) *Node {
	cur := n
	for _, t := range path {
		if cur = cur.Child(t); cur == nil {
			return nil
		}
	}
	return cur
}

// Scanner walks sibling boxes in [start, end) without copying payloads.
// Reset makes it restartable; every step advances by at least one header,
// so the sequence is finite.
type Scanner struct {
	src        []byte
	start, end int64
	pos        int64
	topLevel   bool
	box        BasicBox
	err        error
	tail       int
}

func NewScanner(src []byte, start, end int64, topLevel bool) *Scanner {
	return &Scanner{src: src, start: start, end: end, pos: start, topLevel: topLevel}
}

func (s *Scanner) Reset() {
	s.pos, s.err, s.tail = s.start, nil, 0
}

func (s *Scanner) Next() bool {
	if s.err != nil || s.pos >= s.end {
		return false
	}
	left := s.end - s.pos
	// a few bytes of padding after the last child are kept verbatim
	if left < BasicBoxLen && !s.topLevel {
		s.tail = int(left)
		s.pos = s.end
		return false
	}
	s.box, s.err = DecodeHeader(s.src, s.pos, s.end, s.topLevel)
	if s.err != nil {
		return false
	}
	s.pos = s.box.End()
	return true
}

func (s *Scanner) Box() BasicBox {
	return s.box
}

func (s *Scanner) Err() error {
	return s.err
}

// Trailer reports bytes left over after the last sibling.
func (s *Scanner) Trailer() int {
	return s.tail
}

type File struct {
	Src   []byte
	Boxes []*Node
}

// Parse builds the box tree of src. Any structural violation yields an
// error matching ErrMalformedContainer.
func Parse(src []byte) (*File, error) {
	boxes, _, err := parseLevel(src, 0, int64(len(src)), true, 0)
	if err != nil {
		return nil, err
	}
	return &File{Src: src, Boxes: boxes}, nil
}

func parseLevel(src []byte, start, end int64, topLevel bool, depth int) (nodes []*Node, trailer int, err error) {
	if depth > maxDepth {
		return nil, 0, Malformed("box nesting deeper than %d at %d", maxDepth, start)
	}
	s := NewScanner(src, start, end, topLevel)
	for s.Next() {
		n := &Node{BasicBox: s.Box()}
		if prefix, ok := containers[n.Type]; ok {
			if err = n.parseChildren(src, prefix, depth); err != nil {
				return
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, s.Trailer(), s.Err()
}

func (n *Node) parseChildren(src []byte, prefix prefixFunc, depth int) (err error) {
	if n.Prefix, err = prefix(n.Payload(src)); err != nil {
		return
	}
	n.Container = true
	n.Children, n.Trailer, err = parseLevel(src, n.PayloadOffset()+int64(n.Prefix), n.End(), false, depth+1)
	return
}

func (f *File) Child(t [4]byte) *Node {
	for _, b := range f.Boxes {
		if b.Type == t {
			return b
		}
	}
	return nil
}

func (f *File) ChildrenOf(t [4]byte) (ret []*Node) {
	for _, b := range f.Boxes {
		if b.Type == t {
			ret = append(ret, b)
		}
	}
	return
}

// Walk visits every node depth first; returning false skips the children.
func (f *File) Walk(fn func(n *Node, parent *Node) bool) {
	var walk func(nodes []*Node, parent *Node)
	walk = func(nodes []*Node, parent *Node) {
		for _, n := range nodes {
			if fn(n, parent) && n.Container {
				walk(n.Children, n)
			}
		}
	}
	walk(f.Boxes, nil)
}
