package util

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Range[T ~int | ~int8 | ~int16 | ~int32 | ~int64 |
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr] [2]T

func (r *Range[T]) Size() T {
	return r[1] - r[0]
}

func (r *Range[T]) Within(x T) bool {
	return x >= r[0] && x <= r[1]
}

func (r *Range[T]) Valid() bool {
	return r[1] >= r[0]
}

// Resolve parses "a-b" or a single "a".
func (r *Range[T]) Resolve(s string) error {
	ss := strings.Split(strings.TrimSpace(s), "-")
	if len(ss) > 2 {
		return fmt.Errorf("invalid range: %s", s)
	}
	for i, part := range ss {
		u64, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid range %s: %w", s, err)
		}
		r[i] = T(u64)
	}
	if len(ss) == 1 {
		r[1] = r[0]
	}
	if !r.Valid() {
		return fmt.Errorf("invalid range: %s", s)
	}
	return nil
}

func (r *Range[T]) UnmarshalYAML(value *yaml.Node) error {
	return r.Resolve(value.Value)
}

func (r Range[T]) String() string {
	if r[0] == r[1] {
		return fmt.Sprint(r[0])
	}
	return fmt.Sprintf("%v-%v", r[0], r[1])
}

// Ranges is a comma separated list of ranges, e.g. "1,3-5".
type Ranges[T ~int | ~int8 | ~int16 | ~int32 | ~int64 |
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr] []Range[T]

func (rs *Ranges[T]) Resolve(s string) error {
	*rs = (*rs)[:0]
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		var r Range[T]
		if err := r.Resolve(part); err != nil {
			return err
		}
		*rs = append(*rs, r)
	}
	return nil
}

func (rs Ranges[T]) Within(x T) bool {
	for i := range rs {
		if rs[i].Within(x) {
			return true
		}
	}
	return false
}

func (rs *Ranges[T]) UnmarshalYAML(value *yaml.Node) error {
	return rs.Resolve(value.Value)
}

func (rs Ranges[T]) String() string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}
