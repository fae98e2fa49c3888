package util

type Integer interface {
	~int | ~int16 | ~int32 | ~int64 | ~uint | ~uint16 | ~uint32 | ~uint64
}

func PutBE[T Integer](b []byte, num T) []byte {
	for i, n := 0, len(b); i < n; i++ {
		b[i] = byte(num >> ((n - i - 1) << 3))
	}
	return b
}

func ReadBE[T Integer](b []byte) (num T) {
	num = 0
	for i, n := 0, len(b); i < n; i++ {
		num += T(b[i]) << ((n - i - 1) << 3)
	}
	return
}

// AppendBE appends num as an n byte big-endian integer.
func AppendBE[T Integer](b []byte, n int, num T) []byte {
	l := len(b)
	for i := 0; i < n; i++ {
		b = append(b, 0)
	}
	PutBE(b[l:], num)
	return b
}
