package crypt

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	codec "github.com/yapingcat/gomedia/go-codec"
	. "m7s.live/cenc/pkg"
)

func unhex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func fill(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

var testKey = []byte("0123456789abcdef")

// NIST SP 800-38A F.5.1 and F.2.1
func TestKnownAnswer(t *testing.T) {
	key := "2b7e151628aed2a6abf7158809cf4f3c"
	plain := "6bc1bee22e409f96e93d7e117393172a"
	cases := []struct {
		scheme Scheme
		iv     string
		cipher string
	}{
		{SchemeCENC, "f0f1f2f3f4f5f6f7f8f9fafbfcfdfeff", "874d6191b620e3261bef6864990db6ce"},
		{SchemeCBC1, "000102030405060708090a0b0c0d0e0f", "7649abac8119b246cee98e9b12e9197d"},
	}
	for _, c := range cases {
		t.Run(string(c.scheme), func(t *testing.T) {
			d, err := NewDecrypter(c.scheme, unhex(t, key))
			if err != nil {
				t.Fatal(err)
			}
			out := make([]byte, 16)
			if err = d.DecryptSample(out, unhex(t, c.cipher), SampleInfo{IV: unhex(t, c.iv)}); err != nil {
				t.Fatal(err)
			}
			if hex.EncodeToString(out) != plain {
				t.Errorf("got %x", out)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	subsamples := []Subsample{{Clear: 5, Protected: 100}, {Clear: 0, Protected: 37}, {Clear: 64, Protected: 16}}
	for _, scheme := range []Scheme{SchemeCENC, SchemeCENS, SchemeCBC1, SchemeCBCS} {
		for _, iv := range [][]byte{fill(8, 3), fill(16, 9)} {
			t.Run(string(scheme), func(t *testing.T) {
				d, err := NewDecrypter(scheme, testKey)
				if err != nil {
					t.Fatal(err)
				}
				src := fill(222, 1)
				info := SampleInfo{IV: iv, Subsamples: subsamples, Pattern: Pattern{1, 9}}
				enc := make([]byte, len(src))
				dec := make([]byte, len(src))
				if err = d.EncryptSample(enc, src, info); err != nil {
					t.Fatal(err)
				}
				if bytes.Equal(enc, src) {
					t.Fatal("encryption changed nothing")
				}
				if !bytes.Equal(enc[:5], src[:5]) {
					t.Error("clear bytes changed")
				}
				if err = d.DecryptSample(dec, enc, info); err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(dec, src) {
					t.Error("round trip mismatch")
				}
			})
		}
	}
}

// TestPatternCadence 1:9 模式下 480 字节中只有第 0、10、20 块被加密
func TestPatternCadence(t *testing.T) {
	for _, scheme := range []Scheme{SchemeCENS, SchemeCBCS} {
		t.Run(string(scheme), func(t *testing.T) {
			d, _ := NewDecrypter(scheme, testKey)
			src := make([]byte, 480)
			enc := make([]byte, len(src))
			if err := d.EncryptSample(enc, src, SampleInfo{IV: fill(16, 0), Pattern: Pattern{1, 9}}); err != nil {
				t.Fatal(err)
			}
			zero := make([]byte, BlockSize)
			for i := 0; i < 30; i++ {
				changed := !bytes.Equal(enc[i*BlockSize:(i+1)*BlockSize], zero)
				if changed != (i%10 == 0) {
					t.Errorf("block %d changed=%v", i, changed)
				}
			}
		})
	}
}

// TestPatternPerSubsample 每个子样本的保护区从模式的加密块重新开始
func TestPatternPerSubsample(t *testing.T) {
	for _, scheme := range []Scheme{SchemeCENS, SchemeCBCS} {
		t.Run(string(scheme), func(t *testing.T) {
			d, _ := NewDecrypter(scheme, testKey)
			// three blocks each, shorter than one 1:9 period
			src := make([]byte, 96)
			enc := make([]byte, len(src))
			info := SampleInfo{IV: fill(16, 0), Pattern: Pattern{1, 9}, Subsamples: []Subsample{{0, 48}, {0, 48}}}
			if err := d.EncryptSample(enc, src, info); err != nil {
				t.Fatal(err)
			}
			zero := make([]byte, BlockSize)
			for i := 0; i < 6; i++ {
				changed := !bytes.Equal(enc[i*BlockSize:(i+1)*BlockSize], zero)
				if changed != (i%3 == 0) {
					t.Errorf("block %d changed=%v", i, changed)
				}
			}
		})
	}
}

// TestAgainstMp4ff 与 mp4ff 的 cenc/cbcs 实现互相加解密
func TestAgainstMp4ff(t *testing.T) {
	src := fill(5+100+37+64+16+3+300, 11)
	subsamples := []Subsample{{5, 100}, {0, 37}, {64, 16}, {3, 300}}
	patterns := make([]mp4.SubSamplePattern, len(subsamples))
	for i, s := range subsamples {
		patterns[i] = mp4.SubSamplePattern{BytesOfClearData: uint16(s.Clear), BytesOfProtectedData: s.Protected}
	}
	tenc := &mp4.TencBox{DefaultCryptByteBlock: 1, DefaultSkipByteBlock: 9}
	cases := []struct {
		name    string
		scheme  Scheme
		iv      []byte
		decrypt func(sample, iv []byte) error
		encrypt func(sample, iv []byte) error
	}{
		{"cenc/8", SchemeCENC, fill(8, 3),
			func(b, iv []byte) error { return mp4.CryptSampleCenc(b, testKey, iv, patterns) },
			func(b, iv []byte) error { return mp4.CryptSampleCenc(b, testKey, iv, patterns) }},
		{"cenc/16", SchemeCENC, fill(16, 9),
			func(b, iv []byte) error { return mp4.CryptSampleCenc(b, testKey, iv, patterns) },
			func(b, iv []byte) error { return mp4.CryptSampleCenc(b, testKey, iv, patterns) }},
		{"cbcs", SchemeCBCS, fill(16, 5),
			func(b, iv []byte) error { return mp4.DecryptSampleCbcs(b, testKey, iv, patterns, tenc) },
			func(b, iv []byte) error { return mp4.EncryptSampleCbcs(b, testKey, iv, patterns, tenc) }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d, err := NewDecrypter(c.scheme, testKey)
			if err != nil {
				t.Fatal(err)
			}
			info := SampleInfo{IV: c.iv, Subsamples: subsamples, Pattern: Pattern{1, 9}}
			// mp4ff takes the full counter block
			iv := make([]byte, BlockSize)
			copy(iv, c.iv)

			enc := make([]byte, len(src))
			if err = d.EncryptSample(enc, src, info); err != nil {
				t.Fatal(err)
			}
			if err = c.decrypt(enc, iv); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(enc, src) {
				t.Error("mp4ff could not decrypt our output")
			}

			theirs := bytes.Clone(src)
			if err = c.encrypt(theirs, iv); err != nil {
				t.Fatal(err)
			}
			dec := make([]byte, len(src))
			if err = d.DecryptSample(dec, theirs, info); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(dec, src) {
				t.Error("could not decrypt mp4ff output")
			}
		})
	}
}

func TestPartialBlockLeftClear(t *testing.T) {
	for _, scheme := range []Scheme{SchemeCBC1, SchemeCBCS, SchemeCENS} {
		t.Run(string(scheme), func(t *testing.T) {
			d, _ := NewDecrypter(scheme, testKey)
			src := fill(40, 5)
			enc := make([]byte, len(src))
			if err := d.EncryptSample(enc, src, SampleInfo{IV: fill(16, 2)}); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(enc[32:], src[32:]) {
				t.Error("trailing partial block was transformed")
			}
			if bytes.Equal(enc[:32], src[:32]) {
				t.Error("whole blocks were not transformed")
			}
		})
	}
	t.Run("cenc", func(t *testing.T) {
		d, _ := NewDecrypter(SchemeCENC, testKey)
		src := fill(40, 5)
		enc := make([]byte, len(src))
		d.EncryptSample(enc, src, SampleInfo{IV: fill(8, 2)})
		if bytes.Equal(enc[32:], src[32:]) {
			t.Error("ctr must cover the partial block")
		}
	})
}

func TestCounterSpansSubsamples(t *testing.T) {
	d, _ := NewDecrypter(SchemeCENC, testKey)
	iv := fill(8, 4)
	src := fill(2+10+3+20, 6)
	enc := make([]byte, len(src))
	d.EncryptSample(enc, src, SampleInfo{IV: iv, Subsamples: []Subsample{{2, 10}, {3, 20}}})

	protected := append(append([]byte{}, src[2:12]...), src[15:]...)
	joined := make([]byte, len(protected))
	d.EncryptSample(joined, protected, SampleInfo{IV: iv})
	if !bytes.Equal(enc[2:12], joined[:10]) || !bytes.Equal(enc[15:], joined[10:]) {
		t.Error("counter restarted between subsamples")
	}
}

func TestChainPerSubsample(t *testing.T) {
	src := append(append([]byte{}, fill(32, 1)...), fill(32, 1)...)
	subsamples := []Subsample{{0, 32}, {0, 32}}
	t.Run("cbcs", func(t *testing.T) {
		d, _ := NewDecrypter(SchemeCBCS, testKey)
		enc := make([]byte, len(src))
		d.EncryptSample(enc, src, SampleInfo{IV: fill(16, 0), Subsamples: subsamples})
		if !bytes.Equal(enc[:32], enc[32:]) {
			t.Error("cbcs must restart the chain at each subsample")
		}
	})
	t.Run("cbc1", func(t *testing.T) {
		d, _ := NewDecrypter(SchemeCBC1, testKey)
		enc := make([]byte, len(src))
		d.EncryptSample(enc, src, SampleInfo{IV: fill(16, 0), Subsamples: subsamples})
		if bytes.Equal(enc[:32], enc[32:]) {
			t.Error("cbc1 must continue the chain across subsamples")
		}
	})
}

func TestErrors(t *testing.T) {
	t.Run("key", func(t *testing.T) {
		if _, err := NewDecrypter(SchemeCENC, []byte("short")); !errors.Is(err, ErrInvalidKey) {
			t.Error(err)
		}
	})
	t.Run("scheme", func(t *testing.T) {
		if _, err := ParseScheme([4]byte{'c', 'b', 'c', '2'}); !errors.Is(err, ErrUnsupportedScheme) {
			t.Error(err)
		}
		if _, err := NewDecrypter("x", testKey); !errors.Is(err, ErrUnsupportedScheme) {
			t.Error(err)
		}
	})
	t.Run("size", func(t *testing.T) {
		d, _ := NewDecrypter(SchemeCENC, testKey)
		src := make([]byte, 50)
		err := d.DecryptSample(make([]byte, 50), src, SampleInfo{IV: fill(8, 0), Subsamples: []Subsample{{10, 41}}})
		if !errors.Is(err, ErrDecryptionSizeMismatch) {
			t.Error(err)
		}
	})
	t.Run("iv", func(t *testing.T) {
		d, _ := NewDecrypter(SchemeCBCS, testKey)
		err := d.DecryptSample(make([]byte, 16), make([]byte, 16), SampleInfo{IV: fill(4, 0)})
		if !errors.Is(err, ErrMissingProtectionInfo) {
			t.Error(err)
		}
	})
}

// TestNaluHeaderStaysClear AVCC 长度前缀与 NAL 头属于明文子样本
func TestNaluHeaderStaysClear(t *testing.T) {
	nalu := append([]byte{0x65}, fill(299, 8)...)
	sample, err := h264.AVCCMarshal([][]byte{nalu})
	if err != nil {
		t.Fatal(err)
	}
	info := SampleInfo{IV: fill(16, 1), Subsamples: []Subsample{{Clear: 5, Protected: 299}}, Pattern: Pattern{1, 9}}
	d, _ := NewDecrypter(SchemeCBCS, testKey)
	enc := make([]byte, len(sample))
	if err := d.EncryptSample(enc, sample, info); err != nil {
		t.Fatal(err)
	}
	if codec.H264_NAL_TYPE(enc[4]&0x1F) != codec.H264_NAL_I_SLICE {
		t.Errorf("nal type %d", enc[4]&0x1F)
	}
	dec := make([]byte, len(enc))
	if err := d.DecryptSample(dec, enc, info); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, sample) {
		t.Error("round trip mismatch")
	}
	au, err := h264.AVCCUnmarshal(dec)
	if err != nil {
		t.Fatal(err)
	}
	if len(au) != 1 || h264.NALUType(au[0][0]&0x1F) != h264.NALUTypeIDR {
		t.Errorf("access unit %d nalus", len(au))
	}
}
