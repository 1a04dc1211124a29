package cryptoutil

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func TestSHA256Hex(t *testing.T) {
	// SHA-256 of the empty input is a well-known constant
	if got := SHA256Hex(nil); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("SHA256Hex(nil) = %q", got)
	}

	data := []byte("hello world")
	h := sha256.Sum256(data)
	if got, want := SHA256Hex(data), hex.EncodeToString(h[:]); got != want {
		t.Fatalf("SHA256Hex = %q, want %q", got, want)
	}

	if a, b := SHA256Hex([]byte("input-a")), SHA256Hex([]byte("input-b")); a == b {
		t.Fatal("distinct inputs collided")
	}

	// 1MB input still produces a 64-char digest
	if got := SHA256Hex(make([]byte, 1<<20)); len(got) != 64 {
		t.Fatalf("digest length = %d, want 64", len(got))
	}
}

func TestHashEqual(t *testing.T) {
	digest := SHA256Hex([]byte("test"))
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", digest, digest, true},
		{"same value", SHA256Hex([]byte("same")), SHA256Hex([]byte("same")), true},
		{"different values", SHA256Hex([]byte("one")), SHA256Hex([]byte("two")), false},
		{"both empty", "", "", true},
		{"left empty", "", digest, false},
		{"right empty", digest, "", false},
		{"case differs", strings.ToLower(digest), strings.ToUpper(digest), false},
		{"length differs", "abc", "abcd", false},
		{"prefix of itself", digest, digest[:32], false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HashEqual(tt.a, tt.b); got != tt.want {
				t.Fatalf("HashEqual(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func FuzzSHA256Hex(f *testing.F) {
	f.Add([]byte(""))
	f.Add([]byte("hello"))
	f.Add([]byte{0x00})
	f.Add([]byte{0xff, 0xfe, 0xfd})

	f.Fuzz(func(t *testing.T, data []byte) {
		got := SHA256Hex(data)

		if len(got) != 64 {
			t.Errorf("digest length = %d, want 64", len(got))
		}
		if got != strings.ToLower(got) {
			t.Errorf("digest not lowercase: %q", got)
		}
		if _, err := hex.DecodeString(got); err != nil {
			t.Errorf("digest not valid hex: %v", err)
		}
		h := sha256.Sum256(data)
		if want := hex.EncodeToString(h[:]); got != want {
			t.Errorf("SHA256Hex = %q, stdlib = %q", got, want)
		}
	})
}

func FuzzHashEqual(f *testing.F) {
	f.Add("abc", "abc")
	f.Add("abc", "def")
	f.Add("", "")
	f.Add("a", "")

	f.Fuzz(func(t *testing.T, a, b string) {
		// agrees with plain equality and is symmetric
		if got := HashEqual(a, b); got != (a == b) {
			t.Errorf("HashEqual(%q, %q) = %v, want %v", a, b, got, a == b)
		}
		if HashEqual(a, b) != HashEqual(b, a) {
			t.Errorf("HashEqual not symmetric for %q, %q", a, b)
		}
	})
}
