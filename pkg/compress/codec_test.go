package compress

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func compressibleData() []byte {
	return bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 64)
}

func TestZstdRoundTrip(t *testing.T) {
	data := compressibleData()
	out, err := Zstd{}.Compress(data)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(out) >= len(data) {
		t.Fatalf("no size reduction: %d >= %d", len(out), len(data))
	}
	back, err := Zstd{}.Decompress(out, len(data))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(back, data) {
		t.Fatal("round trip mismatch")
	}
}

func TestLZ4RoundTrip(t *testing.T) {
	data := compressibleData()
	out, err := LZ4{}.Compress(data)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	back, err := LZ4{}.Decompress(out, len(data))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(back, data) {
		t.Fatal("round trip mismatch")
	}
}

func TestIncompressibleInput(t *testing.T) {
	data := make([]byte, 4096)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("rand: %v", err)
	}
	for _, codec := range []Codec{Zstd{}, LZ4{}} {
		if _, err := codec.Compress(data); !IsIncompressible(err) {
			t.Fatalf("%s on random bytes: got %v, want ErrIncompressible", codec.Name(), err)
		}
	}
}

func TestNoneChecksLength(t *testing.T) {
	data := []byte("payload")
	out, err := None{}.Compress(data)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if _, err := (None{}).Decompress(out, len(data)+1); err == nil {
		t.Fatal("expected length mismatch error")
	}
	back, err := None{}.Decompress(out, len(data))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(back, data) {
		t.Fatal("round trip mismatch")
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"zstd", "lz4", "none"} {
		codec, ok := ByName(name)
		if !ok || codec.Name() != name {
			t.Fatalf("ByName(%q) = %v ok=%v", name, codec, ok)
		}
	}
	if _, ok := ByName("brotli"); ok {
		t.Fatal("unknown codec resolved")
	}
}

func TestDecompressRejectsWrongLength(t *testing.T) {
	data := compressibleData()
	out, err := Zstd{}.Compress(data)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if _, err := (Zstd{}).Decompress(out, len(data)-1); err == nil {
		t.Fatal("expected length mismatch error")
	}
}
