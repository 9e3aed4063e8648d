package hashing

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileSHA256(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.pdf")
	if err := os.WriteFile(p, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	sum, n, err := FileSHA256(p)
	if err != nil {
		t.Fatalf("FileSHA256: %v", err)
	}
	if n != 3 {
		t.Fatalf("size = %d", n)
	}
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if sum != want {
		t.Fatalf("sha256 = %s", sum)
	}
	if BytesSHA256([]byte("abc")) != want {
		t.Fatalf("BytesSHA256 mismatch")
	}
}

func TestBytesMD5(t *testing.T) {
	if got := BytesMD5([]byte("abc")); got != "900150983cd24fb0d6963f7d28e17f72" {
		t.Fatalf("md5 = %s", got)
	}
}

func TestFileSHA256Missing(t *testing.T) {
	if _, _, err := FileSHA256(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error")
	}
}
