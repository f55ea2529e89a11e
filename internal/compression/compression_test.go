package compression

import (
	"bytes"
	"testing"
)

func TestNoCompression(t *testing.T) {
	data := []byte("hello world, this is test data for no compression")

	compressed, err := Compress(NoCompression, data)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if !bytes.Equal(compressed, data) {
		t.Error("NoCompression should return data unchanged")
	}

	decompressed, err := Decompress(NoCompression, compressed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Error("Decompressed data should match original")
	}
}

func TestSnappyCompression(t *testing.T) {
	data := bytes.Repeat([]byte("hello world "), 100)

	compressed, err := Compress(SnappyCompression, data)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if len(compressed) >= len(data) {
		t.Logf("warning: compressed size %d >= original %d", len(compressed), len(data))
	}

	decompressed, err := Decompress(SnappyCompression, compressed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Error("Decompressed data should match original")
	}
}

func TestLZ4Compression(t *testing.T) {
	data := bytes.Repeat([]byte("lz4 compression test "), 100)

	compressed, err := Compress(LZ4Compression, data)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	t.Logf("LZ4: %d -> %d bytes", len(data), len(compressed))

	decompressed, err := Decompress(LZ4Compression, compressed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Error("Decompressed data should match original")
	}
}

func TestLZ4CompressionWithKnownSize(t *testing.T) {
	data := bytes.Repeat([]byte("lz4 with known size "), 200)

	compressed, err := Compress(LZ4Compression, data)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	decompressed, err := DecompressWithSize(LZ4Compression, compressed, len(data))
	if err != nil {
		t.Fatalf("DecompressWithSize failed: %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Error("Decompressed data should match original when the size is known")
	}
}

func TestZstdCompression(t *testing.T) {
	data := bytes.Repeat([]byte("zstandard compression test "), 100)

	compressed, err := Compress(ZstdCompression, data)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	t.Logf("ZSTD: %d -> %d bytes", len(data), len(compressed))

	decompressed, err := Decompress(ZstdCompression, compressed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Error("Decompressed data should match original")
	}
}

func TestCompressionTypeString(t *testing.T) {
	tests := []struct {
		typ      Type
		expected string
	}{
		{NoCompression, "NoCompression"},
		{SnappyCompression, "Snappy"},
		{LZ4Compression, "LZ4"},
		{ZstdCompression, "ZSTD"},
		{Type(99), "Unknown(99)"},
	}

	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.expected {
			t.Errorf("Type(%d).String() = %q, want %q", tt.typ, got, tt.expected)
		}
	}
}

func TestCompressionTypeIsSupported(t *testing.T) {
	supported := []Type{NoCompression, SnappyCompression, LZ4Compression, ZstdCompression}
	unsupported := []Type{Type(0x2), Type(0x3), Type(0x6)}

	for _, typ := range supported {
		if !typ.IsSupported() {
			t.Errorf("%s should be supported", typ)
		}
	}
	for _, typ := range unsupported {
		if typ.IsSupported() {
			t.Errorf("%s should not be supported", typ)
		}
	}
}

func TestUnsupportedCompressionType(t *testing.T) {
	data := []byte("test data")
	unsupported := Type(0x2)

	if _, err := Compress(unsupported, data); err == nil {
		t.Error("expected an error for an unsupported compression type")
	}
	if _, err := Decompress(unsupported, data); err == nil {
		t.Error("expected an error for an unsupported decompression type")
	}
}

func TestEmptyData(t *testing.T) {
	types := []Type{NoCompression, SnappyCompression, LZ4Compression, ZstdCompression}

	for _, typ := range types {
		compressed, err := Compress(typ, []byte{})
		if err != nil {
			t.Errorf("%s: Compress empty failed: %v", typ, err)
			continue
		}

		decompressed, err := Decompress(typ, compressed)
		if err != nil {
			t.Errorf("%s: Decompress empty failed: %v", typ, err)
			continue
		}
		if len(decompressed) != 0 {
			t.Errorf("%s: decompressed empty should be empty, got %d bytes", typ, len(decompressed))
		}
	}
}

func TestLargeData(t *testing.T) {
	data := bytes.Repeat([]byte("large data block for compression testing "), 25000)

	types := []Type{NoCompression, SnappyCompression, LZ4Compression, ZstdCompression}

	for _, typ := range types {
		compressed, err := Compress(typ, data)
		if err != nil {
			t.Errorf("%s: Compress large failed: %v", typ, err)
			continue
		}
		t.Logf("%s: %d -> %d bytes", typ, len(data), len(compressed))

		decompressed, err := Decompress(typ, compressed)
		if err != nil {
			t.Errorf("%s: Decompress large failed: %v", typ, err)
			continue
		}
		if !bytes.Equal(decompressed, data) {
			t.Errorf("%s: decompressed data doesn't match original", typ)
		}
	}
}
