package filter

import (
	"fmt"
	"testing"
)

func TestBloomFilterBuilderEmptyFilter(t *testing.T) {
	b := NewBloomFilterBuilder(10)
	data := b.Finish()

	if len(data) != MetadataLen {
		t.Fatalf("empty filter length = %d, want %d", len(data), MetadataLen)
	}

	r := NewBloomFilterReader(data)
	if r == nil {
		t.Fatal("NewBloomFilterReader returned nil for a valid empty filter")
	}
	if r.MayContain([]byte("anything")) {
		t.Error("an empty filter should never report MayContain true")
	}
}

func TestBloomFilterNoFalseNegatives(t *testing.T) {
	b := NewBloomFilterBuilder(10)
	var keys [][]byte
	for i := 0; i < 1000; i++ {
		keys = append(keys, []byte(fmt.Sprintf("key-%d", i)))
	}
	for _, k := range keys {
		b.AddKey(k)
	}
	data := b.Finish()

	r := NewBloomFilterReader(data)
	if r == nil {
		t.Fatal("NewBloomFilterReader returned nil for a populated filter")
	}
	for _, k := range keys {
		if !r.MayContain(k) {
			t.Fatalf("MayContain(%s) = false, want true (no false negatives allowed)", k)
		}
	}
}

func TestBloomFilterFalsePositiveRateIsBounded(t *testing.T) {
	b := NewBloomFilterBuilder(10)
	for i := 0; i < 10000; i++ {
		b.AddKey([]byte(fmt.Sprintf("present-%d", i)))
	}
	data := b.Finish()
	r := NewBloomFilterReader(data)

	falsePositives := 0
	const trials = 10000
	for i := 0; i < trials; i++ {
		key := []byte(fmt.Sprintf("absent-%d", i))
		if r.MayContain(key) {
			falsePositives++
		}
	}

	rate := float64(falsePositives) / float64(trials)
	if rate > 0.05 {
		t.Errorf("false positive rate = %.4f, want <= 0.05 at 10 bits/key", rate)
	}
}

func TestBloomFilterBuilderNumKeysAndReset(t *testing.T) {
	b := NewBloomFilterBuilder(10)
	if b.NumKeys() != 0 {
		t.Fatalf("NumKeys() = %d, want 0", b.NumKeys())
	}
	b.AddKey([]byte("a"))
	b.AddKey([]byte("b"))
	if b.NumKeys() != 2 {
		t.Fatalf("NumKeys() = %d, want 2", b.NumKeys())
	}
	b.Reset()
	if b.NumKeys() != 0 {
		t.Fatalf("NumKeys() after Reset = %d, want 0", b.NumKeys())
	}
}

func TestBloomFilterBuilderFinishResetsHashes(t *testing.T) {
	b := NewBloomFilterBuilder(10)
	b.AddKey([]byte("a"))
	b.Finish()
	if b.NumKeys() != 0 {
		t.Fatalf("NumKeys() after Finish = %d, want 0 (builder clears after Finish)", b.NumKeys())
	}
}

func TestBloomFilterEstimatedSize(t *testing.T) {
	b := NewBloomFilterBuilder(10)
	if b.EstimatedSize() != 0 {
		t.Fatalf("EstimatedSize() with no keys = %d, want 0", b.EstimatedSize())
	}
	for i := 0; i < 100; i++ {
		b.AddKey([]byte(fmt.Sprintf("k%d", i)))
	}
	size := b.EstimatedSize()
	if size <= 0 {
		t.Fatal("EstimatedSize() with keys added should be positive")
	}
	if (size-MetadataLen)%CacheLineSize != 0 {
		t.Errorf("EstimatedSize() = %d, want (size - MetadataLen) cache-line aligned", size)
	}
}

func TestBloomFilterBitsPerKeyClampedToOne(t *testing.T) {
	b := NewBloomFilterBuilder(0)
	b.AddKey([]byte("a"))
	data := b.Finish()
	if len(data) == 0 {
		t.Fatal("Finish() with clamped bitsPerKey should still produce data")
	}
}

func TestNewBloomFilterReaderRejectsShortData(t *testing.T) {
	if r := NewBloomFilterReader([]byte{1, 2, 3}); r != nil {
		t.Error("NewBloomFilterReader should reject data shorter than MetadataLen")
	}
}

func TestNewBloomFilterReaderRejectsLegacyMarker(t *testing.T) {
	data := []byte{0, 0, 0, 0, 0}
	if r := NewBloomFilterReader(data); r != nil {
		t.Error("NewBloomFilterReader should reject a non-0xFF legacy marker")
	}
}

func TestNewBloomFilterReaderRejectsUnknownSubImplementation(t *testing.T) {
	data := []byte{NewBloomMarker, 0x01, 5, 0, 0}
	if r := NewBloomFilterReader(data); r != nil {
		t.Error("NewBloomFilterReader should reject an unknown sub-implementation marker")
	}
}

func TestNewBloomFilterReaderAlwaysFalseWhenNumProbesZero(t *testing.T) {
	data := []byte{NewBloomMarker, FastLocalBloomMarker, 0, 0, 0}
	r := NewBloomFilterReader(data)
	if r == nil {
		t.Fatal("NewBloomFilterReader should accept a zero-probe always-false filter")
	}
	if r.MayContain([]byte("anything")) {
		t.Error("a zero-probe filter should always report MayContain false")
	}
}

func TestMayContainNilReader(t *testing.T) {
	var r *BloomFilterReader
	if r.MayContain([]byte("x")) {
		t.Error("MayContain on a nil reader should return false")
	}
}

func TestChooseNumProbesMonotonicallyIncreasing(t *testing.T) {
	prev := 0
	for bitsPerKey := 1; bitsPerKey <= 30; bitsPerKey++ {
		n := chooseNumProbes(bitsPerKey * 1000)
		if n < prev {
			t.Errorf("chooseNumProbes(%d millibits) = %d, decreased from %d", bitsPerKey*1000, n, prev)
		}
		prev = n
	}
}

func TestBuilderFinishRoundTripsAcrossBitsPerKey(t *testing.T) {
	for _, bitsPerKey := range []int{5, 10, 20} {
		b := NewBloomFilterBuilder(bitsPerKey)
		for i := 0; i < 500; i++ {
			b.AddKey([]byte(fmt.Sprintf("entry-%d", i)))
		}
		data := b.Finish()
		r := NewBloomFilterReader(data)
		for i := 0; i < 500; i++ {
			key := []byte(fmt.Sprintf("entry-%d", i))
			if !r.MayContain(key) {
				t.Fatalf("bitsPerKey=%d: MayContain(%s) = false, want true", bitsPerKey, key)
			}
		}
	}
}
