package block

import (
	"bytes"
	"testing"
)

func buildBlock(t *testing.T, restartInterval int, entries [][2]string) []byte {
	t.Helper()
	b := NewBuilder(restartInterval)
	for _, kv := range entries {
		b.Add([]byte(kv[0]), []byte(kv[1]))
	}
	return b.Finish()
}

var sampleEntries = [][2]string{
	{"apple", "1"},
	{"apricot", "2"},
	{"banana", "3"},
	{"cherry", "4"},
	{"date", "5"},
}

func TestBuilderAddAndFinishRoundTrip(t *testing.T) {
	data := buildBlock(t, 2, sampleEntries)

	blk, err := NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock failed: %v", err)
	}

	it := blk.NewIterator()
	var got [][2]string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, [2]string{string(it.Key()), string(it.Value())})
	}
	if it.Error() != nil {
		t.Fatalf("iterator error: %v", it.Error())
	}
	if len(got) != len(sampleEntries) {
		t.Fatalf("got %d entries, want %d", len(got), len(sampleEntries))
	}
	for i, e := range sampleEntries {
		if got[i] != e {
			t.Errorf("entry %d = %v, want %v", i, got[i], e)
		}
	}
}

func TestBuilderEmptyAndReset(t *testing.T) {
	b := NewBuilder(16)
	if !b.Empty() {
		t.Error("new builder should be Empty()")
	}
	b.Add([]byte("a"), []byte("1"))
	if b.Empty() {
		t.Error("builder with an entry should not be Empty()")
	}
	b.Finish()
	b.Reset()
	if !b.Empty() {
		t.Error("builder should be Empty() after Reset()")
	}
}

func TestBuilderAddAfterFinishPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Add after Finish should panic")
		}
	}()
	b := NewBuilder(16)
	b.Add([]byte("a"), []byte("1"))
	b.Finish()
	b.Add([]byte("b"), []byte("2"))
}

func TestBuilderRestartIntervalClampedToOne(t *testing.T) {
	b := NewBuilderWithOptions(0, true)
	for _, kv := range sampleEntries {
		b.Add([]byte(kv[0]), []byte(kv[1]))
	}
	data := b.Finish()
	blk, err := NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock failed: %v", err)
	}
	if blk.NumRestarts() != len(sampleEntries) {
		t.Errorf("NumRestarts() = %d, want %d (restart every entry)", blk.NumRestarts(), len(sampleEntries))
	}
}

func TestBuilderWithoutDeltaEncodingStoresFullKeys(t *testing.T) {
	b := NewBuilderWithOptions(16, false)
	for _, kv := range sampleEntries {
		b.Add([]byte(kv[0]), []byte(kv[1]))
	}
	data := b.Finish()
	blk, err := NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock failed: %v", err)
	}
	it := blk.NewIterator()
	it.SeekToFirst()
	i := 0
	for ; it.Valid(); it.Next() {
		if string(it.Key()) != sampleEntries[i][0] {
			t.Errorf("entry %d key = %q, want %q", i, it.Key(), sampleEntries[i][0])
		}
		i++
	}
}

func TestIteratorSeekToLast(t *testing.T) {
	data := buildBlock(t, 2, sampleEntries)
	blk, err := NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock failed: %v", err)
	}

	it := blk.NewIterator()
	it.SeekToLast()
	if !it.Valid() {
		t.Fatal("SeekToLast should be valid on a non-empty block")
	}
	last := sampleEntries[len(sampleEntries)-1]
	if string(it.Key()) != last[0] || string(it.Value()) != last[1] {
		t.Errorf("SeekToLast = %q:%q, want %q:%q", it.Key(), it.Value(), last[0], last[1])
	}
}

func TestIteratorPrev(t *testing.T) {
	data := buildBlock(t, 2, sampleEntries)
	blk, err := NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock failed: %v", err)
	}

	it := blk.NewIterator()
	it.SeekToLast()

	var got []string
	for ; it.Valid(); it.Prev() {
		got = append(got, string(it.Key()))
	}
	if len(got) != len(sampleEntries) {
		t.Fatalf("walked %d entries backward, want %d", len(got), len(sampleEntries))
	}
	for i := range got {
		want := sampleEntries[len(sampleEntries)-1-i][0]
		if got[i] != want {
			t.Errorf("backward[%d] = %q, want %q", i, got[i], want)
		}
	}
}

func TestIteratorSeekExactAndBetween(t *testing.T) {
	data := buildBlock(t, 2, sampleEntries)
	blk, err := NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock failed: %v", err)
	}

	it := blk.NewIterator()

	it.Seek([]byte("banana"))
	if !it.Valid() || string(it.Key()) != "banana" {
		t.Fatalf("Seek(banana) = %q, want banana", it.Key())
	}

	it.Seek([]byte("blue"))
	if !it.Valid() || string(it.Key()) != "cherry" {
		t.Fatalf("Seek(blue) = %q, want cherry (first key >= target)", it.Key())
	}

	it.Seek([]byte("zzz"))
	if it.Valid() {
		t.Fatalf("Seek(zzz) should be invalid (past the last key), got %q", it.Key())
	}
}

func TestNewBlockRejectsShortData(t *testing.T) {
	if _, err := NewBlock([]byte{1, 2, 3}); err != ErrBadBlock {
		t.Errorf("NewBlock on short data = %v, want ErrBadBlock", err)
	}
}

func TestNewBlockRejectsZeroRestarts(t *testing.T) {
	footer := PackIndexTypeAndNumRestarts(DataBlockBinarySearch, 0)
	data := make([]byte, 4)
	data[0], data[1], data[2], data[3] = byte(footer), byte(footer>>8), byte(footer>>16), byte(footer>>24)
	if _, err := NewBlock(data); err != ErrBadBlock {
		t.Errorf("NewBlock with zero restarts = %v, want ErrBadBlock", err)
	}
}

func TestPackUnpackIndexTypeAndNumRestarts(t *testing.T) {
	for _, typ := range []DataBlockIndexType{DataBlockBinarySearch, DataBlockBinaryAndHash} {
		for _, n := range []uint32{0, 1, 100, kNumRestartsMask} {
			packed := PackIndexTypeAndNumRestarts(typ, n)
			gotType, gotN := UnpackIndexTypeAndNumRestarts(packed)
			if gotType != typ || gotN != n {
				t.Errorf("Pack/Unpack(%v, %d) round trip = (%v, %d)", typ, n, gotType, gotN)
			}
		}
	}
}

func TestCompareInternalKeysOrdersBySequenceDescending(t *testing.T) {
	mkKey := func(userKey string, seq uint64) []byte {
		trailer := seq << 8
		k := append([]byte(userKey), byte(trailer), byte(trailer>>8), byte(trailer>>16),
			byte(trailer>>24), byte(trailer>>32), byte(trailer>>40), byte(trailer>>48), byte(trailer>>56))
		return k
	}

	older := mkKey("k", 1)
	newer := mkKey("k", 5)
	if CompareInternalKeys(newer, older) >= 0 {
		t.Error("a higher sequence number for the same user key should sort first (compare < 0)")
	}
	if CompareInternalKeys(older, newer) <= 0 {
		t.Error("a lower sequence number for the same user key should sort after")
	}

	a := mkKey("a", 1)
	b := mkKey("b", 1)
	if CompareInternalKeys(a, b) >= 0 {
		t.Error("differing user keys should compare ascending bytewise regardless of sequence")
	}
}

func TestHandleEncodeDecodeRoundTrip(t *testing.T) {
	h := Handle{Offset: 12345, Size: 6789}
	encoded := h.EncodeToSlice()
	if len(encoded) != h.EncodedLength() {
		t.Errorf("EncodedLength() = %d, want len(encoded) = %d", h.EncodedLength(), len(encoded))
	}

	decoded, rest, err := DecodeHandle(encoded)
	if err != nil {
		t.Fatalf("DecodeHandle failed: %v", err)
	}
	if decoded != h {
		t.Errorf("decoded = %+v, want %+v", decoded, h)
	}
	if len(rest) != 0 {
		t.Errorf("rest after decoding a single handle = %d bytes, want 0", len(rest))
	}
}

func TestHandleIsNull(t *testing.T) {
	if !NullHandle.IsNull() {
		t.Error("NullHandle.IsNull() should be true")
	}
	if (Handle{Offset: 1}).IsNull() {
		t.Error("a handle with a non-zero offset should not be IsNull()")
	}
}

func TestDecodeHandleFromBadDataFails(t *testing.T) {
	if _, err := DecodeHandleFrom(nil); err == nil {
		t.Error("DecodeHandleFrom(nil) should fail")
	}
}

func TestFooterEncodeDecodeRoundTrip(t *testing.T) {
	f := &Footer{
		ChecksumType:    ChecksumTypeXXH3,
		MetaindexHandle: Handle{Offset: 100, Size: 50},
		IndexHandle:     Handle{Offset: 200, Size: 75},
	}

	encoded := f.EncodeTo(nil)
	if len(encoded) != EncodedLength {
		t.Fatalf("encoded footer length = %d, want %d", len(encoded), EncodedLength)
	}

	decoded, err := DecodeFooter(encoded)
	if err != nil {
		t.Fatalf("DecodeFooter failed: %v", err)
	}
	if decoded.ChecksumType != f.ChecksumType {
		t.Errorf("ChecksumType = %v, want %v", decoded.ChecksumType, f.ChecksumType)
	}
	if decoded.MetaindexHandle != f.MetaindexHandle {
		t.Errorf("MetaindexHandle = %+v, want %+v", decoded.MetaindexHandle, f.MetaindexHandle)
	}
	if decoded.IndexHandle != f.IndexHandle {
		t.Errorf("IndexHandle = %+v, want %+v", decoded.IndexHandle, f.IndexHandle)
	}
}

func TestFooterDecodeRejectsBadMagic(t *testing.T) {
	f := &Footer{MetaindexHandle: Handle{Offset: 1, Size: 1}, IndexHandle: Handle{Offset: 2, Size: 2}}
	encoded := f.EncodeTo(nil)
	// Corrupt the trailing magic number.
	for i := len(encoded) - MagicNumberLength; i < len(encoded); i++ {
		encoded[i] = 0xAA
	}
	if _, err := DecodeFooter(encoded); err != ErrBadBlockFooter {
		t.Errorf("DecodeFooter with corrupted magic = %v, want ErrBadBlockFooter", err)
	}
}

func TestFooterDecodeRejectsShortData(t *testing.T) {
	if _, err := DecodeFooter(make([]byte, EncodedLength-1)); err != ErrBadBlockFooter {
		t.Errorf("DecodeFooter on short data = %v, want ErrBadBlockFooter", err)
	}
}

func TestBuilderSizeEstimatesGrow(t *testing.T) {
	b := NewBuilder(16)
	before := b.CurrentSizeEstimate()
	estimateAfter := b.EstimateSizeAfterKV([]byte("key"), []byte("value"))
	if estimateAfter <= before {
		t.Error("EstimateSizeAfterKV should project growth beyond CurrentSizeEstimate")
	}
	b.Add([]byte("key"), []byte("value"))
	after := b.CurrentSizeEstimate()
	if after <= before {
		t.Error("CurrentSizeEstimate should grow after Add")
	}
	if b.EstimatedSize() != b.CurrentSizeEstimate() {
		t.Error("EstimatedSize should alias CurrentSizeEstimate")
	}
}

func TestBlockDataAndSize(t *testing.T) {
	data := buildBlock(t, 16, sampleEntries)
	blk, err := NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock failed: %v", err)
	}
	if blk.Size() != len(data) {
		t.Errorf("Size() = %d, want %d", blk.Size(), len(data))
	}
	if !bytes.Equal(blk.Data(), data) {
		t.Error("Data() should return the original slice")
	}
}
