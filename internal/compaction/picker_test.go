package compaction

import (
	"testing"

	"github.com/ridgekv/ridgekv/internal/manifest"
	"github.com/ridgekv/ridgekv/internal/version"
)

// makeTestFileMetaData creates a FileMetaData for testing.
func makeTestFileMetaData(fileNum uint64, fileSize uint64, smallest, largest []byte) *manifest.FileMetaData {
	meta := manifest.NewFileMetaData()
	meta.FD = manifest.FileDescriptor{FileNumber: fileNum, FileSize: fileSize}
	meta.Smallest = smallest
	meta.Largest = largest
	return meta
}

func applyFiles(t *testing.T, vset *version.VersionSet, base *version.Version, level int, metas ...*manifest.FileMetaData) *version.Version {
	t.Helper()
	edit := manifest.NewVersionEdit()
	for _, m := range metas {
		edit.AddFile(level, m)
	}
	builder := version.NewBuilder(vset, base)
	if err := builder.Apply(edit); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	return builder.SaveTo(vset)
}

func TestLeveledCompactionPickerNeedsCompactionEmpty(t *testing.T) {
	picker := DefaultLeveledCompactionPicker()
	v := version.NewVersion(nil, 1)

	if picker.NeedsCompaction(v) {
		t.Error("empty version should not need compaction")
	}
	if picker.PickCompaction(v) != nil {
		t.Error("empty version should not produce a compaction")
	}
}

func TestLeveledCompactionPickerNeedsCompactionL0Trigger(t *testing.T) {
	picker := DefaultLeveledCompactionPicker()
	picker.L0CompactionTrigger = 4

	vset := version.NewVersionSet(version.VersionSetOptions{})
	v := version.NewVersion(vset, 1)

	var metas []*manifest.FileMetaData
	for i := range 3 {
		metas = append(metas, makeTestFileMetaData(uint64(i+1), 1000, []byte("a"), []byte("z")))
	}
	v = applyFiles(t, vset, v, 0, metas...)

	if picker.NeedsCompaction(v) {
		t.Error("3 L0 files should not trigger compaction (trigger=4)")
	}

	v = applyFiles(t, vset, v, 0, makeTestFileMetaData(4, 1000, []byte("a"), []byte("z")))

	if !picker.NeedsCompaction(v) {
		t.Error("4 L0 files should trigger compaction (trigger=4)")
	}
}

func TestLeveledCompactionPickerPickL0Compaction(t *testing.T) {
	picker := DefaultLeveledCompactionPicker()
	picker.L0CompactionTrigger = 2

	vset := version.NewVersionSet(version.VersionSetOptions{})
	v := version.NewVersion(vset, 1)

	meta1 := makeTestFileMetaData(1, 1000, []byte("a"), []byte("m"))
	meta2 := makeTestFileMetaData(2, 1000, []byte("n"), []byte("z"))
	v = applyFiles(t, vset, v, 0, meta1, meta2)

	c := picker.PickCompaction(v)
	if c == nil {
		t.Fatal("expected a compaction to be picked")
	}
	if c.Reason != CompactionReasonLevelL0FileNumTrigger {
		t.Errorf("Reason = %v, want CompactionReasonLevelL0FileNumTrigger", c.Reason)
	}
	if c.OutputLevel != 1 {
		t.Errorf("OutputLevel = %d, want 1", c.OutputLevel)
	}

	if len(c.Inputs) == 0 || c.Inputs[0].Level != 0 {
		t.Fatalf("expected first compaction input to be level 0, got %+v", c.Inputs)
	}
	if len(c.Inputs[0].Files) != 2 {
		t.Fatalf("L0 input files = %d, want 2", len(c.Inputs[0].Files))
	}
}

func TestLeveledCompactionPickerSkipsFilesBeingCompacted(t *testing.T) {
	picker := DefaultLeveledCompactionPicker()
	picker.L0CompactionTrigger = 1

	vset := version.NewVersionSet(version.VersionSetOptions{})
	v := version.NewVersion(vset, 1)

	meta := makeTestFileMetaData(1, 1000, []byte("a"), []byte("z"))
	meta.BeingCompacted = true
	v = applyFiles(t, vset, v, 0, meta)

	if c := picker.PickCompaction(v); c != nil {
		t.Errorf("expected no compaction when the only L0 file is already being compacted, got %+v", c)
	}
}

func TestLeveledCompactionPickerSizeTrigger(t *testing.T) {
	picker := DefaultLeveledCompactionPicker()
	picker.MaxBytesForLevelBase = 1000
	picker.MaxBytesForLevelMulti = 10.0

	vset := version.NewVersionSet(version.VersionSetOptions{})
	v := version.NewVersion(vset, 1)

	// L1's target is 1000 bytes; one 2000-byte file puts it well over score 1.0.
	meta := makeTestFileMetaData(1, 2000, []byte("a"), []byte("z"))
	v = applyFiles(t, vset, v, 1, meta)

	if !picker.NeedsCompaction(v) {
		t.Fatal("expected size-triggered compaction on L1")
	}

	c := picker.PickCompaction(v)
	if c == nil {
		t.Fatal("expected a compaction to be picked")
	}
	if c.Reason != CompactionReasonLevelMaxLevelSize {
		t.Errorf("Reason = %v, want CompactionReasonLevelMaxLevelSize", c.Reason)
	}
	if c.OutputLevel != 2 {
		t.Errorf("OutputLevel = %d, want 2", c.OutputLevel)
	}
}

func TestPickSeekCompaction(t *testing.T) {
	picker := DefaultLeveledCompactionPicker()

	vset := version.NewVersionSet(version.VersionSetOptions{})
	v := version.NewVersion(vset, 1)

	meta := makeTestFileMetaData(5, 1000, []byte("a"), []byte("z"))
	v = applyFiles(t, vset, v, 2, meta)

	c := picker.PickSeekCompaction(v, 2, meta)
	if c == nil {
		t.Fatal("expected a compaction to be picked")
	}
	if c.Reason != CompactionReasonSeekCompaction {
		t.Errorf("Reason = %v, want CompactionReasonSeekCompaction", c.Reason)
	}
	if c.OutputLevel != 3 {
		t.Errorf("OutputLevel = %d, want 3", c.OutputLevel)
	}

	meta.BeingCompacted = true
	if c := picker.PickSeekCompaction(v, 2, meta); c != nil {
		t.Error("expected nil when the file is already being compacted")
	}
}
