package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ridgekv/ridgekv/internal/manifest"
	"github.com/ridgekv/ridgekv/internal/wal"
)

func encodeEdits(t *testing.T, edits ...*manifest.VersionEdit) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := wal.NewWriter(&buf)
	for _, ve := range edits {
		if _, err := w.AddRecord(ve.EncodeTo()); err != nil {
			t.Fatalf("AddRecord failed: %v", err)
		}
	}
	return buf.Bytes()
}

func TestDecodeManifestTracksLiveFilesAcrossEdits(t *testing.T) {
	add := manifest.NewVersionEdit()
	meta1 := manifest.NewFileMetaData()
	meta1.FD = manifest.FileDescriptor{FileNumber: 1, FileSize: 100}
	add.AddFile(0, meta1)
	meta2 := manifest.NewFileMetaData()
	meta2.FD = manifest.FileDescriptor{FileNumber: 2, FileSize: 200}
	add.AddFile(1, meta2)

	compact := manifest.NewVersionEdit()
	compact.DeleteFile(0, 1)
	meta3 := manifest.NewFileMetaData()
	meta3.FD = manifest.FileDescriptor{FileNumber: 3, FileSize: 150}
	compact.AddFile(1, meta3)

	data := encodeEdits(t, add, compact)

	editCount, liveFiles := decodeManifest(data)
	if editCount != 2 {
		t.Fatalf("editCount = %d, want 2", editCount)
	}
	if len(liveFiles[0]) != 0 {
		t.Errorf("level 0 live files = %v, want empty (file 1 was deleted)", liveFiles[0])
	}
	if !liveFiles[1][2] || !liveFiles[1][3] {
		t.Errorf("level 1 live files = %v, want {2, 3}", liveFiles[1])
	}
}

func TestDecodeManifestEmptyInput(t *testing.T) {
	editCount, liveFiles := decodeManifest(nil)
	if editCount != 0 {
		t.Errorf("editCount = %d, want 0", editCount)
	}
	for level := 0; level < 7; level++ {
		if len(liveFiles[level]) != 0 {
			t.Errorf("level %d live files = %v, want empty", level, liveFiles[level])
		}
	}
}

func TestFormatSummaryReportsEditCountAndLiveFiles(t *testing.T) {
	ve := manifest.NewVersionEdit()
	meta := manifest.NewFileMetaData()
	meta.FD = manifest.FileDescriptor{FileNumber: 7, FileSize: 42}
	ve.AddFile(2, meta)

	editCount, liveFiles := decodeManifest(encodeEdits(t, ve))
	summary := formatSummary(editCount, liveFiles)

	if !strings.Contains(summary, "Total edits: 1") {
		t.Errorf("summary = %q, want it to report 1 total edit", summary)
	}
	if !strings.Contains(summary, "Level 2: ") || !strings.Contains(summary, "7") {
		t.Errorf("summary = %q, want it to list file 7 under level 2", summary)
	}
	if !strings.Contains(summary, "Total live: 1") {
		t.Errorf("summary = %q, want it to report 1 total live file", summary)
	}
}

func TestFormatSummaryWithNoLiveFiles(t *testing.T) {
	editCount, liveFiles := decodeManifest(nil)
	summary := formatSummary(editCount, liveFiles)
	if !strings.Contains(summary, "Total edits: 0") || !strings.Contains(summary, "Total live: 0") {
		t.Errorf("summary = %q, want zero edits and zero live files", summary)
	}
}
