// MANIFEST dump utility for RockyardKV.
//
// Use `manifestdump` to print a summary of a MANIFEST file.
// This tool decodes VersionEdits from the MANIFEST and prints a per-level live file set.
//
// Run the tool:
//
// ```bash
// ./bin/manifestdump <MANIFEST_FILE>
// ```
//
// Output includes:
// - Total decoded edits.
// - Final live file numbers per level.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ridgekv/ridgekv/internal/manifest"
	"github.com/ridgekv/ridgekv/internal/wal"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: manifestdump <manifest-file>")
		os.Exit(1)
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}

	editCount, liveFiles := decodeManifest(data)
	fmt.Print(formatSummary(editCount, liveFiles))
}

// decodeManifest replays every VersionEdit record in data and returns the
// number of edits successfully decoded along with the resulting live file
// set per level (level -> fileNum -> exists). A record that fails to decode
// as a VersionEdit is reported and skipped; a read error stops replay at
// that point, mirroring VersionSet.Recover's tolerance of a truncated
// trailing record.
func decodeManifest(data []byte) (editCount int, liveFiles map[int]map[uint64]bool) {
	reader := wal.NewReader(bytes.NewReader(data), nil, false)
	liveFiles = make(map[int]map[uint64]bool)
	for i := range 7 {
		liveFiles[i] = make(map[uint64]bool)
	}

	for {
		record, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Printf("Error at edit %d: %v\n", editCount+1, err)
			break
		}

		ve := &manifest.VersionEdit{}
		if err := ve.DecodeFrom(record); err != nil {
			fmt.Printf("Decode error at edit %d: %v\n", editCount+1, err)
			continue
		}

		editCount++
		for _, nf := range ve.NewFiles {
			fileNum := nf.Meta.FD.FileNumber
			liveFiles[nf.Level][fileNum] = true
		}
		for _, df := range ve.DeletedFiles {
			delete(liveFiles[df.Level], df.FileNumber)
		}
	}

	return editCount, liveFiles
}

// formatSummary renders decodeManifest's result the way main prints it.
func formatSummary(editCount int, liveFiles map[int]map[uint64]bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total edits: %d\n", editCount)
	fmt.Fprintf(&b, "\nFinal live files by level:\n")
	totalLive := 0
	for level := range 7 {
		if len(liveFiles[level]) > 0 {
			fmt.Fprintf(&b, "  Level %d: ", level)
			for fn := range liveFiles[level] {
				fmt.Fprintf(&b, "%d ", fn)
			}
			fmt.Fprintln(&b)
			totalLive += len(liveFiles[level])
		}
	}
	fmt.Fprintf(&b, "Total live: %d\n", totalLive)
	return b.String()
}
