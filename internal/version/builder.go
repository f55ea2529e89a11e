// builder.go implements Builder for applying edits to versions.
//
// Builder accumulates changes to a Version and produces a new Version
// without materializing every intermediate version that recovery or
// LogAndApply would otherwise construct.
package version

import (
	"sort"

	"github.com/ridgekv/ridgekv/internal/dbformat"
	"github.com/ridgekv/ridgekv/internal/manifest"
)

// Builder accumulates changes to a Version and produces a new Version.
//
// Usage:
//
//	builder := NewBuilder(vset, baseVersion)
//	builder.Apply(edit1)
//	builder.Apply(edit2)
//	newVersion := builder.SaveTo(vset)
type Builder struct {
	vset *VersionSet
	base *Version

	addedFiles   [MaxNumLevels]map[uint64]*manifest.FileMetaData
	deletedFiles [MaxNumLevels]map[uint64]struct{}
}

// NewBuilder creates a new Builder based on the given Version.
func NewBuilder(vset *VersionSet, base *Version) *Builder {
	b := &Builder{
		vset: vset,
		base: base,
	}
	for i := range MaxNumLevels {
		b.addedFiles[i] = make(map[uint64]*manifest.FileMetaData)
		b.deletedFiles[i] = make(map[uint64]struct{})
	}
	return b
}

// Apply applies a VersionEdit to the builder.
func (b *Builder) Apply(edit *manifest.VersionEdit) error {
	for _, df := range edit.DeletedFiles {
		if df.Level < 0 || df.Level >= MaxNumLevels {
			continue
		}

		if _, wasAdded := b.addedFiles[df.Level][df.FileNumber]; wasAdded {
			delete(b.addedFiles[df.Level], df.FileNumber)
			continue
		}

		if _, alreadyDeleted := b.deletedFiles[df.Level][df.FileNumber]; alreadyDeleted {
			continue
		}

		fileExists := false
		if b.base != nil {
			for _, f := range b.base.files[df.Level] {
				if f.FD.FileNumber == df.FileNumber {
					fileExists = true
					break
				}
			}
		}
		if !fileExists {
			// A compaction picked from a now-stale version can try to
			// delete a file LogAndApply already removed; ignore rather
			// than fail the whole edit.
			continue
		}

		b.deletedFiles[df.Level][df.FileNumber] = struct{}{}
	}

	for _, nf := range edit.NewFiles {
		if nf.Level < 0 || nf.Level >= MaxNumLevels {
			continue
		}
		if nf.Meta.AllowedSeeks == 0 {
			nf.Meta.AllowedSeeks = allowedSeeksFor(nf.Meta.FD.FileSize)
		}

		fileNum := nf.Meta.FD.FileNumber
		delete(b.deletedFiles[nf.Level], fileNum)
		b.addedFiles[nf.Level][fileNum] = nf.Meta
	}

	return nil
}

// allowedSeeksFor computes the seek-compaction budget for a newly added
// file: at least 100 seeks, or one per 16 KiB of file size, whichever is
// larger, so small files aren't charged into compaction prematurely.
func allowedSeeksFor(fileSize uint64) int64 {
	const minSeeks = 100
	const bytesPerSeek = 16 * 1024

	seeks := int64(fileSize / bytesPerSeek)
	if seeks < minSeeks {
		seeks = minSeeks
	}
	return seeks
}

// SaveTo creates a new Version with all the accumulated changes.
func (b *Builder) SaveTo(vset *VersionSet) *Version {
	v := NewVersion(vset, vset.NextVersionNumber())

	for level := range MaxNumLevels {
		var files []*manifest.FileMetaData
		if b.base != nil {
			for _, f := range b.base.files[level] {
				if _, deleted := b.deletedFiles[level][f.FD.FileNumber]; deleted {
					continue
				}
				files = append(files, f)
			}
		}

		for _, f := range b.addedFiles[level] {
			files = append(files, f)
		}

		if level == 0 {
			// L0 files may overlap; sort oldest-first so Get() can scan
			// in reverse to find the newest match.
			sortL0FilesByFileNumber(files)
		} else {
			sortFilesBySmallestKey(files)
		}

		v.files[level] = files
	}

	return v
}

func sortL0FilesByFileNumber(files []*manifest.FileMetaData) {
	sort.Slice(files, func(i, j int) bool {
		return files[i].FD.FileNumber < files[j].FD.FileNumber
	})
}

func sortFilesBySmallestKey(files []*manifest.FileMetaData) {
	sort.Slice(files, func(i, j int) bool {
		return dbformat.CompareInternalKeys(files[i].Smallest, files[j].Smallest) < 0
	})
}
