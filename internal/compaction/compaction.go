// Package compaction implements the leveled-compaction engine: merging
// and reorganizing SST files to bound read amplification and reclaim
// space from deleted or overwritten keys.
package compaction

import (
	"github.com/ridgekv/ridgekv/internal/dbformat"
	"github.com/ridgekv/ridgekv/internal/manifest"
)

// Compaction represents a single compaction operation: which files to
// read from (inputs, by level) and where to write the merged output.
type Compaction struct {
	// Input files organized by level
	Inputs []*CompactionInputFiles

	// The output level
	OutputLevel int

	// Maximum output file size
	MaxOutputFileSize uint64

	// Smallest and largest keys across all input files
	SmallestKey []byte
	LargestKey  []byte

	// Edit to record changes to the version
	Edit *manifest.VersionEdit

	// Whether this is a trivial move: the sole input's range doesn't
	// overlap the output level, so the file is relocated without a
	// rewrite.
	IsTrivialMove bool

	// The score that triggered this compaction
	Score float64

	// The reason for this compaction
	Reason CompactionReason
}

// CompactionInputFiles represents input files from a single level.
type CompactionInputFiles struct {
	Level int
	Files []*manifest.FileMetaData
}

// CompactionReason indicates why a compaction was triggered.
type CompactionReason int

const (
	CompactionReasonUnknown CompactionReason = iota
	CompactionReasonLevelL0FileNumTrigger
	CompactionReasonLevelMaxLevelSize
	CompactionReasonSeekCompaction
	CompactionReasonManualCompaction
	CompactionReasonFlush
)

func (r CompactionReason) String() string {
	switch r {
	case CompactionReasonLevelL0FileNumTrigger:
		return "L0 file count"
	case CompactionReasonLevelMaxLevelSize:
		return "Level size"
	case CompactionReasonSeekCompaction:
		return "Seek compaction"
	case CompactionReasonManualCompaction:
		return "Manual"
	case CompactionReasonFlush:
		return "Flush"
	default:
		return "Unknown"
	}
}

// NewCompaction creates a new Compaction with the given inputs and output level.
func NewCompaction(inputs []*CompactionInputFiles, outputLevel int) *Compaction {
	c := &Compaction{
		Inputs:            inputs,
		OutputLevel:       outputLevel,
		MaxOutputFileSize: 2 * 1024 * 1024, // 2MiB default output file size
		Edit:              manifest.NewVersionEdit(),
	}
	c.computeKeyRange()
	return c
}

// NumInputFiles returns the total number of input files.
func (c *Compaction) NumInputFiles() int {
	total := 0
	for _, in := range c.Inputs {
		total += len(in.Files)
	}
	return total
}

// StartLevel returns the start level of this compaction.
func (c *Compaction) StartLevel() int {
	if len(c.Inputs) == 0 {
		return -1
	}
	return c.Inputs[0].Level
}

// computeKeyRange computes the smallest and largest keys across all input files.
func (c *Compaction) computeKeyRange() {
	for i, in := range c.Inputs {
		for j, f := range in.Files {
			if i == 0 && j == 0 {
				c.SmallestKey = f.Smallest
				c.LargestKey = f.Largest
				continue
			}
			if len(f.Smallest) > 0 && (len(c.SmallestKey) == 0 || dbformat.CompareInternalKeys(f.Smallest, c.SmallestKey) < 0) {
				c.SmallestKey = f.Smallest
			}
			if len(f.Largest) > 0 && (len(c.LargestKey) == 0 || dbformat.CompareInternalKeys(f.Largest, c.LargestKey) > 0) {
				c.LargestKey = f.Largest
			}
		}
	}
}

// AddInputDeletions adds delete operations for all input files to the edit.
func (c *Compaction) AddInputDeletions() {
	for _, in := range c.Inputs {
		for _, f := range in.Files {
			c.Edit.DeleteFile(in.Level, f.FD.FileNumber)
		}
	}
}

// DeletedFiles returns the deleted files in the edit.
func (c *Compaction) DeletedFiles() []manifest.DeletedFileEntry {
	return c.Edit.DeletedFiles
}

// MarkFilesBeingCompacted marks all input files as being compacted.
func (c *Compaction) MarkFilesBeingCompacted(beingCompacted bool) {
	for _, in := range c.Inputs {
		for _, f := range in.Files {
			f.BeingCompacted = beingCompacted
		}
	}
}

// GrandparentLevel returns the level one below the output level, whose
// overlap with the compaction's output range bounds future L+1->L+2
// compaction cost (see shouldSplitOutput in job.go).
func (c *Compaction) GrandparentLevel() int {
	return c.OutputLevel + 1
}

// BaseLevelChecker tracks, across a monotonic scan of a compaction's
// merged input in user-key order, whether a user key is still present at
// any level deeper than the compaction's two output levels. It is used
// to decide whether an obsolete-looking deletion tombstone can actually
// be dropped: if no deeper level holds the key, nothing below the
// compaction could still need the tombstone to shadow a stale value.
type BaseLevelChecker struct {
	levels    [][]*manifest.FileMetaData
	levelPtrs []int
}

// NewBaseLevelChecker builds a checker over levelFiles, the file lists
// for every level strictly below the compaction's output level (levels
// OutputLevel+1 .. NumLevels-1, indexed from 0).
func NewBaseLevelChecker(levelFiles [][]*manifest.FileMetaData) *BaseLevelChecker {
	return &BaseLevelChecker{
		levels:    levelFiles,
		levelPtrs: make([]int, len(levelFiles)),
	}
}

// IsBaseLevelForKey reports whether userKey is absent from every deeper
// level, advancing each level's cursor as it goes. Callers must invoke
// this with monotonically non-decreasing userKey values, matching the
// forward scan of the compaction's merging iterator.
func (bc *BaseLevelChecker) IsBaseLevelForKey(userKey []byte) bool {
	for level, files := range bc.levels {
		for bc.levelPtrs[level] < len(files) {
			f := files[bc.levelPtrs[level]]
			fileLargestUserKey := dbformat.ExtractUserKey(f.Largest)
			if dbformat.DefaultInternalKeyComparator.UserComparator().Compare(userKey, fileLargestUserKey) <= 0 {
				fileSmallestUserKey := dbformat.ExtractUserKey(f.Smallest)
				if dbformat.DefaultInternalKeyComparator.UserComparator().Compare(userKey, fileSmallestUserKey) >= 0 {
					return false
				}
				break
			}
			bc.levelPtrs[level]++
		}
	}
	return true
}
