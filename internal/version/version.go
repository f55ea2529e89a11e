// Package version manages database versions and the LSM-tree structure.
//
// A Version represents a snapshot of the database state at a point in time.
// It contains the list of SST files at each level and provides methods
// for querying and iterating over the data.
//
// A VersionSet manages all versions and the MANIFEST file. It provides
// the interface for logging and applying VersionEdits to create new versions.
package version

import (
	"sort"
	"sync/atomic"

	"github.com/ridgekv/ridgekv/internal/dbformat"
	"github.com/ridgekv/ridgekv/internal/filenames"
	"github.com/ridgekv/ridgekv/internal/manifest"
)

// MaxNumLevels is the maximum number of levels in the LSM-tree.
const MaxNumLevels = 7

// Version represents a snapshot of the database state at a point in time.
// Each Version keeps track of the set of SST files at each level.
//
// Versions are immutable once created. New versions are created by applying
// VersionEdits to an existing version via the Builder.
//
// Versions use reference counting to manage their lifetime. When a Version
// is no longer needed, call Unref() to decrement the reference count.
type Version struct {
	// Files at each level: level 0 sorted by file number (oldest first),
	// other levels by smallest key
	files [MaxNumLevels][]*manifest.FileMetaData

	// Reference count for this version
	refs int32

	// The VersionSet this version belongs to
	vset *VersionSet

	// Version number (for debugging)
	versionNumber uint64

	// Linked list pointers (for VersionSet's version list)
	prev *Version
	next *Version

	// Compaction score for each level, computed after the version is
	// finalized; the level with the highest score is the next candidate
	// for a size-triggered compaction.
	compactionScore []float64
	compactionLevel []int
}

// NewVersion creates a new empty Version.
func NewVersion(vset *VersionSet, versionNumber uint64) *Version {
	return &Version{
		vset:          vset,
		versionNumber: versionNumber,
		refs:          0,
	}
}

// Ref increments the reference count.
func (v *Version) Ref() {
	atomic.AddInt32(&v.refs, 1)
}

// Unref decrements the reference count and unlinks the version once it
// reaches zero.
func (v *Version) Unref() {
	if atomic.AddInt32(&v.refs, -1) == 0 {
		// Hold the VersionSet's list lock while unlinking to prevent races
		// with other Unref() calls and appendVersion(); a separate listMu
		// avoids contending with the VersionSet's main mutex.
		if v.vset != nil {
			v.vset.listMu.Lock()
			defer v.vset.listMu.Unlock()
		}
		if v.prev != nil {
			v.prev.next = v.next
		}
		if v.next != nil {
			v.next.prev = v.prev
		}
		v.prev = nil
		v.next = nil
	}
}

// NumLevels returns the number of levels in use.
func (v *Version) NumLevels() int {
	return MaxNumLevels
}

// NumFiles returns the number of files at the given level.
func (v *Version) NumFiles(level int) int {
	if level < 0 || level >= MaxNumLevels {
		return 0
	}
	return len(v.files[level])
}

// Files returns the files at the given level.
func (v *Version) Files(level int) []*manifest.FileMetaData {
	if level < 0 || level >= MaxNumLevels {
		return nil
	}
	return v.files[level]
}

// TotalFiles returns the total number of files across all levels.
func (v *Version) TotalFiles() int {
	total := 0
	for level := range MaxNumLevels {
		total += len(v.files[level])
	}
	return total
}

// NumLevelBytes returns the total size of files at the given level.
func (v *Version) NumLevelBytes(level int) uint64 {
	if level < 0 || level >= MaxNumLevels {
		return 0
	}
	var size uint64
	for _, f := range v.files[level] {
		size += f.FD.FileSize
	}
	return size
}

// VersionNumber returns the version number for debugging.
func (v *Version) VersionNumber() uint64 {
	return v.versionNumber
}

// OverlappingInputs returns the files at the given level that overlap with
// the key range [begin, end]. If begin or end is nil, it means "no bound".
// For level 0, the search expands the range and restarts until a fixed
// point is reached, since level-0 files can overlap each other.
func (v *Version) OverlappingInputs(level int, begin, end []byte) []*manifest.FileMetaData {
	if level < 0 || level >= MaxNumLevels {
		return nil
	}
	if level == 0 {
		return v.overlappingInputsL0(begin, end)
	}

	var result []*manifest.FileMetaData
	for _, f := range v.files[level] {
		if begin != nil && len(f.Largest) > 0 && dbformat.CompareInternalKeys(f.Largest, begin) < 0 {
			continue
		}
		if end != nil && len(f.Smallest) > 0 && dbformat.CompareInternalKeys(f.Smallest, end) > 0 {
			continue
		}
		result = append(result, f)
	}
	return result
}

func (v *Version) overlappingInputsL0(begin, end []byte) []*manifest.FileMetaData {
	for {
		var result []*manifest.FileMetaData
		expanded := false

		for _, f := range v.files[0] {
			if begin != nil && len(f.Largest) > 0 && dbformat.CompareInternalKeys(f.Largest, begin) < 0 {
				continue
			}
			if end != nil && len(f.Smallest) > 0 && dbformat.CompareInternalKeys(f.Smallest, end) > 0 {
				continue
			}
			result = append(result, f)
			if begin != nil && dbformat.CompareInternalKeys(f.Smallest, begin) < 0 {
				begin = f.Smallest
				expanded = true
			}
			if end != nil && dbformat.CompareInternalKeys(f.Largest, end) > 0 {
				end = f.Largest
				expanded = true
			}
		}

		if !expanded {
			return result
		}
	}
}

// LookupResult is the outcome of a Get against a Version.
type LookupResult struct {
	Value   []byte
	Found   bool
	Deleted bool
}

// TableReader is the subset of the table cache a Version needs to probe
// SST files during a point lookup.
type TableReader interface {
	// MayContain reports whether key may be present in fileNum; it returns
	// false only when the file's filter block rules key out.
	// A false result is definitive; a true result requires a real seek.
	MayContain(fileNum uint64, path string, key []byte) bool
	// Get looks up the internal key in fileNum, returning the raw stored
	// value and internal key actually found (nil, nil, false if absent).
	Get(fileNum uint64, path string, internalKey []byte) (value []byte, foundKey []byte, ok bool, err error)
}

// Get searches the version for key at or before seq, consulting level 0
// newest-first and levels 1+ via binary search over non-overlapping
// files. Only the first file actually opened for a real read is charged
// a seek; if that file is not the one that produced the answer and its
// allowed-seeks budget is exhausted, it is returned as a compaction
// candidate so the caller can schedule a compaction.
func (v *Version) Get(reader TableReader, fileDir string, key []byte, seq dbformat.SequenceNumber) (LookupResult, *manifest.FileMetaData, error) {
	lookup := dbformat.NewLookupKey(key, seq)
	ikey := lookup.InternalKey()

	var seekFile *manifest.FileMetaData

	tryFile := func(f *manifest.FileMetaData) (LookupResult, bool, error) {
		path := filenames.TableFilePath(fileDir, f.FD.FileNumber)
		if !reader.MayContain(f.FD.FileNumber, path, key) {
			return LookupResult{}, false, nil
		}
		if seekFile == nil {
			seekFile = f
		}

		value, foundKey, ok, err := reader.Get(f.FD.FileNumber, path, ikey)
		if err != nil {
			return LookupResult{}, false, err
		}
		if !ok {
			return LookupResult{}, false, nil
		}

		userKey := dbformat.ExtractUserKey(foundKey)
		if v.vset != nil && v.vset.opts.Comparator != nil && v.vset.opts.Comparator.Compare(userKey, key) != 0 {
			return LookupResult{}, false, nil
		}

		switch dbformat.ExtractValueType(foundKey) {
		case dbformat.TypeValue:
			return LookupResult{Value: value, Found: true}, true, nil
		case dbformat.TypeDeletion:
			return LookupResult{Found: true, Deleted: true}, true, nil
		default:
			return LookupResult{}, false, nil
		}
	}

	var result LookupResult
	var answeredBy *manifest.FileMetaData

	// Level 0: files may overlap, search newest-first.
	l0 := v.files[0]
search:
	for i := len(l0) - 1; i >= 0; i-- {
		f := l0[i]
		if dbformat.CompareInternalKeys(f.Smallest, ikey) > 0 || dbformat.CompareInternalKeys(ikey, f.Largest) > 0 {
			continue
		}
		res, found, err := tryFile(f)
		if err != nil {
			return LookupResult{}, nil, err
		}
		if found {
			result, answeredBy = res, f
			break search
		}
	}

	if answeredBy == nil {
		// Levels 1+: files are sorted and non-overlapping, binary search.
		for level := 1; level < MaxNumLevels; level++ {
			files := v.files[level]
			if len(files) == 0 {
				continue
			}
			idx := sort.Search(len(files), func(i int) bool {
				return dbformat.CompareInternalKeys(files[i].Largest, ikey) >= 0
			})
			if idx >= len(files) || dbformat.CompareInternalKeys(ikey, files[idx].Smallest) < 0 {
				continue
			}
			f := files[idx]
			res, found, err := tryFile(f)
			if err != nil {
				return LookupResult{}, nil, err
			}
			if found {
				result, answeredBy = res, f
				break
			}
		}
	}

	var compactionCandidate *manifest.FileMetaData
	if seekFile != nil && seekFile != answeredBy {
		seekFile.AllowedSeeks--
		if seekFile.AllowedSeeks <= 0 && !seekFile.BeingCompacted {
			compactionCandidate = seekFile
		}
	}

	return result, compactionCandidate, nil
}
