// Package filenames centralizes the on-disk naming scheme for database
// files, so every package that needs to turn a file number into a path
// agrees on the same convention.
package filenames

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// CurrentFileName is the name of the file that records which MANIFEST
// is current.
const CurrentFileName = "CURRENT"

// LockFileName is the name of the database lock file.
const LockFileName = "LOCK"

// TableFileName returns the filename for an SST file with the given number.
func TableFileName(number uint64) string {
	return fmt.Sprintf("%06d.sst", number)
}

// TableFilePath joins dbName with the SST filename for number.
func TableFilePath(dbName string, number uint64) string {
	return filepath.Join(dbName, TableFileName(number))
}

// LogFileName returns the filename for a WAL segment with the given number.
func LogFileName(number uint64) string {
	return fmt.Sprintf("%06d.log", number)
}

// LogFilePath joins dbName with the WAL filename for number.
func LogFilePath(dbName string, number uint64) string {
	return filepath.Join(dbName, LogFileName(number))
}

// ManifestFileName returns the filename for a MANIFEST file with the given
// number.
func ManifestFileName(number uint64) string {
	return fmt.Sprintf("MANIFEST-%06d", number)
}

// ManifestFilePath joins dbName with the MANIFEST filename for number.
func ManifestFilePath(dbName string, number uint64) string {
	return filepath.Join(dbName, ManifestFileName(number))
}

// CurrentFilePath joins dbName with the CURRENT filename.
func CurrentFilePath(dbName string) string {
	return filepath.Join(dbName, CurrentFileName)
}

// LockFilePath joins dbName with the LOCK filename.
func LockFilePath(dbName string) string {
	return filepath.Join(dbName, LockFileName)
}

// ParseManifestNumber extracts the file number from a "MANIFEST-NNNNNN"
// filename. ok is false if name does not have the expected form.
func ParseManifestNumber(name string) (number uint64, ok bool) {
	numStr, found := strings.CutPrefix(name, "MANIFEST-")
	if !found {
		return 0, false
	}
	n, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseTableNumber extracts the file number from an "NNNNNN.sst" filename.
// ok is false if name does not have the expected form.
func ParseTableNumber(name string) (number uint64, ok bool) {
	numStr, found := strings.CutSuffix(name, ".sst")
	if !found {
		return 0, false
	}
	n, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseLogNumber extracts the file number from an "NNNNNN.log" filename.
// ok is false if name does not have the expected form.
func ParseLogNumber(name string) (number uint64, ok bool) {
	numStr, found := strings.CutSuffix(name, ".log")
	if !found {
		return 0, false
	}
	n, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
