// table_reader.go adapts the table package's TableCache to the minimal
// version.TableReader interface a point lookup needs: a filter check
// without opening an iterator, and a single-key seek when the filter
// doesn't rule the key out.
package engine

import (
	"github.com/ridgekv/ridgekv/internal/table"
)

// cacheTableReader implements version.TableReader over a *table.TableCache.
type cacheTableReader struct {
	cache *table.TableCache
}

func newCacheTableReader(cache *table.TableCache) *cacheTableReader {
	return &cacheTableReader{cache: cache}
}

// MayContain reports whether key may be present in fileNum: it returns
// false only when the file's Bloom filter rules key out.
func (r *cacheTableReader) MayContain(fileNum uint64, path string, key []byte) bool {
	reader, err := r.cache.Get(fileNum, path)
	if err != nil {
		// Treat an unopenable file as "might contain" so the caller's
		// Get surfaces the I/O error via the subsequent Get call rather
		// than silently skipping the file.
		return true
	}
	defer r.cache.Release(fileNum)
	return reader.KeyMayMatch(key)
}

// Get seeks to internalKey in fileNum and returns the stored value and
// the internal key actually found there, if any.
func (r *cacheTableReader) Get(fileNum uint64, path string, internalKey []byte) ([]byte, []byte, bool, error) {
	reader, err := r.cache.Get(fileNum, path)
	if err != nil {
		return nil, nil, false, err
	}
	defer r.cache.Release(fileNum)

	it := reader.NewIterator()
	it.Seek(internalKey)
	if !it.Valid() {
		return nil, nil, false, it.Error()
	}
	foundKey := append([]byte(nil), it.Key()...)
	value := append([]byte(nil), it.Value()...)
	return value, foundKey, true, it.Error()
}
