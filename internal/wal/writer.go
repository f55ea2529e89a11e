// writer.go implements WAL log file writing: an append-only stream that
// fragments records across block boundaries.
package wal

import (
	"io"

	"github.com/ridgekv/ridgekv/internal/checksum"
	"github.com/ridgekv/ridgekv/internal/encoding"
)

// Writer writes records to a WAL file, fragmenting records that don't fit
// in the remainder of the current block.
type Writer struct {
	dest        io.Writer
	blockOffset int // offset within the current block

	// typeCRC holds the precomputed CRC32C of each single-byte record
	// type, since every header starts the checksum over that byte.
	typeCRC [MaxRecordType + 1]uint32

	headerBuf [HeaderSize]byte
}

// NewWriter creates a new WAL writer that appends to dest.
func NewWriter(dest io.Writer) *Writer {
	w := &Writer{dest: dest}

	for i := 0; i <= int(MaxRecordType); i++ {
		w.typeCRC[i] = checksum.Value([]byte{byte(i)})
	}

	return w
}

// AddRecord writes a complete logical record to the log, splitting it into
// multiple physical records if it doesn't fit in the current block.
// Returns the number of bytes written, including headers.
func (w *Writer) AddRecord(data []byte) (int, error) {
	ptr := data
	left := len(data)
	totalWritten := 0
	begin := true

	// Even an empty record emits a single zero-length physical record.
	for {
		leftover := BlockSize - w.blockOffset

		if leftover < HeaderSize {
			if leftover > 0 {
				padding := make([]byte, leftover)
				n, err := w.dest.Write(padding)
				if err != nil {
					return totalWritten + n, err
				}
				totalWritten += n
			}
			w.blockOffset = 0
		}

		avail := BlockSize - w.blockOffset - HeaderSize
		fragmentLength := min(left, avail)

		end := left == fragmentLength
		var recordType RecordType
		switch {
		case begin && end:
			recordType = FullType
		case begin:
			recordType = FirstType
		case end:
			recordType = LastType
		default:
			recordType = MiddleType
		}

		n, err := w.emitPhysicalRecord(recordType, ptr[:fragmentLength])
		totalWritten += n
		if err != nil {
			return totalWritten, err
		}

		ptr = ptr[fragmentLength:]
		left -= fragmentLength
		begin = false

		if left == 0 {
			break
		}
	}

	return totalWritten, nil
}

// emitPhysicalRecord writes a single physical record and returns the
// number of bytes written.
func (w *Writer) emitPhysicalRecord(t RecordType, payload []byte) (int, error) {
	n := len(payload)
	if n > 0xFFFF {
		panic("wal: record payload too large") //nolint:forbidigo // precondition violation, not a runtime error
	}

	w.headerBuf[4] = byte(n & 0xFF)
	w.headerBuf[5] = byte(n >> 8)
	w.headerBuf[6] = byte(t)

	crc := w.typeCRC[t]
	crc = checksum.Extend(crc, payload)
	crc = checksum.Mask(crc)
	encoding.EncodeFixed32(w.headerBuf[:], crc)

	totalWritten := 0
	written, err := w.dest.Write(w.headerBuf[:HeaderSize])
	totalWritten += written
	if err != nil {
		return totalWritten, err
	}

	written, err = w.dest.Write(payload)
	totalWritten += written
	if err != nil {
		return totalWritten, err
	}

	w.blockOffset += HeaderSize + n
	return totalWritten, nil
}

// BlockOffset returns the current offset within the current block.
func (w *Writer) BlockOffset() int {
	return w.blockOffset
}

// Sync flushes the underlying writer if it supports it.
func (w *Writer) Sync() error {
	if syncer, ok := w.dest.(interface{ Sync() error }); ok {
		return syncer.Sync()
	}
	return nil
}
