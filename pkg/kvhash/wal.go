package kvhash

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/finnpan/dbm-sub001/pkg/fs"
)

// WAL op-codes, per §6: "Sequence of entries: (1-byte op-code, 4-byte
// length, payload)."
const (
	walOpSet    byte = 1 // payload: 8-byte offset, then prev-bytes
	walOpResize byte = 2 // payload: 8-byte prev-size
)

// wal is the write-ahead log backing §4.1.5's transaction support. Entries
// are appended in the order operations occur; tranAbort replays them
// back-to-front, restoring the bytes/size each entry describes.
type wal struct {
	fsys FS
	path string
	file fs.File

	// offsets of each entry's start, in append order. Abort does not use
	// them: it re-parses the log forward with readAll.
	entryOffsets []int64
}

// FS is the minimal filesystem surface kvhash needs; satisfied by
// [github.com/finnpan/dbm-sub001/pkg/fs.FS] and by
// [github.com/finnpan/dbm-sub001/pkg/fs.CrashFS] in tests.
type FS = fs.FS

func openWAL(fsys FS, path string) (*wal, error) {
	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: open wal: %v", ErrOpen, err)
	}

	return &wal{fsys: fsys, path: path, file: f}, nil
}

func (w *wal) empty() (bool, error) {
	info, err := w.file.Stat()
	if err != nil {
		return false, fmt.Errorf("%w: stat wal: %v", ErrStat, err)
	}

	return info.Size() == 0, nil
}

// recordSet logs the bytes currently at offset (before they are overwritten)
// so tranAbort can restore them.
func (w *wal) recordSet(offset uint64, prevBytes []byte) error {
	payload := make([]byte, 8+len(prevBytes))
	binary.LittleEndian.PutUint64(payload, offset)
	copy(payload[8:], prevBytes)

	return w.appendEntry(walOpSet, payload)
}

// recordResize logs the file size before a truncate/grow so tranAbort can
// restore it.
func (w *wal) recordResize(prevSize uint64) error {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, prevSize)

	return w.appendEntry(walOpResize, payload)
}

func (w *wal) appendEntry(op byte, payload []byte) error {
	info, err := w.file.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat wal: %v", ErrStat, err)
	}

	start := info.Size()

	buf := make([]byte, 5+len(payload))
	buf[0] = op
	binary.LittleEndian.PutUint32(buf[1:], uint32(len(payload)))
	copy(buf[5:], payload)

	if _, err := w.file.Seek(start, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek wal: %v", ErrSeek, err)
	}

	if _, err := w.file.Write(buf); err != nil {
		return fmt.Errorf("%w: write wal entry: %v", ErrWrite, err)
	}

	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync wal: %v", ErrSync, err)
	}

	w.entryOffsets = append(w.entryOffsets, start)

	return nil
}

// commit discards the log: the main file already reflects the committed
// state, so the WAL's job is done. Per §5, commit is "flush main file ->
// fsync -> truncate log"; the main-file flush/fsync happens in the caller
// (Store.TranCommit) before this is invoked.
func (w *wal) commit() error {
	return w.truncate()
}

func (w *wal) truncate() error {
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("%w: truncate wal: %v", ErrTrunc, err)
	}

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek wal: %v", ErrSeek, err)
	}

	w.entryOffsets = nil

	return nil
}

func (w *wal) close() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("%w: close wal: %v", ErrClose, err)
	}

	return nil
}

// walEntry is one parsed, in-order WAL record.
type walEntry struct {
	Op      byte
	Payload []byte
}

// readAll parses every entry in the log in append order. Used both by abort
// (which then walks the result backwards) and by open-time recovery.
func (w *wal) readAll() ([]walEntry, error) {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: seek wal: %v", ErrSeek, err)
	}

	var entries []walEntry

	hdr := make([]byte, 5)

	for {
		_, err := io.ReadFull(w.file, hdr)
		if err == io.EOF {
			break
		}

		if err != nil {
			if err == io.ErrUnexpectedEOF {
				// Torn write at the tail (crash mid-append): treat everything
				// read so far as the durable log and ignore the partial tail.
				break
			}

			return nil, fmt.Errorf("%w: read wal header: %v", ErrRead, err)
		}

		op := hdr[0]
		length := binary.LittleEndian.Uint32(hdr[1:])

		payload := make([]byte, length)

		if _, err := io.ReadFull(w.file, payload); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}

			return nil, fmt.Errorf("%w: read wal payload: %v", ErrRead, err)
		}

		entries = append(entries, walEntry{Op: op, Payload: payload})
	}

	return entries, nil
}
