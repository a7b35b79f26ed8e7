package trace

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"sentra-fuzz/internal/ferrors"
	"sentra-fuzz/internal/flog"
)

// headerSize reserves room for the region's capacity and write-cursor
// fields, both updated under the region's flock.
const headerSize = 16 // capacity uint64 + writeOffset uint64

// entryHeaderSize prefixes each appended record with the testcase id
// it belongs to.
const entryHeaderSize = 8 + wireSize

// Region is the shared, name-keyed, memory-mapped trace transport of
// spec section 4.3. One process creates it; every instrumented target
// process and the fuzzer's drainer attach to the same backing file.
type Region struct {
	path     string
	lockPath string
	baseSize int

	mu   sync.Mutex // process-local guard; cross-process exclusion is the flock below
	file *os.File
	data []byte
}

var log = flog.New("trace")

// Open attaches to (creating if absent) the shared region named by
// workspace, sized to at least baseSize bytes.
func Open(workspace string, baseSize int) (*Region, error) {
	path := filepath.Join(workspace, "trace.region")
	lockPath := path + ".lock"

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, ferrors.New(ferrors.TransientIO, "trace", path, "open region file", err)
	}

	r := &Region{path: path, lockPath: lockPath, baseSize: baseSize, file: f}

	if err := r.withLock(func() error {
		info, err := f.Stat()
		if err != nil {
			return err
		}
		if info.Size() < int64(headerSize+baseSize) {
			if err := f.Truncate(int64(headerSize + baseSize)); err != nil {
				return err
			}
			if err := r.mmapLocked(); err != nil {
				return err
			}
			binary.LittleEndian.PutUint64(r.data[0:8], uint64(baseSize))
			binary.LittleEndian.PutUint64(r.data[8:16], 0)
			return nil
		}
		return r.mmapLocked()
	}); err != nil {
		f.Close()
		return nil, ferrors.New(ferrors.TransientIO, "trace", path, "attach region", err)
	}
	return r, nil
}

func (r *Region) mmapLocked() error {
	info, err := r.file.Stat()
	if err != nil {
		return err
	}
	data, err := unix.Mmap(int(r.file.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	r.data = data
	return nil
}

func (r *Region) withLock(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lf, err := os.OpenFile(r.lockPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer lf.Close()
	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX); err != nil {
		return err
	}
	defer unix.Flock(int(lf.Fd()), unix.LOCK_UN)

	return fn()
}

func (r *Region) capacity() uint64   { return binary.LittleEndian.Uint64(r.data[0:8]) }
func (r *Region) writeOffset() uint64 { return binary.LittleEndian.Uint64(r.data[8:16]) }

// Append writes records for testcase id tcID into the region, growing
// it first if free space has fallen below 25% (spec 4.3: "Growth").
func (r *Region) Append(tcID uint64, records []Record) error {
	return r.withLock(func() error {
		needed := uint64(len(records) * entryHeaderSize)
		if r.writeOffset()+needed > r.capacity()*3/4 {
			if err := r.growLocked(); err != nil {
				return err
			}
		}
		for r.writeOffset()+needed > r.capacity() {
			if err := r.growLocked(); err != nil {
				return err
			}
		}

		off := headerSize + r.writeOffset()
		for _, rec := range records {
			binary.LittleEndian.PutUint64(r.data[off:off+8], tcID)
			wire := rec.Encode()
			copy(r.data[off+8:off+entryHeaderSize], wire[:])
			off += entryHeaderSize
		}
		binary.LittleEndian.PutUint64(r.data[8:16], r.writeOffset()+needed)
		return nil
	})
}

func (r *Region) growLocked() error {
	oldCap := r.capacity()
	newCap := oldCap + uint64(r.baseSize)

	if err := unix.Munmap(r.data); err != nil {
		return err
	}
	if err := r.file.Truncate(int64(headerSize + newCap)); err != nil {
		return err
	}
	if err := r.mmapLocked(); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(r.data[0:8], newCap)
	log.Printf("grew trace region %s to %s", r.path, flog.Bytes(newCap))
	return nil
}

// ReadFrom returns every (testcaseID, Record) entry appended at or
// after byte offset `from`, plus the new cursor to resume from.
func (r *Region) ReadFrom(from uint64) (entries []Entry, next uint64, err error) {
	err = r.withLock(func() error {
		end := r.writeOffset()
		off := headerSize + from
		for off+entryHeaderSize <= headerSize+end {
			tcID := binary.LittleEndian.Uint64(r.data[off : off+8])
			var wire [wireSize]byte
			copy(wire[:], r.data[off+8:off+entryHeaderSize])
			entries = append(entries, Entry{TestcaseID: tcID, Record: Decode(wire)})
			off += entryHeaderSize
		}
		next = end
		return nil
	})
	return entries, next, err
}

// Entry pairs a decoded Record with the testcase id it was appended
// under.
type Entry struct {
	TestcaseID uint64
	Record     Record
}

// Close detaches from the region without deleting the backing file
// (other processes may still hold it).
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data != nil {
		unix.Munmap(r.data)
	}
	return r.file.Close()
}
