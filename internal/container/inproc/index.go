package inproc

import (
	"encoding/binary"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// entryWidth is the fixed on-disk size of one index entry: ASN, file
// offset of the record's metadata block, metadata length, and extent
// length.
const entryWidth = 8 + 8 + 4 + 4

type indexEntry struct {
	ASN    int64
	Offset int64
	MDLen  uint32
	ExtLen uint32
}

func (e indexEntry) marshal() []byte {
	buf := make([]byte, entryWidth)
	binary.LittleEndian.PutUint64(buf[0:], uint64(e.ASN))
	binary.LittleEndian.PutUint64(buf[8:], uint64(e.Offset))
	binary.LittleEndian.PutUint32(buf[16:], e.MDLen)
	binary.LittleEndian.PutUint32(buf[20:], e.ExtLen)
	return buf
}

func unmarshalIndexEntry(buf []byte) indexEntry {
	return indexEntry{
		ASN:    int64(binary.LittleEndian.Uint64(buf[0:])),
		Offset: int64(binary.LittleEndian.Uint64(buf[8:])),
		MDLen:  binary.LittleEndian.Uint32(buf[16:]),
		ExtLen: binary.LittleEndian.Uint32(buf[20:]),
	}
}

// index is an append-only, fully in-memory-mirrored record index for one
// stream. It is intentionally simple: a logical log's record count is
// bounded by its configured size, so keeping the whole index resident is
// cheap relative to the data it indexes.
type index struct {
	mu      sync.RWMutex
	file    *os.File
	path    string
	entries []indexEntry
}

func openIndex(path string) (*index, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, errors.Wrap(err, "inproc: open index failed")
	}
	idx := &index{file: f, path: path}
	if err := idx.load(); err != nil {
		f.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *index) load() error {
	info, err := idx.file.Stat()
	if err != nil {
		return errors.Wrap(err, "inproc: stat index failed")
	}
	n := int(info.Size() / entryWidth)
	buf := make([]byte, info.Size())
	if _, err := idx.file.ReadAt(buf, 0); err != nil && n > 0 {
		return errors.Wrap(err, "inproc: read index failed")
	}
	idx.entries = make([]indexEntry, 0, n)
	for i := 0; i < n; i++ {
		idx.entries = append(idx.entries, unmarshalIndexEntry(buf[i*entryWidth:]))
	}
	return nil
}

func (idx *index) append(e indexEntry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, err := idx.file.Write(e.marshal()); err != nil {
		return errors.Wrap(err, "inproc: append index entry failed")
	}
	idx.entries = append(idx.entries, e)
	return nil
}

// findFrom returns the first entry whose ASN is >= asn, and its position in
// the entries slice.
func (idx *index) findFrom(asn int64) (indexEntry, int, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n := len(idx.entries)
	i := sort.Search(n, func(i int) bool { return idx.entries[i].ASN >= asn })
	if i == n {
		return indexEntry{}, i, false
	}
	return idx.entries[i], i, true
}

// findContaining returns the entry whose [ASN, ASN+MDLen+ExtLen-overhead)
// range contains asn -- in practice the last entry with ASN <= asn.
func (idx *index) findContaining(asn int64) (indexEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n := len(idx.entries)
	i := sort.Search(n, func(i int) bool { return idx.entries[i].ASN > asn })
	if i == 0 {
		return indexEntry{}, false
	}
	return idx.entries[i-1], true
}

func (idx *index) at(pos int) (indexEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if pos < 0 || pos >= len(idx.entries) {
		return indexEntry{}, false
	}
	return idx.entries[pos], true
}

func (idx *index) len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

func (idx *index) last() (indexEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.entries) == 0 {
		return indexEntry{}, false
	}
	return idx.entries[len(idx.entries)-1], true
}

// truncateFrom drops every entry with ASN >= asn and rewrites the index
// file to match.
func (idx *index) truncateFrom(asn int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	n := len(idx.entries)
	i := sort.Search(n, func(i int) bool { return idx.entries[i].ASN >= asn })
	idx.entries = idx.entries[:i]
	if err := idx.file.Truncate(int64(i) * entryWidth); err != nil {
		return errors.Wrap(err, "inproc: truncate index failed")
	}
	_, err := idx.file.Seek(int64(i)*entryWidth, 0)
	return err
}

func (idx *index) close() error {
	return idx.file.Close()
}

func (idx *index) name() string { return idx.path }
