// Package markfile implements the durable candidateTermId slot a member
// must persist before accepting a leader or granting a vote (spec
// invariant I3). The on-disk format mirrors the teacher's write-ahead
// log: a single CRC32-checksummed, length-prefixed record that is
// rewritten in place and fsync'd before Write returns.
package markfile

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

const headerSize = 8 // 4 bytes CRC + 4 bytes length

const fileName = "election-mark.dat"

type record struct {
	CandidateTermID int64
	Present         bool
}

// File is a durable, single-value store for the candidate term id.
type File struct {
	mu   sync.Mutex
	path string
	file *os.File
	rec  record
}

// Open opens (creating if necessary) the mark-file rooted at dir.
func Open(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "markfile: create directory")
	}
	path := filepath.Join(dir, fileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "markfile: open")
	}
	mf := &File{path: path, file: f}
	if err := mf.load(); err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, errors.Wrap(err, "markfile: load")
	}
	return mf, nil
}

func (f *File) load() error {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(f.file, header); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		return err
	}
	crc := binary.LittleEndian.Uint32(header[:4])
	length := binary.LittleEndian.Uint32(header[4:8])

	data := make([]byte, length)
	if _, err := io.ReadFull(f.file, data); err != nil {
		return err
	}
	if crc32.ChecksumIEEE(data) != crc {
		return errors.New("markfile: checksum mismatch")
	}
	var rec record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return errors.Wrap(err, "markfile: decode")
	}
	f.rec = rec
	return nil
}

// Read returns the persisted candidateTermId and whether one has ever
// been written. A fresh member (present == false) has nothing to
// restore on the INIT→CANVASS path (spec §4.5).
func (f *File) Read() (candidateTermID int64, present bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec.CandidateTermID, f.rec.Present, nil
}

// Write persists candidateTermId, happens-before any action that depends
// on it per invariant I3.
func (f *File) Write(candidateTermID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rec = record{CandidateTermID: candidateTermID, Present: true}
	return f.persist()
}

// Clear removes the persisted candidacy, called on leader transition
// (spec §4.5 LEADER_TRANSITION: "clear mark-file's candidateTermId").
func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rec = record{}
	return f.persist()
}

func (f *File) persist() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f.rec); err != nil {
		return errors.Wrap(err, "markfile: encode")
	}
	data := buf.Bytes()
	crc := crc32.ChecksumIEEE(data)

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[:4], crc)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))

	if _, err := f.file.Seek(0, 0); err != nil {
		return errors.Wrap(err, "markfile: seek")
	}
	if err := f.file.Truncate(0); err != nil {
		return errors.Wrap(err, "markfile: truncate")
	}
	if _, err := f.file.Write(header); err != nil {
		return errors.Wrap(err, "markfile: write header")
	}
	if _, err := f.file.Write(data); err != nil {
		return errors.Wrap(err, "markfile: write data")
	}
	return f.file.Sync()
}

// Close releases the underlying file handle.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}
