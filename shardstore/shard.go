package shardstore

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/opendict/lexicore/entry"
)

// shard is one physical partition of the store: an append-only log of entry
// versions plus a side log of best-effort provenance attachments.
//
// Supersede is implicit in the append: the record with the highest version
// for a headword is the canonical head, everything below it reads back as
// superseded. No tombstones are ever written.
type shard struct {
	id       int
	path     string
	provPath string

	mu        sync.Mutex
	f         *os.File
	provF     *os.File
	size      int64
	provSize  int64
	heads     map[string]*entry.Entry
	refs      map[string][]recordRef
	extraProv map[string][]entry.Provenance
}

type recordRef struct {
	off    int64
	length int64
}

type provRecord struct {
	Headword   string           `json:"headword"`
	Provenance entry.Provenance `json:"provenance"`
}

func shardFileName(id int) string     { return fmt.Sprintf("shard-%03d.log", id) }
func shardProvFileName(id int) string { return fmt.Sprintf("shard-%03d.prov", id) }

// openShard opens (or creates) the shard files and replays both logs to
// rebuild the in-memory head and offset maps. Torn tails are truncated so a
// partially persisted write can never shadow the prior head.
func openShard(dir string, id int) (*shard, error) {
	s := &shard{
		id:        id,
		path:      filepath.Join(dir, shardFileName(id)),
		provPath:  filepath.Join(dir, shardProvFileName(id)),
		heads:     make(map[string]*entry.Entry),
		refs:      make(map[string][]recordRef),
		extraProv: make(map[string][]entry.Provenance),
	}

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, storageErr("open", s.path, err)
	}
	s.f = f
	if err := s.replayLog(); err != nil {
		f.Close()
		return nil, err
	}

	pf, err := os.OpenFile(s.provPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		f.Close()
		return nil, storageErr("open", s.provPath, err)
	}
	s.provF = pf
	if err := s.replayProvLog(); err != nil {
		f.Close()
		pf.Close()
		return nil, err
	}

	return s, nil
}

func (s *shard) replayLog() error {
	r := bufio.NewReader(io.NewSectionReader(s.f, 0, 1<<62))
	var off int64
	for {
		e, n, err := decodeRecord(r)
		if err == io.EOF {
			break
		}
		if err == errTornRecord {
			if terr := s.f.Truncate(off); terr != nil {
				return storageErr("truncate", s.path, terr)
			}
			break
		}
		if err != nil {
			return storageErr("replay", s.path, err)
		}
		s.applyRecord(e, recordRef{off: off, length: n})
		off += n
	}
	s.size = off
	if _, err := s.f.Seek(s.size, io.SeekStart); err != nil {
		return storageErr("seek", s.path, err)
	}
	return nil
}

// applyRecord folds one log record into the in-memory state. Records arrive
// in append order, so a record only becomes the head if its version is the
// highest seen so far for its headword.
func (s *shard) applyRecord(e *entry.Entry, ref recordRef) {
	s.refs[e.Headword] = append(s.refs[e.Headword], ref)
	if head, ok := s.heads[e.Headword]; !ok || e.Version >= head.Version {
		s.heads[e.Headword] = e
	}
}

func (s *shard) replayProvLog() error {
	r := bufio.NewReader(io.NewSectionReader(s.provF, 0, 1<<62))
	var off int64
	for {
		var header [recordHeaderSize]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			break
		}
		payloadLen := binary.LittleEndian.Uint32(header[0:4])
		crc := binary.LittleEndian.Uint32(header[4:8])
		if payloadLen == 0 || payloadLen > maxRecordSize {
			break
		}
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			break
		}
		if crc32.Checksum(payload, castagnoli) != crc {
			break
		}
		var pr provRecord
		if err := json.Unmarshal(payload, &pr); err != nil {
			break
		}
		s.extraProv[pr.Headword] = append(s.extraProv[pr.Headword], pr.Provenance)
		off += recordHeaderSize + int64(payloadLen)
	}
	if err := s.provF.Truncate(off); err != nil {
		return storageErr("truncate", s.provPath, err)
	}
	s.provSize = off
	if _, err := s.provF.Seek(off, io.SeekStart); err != nil {
		return storageErr("seek", s.provPath, err)
	}
	return nil
}

// append persists e as the next version and switches the in-memory head only
// after the record is fully written and synced (copy-on-append). The caller
// holds the headword lease; the shard mutex serializes the file write.
func (s *shard) append(e *entry.Entry) error {
	buf, err := encodeRecord(e)
	if err != nil {
		return storageErr("encode", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	off := s.size
	if _, err := s.f.WriteAt(buf, off); err != nil {
		// Leave size untouched: the torn bytes sit past the committed end
		// and the next successful append overwrites them.
		return storageErr("append", s.path, err)
	}
	if err := s.f.Sync(); err != nil {
		return storageErr("sync", s.path, err)
	}

	s.size = off + int64(len(buf))
	s.applyRecord(e, recordRef{off: off, length: int64(len(buf))})
	return nil
}

// appendProvenance records an additional occurrence of an existing headword.
// Best-effort: it does not bump the entry version and failures are the
// caller's to ignore.
func (s *shard) appendProvenance(hw string, p entry.Provenance) error {
	payload, err := json.Marshal(provRecord{Headword: hw, Provenance: p})
	if err != nil {
		return storageErr("encode", s.provPath, err)
	}
	buf := make([]byte, recordHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[4:8], crc32.Checksum(payload, castagnoli))
	copy(buf[recordHeaderSize:], payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.provF.WriteAt(buf, s.provSize); err != nil {
		return storageErr("append", s.provPath, err)
	}
	s.provSize += int64(len(buf))
	s.extraProv[hw] = append(s.extraProv[hw], p)
	return nil
}

// head returns the current canonical version for hw, with any side-log
// provenance merged in, or nil if the headword has never been committed.
func (s *shard) head(hw string) *entry.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.heads[hw]
	if !ok {
		return nil
	}
	out := e.Clone()
	out.Provenance = append(out.Provenance, s.extraProv[hw]...)
	return out
}

// history returns every committed version of hw in increasing version order.
// All versions below the head read back as superseded.
func (s *shard) history(hw string) ([]*entry.Entry, error) {
	s.mu.Lock()
	refs := append([]recordRef(nil), s.refs[hw]...)
	extra := append([]entry.Provenance(nil), s.extraProv[hw]...)
	s.mu.Unlock()

	if len(refs) == 0 {
		return nil, ErrNotFound
	}

	out := make([]*entry.Entry, 0, len(refs))
	for i, ref := range refs {
		e, err := s.readAt(ref)
		if err != nil {
			return nil, err
		}
		if i < len(refs)-1 {
			e.Status = entry.StatusSuperseded
		} else {
			e.Provenance = append(e.Provenance, extra...)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *shard) readAt(ref recordRef) (*entry.Entry, error) {
	r := bufio.NewReader(io.NewSectionReader(s.f, ref.off, ref.length))
	e, _, err := decodeRecord(r)
	if err != nil {
		return nil, storageErr("read", s.path, fmt.Errorf("record at %d: %w", ref.off, err))
	}
	return e, nil
}

// committedSize returns the durable log length, the boundary a snapshot may
// safely read up to.
func (s *shard) committedSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// committedProvSize returns the fully-written provenance side-log length.
func (s *shard) committedProvSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provSize
}

func (s *shard) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if err := s.f.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.provF.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return storageErr("close", s.path, fmt.Errorf("%v", errs))
	}
	return nil
}
