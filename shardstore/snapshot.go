package shardstore

import (
	"archive/tar"
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/opendict/lexicore/entry"
	"github.com/pierrec/lz4/v4"
)

// Snapshot is a read-only, point-in-time view of the store. It reads shard
// logs only up to the sizes pinned in its manifest, so it observes exactly
// the committed state at snapshot time regardless of concurrent appends.
type Snapshot struct {
	ID       string
	dir      string
	manifest *Manifest
}

// OpenSnapshot opens a previously created snapshot by id.
func (s *Store) OpenSnapshot(id string) (*Snapshot, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	m, err := s.manifests.loadBySnapshotID(id)
	if err != nil {
		return nil, err
	}
	return &Snapshot{ID: id, dir: s.dir, manifest: m}, nil
}

// Entries returns the head version of every headword in the snapshot, with
// side-log provenance up to the pinned boundary merged in, sorted
// lexicographically by normalized headword. Two calls on the same snapshot
// always return identical sequences; this is the determinism foundation of
// the build engine.
//
// Flagged heads are included; consumers that only want distributable
// entries filter on Status.
func (sn *Snapshot) Entries() ([]*entry.Entry, error) {
	heads := make(map[string]*entry.Entry)

	for _, si := range sn.manifest.Shards {
		path := filepath.Join(sn.dir, si.Path)
		f, err := os.Open(path)
		if err != nil {
			return nil, storageErr("open", path, err)
		}

		r := bufio.NewReader(io.NewSectionReader(f, 0, si.Size))
		var off int64
		for off < si.Size {
			e, n, err := decodeRecord(r)
			if err != nil {
				f.Close()
				// Anything short of the pinned size is corruption: the
				// manifest only ever records fully written boundaries.
				return nil, storageErr("snapshot read", path, err)
			}
			off += n
			if head, ok := heads[e.Headword]; !ok || e.Version >= head.Version {
				heads[e.Headword] = e
			}
		}
		f.Close()
	}

	for _, si := range sn.manifest.Shards {
		if si.ProvPath == "" || si.ProvSize == 0 {
			continue
		}
		extra, err := readProvLog(filepath.Join(sn.dir, si.ProvPath), si.ProvSize)
		if err != nil {
			return nil, err
		}
		for hw, ps := range extra {
			if head, ok := heads[hw]; ok {
				head.Provenance = append(head.Provenance, ps...)
			}
		}
	}

	out := make([]*entry.Entry, 0, len(heads))
	for _, e := range heads {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

// readProvLog decodes provenance side-log records up to size, grouped by
// headword in log order. The pinned boundary always falls on a record
// boundary, so a short or corrupt read is an error, not a torn tail.
func readProvLog(path string, size int64) (map[string][]entry.Provenance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, storageErr("open", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(io.NewSectionReader(f, 0, size))
	out := make(map[string][]entry.Provenance)
	var off int64
	for off < size {
		var header [recordHeaderSize]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return nil, storageErr("snapshot read", path, err)
		}
		payloadLen := binary.LittleEndian.Uint32(header[0:4])
		crc := binary.LittleEndian.Uint32(header[4:8])
		if payloadLen == 0 || payloadLen > maxRecordSize {
			return nil, storageErr("snapshot read", path, fmt.Errorf("bad record length %d at %d", payloadLen, off))
		}
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, storageErr("snapshot read", path, err)
		}
		if crc32.Checksum(payload, castagnoli) != crc {
			return nil, storageErr("snapshot read", path, fmt.Errorf("checksum mismatch at %d", off))
		}
		var pr provRecord
		if err := json.Unmarshal(payload, &pr); err != nil {
			return nil, storageErr("snapshot read", path, err)
		}
		out[pr.Headword] = append(out[pr.Headword], pr.Provenance)
		off += recordHeaderSize + int64(payloadLen)
	}
	return out, nil
}

// ExportArchive streams the snapshot as an lz4-compressed tar: the manifest
// followed by each shard log and provenance side-log truncated to their
// pinned sizes. Used for offsite corpus backups; ImportArchive is
// intentionally absent — restoring is untar-into-empty-dir plus Open.
func (sn *Snapshot) ExportArchive(w io.Writer) error {
	zw := lz4.NewWriter(w)
	tw := tar.NewWriter(zw)

	manifestData, err := json.MarshalIndent(sn.manifest, "", "  ")
	if err != nil {
		return storageErr("encode", "manifest", err)
	}
	if err := writeTarFile(tw, "MANIFEST.json", manifestData); err != nil {
		return err
	}

	for _, si := range sn.manifest.Shards {
		if err := archiveFile(tw, sn.dir, si.Path, si.Size); err != nil {
			return err
		}
		if si.ProvPath == "" {
			continue
		}
		if err := archiveFile(tw, sn.dir, si.ProvPath, si.ProvSize); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return storageErr("archive", "close", err)
	}
	if err := zw.Close(); err != nil {
		return storageErr("archive", "close", err)
	}
	return nil
}

func archiveFile(tw *tar.Writer, dir, name string, size int64) error {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return storageErr("open", name, err)
	}
	defer f.Close()

	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    size,
		ModTime: time.Unix(0, 0), // fixed for reproducible archives
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return storageErr("archive", name, err)
	}
	if _, err := io.Copy(tw, io.NewSectionReader(f, 0, size)); err != nil {
		return storageErr("archive", name, err)
	}
	return nil
}

func writeTarFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Unix(0, 0),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return storageErr("archive", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return storageErr("archive", name, err)
	}
	return nil
}
