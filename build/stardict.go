package build

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ianlewis/go-dictzip"
	"github.com/opendict/lexicore/entry"
)

const ifoMagic = "StarDict's dict ifo file"

// writeStarDict materializes entries as a StarDict dictionary package in dir:
// name.ifo, name.idx, name.syn and name.dict.dz. Entries must already be in
// the canonical lexicographic order, which satisfies StarDict's sorted-index
// requirement for case-folded headwords.
//
// The dict body holds one HTML fragment per entry (sametypesequence=h); the
// idx records 32-bit big-endian offset and size pairs. Surface forms become
// syn records pointing at their entry's idx position.
func writeStarDict(dir, name, bookname string, entries []*entry.Entry) error {
	var dict []byte
	type idxWord struct {
		word   string
		offset uint32
		size   uint32
	}
	idxWords := make([]idxWord, 0, len(entries))

	type synWord struct {
		word  string
		index uint32
	}
	var synWords []synWord

	for i, e := range entries {
		body := []byte(RenderHTML(e))
		idxWords = append(idxWords, idxWord{
			word:   e.Headword,
			offset: uint32(len(dict)),
			size:   uint32(len(body)),
		})
		dict = append(dict, body...)

		for _, sf := range e.SurfaceForms {
			synWords = append(synWords, synWord{word: sf, index: uint32(i)})
		}
	}

	var idx []byte
	for _, w := range idxWords {
		idx = append(idx, w.word...)
		idx = append(idx, 0)
		idx = binary.BigEndian.AppendUint32(idx, w.offset)
		idx = binary.BigEndian.AppendUint32(idx, w.size)
	}

	sort.Slice(synWords, func(i, j int) bool {
		if synWords[i].word != synWords[j].word {
			return synWords[i].word < synWords[j].word
		}
		return synWords[i].index < synWords[j].index
	})
	var syn []byte
	for _, w := range synWords {
		syn = append(syn, w.word...)
		syn = append(syn, 0)
		syn = binary.BigEndian.AppendUint32(syn, w.index)
	}

	var ifo strings.Builder
	fmt.Fprintf(&ifo, "%s\n", ifoMagic)
	fmt.Fprintf(&ifo, "version=3.0.0\n")
	fmt.Fprintf(&ifo, "bookname=%s\n", bookname)
	fmt.Fprintf(&ifo, "wordcount=%d\n", len(idxWords))
	if len(synWords) > 0 {
		fmt.Fprintf(&ifo, "synwordcount=%d\n", len(synWords))
	}
	fmt.Fprintf(&ifo, "idxfilesize=%d\n", len(idx))
	fmt.Fprintf(&ifo, "sametypesequence=h\n")

	if err := os.WriteFile(filepath.Join(dir, name+".ifo"), []byte(ifo.String()), 0o644); err != nil {
		return fmt.Errorf("write ifo: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".idx"), idx, 0o644); err != nil {
		return fmt.Errorf("write idx: %w", err)
	}
	if len(syn) > 0 {
		if err := os.WriteFile(filepath.Join(dir, name+".syn"), syn, 0o644); err != nil {
			return fmt.Errorf("write syn: %w", err)
		}
	}
	return writeDictzip(filepath.Join(dir, name+".dict.dz"), dict)
}

func writeDictzip(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dict: %w", err)
	}
	z, err := dictzip.NewWriter(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("dictzip writer: %w", err)
	}
	if _, err := z.Write(data); err != nil {
		z.Close()
		f.Close()
		return fmt.Errorf("dictzip write: %w", err)
	}
	if err := z.Close(); err != nil {
		f.Close()
		return fmt.Errorf("dictzip close: %w", err)
	}
	return f.Close()
}
