// Package entry defines the canonical dictionary record and its draft form.
package entry

import (
	"time"
)

// Kind tags an entry as a single word or a multi-word phrase.
type Kind string

const (
	KindWord   Kind = "word"
	KindPhrase Kind = "phrase"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindWord || k == KindPhrase
}

// Status is the lifecycle state of one entry version.
//
// For a given headword exactly one version is StatusActive at any time.
// Prior versions are retained as StatusSuperseded for audit and rollback.
type Status string

const (
	StatusActive     Status = "active"
	StatusSuperseded Status = "superseded"
	StatusFlagged    Status = "flagged"
)

// Sense is one meaning of a headword.
type Sense struct {
	Definition   string   `json:"definition"`
	PartOfSpeech string   `json:"part_of_speech,omitempty"`
	Translation  string   `json:"translation,omitempty"`
	Example      string   `json:"example,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

// Provenance records one generation event that contributed to an entry.
type Provenance struct {
	SourceID     string    `json:"source_id"`
	URL          string    `json:"url,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
	ModelVersion string    `json:"model_version,omitempty"`
}

// Entry is a versioned, structured dictionary record for one headword.
// Entries are immutable once written; a correction produces the next version.
type Entry struct {
	Headword     string       `json:"headword"`
	SurfaceForms []string     `json:"surface_forms,omitempty"`
	Kind         Kind         `json:"kind"`
	Senses       []Sense      `json:"senses"`
	Provenance   []Provenance `json:"provenance,omitempty"`
	Version      int          `json:"version"`
	Status       Status       `json:"status"`
	CommittedAt  time.Time    `json:"committed_at"`
}

// Draft is a generated entry that has not been committed yet. The shard store
// assigns Version, Status and CommittedAt at append time.
type Draft struct {
	Headword     string       `json:"headword"`
	SurfaceForms []string     `json:"surface_forms,omitempty"`
	Kind         Kind         `json:"kind"`
	Senses       []Sense      `json:"senses"`
	Provenance   []Provenance `json:"provenance,omitempty"`
}

// Clone returns a deep copy of e. Stored entries are handed out by pointer;
// callers that want to mutate must copy first.
func (e *Entry) Clone() *Entry {
	c := *e
	c.SurfaceForms = append([]string(nil), e.SurfaceForms...)
	c.Senses = make([]Sense, len(e.Senses))
	for i, s := range e.Senses {
		c.Senses[i] = s
		c.Senses[i].Tags = append([]string(nil), s.Tags...)
	}
	c.Provenance = append([]Provenance(nil), e.Provenance...)
	return &c
}
