package entry

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestCloneIsDeep(t *testing.T) {
	orig := &Entry{
		Headword:     "run",
		SurfaceForms: []string{"ran", "running"},
		Kind:         KindWord,
		Senses: []Sense{
			{Definition: "to move fast", Tags: []string{"motion"}},
			{Definition: "to operate", PartOfSpeech: "verb"},
		},
		Provenance:  []Provenance{{SourceID: "crawl-1"}},
		Version:     3,
		Status:      StatusActive,
		CommittedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	clone := orig.Clone()
	if diff := cmp.Diff(orig, clone); diff != "" {
		t.Fatalf("unexpected clone (-want +got):\n%s", diff)
	}

	// Mutating the clone must not leak into the original.
	clone.SurfaceForms[0] = "mutated"
	clone.Senses[0].Definition = "mutated"
	clone.Senses[0].Tags[0] = "mutated"
	clone.Provenance[0].SourceID = "mutated"

	if orig.SurfaceForms[0] != "ran" {
		t.Errorf("surface forms shared with clone")
	}
	if orig.Senses[0].Definition != "to move fast" {
		t.Errorf("senses shared with clone")
	}
	if orig.Senses[0].Tags[0] != "motion" {
		t.Errorf("sense tags shared with clone")
	}
	if orig.Provenance[0].SourceID != "crawl-1" {
		t.Errorf("provenance shared with clone")
	}
}

func TestKindValid(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected bool
	}{
		{KindWord, true},
		{KindPhrase, true},
		{Kind(""), false},
		{Kind("idiom"), false},
	}
	for _, test := range tests {
		if got := test.kind.Valid(); got != test.expected {
			t.Errorf("Kind(%q).Valid() = %v, want %v", test.kind, got, test.expected)
		}
	}
}
