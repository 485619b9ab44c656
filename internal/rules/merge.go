package rules

import "sort"

// RuleSet maps a category to its set of values.
type RuleSet map[string]map[string]struct{}

// Add inserts values under category, creating the category on first use.
func (s RuleSet) Add(category string, values ...string) {
	if len(values) == 0 {
		return
	}
	set := s[category]
	if set == nil {
		set = make(map[string]struct{}, len(values))
		s[category] = set
	}
	for _, v := range values {
		set[v] = struct{}{}
	}
}

// Len is the total number of values across all categories.
func (s RuleSet) Len() int {
	n := 0
	for _, set := range s {
		n += len(set)
	}
	return n
}

// Merger accumulates rule objects from any number of documents.
// It is not safe for concurrent use.
type Merger struct {
	set           RuleSet
	documents     int
	entriesBefore int
	skipped       int
}

// NewMerger returns an empty Merger.
func NewMerger() *Merger {
	return &Merger{set: make(RuleSet)}
}

// Add unions every rule object of doc into the merged set and returns the
// number of value contributions it made (sequence length, or 1 for a scalar).
// Empty values contribute nothing and never create a category.
func (m *Merger) Add(doc Document) int {
	m.documents++
	m.skipped += doc.Skipped

	n := 0
	for _, obj := range doc.Rules {
		n += m.AddObject(obj)
	}
	return n
}

// AddObject merges a single rule object.
func (m *Merger) AddObject(obj Object) int {
	n := 0
	for category, v := range obj {
		values := v.Values()
		if len(values) == 0 {
			continue
		}
		m.set.Add(category, values...)
		n += len(values)
	}
	m.entriesBefore += n
	return n
}

// Documents is the number of documents passed to Add.
func (m *Merger) Documents() int { return m.documents }

// EntriesBefore counts every value contribution before deduplication.
func (m *Merger) EntriesBefore() int { return m.entriesBefore }

// Skipped counts non-object rule entries seen across all documents.
func (m *Merger) Skipped() int { return m.skipped }

// Set exposes the accumulated rule set. Callers must not mutate it.
func (m *Merger) Set() RuleSet { return m.set }

// Finalize migrates domain_keyword entries and converts the merged set into
// the output document. The Merger's set is mutated by the migration, so
// Finalize is meant to be called once, at the end of a run.
func (m *Merger) Finalize() (Final, KeywordStats) {
	st := MigrateKeywords(m.set)
	return Build(m.set), st
}

// FormatVersion is the rule-set source format version written to the output.
const FormatVersion = 3

// Final is the merged output document:
//
//	{"version": 3, "rules": [{"domain": [...], "ip_cidr": [...]}]}
type Final struct {
	Version int                   `json:"version"`
	Rules   []map[string][]string `json:"rules"`
}

// Build converts a rule set into a Final document. Categories without values
// are dropped and every category's values are sorted in byte order.
func Build(set RuleSet) Final {
	merged := make(map[string][]string, len(set))
	for category, values := range set {
		if len(values) == 0 {
			continue
		}
		sorted := make([]string, 0, len(values))
		for v := range values {
			sorted = append(sorted, v)
		}
		sort.Strings(sorted)
		merged[category] = sorted
	}
	return Final{
		Version: FormatVersion,
		Rules:   []map[string][]string{merged},
	}
}

// Entries is the total number of values in the document.
func (f Final) Entries() int {
	n := 0
	for _, obj := range f.Rules {
		for _, values := range obj {
			n += len(values)
		}
	}
	return n
}

// Categories lists the categories of the document in sorted order.
func (f Final) Categories() []string {
	var out []string
	for _, obj := range f.Rules {
		for c := range obj {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}
