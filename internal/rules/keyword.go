package rules

import "strings"

// Category names with special handling.
const (
	CategoryDomainKeyword = "domain_keyword"
	CategoryDomainSuffix  = "domain_suffix"
)

// keywordNoise marks a keyword as a real substring or wildcard pattern
// rather than a literal domain suffix.
var keywordNoise = []string{"*", "/", " ", "_", ".."}

// DomainFromKeyword reports whether a domain_keyword entry can be used as a
// domain_suffix, and returns the suffix. A single leading '-' is dropped; the
// rest must contain a '.', must not contain any of * / space _ or "..", and
// must not start or end with '.'.
func DomainFromKeyword(s string) (string, bool) {
	s = strings.TrimPrefix(s, "-")

	if !strings.Contains(s, ".") {
		return "", false
	}
	for _, bad := range keywordNoise {
		if strings.Contains(s, bad) {
			return "", false
		}
	}
	if strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") {
		return "", false
	}
	return s, true
}

// KeywordStats reports what MigrateKeywords did.
type KeywordStats struct {
	// Processed is false when there was no domain_keyword entry at all.
	Processed bool
	Migrated  int
	Ignored   int
}

// MigrateKeywords moves usable domain_keyword entries into domain_suffix and
// removes the domain_keyword category. It does nothing when domain_keyword is
// absent or empty.
func MigrateKeywords(set RuleSet) KeywordStats {
	keywords := set[CategoryDomainKeyword]
	if len(keywords) == 0 {
		return KeywordStats{}
	}

	suffixes := set[CategoryDomainSuffix]
	if suffixes == nil {
		suffixes = make(map[string]struct{})
		set[CategoryDomainSuffix] = suffixes
	}

	st := KeywordStats{Processed: true}
	for kw := range keywords {
		domain, ok := DomainFromKeyword(kw)
		if !ok {
			continue
		}
		suffixes[domain] = struct{}{}
		st.Migrated++
	}
	st.Ignored = len(keywords) - st.Migrated

	delete(set, CategoryDomainKeyword)
	return st
}
