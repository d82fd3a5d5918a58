// Package search evaluates structured directory queries against an
// in-memory roster, entirely offline.
//
// Name terms are matched approximately: a ranked subsequence match supplies
// relevance ordering, and a token-level edit-distance pass catches the
// misspellings subsequence matching cannot ("aksah" for "Aakash"). Roll
// numbers match by substring and email usernames by prefix, since users
// type all three into the same box. Everything else is an AND-combined
// exact/categorical filter.
package search

import (
	"sort"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/sahilm/fuzzy"

	"github.com/yatin-bhojwani/compass/internal/directory"
)

// defaultEditThreshold is the maximum normalized edit distance (distance
// divided by the longer string's length) for a name token to count as a
// match. Tuned to tolerate a dropped letter or a transposition in a short
// name: a transposition costs two plain edits, so five-letter names need
// 2/5 to pass.
const defaultEditThreshold = 0.4

// Evaluator narrows a roster using a structured query.
type Evaluator struct {
	batch         directory.BatchRule
	editThreshold float64
}

// NewEvaluator creates an Evaluator using the given batch-derivation rule.
func NewEvaluator(rule directory.BatchRule) *Evaluator {
	return &Evaluator{batch: rule, editThreshold: defaultEditThreshold}
}

// nameSource adapts a roster to the fuzzy matcher, matching lowercased names.
type nameSource []directory.StudentRecord

func (s nameSource) String(i int) string { return strings.ToLower(s[i].Name) }
func (s nameSource) Len() int            { return len(s) }

// Evaluate returns the records matching the query.
//
// An entirely empty query matches nothing: the empty result is a guard
// against dumping the whole roster, not a missing default.
//
// When a name term is present the result keeps the fuzzy matcher's
// relevance order; otherwise the result is sorted by roll number, numeric
// when both rolls parse as numbers.
func (e *Evaluator) Evaluate(q directory.Query, roster []directory.StudentRecord) []directory.StudentRecord {
	if q.IsEmpty() {
		return []directory.StudentRecord{}
	}

	candidates := roster
	if q.Name != "" {
		candidates = e.matchName(q.Name, roster)
	}

	result := make([]directory.StudentRecord, 0, len(candidates))
	for _, st := range candidates {
		if e.matchesFilters(q, st) {
			result = append(result, st)
		}
	}

	if q.Name == "" {
		sort.SliceStable(result, func(i, j int) bool {
			return rollLess(result[i].RollNo, result[j].RollNo)
		})
	}
	return result
}

// matchName unions three match sets, de-duplicating by UserID:
// fuzzy-ranked name matches first (relevance order), then edit-distance
// name matches, then roll-substring and username-prefix matches in roster
// order.
func (e *Evaluator) matchName(term string, roster []directory.StudentRecord) []directory.StudentRecord {
	needle := strings.ToLower(term)

	seen := make(map[string]bool, len(roster))
	var matched []directory.StudentRecord
	add := func(st directory.StudentRecord) {
		if !seen[st.UserID] {
			seen[st.UserID] = true
			matched = append(matched, st)
		}
	}

	for _, m := range fuzzy.FindFrom(needle, nameSource(roster)) {
		add(roster[m.Index])
	}

	for _, st := range roster {
		if seen[st.UserID] {
			continue
		}
		if e.nameWithinEditDistance(needle, st.Name) {
			add(st)
		}
	}

	for _, st := range roster {
		if strings.Contains(strings.ToLower(st.RollNo), needle) ||
			strings.HasPrefix(strings.ToLower(st.Username()), needle) {
			add(st)
		}
	}
	return matched
}

// nameWithinEditDistance reports whether any token of the name is within
// the edit threshold of the search term.
func (e *Evaluator) nameWithinEditDistance(needle, name string) bool {
	for _, token := range strings.Fields(strings.ToLower(name)) {
		longer := len(token)
		if len(needle) > longer {
			longer = len(needle)
		}
		if longer == 0 {
			continue
		}
		dist := levenshtein.ComputeDistance(needle, token)
		if float64(dist)/float64(longer) <= e.editThreshold {
			return true
		}
	}
	return false
}

// matchesFilters applies every non-name clause as an AND-combined filter.
// Each explicit clause either passes the record on or discards it; a record
// surviving every clause matches.
func (e *Evaluator) matchesFilters(q directory.Query, st directory.StudentRecord) bool {
	if q.Gender != "" && !strings.EqualFold(q.Gender, st.Gender) {
		return false
	}
	if len(q.Batch) > 0 && !contains(q.Batch, e.batch.Label(st.RollNo)) {
		return false
	}
	if len(q.Hall) > 0 && !contains(q.Hall, st.Hall) {
		return false
	}
	if len(q.Course) > 0 && !contains(q.Course, st.Course) {
		return false
	}
	if len(q.Dept) > 0 && !contains(q.Dept, st.Dept) {
		return false
	}
	if q.HomeTown != "" &&
		!strings.Contains(strings.ToLower(st.HomeTown), strings.ToLower(q.HomeTown)) {
		return false
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// rollLess orders roll numbers numerically when both parse as integers and
// lexicographically when neither does. Mixed pairs sort numeric rolls first;
// comparing the mixed pair lexicographically instead would make the order
// intransitive ("10" < "5a" < "9" < "10").
func rollLess(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
