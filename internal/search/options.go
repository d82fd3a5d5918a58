package search

import (
	"sort"

	"github.com/yatin-bhojwani/compass/internal/directory"
)

// BuildOptions derives the distinct filter vocabularies from a roster in a
// single pass. Each dimension is sorted lexicographically.
//
// The vocabulary is always rebuilt from scratch after a roster change.
// Rebuilding is cheap at roster scale, and never goes stale the way an
// incrementally patched vocabulary can.
func BuildOptions(rule directory.BatchRule, roster []directory.StudentRecord) directory.Options {
	batches := make(map[string]bool)
	halls := make(map[string]bool)
	courses := make(map[string]bool)
	depts := make(map[string]bool)

	for i := range roster {
		st := &roster[i]
		batches[rule.Label(st.RollNo)] = true
		if st.Hall != "" {
			halls[st.Hall] = true
		}
		if st.Course != "" {
			courses[st.Course] = true
		}
		if st.Dept != "" {
			depts[st.Dept] = true
		}
	}

	return directory.Options{
		Batch:  sortedKeys(batches),
		Hall:   sortedKeys(halls),
		Course: sortedKeys(courses),
		Dept:   sortedKeys(depts),
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
