// Package directory provides the data structures for the campus student
// directory: student records, changelog deltas, search queries, and the
// batch/family-tree derivation rules shared by the store, the reconciler,
// and the query engine.
package directory

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NotAvailable is the sentinel the remote collaborator uses for absent
// guardian/dependent references. A record carrying it must never be treated
// as a dangling link.
const NotAvailable = "Not Available"

// StudentRecord is one enrolled student as served by the remote directory.
// Field tags match the remote wire format exactly; the same shape is stored
// locally so a snapshot round-trips without translation.
type StudentRecord struct {
	// UserID is an opaque unique token (a UUID on the server side).
	UserID string `json:"UserID"`

	RollNo string `json:"rollNo"`
	Name   string `json:"name"`
	Dept   string `json:"dept"`
	Course string `json:"course"`
	Gender string `json:"gender"`
	Hall   string `json:"hall"`
	RoomNo string `json:"roomNo"`

	HomeTown string `json:"homeTown"`
	Email    string `json:"email"`

	// Bapu is the roll number of the student's mentor. It is a plain string
	// link, not an enforced foreign key: it may be empty, "Not Available",
	// or reference a roll number that no longer exists in the snapshot.
	Bapu string `json:"bapu"`

	// Bachhas is the serialized list of mentee roll numbers, e.g.
	// "{230228, 230469, 230518}", or the NotAvailable sentinel.
	Bachhas string `json:"bachhas"`
}

// Validate checks the fields populated by trusted import paths (roster dump
// files). Records arriving from the remote are accepted as-is; dangling
// mentor/mentee references are legal everywhere.
func (s *StudentRecord) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("UserID is required")
	}
	if _, err := uuid.Parse(s.UserID); err != nil {
		return fmt.Errorf("UserID %q is not a valid UUID: %w", s.UserID, err)
	}
	if s.RollNo == "" {
		return fmt.Errorf("rollNo is required")
	}
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// Username returns the handle portion of the student's email, which is what
// search terms are prefix-matched against.
func (s *StudentRecord) Username() string {
	if i := strings.IndexByte(s.Email, '@'); i >= 0 {
		return s.Email[:i]
	}
	return s.Email
}

// Bachhalist parses the serialized mentee list into individual roll numbers.
// Returns nil for the empty string and the NotAvailable sentinel.
func (s *StudentRecord) Bachhalist() []string {
	raw := strings.TrimSpace(s.Bachhas)
	if raw == "" || raw == NotAvailable {
		return nil
	}
	raw = strings.TrimPrefix(raw, "{")
	raw = strings.TrimSuffix(raw, "}")
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	rolls := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			rolls = append(rolls, p)
		}
	}
	return rolls
}

// ChangeLog is the incremental delta reported by the remote since a given
// timestamp. It is transient: only its effects persist, via the reconciler.
type ChangeLog struct {
	// AddProfiles holds records created or updated since the last sync.
	AddProfiles []StudentRecord `json:"addProfiles"`

	// DeleteUserID lists the UserIDs removed since the last sync. Within a
	// single delta, deletions win over additions for the same UserID.
	DeleteUserID []string `json:"deleteUserId"`

	// RequestTime is the server-side time the delta was computed at. It
	// becomes the snapshot's new last-sync time once the delta is applied.
	RequestTime time.Time `json:"requestTime"`
}

// Query is a structured directory filter. All fields are optional; a query
// with every field empty matches nothing. That is a deliberate guard against
// dumping the full roster, not default-show-all.
type Query struct {
	// Name is a free-text term matched fuzzily against names and exactly
	// against roll numbers (substring) and email usernames (prefix).
	Name string `json:"name"`

	// Gender matches the gender code case-insensitively.
	Gender string `json:"gender"`

	// Batch, Hall, Course and Dept are membership filters: a record matches
	// when its value is one of the selected options. Empty slices are skipped.
	Batch  []string `json:"batch"`
	Hall   []string `json:"hall"`
	Course []string `json:"course"`
	Dept   []string `json:"dept"`

	// HomeTown is a case-insensitive substring match on the home address.
	HomeTown string `json:"address"`
}

// IsEmpty reports whether no filter clause is set.
func (q Query) IsEmpty() bool {
	return q.Name == "" && q.Gender == "" && q.HomeTown == "" &&
		len(q.Batch) == 0 && len(q.Hall) == 0 &&
		len(q.Course) == 0 && len(q.Dept) == 0
}

// Options holds the distinct filter vocabularies derived from a roster.
// It is rebuilt from scratch whenever the roster changes.
type Options struct {
	Batch  []string `json:"batch"`
	Hall   []string `json:"hall"`
	Course []string `json:"course"`
	Dept   []string `json:"dept"`
}

// FamilyTree is the mentorship neighbourhood of one student.
type FamilyTree struct {
	// Guardian is the student's mentor, or nil when the bapu reference is
	// absent or dangling.
	Guardian *StudentRecord `json:"guardian"`

	Student StudentRecord `json:"student"`

	// Dependents are the mentees found in the roster. Mentee rolls that no
	// longer resolve are silently dropped.
	Dependents []StudentRecord `json:"dependents"`
}

// ResolveFamilyTree looks up a student's guardian and dependents by roll
// number against the given roster. Dangling references are tolerated: a
// missing guardian yields nil, missing mentees are skipped.
func ResolveFamilyTree(student StudentRecord, roster []StudentRecord) FamilyTree {
	tree := FamilyTree{Student: student}

	if bapu := strings.TrimSpace(student.Bapu); bapu != "" && bapu != NotAvailable {
		for i := range roster {
			if roster[i].RollNo == bapu {
				g := roster[i]
				tree.Guardian = &g
				break
			}
		}
	}

	wanted := make(map[string]bool)
	for _, roll := range student.Bachhalist() {
		wanted[roll] = true
	}
	if len(wanted) == 0 {
		return tree
	}
	for _, st := range roster {
		if wanted[st.RollNo] {
			tree.Dependents = append(tree.Dependents, st)
		}
	}
	return tree
}
