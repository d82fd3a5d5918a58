package directory

import "testing"

func TestBatchRule_Label(t *testing.T) {
	rule := DefaultBatchRule()

	tests := []struct {
		roll string
		want string
	}{
		{"200045", "Y20"},
		{"230228", "Y23"},
		{"190772", "Y19"},
		{"Y80023", "Y80"},
		{"Y95123", "Y95"},
		{"300001", "Other"}, // past the rollover horizon
		{"Y20045", "Other"}, // prefix with low year digit is not a batch label
		{"2", "Other"},      // malformed 1-character roll
		{"", "Other"},
	}

	for _, tt := range tests {
		if got := rule.Label(tt.roll); got != tt.want {
			t.Errorf("Label(%q) = %q, want %q", tt.roll, got, tt.want)
		}
	}
}

func TestBatchRule_CustomConstants(t *testing.T) {
	// A future revision of the scheme must be expressible without touching
	// the derivation logic.
	rule := BatchRule{Prefix: "Z", PrefixFloor: "8", Rollover: "40"}

	if got := rule.Label("350001"); got != "Z35" {
		t.Errorf("Label(350001) = %q, want Z35", got)
	}
	if got := rule.Label("Z90001"); got != "Z9" {
		t.Errorf("Label(Z90001) = %q, want Z9", got)
	}
	if got := rule.Label("450001"); got != BatchOther {
		t.Errorf("Label(450001) = %q, want %q", got, BatchOther)
	}
}
