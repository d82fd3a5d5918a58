package directory

// BatchRule derives the admission-batch label from a roll number.
//
// Campus roll numbers encode the admission year in their leading characters
// under two historical schemes: older rolls carry an explicit letter prefix
// ("Y80023" is batch Y80), newer rolls start with the two-digit year
// ("200045" is batch Y20). The rule distinguishing them is time-bounded: it
// holds only until the two-digit years reach Rollover. When that happens the
// constants must be revised deliberately, not extrapolated in place.
type BatchRule struct {
	// Prefix is the letter that opens prefixed rolls and that is prepended
	// to bare two-digit years.
	Prefix string

	// PrefixFloor is the digit above which a Prefix-opened roll is taken as
	// an explicit batch label. "Y8xxxx" and "Y9xxxx" are batch labels;
	// "Y2xxxx" is not a roll shape this rule recognises.
	PrefixFloor string

	// Rollover is the exclusive upper bound (string compare) for bare
	// two-digit years. Rolls at or past it fall out of the rule's validity
	// horizon and are labelled Other.
	Rollover string
}

// BatchOther is the label for rolls the rule cannot place in a batch.
const BatchOther = "Other"

// DefaultBatchRule matches the deployed roll-number scheme. Valid through
// admission year 29.
func DefaultBatchRule() BatchRule {
	return BatchRule{Prefix: "Y", PrefixFloor: "7", Rollover: "30"}
}

// Label maps a roll number to its batch label, or BatchOther when the roll
// is malformed or outside the rule's horizon.
func (r BatchRule) Label(roll string) string {
	if len(roll) < 2 {
		return BatchOther
	}
	head := roll[:2]
	if roll[:1] == r.Prefix && roll[1:2] > r.PrefixFloor {
		return head
	}
	if head < r.Rollover {
		return r.Prefix + head
	}
	return BatchOther
}
