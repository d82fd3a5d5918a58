package daemon

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/yatin-bhojwani/compass/internal/directory"
)

// rosterDump is the wrapped form of a roster dump file. Dumps may also be a
// bare JSON array of records.
type rosterDump struct {
	Profiles []directory.StudentRecord `json:"profiles"`
}

// ReadRosterDump parses a roster dump file into student records. Both the
// wrapped {"profiles": [...]} shape and a bare array are accepted. Records
// that fail validation are rejected as a whole: an import replaces the
// entire snapshot, so a partially bad dump must not go through.
func ReadRosterDump(path string) ([]directory.StudentRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster dump: %w", err)
	}

	var records []directory.StudentRecord
	if err := json.Unmarshal(data, &records); err != nil {
		var wrapped rosterDump
		if werr := json.Unmarshal(data, &wrapped); werr != nil || wrapped.Profiles == nil {
			return nil, fmt.Errorf("roster dump %s is neither an array nor a profiles object: %w", path, err)
		}
		records = wrapped.Profiles
	}

	for i := range records {
		if err := records[i].Validate(); err != nil {
			return nil, fmt.Errorf("roster dump %s record %d: %w", path, i, err)
		}
	}
	return records, nil
}
