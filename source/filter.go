package source

import "strings"

// Filter drops records whose identifier contains an exclusion token.
// The zero value keeps every record.
type Filter struct {
	Exclude string
}

// Keep reports whether rec should be indexed.
func (f Filter) Keep(rec Record) bool {
	return f.Exclude == "" || !strings.Contains(rec.ID, f.Exclude)
}
