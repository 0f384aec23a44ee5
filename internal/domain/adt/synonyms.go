package adt

import "strings"

// Synonyms maps alternate department names onto one standard name.
type Synonyms map[string]string

// Resolve returns the standard name for unit, or unit itself when it has no
// synonym.
func (s Synonyms) Resolve(unit string) string {
	unit = strings.TrimSpace(unit)
	if std, ok := s[unit]; ok {
		return std
	}
	return unit
}
