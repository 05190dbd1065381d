package receipt

import (
	"slices"
	"strings"
)

// Roster is the closed, ordered list of team members a receipt can belong to.
// Order matters: name reconciliation picks the first member that matches.
type Roster []string

// DefaultTeamMembers is the built-in roster
var DefaultTeamMembers = Roster{
	"최홍영", "박다혜", "박상현", "김민주", "최윤선",
	"김익현", "장수현", "이한울", "김호연", "박성진",
}

// ParseRoster reads a comma separated list of names, skipping blanks
func ParseRoster(list string) Roster {
	var roster Roster
	for _, name := range strings.Split(list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			roster = append(roster, name)
		}
	}
	return roster
}

// Contains reports whether name is exactly a roster entry
func (r Roster) Contains(name string) bool {
	return slices.Contains(r, name)
}
