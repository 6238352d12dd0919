package model

import (
	"sort"
	"time"
)

// Participant is one person observed in a room. ID falls back to the display
// name when the sensor has no stable identifier for them.
type Participant struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	AvatarURL string     `json:"avatar_url,omitempty"`
	JoinTime  time.Time  `json:"join_time"`
	LastSeen  time.Time  `json:"last_seen"`
	Source    DataSource `json:"source"`
}

// Key returns the identity the engine tracks the participant by.
func (p Participant) Key() string {
	if p.ID != "" {
		return p.ID
	}
	return p.Name
}

// CanonicalKeys returns the sorted, de-duplicated identity set of a roster.
// Two observations describe the same crowd iff their canonical keys are equal.
func CanonicalKeys(participants []Participant) []string {
	seen := make(map[string]struct{}, len(participants))
	keys := make([]string, 0, len(participants))
	for _, p := range participants {
		k := p.Key()
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SameRoster reports whether two rosters contain the same identities,
// ignoring order, duplicates and per-field drift.
func SameRoster(a, b []Participant) bool {
	ka, kb := CanonicalKeys(a), CanonicalKeys(b)
	if len(ka) != len(kb) {
		return false
	}
	for i := range ka {
		if ka[i] != kb[i] {
			return false
		}
	}
	return true
}
