package models

import "github.com/savaki/gox/slicex"

// SecretEntry is a single named secret destined for a repository.
type SecretEntry struct {
	Name     string
	Value    string
	Required bool
}

// SecretSet is an ordered collection of repository secrets. Order matters:
// keys are written in insertion order so that a rerun after partial failure
// resumes deterministically. Values never appear in logs or errors.
type SecretSet struct {
	entries []SecretEntry
}

// Add appends a required secret.
func (s *SecretSet) Add(name, value string) {
	s.entries = append(s.entries, SecretEntry{Name: name, Value: value, Required: true})
}

// AddOptional appends an optional secret. Optional entries with empty values
// are skipped at provisioning time rather than treated as failures.
func (s *SecretSet) AddOptional(name, value string) {
	s.entries = append(s.entries, SecretEntry{Name: name, Value: value})
}

// Entries returns the secrets in insertion order.
func (s *SecretSet) Entries() []SecretEntry {
	return s.entries
}

// Names returns the secret names in insertion order.
func (s *SecretSet) Names() []string {
	return slicex.Map(s.entries, func(e SecretEntry) string { return e.Name })
}

// MissingRequired returns the names of required entries with empty values.
// Every required key must be present and non-empty before a provisioning
// step may report success.
func (s *SecretSet) MissingRequired() []string {
	var missing []string
	for _, e := range s.entries {
		if e.Required && e.Value == "" {
			missing = append(missing, e.Name)
		}
	}
	return missing
}

// Len returns the number of entries.
func (s *SecretSet) Len() int { return len(s.entries) }
