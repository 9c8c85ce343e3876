package models

import (
	"sort"
	"strings"
)

// Subject identifies the application being measured (WM_CLASS, app_id,
// package name). The empty Subject means no foreground application could be
// resolved.
type Subject string

// NoSubject is the value used when the foreground application is unknown.
const NoSubject Subject = ""

// NormalizeSubject lower-cases and trims a raw application identifier.
func NormalizeSubject(raw string) Subject {
	return Subject(strings.ToLower(strings.TrimSpace(raw)))
}

// IsNone reports whether s carries no foreground application.
func (s Subject) IsNone() bool {
	return s == NoSubject
}

func (s Subject) String() string {
	if s.IsNone() {
		return "<none>"
	}
	return string(s)
}

// TargetSet is the user-chosen set of subjects whose usage is tracked. It is
// replaced in whole on every update and must be treated as immutable once
// published.
type TargetSet map[Subject]struct{}

// NewTargetSet builds a TargetSet from raw identifiers, dropping empty ones.
func NewTargetSet(subjects ...string) TargetSet {
	set := make(TargetSet, len(subjects))
	for _, raw := range subjects {
		if s := NormalizeSubject(raw); !s.IsNone() {
			set[s] = struct{}{}
		}
	}
	return set
}

// Contains reports whether s is a target. NoSubject is never a target.
func (t TargetSet) Contains(s Subject) bool {
	if s.IsNone() {
		return false
	}
	_, ok := t[s]
	return ok
}

// Sorted returns the members in lexical order.
func (t TargetSet) Sorted() []string {
	out := make([]string, 0, len(t))
	for s := range t {
		out = append(out, string(s))
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both sets hold the same members.
func (t TargetSet) Equal(other TargetSet) bool {
	if len(t) != len(other) {
		return false
	}
	for s := range t {
		if _, ok := other[s]; !ok {
			return false
		}
	}
	return true
}
