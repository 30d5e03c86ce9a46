package dispatch

import "strings"

type filterKind int

const (
	filterNone filterKind = iota
	filterSingle
	filterSet
)

// Filter narrows which events a registration receives. The zero value
// (and Any) matches everything; ID matches one identifier by equality;
// IDs matches by membership.
type Filter struct {
	kind filterKind
	one  string
	set  []string
}

// Any matches every event of the category.
func Any() Filter { return Filter{kind: filterNone} }

// ID matches events whose identifying field equals id.
func ID(id string) Filter { return Filter{kind: filterSingle, one: id} }

// IDs matches events whose identifying field is one of ids.
func IDs(ids ...string) Filter { return Filter{kind: filterSet, set: ids} }

// Matches reports whether the filter accepts id.
func (f Filter) Matches(id string) bool {
	return f.matches(id, nil)
}

// matches applies an optional canonicalizer to both sides before
// comparing; slash-command matching uses it to strip the "/" prefix.
func (f Filter) matches(id string, canon func(string) string) bool {
	if canon != nil {
		id = canon(id)
	}
	switch f.kind {
	case filterNone:
		return true
	case filterSingle:
		want := f.one
		if canon != nil {
			want = canon(want)
		}
		return id == want
	case filterSet:
		for _, want := range f.set {
			if canon != nil {
				want = canon(want)
			}
			if id == want {
				return true
			}
		}
		return false
	}
	return false
}

// normalizeCommand makes "help" and "/help" equivalent in slash-command
// filters and events.
func normalizeCommand(cmd string) string {
	return strings.TrimPrefix(cmd, "/")
}
