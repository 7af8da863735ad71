// Package seqid assigns unique sequence identifiers for the metadata table.
//
// A submitted run name is cleaned into an identifier and, when that identifier
// is already taken by a project assembly or a reference-database genome, a
// numeric ".N" suffix is added or incremented until the result is free.
package seqid

import (
	"math/big"
	"regexp"
	"strings"
	"unicode"
)

// RE2's \s is ASCII only; the rest of unicode.IsSpace is listed explicitly.
var disallowed = regexp.MustCompile(`[^a-zA-Z0-9_\s\v\x{85}\p{Z}]`)

// CleanName strips everything except ASCII letters, digits, underscores and
// whitespace, then turns whitespace (Unicode spaces included) into
// underscores.
func CleanName(raw string) string {
	cleaned := disallowed.ReplaceAllString(raw, "")
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, cleaned)
}

// Set is a set of identifiers in use.
type Set map[string]struct{}

// NewSet builds a Set from any number of name lists.
func NewSet(lists ...[]string) Set {
	s := make(Set)
	for _, names := range lists {
		for _, n := range names {
			s[n] = struct{}{}
		}
	}
	return s
}

// Has reports whether id is in use.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add marks id as used.
func (s Set) Add(id string) {
	s[id] = struct{}{}
}

// Next returns candidate if it is unused. Otherwise it appends ".1", or
// increments an existing trailing ".N", and repeats until the identifier is free.
func Next(candidate string, used Set) string {
	id := candidate
	for used.Has(id) {
		id = bump(id)
	}
	return id
}

// bump produces the next identifier in the suffix sequence of id.
func bump(id string) string {
	dot := strings.LastIndex(id, ".")
	if dot < 0 || !isDigits(id[dot+1:]) {
		return id + ".1"
	}
	n, ok := new(big.Int).SetString(id[dot+1:], 10)
	if !ok {
		return id + ".1"
	}
	n.Add(n, big.NewInt(1))
	return id[:dot] + "." + n.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Allocator hands out identifiers that are unique against every name it has
// seen, including the ones it assigned itself.
type Allocator struct {
	used Set
}

// NewAllocator creates an Allocator seeded with the names already in use,
// typically the project table names and the reference-database names.
func NewAllocator(inUse ...[]string) *Allocator {
	return &Allocator{used: NewSet(inUse...)}
}

// Assign returns a free identifier derived from candidate and reserves it.
func (a *Allocator) Assign(candidate string) string {
	id := Next(candidate, a.used)
	a.used.Add(id)
	return id
}

// InUse reports whether id is already taken.
func (a *Allocator) InUse(id string) bool {
	return a.used.Has(id)
}
