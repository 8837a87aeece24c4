// Package access resolves effective capability sets from an ordered list
// of path-pattern rules.
package access

import (
	"path"
	"strings"
)

// Policy is an immutable ordered rule list bound to the caller's role.
// It is safe for concurrent use.
type Policy struct {
	rules []Rule
	role  string
}

// NewPolicy copies rules into a new policy. A nil slice yields a policy
// that restricts nothing; an empty non-nil slice yields one that denies
// everything.
func NewPolicy(rules []Rule, role string) *Policy {
	var cp []Rule
	if rules != nil {
		cp = make([]Rule, len(rules))
		copy(cp, rules)
	}
	return &Policy{rules: cp, role: role}
}

// WithRole returns a view of the same rules for another role.
func (p *Policy) WithRole(role string) *Policy {
	if p == nil {
		return nil
	}
	return &Policy{rules: p.rules, role: role}
}

// Role returns the role the policy resolves for.
func (p *Policy) Role() string {
	if p == nil {
		return ""
	}
	return p.role
}

// Rules returns a copy of the rule list.
func (p *Policy) Rules() []Rule {
	if p == nil || p.rules == nil {
		return nil
	}
	cp := make([]Rule, len(p.rules))
	copy(cp, p.rules)
	return cp
}

// Resolve evaluates every rule against the logical path, in declaration
// order, and returns the merged capability set. It returns nil when the
// policy has no rule list at all.
func (p *Policy) Resolve(logicalPath string, isFile bool) *Permission {
	if p == nil || p.rules == nil {
		return nil
	}

	parent, leaf := splitPath(logicalPath)
	location := strings.TrimLeft(parent, "/") + leaf

	perm := &Permission{}
	for _, r := range p.rules {
		if r.Path == "" || r.IsFile != isFile || !r.appliesTo(p.role) {
			continue
		}
		if isFile {
			if matchFile(r.Path, strings.TrimLeft(parent, "/"), location, leaf) {
				merge(perm, r, true)
			}
			continue
		}
		if matchFolder(r.Path, location) {
			merge(perm, r, false)
		}
	}
	return perm
}

// splitPath returns every segment but the last, each followed by "/",
// and the last segment.
func splitPath(p string) (parent, leaf string) {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p
	}
	return p[:i+1], p[i+1:]
}

func matchFolder(pattern, location string) bool {
	if i := strings.Index(pattern, "*"); i >= 0 {
		prefix := pattern[:i]
		return prefix == "" || strings.HasPrefix(location, prefix)
	}
	if pattern == location || pattern == location+"/" {
		return true
	}
	return strings.HasPrefix(location, strings.TrimSuffix(pattern, "/")+"/")
}

type patternKind uint8

const (
	patternExact patternKind = iota
	patternAnyFile
	patternExtension
	patternBaseName
	patternInvalid
)

func filePatternKind(pattern string) patternKind {
	switch {
	case strings.Contains(pattern, "*.*"):
		return patternAnyFile
	case strings.Contains(pattern, "*."):
		if strings.Count(pattern, "*") == 1 && path.Ext(pattern) != "" {
			return patternExtension
		}
		return patternInvalid
	case strings.HasSuffix(pattern, ".*"):
		if strings.Count(pattern, "*") == 1 {
			return patternBaseName
		}
		return patternInvalid
	case strings.Contains(pattern, "*"):
		return patternInvalid
	}
	return patternExact
}

// matchFile tests a file pattern against a file whose parent folder is
// dir ("docs/reports/", empty at top level) and whose leaf name is leaf.
func matchFile(pattern, dir, location, leaf string) bool {
	ext := path.Ext(leaf)
	base := strings.TrimSuffix(leaf, ext)

	switch filePatternKind(pattern) {
	case patternAnyFile:
		prefix := pattern[:strings.Index(pattern, "*.*")]
		return prefix == "" || strings.HasPrefix(dir, prefix)
	case patternExtension:
		i := strings.Index(pattern, "*.")
		prefix := pattern[:i]
		return (prefix == "" || strings.HasPrefix(dir, prefix)) &&
			strings.EqualFold(ext, pattern[i+1:])
	case patternBaseName:
		head := strings.TrimSuffix(pattern, ".*")
		prefix, name := splitPath(head)
		return (prefix == "" || strings.HasPrefix(dir, prefix)) && base == name
	case patternExact:
		return pattern == base || pattern == location || pattern+ext == location
	}
	return false
}

// merge applies every capability the rule sets. File rules never carry
// writeContents. The message only changes when the rule has one.
func merge(perm *Permission, r Rule, file bool) {
	for _, c := range Capabilities() {
		if file && c == WriteContents {
			continue
		}
		switch r.Grant(c) {
		case Allow:
			perm.set(c, true)
		case Deny:
			perm.set(c, false)
		}
	}
	if r.Message != "" {
		perm.Message = r.Message
	}
}
