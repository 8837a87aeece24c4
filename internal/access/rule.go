package access

import (
	"errors"
	"fmt"
	"strings"
)

// Rule is one entry of an ordered access policy. Path is a folder pattern
// ("docs", "docs/*", "*") or a file pattern ("*.*", "docs/*.pdf",
// "docs/summary.*", "docs/summary.pdf"). An empty Role applies to every role.
type Rule struct {
	Path          string `yaml:"path" json:"path"`
	IsFile        bool   `yaml:"isFile,omitempty" json:"isFile"`
	Role          string `yaml:"role,omitempty" json:"role,omitempty"`
	Read          Grant  `yaml:"read,omitempty" json:"read,omitempty"`
	Write         Grant  `yaml:"write,omitempty" json:"write,omitempty"`
	WriteContents Grant  `yaml:"writeContents,omitempty" json:"writeContents,omitempty"`
	Copy          Grant  `yaml:"copy,omitempty" json:"copy,omitempty"`
	Download      Grant  `yaml:"download,omitempty" json:"download,omitempty"`
	Upload        Grant  `yaml:"upload,omitempty" json:"upload,omitempty"`
	Message       string `yaml:"message,omitempty" json:"message,omitempty"`
}

// Grant returns the value the rule assigns to c.
func (r Rule) Grant(c Capability) Grant {
	switch c {
	case Read:
		return r.Read
	case Write:
		return r.Write
	case WriteContents:
		return r.WriteContents
	case Copy:
		return r.Copy
	case Download:
		return r.Download
	case Upload:
		return r.Upload
	}
	return Unset
}

// appliesTo reports whether the rule is in scope for role.
func (r Rule) appliesTo(role string) bool {
	return r.Role == "" || r.Role == role
}

// Validate checks every rule and reports all problems at once.
func Validate(rules []Rule) error {
	var errs []error
	for i, r := range rules {
		if err := r.validate(); err != nil {
			errs = append(errs, fmt.Errorf("rule %d (%q): %w", i, r.Path, err))
		}
	}
	return errors.Join(errs...)
}

func (r Rule) validate() error {
	if strings.TrimSpace(r.Path) == "" {
		return errors.New("path is empty")
	}
	if !r.IsFile {
		if strings.Count(r.Path, "*") > 1 {
			return errors.New("folder pattern may contain only one wildcard")
		}
		return nil
	}
	if r.WriteContents != Unset {
		return errors.New("writeContents has no effect on file rules")
	}
	if !strings.Contains(r.Path, "*") {
		return nil
	}
	switch filePatternKind(r.Path) {
	case patternAnyFile, patternExtension, patternBaseName:
		return nil
	}
	return errors.New("file wildcard must be *.*, *.ext or name.*")
}
