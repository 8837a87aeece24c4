package access

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk form of a policy:
//
//	role: editor
//	rules:
//	  - path: "*"
//	    read: allow
//	  - path: "secure/*"
//	    write: deny
//	    message: "secure is read-only"
//
// Omitting rules entirely leaves the policy unrestricted.
type Document struct {
	Role  string `yaml:"role,omitempty"`
	Rules []Rule `yaml:"rules"`
}

// ParseDocument decodes and validates a YAML policy document. Unknown
// keys are rejected so typos in capability names surface early.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if err := Validate(doc.Rules); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return &doc, nil
}

// LoadFile reads a policy document from fs.
func LoadFile(fs afero.Fs, name string) (*Document, error) {
	data, err := afero.ReadFile(fs, name)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", name, err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return doc, nil
}

// Marshal encodes the document back to YAML.
func (d *Document) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Policy builds the immutable policy described by the document. An
// explicit role overrides the document's own.
func (d *Document) Policy(role string) *Policy {
	if role == "" {
		role = d.Role
	}
	return NewPolicy(d.Rules, role)
}
