package access

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Grant is the tri-state value a rule assigns to one capability.
type Grant uint8

const (
	// Unset leaves the capability as earlier rules left it.
	Unset Grant = iota
	Allow
	Deny
)

func (g Grant) String() string {
	switch g {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "unset"
	}
}

// ParseGrant accepts allow/deny/unset as well as true/false.
func ParseGrant(s string) (Grant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow", "true":
		return Allow, nil
	case "deny", "false":
		return Deny, nil
	case "", "unset", "default", "null", "~":
		return Unset, nil
	}
	return Unset, fmt.Errorf("invalid grant %q", s)
}

// GrantFromNullBool maps a nullable SQL boolean column to a Grant.
func GrantFromNullBool(b sql.NullBool) Grant {
	if !b.Valid {
		return Unset
	}
	if b.Bool {
		return Allow
	}
	return Deny
}

// NullBool is the inverse of GrantFromNullBool.
func (g Grant) NullBool() sql.NullBool {
	switch g {
	case Allow:
		return sql.NullBool{Bool: true, Valid: true}
	case Deny:
		return sql.NullBool{Bool: false, Valid: true}
	}
	return sql.NullBool{}
}

func (g *Grant) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: grant must be a scalar", value.Line)
	}
	parsed, err := ParseGrant(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*g = parsed
	return nil
}

func (g Grant) MarshalYAML() (any, error) {
	if g == Unset {
		return nil, nil
	}
	return g.String(), nil
}

func (g *Grant) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*g = Unset
	case bool:
		*g = Deny
		if v {
			*g = Allow
		}
	case string:
		parsed, err := ParseGrant(v)
		if err != nil {
			return err
		}
		*g = parsed
	default:
		return fmt.Errorf("invalid grant %s", data)
	}
	return nil
}

func (g Grant) MarshalJSON() ([]byte, error) {
	if g == Unset {
		return []byte("null"), nil
	}
	return json.Marshal(g.String())
}
