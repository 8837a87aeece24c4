package postgres

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fruitsalade/drivegate/internal/access"
)

func TestRuleRowMapping(t *testing.T) {
	row := ruleRow{
		path:    "secure/*",
		role:    sql.NullString{String: "guest", Valid: true},
		read:    sql.NullBool{Bool: true, Valid: true},
		write:   sql.NullBool{Bool: false, Valid: true},
		message: sql.NullString{String: "locked", Valid: true},
	}
	r := row.rule()

	assert.Equal(t, "secure/*", r.Path)
	assert.Equal(t, "guest", r.Role)
	assert.Equal(t, access.Allow, r.Read)
	assert.Equal(t, access.Deny, r.Write)
	assert.Equal(t, access.Unset, r.Copy)
	assert.Equal(t, "locked", r.Message)
}

func TestRuleArgsRoundTrip(t *testing.T) {
	in := access.Rule{Path: "*.pdf", IsFile: true, Download: access.Deny, Read: access.Allow}
	args := ruleArgs(3, in)

	assert.Equal(t, 3, args[0])
	assert.Equal(t, sql.NullString{}, args[3], "empty role is stored as NULL")

	row := ruleRow{
		path:          args[1].(string),
		isFile:        args[2].(bool),
		role:          args[3].(sql.NullString),
		read:          args[4].(sql.NullBool),
		write:         args[5].(sql.NullBool),
		writeContents: args[6].(sql.NullBool),
		copy:          args[7].(sql.NullBool),
		download:      args[8].(sql.NullBool),
		upload:        args[9].(sql.NullBool),
		message:       args[10].(sql.NullString),
	}
	assert.Equal(t, in, row.rule())
}
