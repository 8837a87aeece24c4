package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveNilRulesIsPermissive(t *testing.T) {
	p := NewPolicy(nil, "editor")
	perm := p.Resolve("/docs/report.pdf", true)
	assert.Nil(t, perm)
	assert.True(t, perm.Allows(Capabilities()...))

	var nilPolicy *Policy
	assert.Nil(t, nilPolicy.Resolve("/docs", false))
}

func TestResolveEmptyRulesDeniesEverything(t *testing.T) {
	p := NewPolicy([]Rule{}, "")
	perm := p.Resolve("/docs", false)
	require.NotNil(t, perm)
	assert.Equal(t, Permission{}, *perm)
	assert.False(t, perm.Allows(Read))
}

func TestResolveUnmatchedRulesKeepAccumulator(t *testing.T) {
	p := NewPolicy([]Rule{{Path: "other/*", Read: Allow}}, "")
	perm := p.Resolve("/docs/reports", false)
	require.NotNil(t, perm)
	assert.False(t, perm.Read)
}

func TestFolderWildcardPrefix(t *testing.T) {
	p := NewPolicy([]Rule{{Path: "docs/*", Read: Allow, Write: Allow}}, "")

	tests := []struct {
		path string
		want bool
	}{
		{"/docs/reports", true},
		{"/docs/reports/q1", true},
		{"docs/reports", true},
		{"/documents/x", false},
		{"/docs", false},
	}
	for _, tt := range tests {
		perm := p.Resolve(tt.path, false)
		require.NotNil(t, perm, tt.path)
		assert.Equal(t, tt.want, perm.Read, "Resolve(%q).Read", tt.path)
	}
}

func TestFolderGlobalWildcard(t *testing.T) {
	p := NewPolicy([]Rule{{Path: "*", Read: Allow}}, "")
	assert.True(t, p.Resolve("/anything/at/all", false).Read)
	assert.True(t, p.Resolve("root", false).Read)
}

func TestFolderExactAndNested(t *testing.T) {
	p := NewPolicy([]Rule{{Path: "docs", Read: Allow}}, "")

	assert.True(t, p.Resolve("/docs", false).Read)
	assert.True(t, p.Resolve("/docs/reports", false).Read)
	assert.False(t, p.Resolve("/documents", false).Read)

	trailing := NewPolicy([]Rule{{Path: "docs/", Read: Allow}}, "")
	assert.True(t, trailing.Resolve("/docs", false).Read)
}

func TestLastMatchWinsPerField(t *testing.T) {
	p := NewPolicy([]Rule{
		{Path: "*", Read: Allow, Write: Allow, Copy: Allow, Message: "global"},
		{Path: "secure/*", Write: Deny},
		{Path: "secure/*", Copy: Deny, Message: "secure is locked"},
		{Path: "secure/*", Write: Allow},
	}, "")

	perm := p.Resolve("/secure/x", false)
	require.NotNil(t, perm)
	assert.True(t, perm.Read, "unset field keeps earlier value")
	assert.True(t, perm.Write, "later rule wins")
	assert.False(t, perm.Copy)
	assert.Equal(t, "secure is locked", perm.Message, "empty message does not overwrite")
}

func TestResolveIsDeterministic(t *testing.T) {
	p := NewPolicy([]Rule{
		{Path: "*", Read: Allow},
		{Path: "*.pdf", IsFile: true, Read: Deny, Download: Allow},
	}, "")
	first := p.Resolve("/docs/a.pdf", true)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, p.Resolve("/docs/a.pdf", true))
	}
}

func TestRoleFilter(t *testing.T) {
	rules := []Rule{
		{Path: "*", Read: Allow},
		{Path: "*", Role: "admin", Write: Allow},
	}
	admin := NewPolicy(rules, "admin")
	guest := admin.WithRole("guest")

	assert.True(t, admin.Resolve("/docs", false).Write)
	assert.False(t, guest.Resolve("/docs", false).Write)
	assert.True(t, guest.Resolve("/docs", false).Read)
	assert.Equal(t, "admin", admin.Role(), "WithRole must not mutate the receiver")
}

func TestFileExtensionRule(t *testing.T) {
	p := NewPolicy([]Rule{{Path: "*.pdf", IsFile: true, Read: Allow}}, "")

	tests := []struct {
		path string
		want bool
	}{
		{"/report.pdf", true},
		{"/docs/report.PDF", true},
		{"/docs/report.PDFX", false},
		{"/docs/report.txt", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Resolve(tt.path, true).Read, "Resolve(%q)", tt.path)
	}
}

func TestFileExtensionRuleUnderPrefix(t *testing.T) {
	p := NewPolicy([]Rule{{Path: "docs/*.pdf", IsFile: true, Read: Allow}}, "")

	assert.True(t, p.Resolve("/docs/report.pdf", true).Read)
	assert.True(t, p.Resolve("/docs/2024/report.pdf", true).Read)
	assert.False(t, p.Resolve("/media/report.pdf", true).Read)
}

func TestFileAnyRule(t *testing.T) {
	p := NewPolicy([]Rule{
		{Path: "*.*", IsFile: true, Read: Allow},
		{Path: "private/*.*", IsFile: true, Read: Deny},
	}, "")

	assert.True(t, p.Resolve("/docs/a.txt", true).Read)
	assert.False(t, p.Resolve("/private/a.txt", true).Read)
	assert.False(t, p.Resolve("/private/deep/a.txt", true).Read)
}

func TestFileBaseNameRule(t *testing.T) {
	p := NewPolicy([]Rule{{Path: "docs/summary.*", IsFile: true, Download: Allow}}, "")

	assert.True(t, p.Resolve("/docs/summary.pdf", true).Download)
	assert.True(t, p.Resolve("/docs/summary.docx", true).Download)
	assert.False(t, p.Resolve("/docs/summary2.pdf", true).Download)
	assert.False(t, p.Resolve("/other/summary.pdf", true).Download)
}

func TestFileExactRule(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"docs/report.pdf", "/docs/report.pdf", true},
		{"docs/report", "/docs/report.pdf", true},
		{"report", "/anywhere/report.pdf", true},
		{"docs/report.pdf", "/docs/other.pdf", false},
	}
	for _, tt := range tests {
		p := NewPolicy([]Rule{{Path: tt.pattern, IsFile: true, Read: Allow}}, "")
		assert.Equal(t, tt.want, p.Resolve(tt.path, true).Read, "%q vs %q", tt.pattern, tt.path)
	}
}

func TestFileRulesIgnoreWriteContents(t *testing.T) {
	p := NewPolicy([]Rule{
		{Path: "*.*", IsFile: true, Read: Allow, WriteContents: Allow, Upload: Allow},
	}, "")
	perm := p.Resolve("/a.txt", true)
	assert.False(t, perm.WriteContents)
	assert.True(t, perm.Upload)
}

func TestFolderAndFileRulesAreSeparate(t *testing.T) {
	p := NewPolicy([]Rule{
		{Path: "*", Read: Allow},
		{Path: "*.*", IsFile: true, Read: Deny},
	}, "")
	assert.True(t, p.Resolve("/docs", false).Read)
	assert.False(t, p.Resolve("/docs/a.txt", true).Read)
}

func TestPermissionMissing(t *testing.T) {
	perm := &Permission{Read: true}
	c, missing := perm.Missing(Read, Write, Copy)
	assert.True(t, missing)
	assert.Equal(t, Write, c)
	assert.Equal(t, "write", c.String())

	var none *Permission
	_, missing = none.Missing(Read, Write)
	assert.False(t, missing)
}

func TestValidate(t *testing.T) {
	err := Validate([]Rule{
		{Path: "*", Read: Allow},
		{Path: "docs/*.pdf", IsFile: true},
		{Path: "docs/summary.*", IsFile: true},
	})
	assert.NoError(t, err)

	err = Validate([]Rule{
		{Path: ""},
		{Path: "a/*/b/*"},
		{Path: "docs/*", IsFile: true},
		{Path: "*.txt", IsFile: true, WriteContents: Allow},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule 0")
	assert.Contains(t, err.Error(), "rule 1")
	assert.Contains(t, err.Error(), "rule 2")
	assert.Contains(t, err.Error(), "rule 3")
}

func TestRulesReturnsCopy(t *testing.T) {
	rules := []Rule{{Path: "*", Read: Allow}}
	p := NewPolicy(rules, "")
	rules[0].Read = Deny
	assert.True(t, p.Resolve("/x", false).Read, "NewPolicy must copy its input")

	got := p.Rules()
	got[0].Read = Deny
	assert.True(t, p.Resolve("/x", false).Read, "Rules must return a copy")
}
