package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/drivegate/internal/access"
)

const document = `
role: editor
rules:
  - path: "*"
    read: allow
    write: allow
    download: allow
  - path: "secure"
    role: editor
    write: deny
    message: "secure is read-only"
  - path: "*.*"
    isFile: true
    read: allow
`

func run(t *testing.T, e *env, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	var out bytes.Buffer
	e.out = &out
	root := newRootCommand(e)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func testEnv(t *testing.T, body string) *env {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/rules.yaml", []byte(body), 0o644))
	return &env{fs: fs}
}

func TestCheck(t *testing.T) {
	out, err := run(t, testEnv(t, document), "check", "--rules", "/rules.yaml", "docs", "/secure")
	require.NoError(t, err)

	assert.Contains(t, out, "/docs read=allow write=allow writeContents=deny copy=deny download=allow upload=deny\n")
	assert.Contains(t, out, `/secure read=allow write=deny`)
	assert.Contains(t, out, `message="secure is read-only"`)
}

func TestCheckOtherRole(t *testing.T) {
	out, err := run(t, testEnv(t, document), "check", "--rules", "/rules.yaml", "--role", "viewer", "/secure")
	require.NoError(t, err)
	assert.Contains(t, out, "/secure read=allow write=allow")
}

func TestCheckFile(t *testing.T) {
	out, err := run(t, testEnv(t, document), "check", "--rules", "/rules.yaml", "--file", "/docs/a.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "/docs/a.txt read=allow write=deny")
}

func TestCheckWithoutRules(t *testing.T) {
	out, err := run(t, testEnv(t, "role: editor\n"), "check", "--rules", "/rules.yaml", "/docs")
	require.NoError(t, err)
	assert.Equal(t, "/docs no restriction\n", out)
}

func TestLint(t *testing.T) {
	out, err := run(t, testEnv(t, document), "lint", "--rules", "/rules.yaml")
	require.NoError(t, err)
	assert.Equal(t, "ok 3 rules\n", out)

	_, err = run(t, testEnv(t, "rules:\n  - path: \"a/*/b/*\"\n"), "lint", "--rules", "/rules.yaml")
	assert.ErrorContains(t, err, "only one wildcard")

	_, err = run(t, testEnv(t, "rules:\n  - path: x\n    reed: allow\n"), "lint", "--rules", "/rules.yaml")
	assert.Error(t, err)

	_, err = run(t, testEnv(t, document), "lint")
	assert.Error(t, err)
}

func TestImport(t *testing.T) {
	e := testEnv(t, document)
	var got []access.Rule
	e.replace = func(_ context.Context, url string, rules []access.Rule) error {
		assert.Equal(t, "postgres://db/drivegate", url)
		got = rules
		return nil
	}

	out, err := run(t, e, "import", "--rules", "/rules.yaml", "--database-url", "postgres://db/drivegate")
	require.NoError(t, err)
	assert.Equal(t, "imported 3 rules\n", out)
	require.Len(t, got, 3)
	assert.Equal(t, "secure is read-only", got[1].Message)
}

func TestImportFailure(t *testing.T) {
	e := testEnv(t, document)
	e.replace = func(context.Context, string, []access.Rule) error { return errors.New("connection refused") }

	_, err := run(t, e, "import", "--rules", "/rules.yaml", "--database-url", "postgres://db/drivegate")
	assert.ErrorContains(t, err, "connection refused")

	t.Setenv("DRIVEGATE_POLICY_DATABASE_URL", "")
	_, err = run(t, e, "import", "--rules", "/rules.yaml")
	assert.ErrorContains(t, err, "database-url")
}
