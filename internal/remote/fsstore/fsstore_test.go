package fsstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/drivegate/internal/remote"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := NewMemory("Files")
	fs := s.Fs()
	require.NoError(t, fs.MkdirAll("/docs/reports", 0o755))
	require.NoError(t, fs.MkdirAll("/media", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/docs/readme.txt", []byte("hello"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/docs/reports/q1.pdf", []byte("pdf-bytes"), 0o644))
	return s
}

func TestRootAndItem(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	root, err := s.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, remote.PathID("/"), root.ID)
	assert.Equal(t, "%2F", root.ID)
	assert.Equal(t, "Files", root.Name)
	assert.Empty(t, root.ParentID)
	assert.True(t, root.IsFolder)
	assert.Equal(t, 2, root.ChildCount)

	item, err := s.Item(ctx, "/docs/readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "readme.txt", item.Name)
	assert.Equal(t, remote.PathID("/docs"), item.ParentID)
	assert.NotContains(t, item.ID, "/")
	assert.Equal(t, int64(5), item.Size)
	assert.False(t, item.IsFolder)

	_, err = s.Item(ctx, "/nope")
	assert.True(t, remote.IsNotFound(err))
}

func TestChildrenFoldersFirst(t *testing.T) {
	s := seeded(t)
	items, err := s.Children(context.Background(), "/docs")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "reports", items[0].Name)
	assert.Equal(t, "readme.txt", items[1].Name)
}

func TestCreateFolderConflict(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	item, err := s.CreateFolder(ctx, "/docs", "archive")
	require.NoError(t, err)
	assert.Equal(t, remote.PathID("/docs/archive"), item.ID)

	same, err := s.Item(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, same.IsFolder)

	_, err = s.CreateFolder(ctx, "/docs", "archive")
	assert.ErrorIs(t, err, remote.ErrConflict)

	_, err = s.CreateFolder(ctx, "/docs", "../escape")
	assert.Error(t, err)
}

func TestRenameAndMoveFolder(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	require.NoError(t, s.Rename(ctx, "/docs/reports", "quarterly"))
	_, err := s.Item(ctx, "/docs/quarterly/q1.pdf")
	require.NoError(t, err)
	_, err = s.Item(ctx, "/docs/reports")
	assert.True(t, remote.IsNotFound(err))

	require.NoError(t, s.Move(ctx, "/docs/quarterly", "/media", "quarterly"))
	_, err = s.Item(ctx, "/media/quarterly/q1.pdf")
	require.NoError(t, err)

	err = s.Move(ctx, "/media", "/media/quarterly", "media")
	assert.Error(t, err, "moving a folder into itself")
}

func TestCopyTree(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	require.NoError(t, s.Copy(ctx, "/docs", "/media", "docs"))
	rc, err := s.Content(ctx, "/media/docs/reports/q1.pdf")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "pdf-bytes", string(data))

	_, err = s.Item(ctx, "/docs/reports/q1.pdf")
	assert.NoError(t, err, "source survives a copy")

	assert.ErrorIs(t, s.Copy(ctx, "/docs", "/media", "docs"), remote.ErrConflict)
}

func TestPutContentReplaces(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	item, err := s.PutContent(ctx, "/docs", "readme.txt", bytes.NewBufferString("replaced!"), 9)
	require.NoError(t, err)
	assert.Equal(t, int64(9), item.Size)

	items, err := s.Children(ctx, "/docs")
	require.NoError(t, err)
	for _, it := range items {
		assert.NotContains(t, it.Name, tempPrefix, "temp files must not leak")
	}
}

func TestDelete(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	require.NoError(t, s.Delete(ctx, "/docs"))
	_, err := s.Item(ctx, "/docs/readme.txt")
	assert.True(t, remote.IsNotFound(err))
	assert.ErrorIs(t, s.Delete(ctx, "/docs"), remote.ErrNotFound)
	assert.Error(t, s.Delete(ctx, "/"))
}

func TestSearch(t *testing.T) {
	s := seeded(t)
	items, err := s.Search(context.Background(), "/", "Q1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, remote.PathID("/docs/reports/q1.pdf"), items[0].ID)
}

func TestCanceledContext(t *testing.T) {
	s := seeded(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Children(ctx, "/")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewLocal(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocal(Config{RootPath: dir + "/store", CreateDirs: true})
	require.NoError(t, err)
	assert.Equal(t, "local", s.Type())

	_, err = s.CreateFolder(context.Background(), "/", "inbox")
	require.NoError(t, err)

	_, err = NewLocal(Config{RootPath: dir + "/missing"})
	assert.Error(t, err)
}
