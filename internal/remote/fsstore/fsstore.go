// Package fsstore implements remote.Store over an afero filesystem. The
// "local" backend roots it in a directory on disk; the "memory" backend
// keeps everything in process and backs tests and demos.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/fruitsalade/drivegate/internal/metrics"
	"github.com/fruitsalade/drivegate/internal/remote"
)

const (
	rootID        = "/"
	tempPrefix    = ".drivegate-"
	defaultRootNm = "Files"
)

// Config holds local filesystem backend settings.
type Config struct {
	RootPath   string `mapstructure:"root_path"`
	CreateDirs bool   `mapstructure:"create_dirs"`
	RootName   string `mapstructure:"root_name"`
}

// Store implements remote.Store. Item ids are escaped slash paths
// relative to the root (see remote.PathID); the root path is "/".
type Store struct {
	fs       afero.Fs
	rootName string
	kind     string
}

// New wraps an arbitrary afero filesystem.
func New(fsys afero.Fs, kind, rootName string) *Store {
	if rootName == "" {
		rootName = defaultRootNm
	}
	return &Store{fs: fsys, rootName: rootName, kind: kind}
}

// NewMemory returns an empty in-memory store.
func NewMemory(rootName string) *Store {
	return New(afero.NewMemMapFs(), "memory", rootName)
}

// NewLocal roots a store in cfg.RootPath on the host filesystem.
func NewLocal(cfg Config) (*Store, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root_path is required")
	}

	info, err := os.Stat(cfg.RootPath)
	switch {
	case err != nil && os.IsNotExist(err) && cfg.CreateDirs:
		if mkErr := os.MkdirAll(cfg.RootPath, 0o755); mkErr != nil {
			return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
	case !info.IsDir():
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}

	return New(afero.NewBasePathFs(afero.NewOsFs(), cfg.RootPath), "local", cfg.RootName), nil
}

// Fs exposes the underlying filesystem, mainly for seeding tests.
func (s *Store) Fs() afero.Fs { return s.fs }

func (s *Store) Type() string { return s.kind }

func (s *Store) Close() error { return nil }

func (s *Store) observe(op string, start time.Time, err *error) {
	metrics.RecordRemoteOperation(s.kind, op, time.Since(start), *err == nil)
}

func (s *Store) Root(ctx context.Context) (*remote.Item, error) {
	return s.Item(ctx, rootID)
}

func (s *Store) Item(ctx context.Context, id string) (item *remote.Item, err error) {
	defer s.observe("item", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.stat(fromID(id))
}

func (s *Store) Child(ctx context.Context, parentID, name string) (item *remote.Item, err error) {
	defer s.observe("child", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validName(name); err != nil {
		return nil, err
	}
	return s.stat(path.Join(fromID(parentID), name))
}

func (s *Store) Children(ctx context.Context, id string) (items []remote.Item, err error) {
	defer s.observe("children", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := fromID(id)
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, wrap("children", dir, err)
	}
	items = make([]remote.Item, 0, len(infos))
	for _, info := range infos {
		if strings.HasPrefix(info.Name(), tempPrefix) {
			continue
		}
		items = append(items, s.toItem(path.Join(dir, info.Name()), info))
	}
	sortByName(items)
	return items, nil
}

func (s *Store) CreateFolder(ctx context.Context, parentID, name string) (item *remote.Item, err error) {
	defer s.observe("create_folder", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validName(name); err != nil {
		return nil, err
	}
	parent := fromID(parentID)
	if err := s.requireFolder(parent); err != nil {
		return nil, err
	}
	p := path.Join(parent, name)
	if s.exists(p) {
		return nil, fmt.Errorf("create %s: %w", p, remote.ErrConflict)
	}
	if err := s.fs.Mkdir(p, 0o755); err != nil {
		return nil, wrap("create", p, err)
	}
	return s.stat(p)
}

func (s *Store) Rename(ctx context.Context, id, newName string) (err error) {
	defer s.observe("rename", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return err
	}
	src := fromID(id)
	return s.relocate(src, path.Dir(src), newName)
}

func (s *Store) Move(ctx context.Context, id, parentID, name string) (err error) {
	defer s.observe("move", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.relocate(fromID(id), fromID(parentID), name)
}

func (s *Store) Copy(ctx context.Context, id, parentID, name string) (err error) {
	defer s.observe("copy", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return err
	}
	src := fromID(id)
	dst, err := s.destination(src, fromID(parentID), name)
	if err != nil {
		return err
	}
	return s.copyTree(ctx, src, dst)
}

func (s *Store) Delete(ctx context.Context, id string) (err error) {
	defer s.observe("delete", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return err
	}
	p := fromID(id)
	if p == rootID {
		return errors.New("refusing to delete the root folder")
	}
	if !s.exists(p) {
		return fmt.Errorf("delete %s: %w", p, remote.ErrNotFound)
	}
	if err := s.fs.RemoveAll(p); err != nil {
		return wrap("delete", p, err)
	}
	return nil
}

func (s *Store) Content(ctx context.Context, id string) (rc io.ReadCloser, err error) {
	defer s.observe("content", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := fromID(id)
	info, err := s.fs.Stat(p)
	if err != nil {
		return nil, wrap("content", p, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("content %s: is a folder", p)
	}
	f, err := s.fs.Open(p)
	if err != nil {
		return nil, wrap("content", p, err)
	}
	return f, nil
}

// PutContent writes to a temp file in the target folder and renames it
// into place.
func (s *Store) PutContent(ctx context.Context, parentID, name string, body io.Reader, size int64) (item *remote.Item, err error) {
	defer s.observe("put_content", time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validName(name); err != nil {
		return nil, err
	}
	parent := fromID(parentID)
	if err := s.requireFolder(parent); err != nil {
		return nil, err
	}
	dst := path.Join(parent, name)
	if info, err := s.fs.Stat(dst); err == nil && info.IsDir() {
		return nil, fmt.Errorf("put %s: %w", dst, remote.ErrConflict)
	}
	if err := s.writeAtomic(dst, body); err != nil {
		return nil, err
	}
	return s.stat(dst)
}

// Search walks the subtree below rootID collecting case-insensitive
// substring matches on the item name.
func (s *Store) Search(ctx context.Context, rootID, query string) (items []remote.Item, err error) {
	defer s.observe("search", time.Now(), &err)
	start := fromID(rootID)
	needle := strings.ToLower(query)
	err = afero.Walk(s.fs, start, func(p string, info fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p = clean(p)
		if p == start || strings.HasPrefix(info.Name(), tempPrefix) {
			return nil
		}
		if strings.Contains(strings.ToLower(info.Name()), needle) {
			items = append(items, s.toItem(p, info))
		}
		return nil
	})
	if err != nil {
		return nil, wrap("search", start, err)
	}
	return items, nil
}

func (s *Store) stat(p string) (*remote.Item, error) {
	info, err := s.fs.Stat(p)
	if err != nil {
		return nil, wrap("stat", p, err)
	}
	item := s.toItem(p, info)
	return &item, nil
}

func (s *Store) toItem(p string, info fs.FileInfo) remote.Item {
	item := remote.Item{
		ID:         remote.PathID(p),
		Name:       info.Name(),
		IsFolder:   info.IsDir(),
		CreatedAt:  info.ModTime(),
		ModifiedAt: info.ModTime(),
		ChildCount: -1,
	}
	if p == rootID {
		item.Name = s.rootName
	} else {
		item.ParentID = remote.PathID(path.Dir(p))
	}
	if item.IsFolder {
		if names, err := readNames(s.fs, p); err == nil {
			item.ChildCount = len(names)
		}
	} else {
		item.Size = info.Size()
	}
	return item
}

func (s *Store) exists(p string) bool {
	_, err := s.fs.Stat(p)
	return err == nil
}

func (s *Store) requireFolder(p string) error {
	info, err := s.fs.Stat(p)
	if err != nil {
		return wrap("stat", p, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a folder", p)
	}
	return nil
}

// destination validates a copy or move target.
func (s *Store) destination(src, parent, name string) (string, error) {
	if src == rootID {
		return "", errors.New("cannot relocate the root folder")
	}
	if err := validName(name); err != nil {
		return "", err
	}
	if !s.exists(src) {
		return "", fmt.Errorf("%s: %w", src, remote.ErrNotFound)
	}
	if err := s.requireFolder(parent); err != nil {
		return "", err
	}
	dst := path.Join(parent, name)
	if dst == src || strings.HasPrefix(dst, src+"/") {
		return "", fmt.Errorf("cannot place %s inside itself", src)
	}
	if s.exists(dst) {
		return "", fmt.Errorf("%s: %w", dst, remote.ErrConflict)
	}
	return dst, nil
}

// relocate renames files directly. Folders are copied then removed
// because not every afero filesystem renames directory trees.
func (s *Store) relocate(src, parent, name string) error {
	dst, err := s.destination(src, parent, name)
	if err != nil {
		return err
	}
	info, err := s.fs.Stat(src)
	if err != nil {
		return wrap("stat", src, err)
	}
	if !info.IsDir() {
		if err := s.fs.Rename(src, dst); err != nil {
			return wrap("rename", src, err)
		}
		return nil
	}
	if err := s.copyTree(context.Background(), src, dst); err != nil {
		return err
	}
	return wrap("remove", src, s.fs.RemoveAll(src))
}

func (s *Store) copyTree(ctx context.Context, src, dst string) error {
	return afero.Walk(s.fs, src, func(p string, info fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		target := dst + strings.TrimPrefix(clean(p), src)
		if info.IsDir() {
			return wrap("mkdir", target, s.fs.MkdirAll(target, 0o755))
		}
		f, err := s.fs.Open(p)
		if err != nil {
			return wrap("open", p, err)
		}
		defer f.Close()
		return s.writeAtomic(target, f)
	})
}

func (s *Store) writeAtomic(dst string, body io.Reader) error {
	tmp, err := afero.TempFile(s.fs, path.Dir(dst), tempPrefix+"*.tmp")
	if err != nil {
		return wrap("create temp", dst, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return wrap("write", dst, err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return wrap("close temp", dst, err)
	}
	if err := s.fs.Rename(tmpName, dst); err != nil {
		s.fs.Remove(tmpName)
		return wrap("rename temp", dst, err)
	}
	return nil
}

func readNames(fsys afero.Fs, dir string) ([]string, error) {
	f, err := fsys.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Readdirnames(-1)
}

// fromID decodes an item id to a rooted slash path.
func fromID(id string) string {
	return clean(remote.IDPath(id))
}

// clean normalises a path to a rooted slash path.
func clean(p string) string {
	if p == "" {
		return rootID
	}
	return path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("invalid item name %q", name)
	}
	return nil
}

func wrap(op, p string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s %s: %w", op, p, remote.ErrNotFound)
	}
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s %s: %w", op, p, remote.ErrConflict)
	}
	return fmt.Errorf("%s %s: %w", op, p, err)
}

// sortByName orders items folders first, then by name.
func sortByName(items []remote.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].IsFolder != items[j].IsFolder {
			return items[i].IsFolder
		}
		return items[i].Name < items[j].Name
	})
}
