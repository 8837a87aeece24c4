package filemanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fruitsalade/drivegate/internal/access"
	"github.com/fruitsalade/drivegate/internal/events"
	"github.com/fruitsalade/drivegate/internal/models"
	"github.com/fruitsalade/drivegate/internal/remote"
)

// Read lists the folder named by p. p is "/" (or empty) for the root;
// otherwise its last non-empty segment is the folder id.
func (m *Manager) Read(ctx context.Context, p string, showHidden bool) (*Result, error) {
	start := time.Now()
	res, err := m.read(ctx, p, showHidden)
	return m.finish(ctx, ActionRead, start, res, err, codeRemoteFailure)
}

func (m *Manager) read(ctx context.Context, p string, showHidden bool) (*Result, error) {
	var (
		item *remote.Item
		err  error
	)
	if id := lastSegment(p); id == "" {
		item, err = m.store.Root(ctx)
	} else {
		item, err = m.store.Item(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}

	cwd, err := m.hydrate(ctx, item)
	if err != nil {
		return nil, err
	}
	res := &Result{CWD: &cwd}
	if err := m.authorize(ctx, cwd.Permission, cwd.Name, access.Read); err != nil {
		return res, err
	}

	children, err := m.store.Children(ctx, item.ID)
	if err != nil {
		return res, fmt.Errorf("list %s: %w", cwd.Name, err)
	}
	files, err := m.hydrateAll(ctx, children, showHidden)
	if err != nil {
		return res, err
	}
	res.Files = files
	return res, nil
}

func lastSegment(p string) string {
	segs := strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// Delete removes items in order. Items deleted before a failure stay
// deleted and are announced, but the failed call returns no files.
func (m *Manager) Delete(ctx context.Context, items []models.DirectoryItem) (*Result, error) {
	start := time.Now()
	res, err := m.delete(ctx, items)
	return m.finish(ctx, ActionDelete, start, res, err, codeRemoteFailure)
}

func (m *Manager) delete(ctx context.Context, items []models.DirectoryItem) (*Result, error) {
	deleted := make([]models.DirectoryItem, 0, len(items))
	var err error
	for _, it := range items {
		if err = m.authorize(ctx, m.permission(it), it.Name, access.Read, access.Write); err != nil {
			break
		}
		if err = m.store.Delete(ctx, it.ID); err != nil {
			err = fmt.Errorf("delete %s: %w", it.Name, err)
			break
		}
		deleted = append(deleted, it)
	}
	if len(deleted) > 0 {
		m.publish(events.EventDelete, deleted[0].FilterPath, names(deleted)...)
	}
	if err != nil {
		return nil, err
	}
	return &Result{Files: deleted}, nil
}

// Create makes folder name inside parent.
func (m *Manager) Create(ctx context.Context, parent models.DirectoryItem, name string) (*Result, error) {
	start := time.Now()
	res, err := m.create(ctx, parent, name)
	return m.finish(ctx, ActionCreate, start, res, err, codeRemoteFailure)
}

func (m *Manager) create(ctx context.Context, parent models.DirectoryItem, name string) (*Result, error) {
	collision := conflict(fmt.Sprintf("A file or folder with the name %s already exists.", name), nil)

	siblings, err := m.store.Children(ctx, parent.ID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", parent.Name, err)
	}
	if containsFold(siblings, name) {
		return nil, collision
	}
	if err := m.authorize(ctx, m.permission(parent), name, access.Read, access.WriteContents); err != nil {
		return nil, err
	}

	if _, err := m.store.CreateFolder(ctx, parent.ID, name); err != nil {
		if errors.Is(err, remote.ErrConflict) {
			return nil, collision
		}
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	created, err := m.store.Child(ctx, parent.ID, name)
	if err != nil {
		return nil, fmt.Errorf("fetch created %s: %w", name, err)
	}
	d, err := m.hydrate(ctx, created)
	if err != nil {
		return nil, err
	}
	m.publish(events.EventCreate, d.FilterPath, d.Name)
	return &Result{Files: []models.DirectoryItem{d}}, nil
}

// Rename changes item's name to newName. name is the display name used in
// messages and defaults to the item's own name.
func (m *Manager) Rename(ctx context.Context, item models.DirectoryItem, name, newName string) (*Result, error) {
	start := time.Now()
	res, err := m.rename(ctx, item, name, newName)
	return m.finish(ctx, ActionRename, start, res, err, codeRemoteFailure)
}

func (m *Manager) rename(ctx context.Context, item models.DirectoryItem, name, newName string) (*Result, error) {
	if name == "" {
		name = item.Name
	}
	if err := m.authorize(ctx, m.permission(item), name, access.Read, access.Write); err != nil {
		return nil, err
	}
	if item.ParentID == "" {
		return nil, denied(MsgRootRestricted)
	}

	collision := conflict(fmt.Sprintf("Cannot rename %s to %s: destination already exists.", name, newName), nil)
	siblings, err := m.store.Children(ctx, item.ParentID)
	if err != nil {
		return nil, fmt.Errorf("list siblings of %s: %w", name, err)
	}
	if containsFold(siblings, newName) {
		return nil, collision
	}

	if err := m.store.Rename(ctx, item.ID, newName); err != nil {
		if errors.Is(err, remote.ErrConflict) {
			return nil, collision
		}
		return nil, fmt.Errorf("rename %s: %w", name, err)
	}
	renamed, err := m.store.Child(ctx, item.ParentID, newName)
	if err != nil {
		return nil, fmt.Errorf("fetch renamed %s: %w", newName, err)
	}
	d, err := m.hydrate(ctx, renamed)
	if err != nil {
		return nil, err
	}
	m.publish(events.EventRename, d.FilterPath, name, newName)
	return &Result{Files: []models.DirectoryItem{d}}, nil
}

func containsFold(items []remote.Item, name string) bool {
	for _, it := range items {
		if strings.EqualFold(it.Name, name) {
			return true
		}
	}
	return false
}
