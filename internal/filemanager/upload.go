package filemanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/drivegate/internal/access"
	"github.com/fruitsalade/drivegate/internal/events"
	"github.com/fruitsalade/drivegate/internal/logging"
	"github.com/fruitsalade/drivegate/internal/metrics"
	"github.com/fruitsalade/drivegate/internal/models"
	"github.com/fruitsalade/drivegate/internal/remote"
)

// ConflictAction decides what an upload does when the name is taken.
type ConflictAction string

const (
	ConflictSave     ConflictAction = "save"
	ConflictReplace  ConflictAction = "replace"
	ConflictKeepBoth ConflictAction = "keepboth"
	ConflictRemove   ConflictAction = "remove"
)

// ParseConflictAction accepts the wire tokens; empty means save.
func ParseConflictAction(s string) (ConflictAction, error) {
	switch a := ConflictAction(strings.ToLower(s)); a {
	case "":
		return ConflictSave, nil
	case ConflictSave, ConflictReplace, ConflictKeepBoth, ConflictRemove:
		return a, nil
	}
	return "", fmt.Errorf("unknown upload action %q", s)
}

// UploadFile is one part of an upload. Name may contain "/" to place the
// file in nested folders below the destination.
type UploadFile struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// Upload writes files into dest. Files written before a name clash are
// returned in Files even when the call fails with the list of clashes.
func (m *Manager) Upload(ctx context.Context, dest models.DirectoryItem, files []UploadFile, action ConflictAction) (*Result, error) {
	start := time.Now()
	res, err := m.upload(ctx, dest, files, action)
	return m.finish(ctx, ActionUpload, start, res, err, codeRemoteFailure)
}

func (m *Manager) upload(ctx context.Context, dest models.DirectoryItem, files []UploadFile, action ConflictAction) (*Result, error) {
	perm := m.policy.Resolve(dest.PermissionKey(), false)
	if err := m.authorize(ctx, perm, dest.Name, access.Read, access.Upload); err != nil {
		return nil, err
	}

	plans := make([]uploadPlan, 0, len(files))
	for _, f := range files {
		folders, leaf := splitUploadName(f.Name)
		if leaf == "" {
			continue
		}
		plans = append(plans, uploadPlan{file: f, folders: folders, leaf: leaf})
	}
	if err := m.authorizeFolders(ctx, dest, plans); err != nil {
		return nil, err
	}

	var (
		written    []remote.Item
		fileExists []string
		missing    error
		// resolved maps a folder path relative to dest to its store id, so
		// files sharing a folder land in the same one.
		resolved = map[string]string{"": dest.ID}
	)
	for _, p := range plans {
		leaf := p.leaf
		parentID, err := m.materializeAll(ctx, dest.ID, p.folders, action, resolved)
		if errors.Is(err, remote.ErrNotFound) {
			missing = notFound(msgFileNotFound)
			continue
		}
		if err != nil {
			return m.uploadResult(ctx, written), err
		}

		switch action {
		case ConflictRemove:
			if err := m.removeChild(ctx, parentID, leaf); err != nil {
				if !errors.Is(err, remote.ErrNotFound) {
					logging.WithContext(ctx).Warn("upload remove failed", zap.String("name", leaf), zap.Error(err))
				}
				missing = notFound(msgFileNotFound)
			}
			continue
		case ConflictSave:
			exists, err := m.childExists(ctx, parentID, leaf)
			if err != nil {
				return m.uploadResult(ctx, written), err
			}
			if exists {
				fileExists = append(fileExists, leaf)
				continue
			}
		case ConflictKeepBoth:
			name, err := uniqueName(leaf, func(n string) (bool, error) { return m.childExists(ctx, parentID, n) })
			if err != nil {
				return m.uploadResult(ctx, written), err
			}
			leaf = name
		}

		item, err := m.put(ctx, parentID, leaf, p.file)
		if err != nil {
			return m.uploadResult(ctx, written), err
		}
		written = append(written, *item)
	}

	res := m.uploadResult(ctx, written)
	if len(written) > 0 {
		m.publish(events.EventUpload, folderPath(dest), itemNames(written)...)
	}
	if len(fileExists) > 0 {
		return res, conflict(msgFileExists, fileExists)
	}
	if missing != nil {
		return res, missing
	}
	return res, nil
}

type uploadPlan struct {
	file    UploadFile
	folders []string
	leaf    string
}

// authorizeFolders checks read and upload on every folder a nested name
// passes through, before anything is written.
func (m *Manager) authorizeFolders(ctx context.Context, dest models.DirectoryItem, plans []uploadPlan) error {
	base := ""
	if dest.ParentID != "" || dest.FilterPath != "" {
		base = dest.PermissionKey()
	}
	checked := make(map[string]bool)
	for _, p := range plans {
		key := base
		for _, folder := range p.folders {
			key += "/" + folder
			if checked[key] {
				continue
			}
			checked[key] = true
			perm := m.policy.Resolve(key, false)
			if err := m.authorize(ctx, perm, folder, access.Read, access.Upload); err != nil {
				return err
			}
		}
	}
	return nil
}

// materializeAll walks folders below parentID, creating what is missing,
// and returns the id of the innermost one. resolved caches the folders
// this upload has already settled, keyed by their path below the
// destination; the conflict action applies only on first sight.
func (m *Manager) materializeAll(ctx context.Context, parentID string, folders []string, action ConflictAction, resolved map[string]string) (string, error) {
	rel := ""
	for _, folder := range folders {
		if rel == "" {
			rel = folder
		} else {
			rel += "/" + folder
		}
		if id, ok := resolved[rel]; ok {
			parentID = id
			continue
		}
		id, err := m.materialize(ctx, parentID, folder, action)
		if err != nil {
			return "", err
		}
		resolved[rel] = id
		parentID = id
	}
	return parentID, nil
}

// materialize returns the id of folder name under parentID, creating it
// as the conflict action dictates. remove never creates or deletes
// folders: it only follows existing ones to the file it removes.
func (m *Manager) materialize(ctx context.Context, parentID, name string, action ConflictAction) (string, error) {
	existing, err := m.store.Child(ctx, parentID, name)
	if err != nil && !remote.IsNotFound(err) {
		return "", fmt.Errorf("lookup folder %s: %w", name, err)
	}
	if action == ConflictRemove {
		if err != nil || !existing.IsFolder {
			return "", fmt.Errorf("folder %s: %w", name, remote.ErrNotFound)
		}
		return existing.ID, nil
	}
	if err == nil {
		switch action {
		case ConflictSave, ConflictReplace:
			if existing.IsFolder {
				return existing.ID, nil
			}
		case ConflictKeepBoth:
			name, err = uniqueName(name, func(n string) (bool, error) { return m.childExists(ctx, parentID, n) })
			if err != nil {
				return "", err
			}
		}
	}

	created, err := m.store.CreateFolder(ctx, parentID, name)
	if err != nil {
		return "", fmt.Errorf("create folder %s: %w", name, err)
	}
	return created.ID, nil
}

func (m *Manager) removeChild(ctx context.Context, parentID, name string) error {
	existing, err := m.store.Child(ctx, parentID, name)
	if err != nil {
		return err
	}
	return m.store.Delete(ctx, existing.ID)
}

func (m *Manager) childExists(ctx context.Context, parentID, name string) (bool, error) {
	_, err := m.store.Child(ctx, parentID, name)
	if err == nil {
		return true, nil
	}
	if remote.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (m *Manager) put(ctx context.Context, parentID, name string, f UploadFile) (*remote.Item, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload %s: %w", f.Name, err)
	}
	defer rc.Close()

	item, err := m.store.PutContent(ctx, parentID, name, rc, f.Size)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}
	metrics.RecordContentUpload(item.Size)
	return item, nil
}

// uploadResult hydrates what was written. Hydration failures drop the
// item from the listing rather than masking the upload outcome.
func (m *Manager) uploadResult(ctx context.Context, written []remote.Item) *Result {
	files := make([]models.DirectoryItem, 0, len(written))
	for i := range written {
		d, err := m.hydrate(ctx, &written[i])
		if err != nil {
			logging.WithContext(ctx).Warn("hydrate uploaded item", zap.String("name", written[i].Name), zap.Error(err))
			continue
		}
		files = append(files, d)
	}
	return &Result{Files: files}
}

// splitUploadName strips "../" and splits a client file name into its
// folder segments and leaf name.
func splitUploadName(name string) (folders []string, leaf string) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.ReplaceAll(name, "../", "")
	var segs []string
	for _, s := range strings.Split(name, "/") {
		if s != "" && s != "." && s != ".." {
			segs = append(segs, s)
		}
	}
	if len(segs) == 0 {
		return nil, ""
	}
	return segs[:len(segs)-1], segs[len(segs)-1]
}

func itemNames(items []remote.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}
