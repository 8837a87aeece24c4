package filemanager

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/drivegate/internal/access"
	"github.com/fruitsalade/drivegate/internal/events"
	"github.com/fruitsalade/drivegate/internal/logging"
	"github.com/fruitsalade/drivegate/internal/metrics"
	"github.com/fruitsalade/drivegate/internal/models"
	"github.com/fruitsalade/drivegate/internal/remote"
	"github.com/fruitsalade/drivegate/internal/retry"
)

// maxUniqueAttempts bounds the search for a free "name(n).ext".
const maxUniqueAttempts = 1000

// Copy copies items into target. Names listed in renameFiles that already
// exist in target are copied under a unique name instead of failing.
func (m *Manager) Copy(ctx context.Context, items []models.DirectoryItem, target models.DirectoryItem, renameFiles []string) (*Result, error) {
	start := time.Now()
	res, err := m.transfer(ctx, ActionCopy, items, target, renameFiles)
	return m.finish(ctx, ActionCopy, start, res, err, codeNotFound)
}

// Move reparents items under target, with the same naming rules as Copy.
func (m *Manager) Move(ctx context.Context, items []models.DirectoryItem, target models.DirectoryItem, renameFiles []string) (*Result, error) {
	start := time.Now()
	res, err := m.transfer(ctx, ActionMove, items, target, renameFiles)
	return m.finish(ctx, ActionMove, start, res, err, codeNotFound)
}

func (m *Manager) transfer(ctx context.Context, action Action, items []models.DirectoryItem, target models.DirectoryItem, renameFiles []string) (*Result, error) {
	capability := access.Copy
	if action == ActionMove {
		capability = access.Write
	}
	for _, it := range items {
		if err := m.authorize(ctx, m.permission(it), it.Name, access.Read, capability); err != nil {
			return nil, err
		}
	}

	targetItem, err := m.store.Item(ctx, target.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch target %s: %w", target.Name, err)
	}
	targetChain, _, err := m.chain.Resolve(ctx, targetItem)
	if err != nil {
		return nil, err
	}
	ancestors := strings.Split(strings.TrimSuffix(targetChain, "/"), "/")
	for _, it := range items {
		if it.ID == targetItem.ID || slices.Contains(ancestors, it.ID) {
			return nil, conflict("The destination folder is the subfolder of the source folder.", nil)
		}
	}

	existing, err := m.store.Children(ctx, targetItem.ID)
	if err != nil {
		return nil, fmt.Errorf("list target %s: %w", target.Name, err)
	}
	taken := make(map[string]bool, len(existing))
	for _, e := range existing {
		taken[strings.ToLower(e.Name)] = true
	}

	var clashes []string
	for _, it := range items {
		if taken[strings.ToLower(it.Name)] && !slices.Contains(renameFiles, it.Name) {
			clashes = append(clashes, it.Name)
		}
	}
	if len(clashes) > 0 {
		return nil, conflict(msgFileExists, clashes)
	}

	destNames := make([]string, len(items))
	for i, it := range items {
		name := it.Name
		if taken[strings.ToLower(name)] {
			name, err = uniqueName(name, func(n string) (bool, error) { return taken[strings.ToLower(n)], nil })
			if err != nil {
				return nil, err
			}
		}
		taken[strings.ToLower(name)] = true
		destNames[i] = name

		if action == ActionCopy {
			err = m.store.Copy(ctx, it.ID, targetItem.ID, name)
		} else {
			err = m.store.Move(ctx, it.ID, targetItem.ID, name)
		}
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", action, it.Name, err)
		}
	}

	files := make([]models.DirectoryItem, 0, len(items))
	for _, name := range destNames {
		landed, err := m.awaitChild(ctx, action, targetItem.ID, name)
		if err != nil {
			return nil, err
		}
		d, err := m.hydrate(ctx, landed)
		if err != nil {
			return nil, err
		}
		files = append(files, d)
	}

	evt := events.EventCopy
	if action == ActionMove {
		evt = events.EventMove
	}
	if len(files) > 0 {
		m.publish(evt, files[0].FilterPath, destNames...)
	}
	return &Result{Files: files}, nil
}

// awaitChild polls until parentID has a child called name. Every lookup
// error is treated as "not there yet".
func (m *Manager) awaitChild(ctx context.Context, action Action, parentID, name string) (*remote.Item, error) {
	attempts := 0
	item, err := retry.DoWithResult(ctx, m.poll, func() (*remote.Item, error) {
		attempts++
		it, err := m.store.Child(ctx, parentID, name)
		if err != nil {
			return nil, retry.Retryable(err)
		}
		return it, nil
	})
	metrics.RecordPoll(action.String(), attempts, err == nil)
	if err != nil {
		logging.WithContext(ctx).Warn("transferred item did not appear",
			zap.Stringer("action", action),
			zap.String("name", name),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return nil, fmt.Errorf("await %s: %w", name, err)
	}
	return item, nil
}

// uniqueName returns name, or the first "base(n).ext" for which taken
// reports false.
func uniqueName(name string, taken func(string) (bool, error)) (string, error) {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := name
	for n := 1; n <= maxUniqueAttempts; n++ {
		used, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !used {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s(%d)%s", base, n, ext)
	}
	return "", fmt.Errorf("no free name for %s after %d attempts", name, maxUniqueAttempts)
}
