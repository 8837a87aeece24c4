package filemanager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fruitsalade/drivegate/internal/access"
	"github.com/fruitsalade/drivegate/internal/models"
	"github.com/fruitsalade/drivegate/internal/remote"
)

// Search finds items below root whose name equals term once surrounding
// "*" wildcards are stripped.
func (m *Manager) Search(ctx context.Context, root models.DirectoryItem, term string, caseSensitive, showHidden bool) (*Result, error) {
	start := time.Now()
	res, err := m.search(ctx, root, term, caseSensitive, showHidden)
	return m.finish(ctx, ActionSearch, start, res, err, codeRemoteFailure)
}

func (m *Manager) search(ctx context.Context, root models.DirectoryItem, term string, caseSensitive, showHidden bool) (*Result, error) {
	if err := m.authorize(ctx, m.permission(root), root.Name, access.Read); err != nil {
		return nil, err
	}

	q := strings.Trim(term, "*")
	found, err := m.store.Search(ctx, root.ID, q)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", q, err)
	}

	matches := make([]remote.Item, 0, len(found))
	for _, it := range found {
		if nameMatches(it.Name, q, caseSensitive) {
			matches = append(matches, it)
		}
	}
	files, err := m.hydrateAll(ctx, matches, showHidden)
	if err != nil {
		return nil, err
	}
	cwd := root
	return &Result{CWD: &cwd, Files: files}, nil
}

func nameMatches(name, q string, caseSensitive bool) bool {
	if caseSensitive {
		return name == q
	}
	return strings.EqualFold(name, q)
}
