package filemanager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/fruitsalade/drivegate/internal/remote"
)

// DefaultMaxDepth bounds the parent walk.
const DefaultMaxDepth = 64

// ErrChainTooDeep is returned when an item has more ancestors than the
// resolver allows, which also catches parent cycles.
var ErrChainTooDeep = errors.New("parent chain exceeds maximum depth")

// ChainResolver derives filterId and filterPath by walking parent links.
// Nothing is cached; every call goes back to the store.
type ChainResolver struct {
	store    remote.Store
	maxDepth int
}

func NewChainResolver(store remote.Store, maxDepth int) *ChainResolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &ChainResolver{store: store, maxDepth: maxDepth}
}

// Resolve returns the ancestor id chain and ancestor name path of item.
// Both are empty for an item without a parent. Names exclude the root.
func (c *ChainResolver) Resolve(ctx context.Context, item *remote.Item) (filterID, filterPath string, err error) {
	if item.ParentID == "" {
		return "", "", nil
	}

	var ids, names []string
	cur := item
	for depth := 0; cur.ParentID != ""; depth++ {
		if depth >= c.maxDepth {
			return "", "", fmt.Errorf("resolve %s: %w", item.Name, ErrChainTooDeep)
		}
		ids = append(ids, cur.ParentID)
		parent, err := c.store.Item(ctx, cur.ParentID)
		if err != nil {
			return "", "", fmt.Errorf("resolve parent %s: %w", cur.ParentID, err)
		}
		if parent.ParentID != "" {
			names = append(names, parent.Name)
		}
		cur = parent
	}

	slices.Reverse(ids)
	slices.Reverse(names)

	filterID = strings.Join(ids, "/") + "/"
	filterPath = "/" + strings.Join(names, "/")
	if len(names) > 0 {
		filterPath += "/"
	}
	return filterID, filterPath, nil
}

