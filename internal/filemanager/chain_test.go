package filemanager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/drivegate/internal/remote"
)

// cycleStore reports every item as its own parent.
type cycleStore struct {
	remote.Store
	calls int
}

func (c *cycleStore) Item(_ context.Context, id string) (*remote.Item, error) {
	c.calls++
	return &remote.Item{ID: id, Name: "loop", ParentID: id, IsFolder: true}, nil
}

// brokenStore fails every parent lookup.
type brokenStore struct {
	remote.Store
}

func (brokenStore) Item(context.Context, string) (*remote.Item, error) {
	return nil, errors.New("store offline")
}

func TestChainRootHasEmptyChain(t *testing.T) {
	c := NewChainResolver(seedStore(t), 0)
	id, p, err := c.Resolve(context.Background(), &remote.Item{ID: "r", Name: "Files"})
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Empty(t, p)
}

func TestChainTopLevelItem(t *testing.T) {
	s := seedStore(t)
	c := NewChainResolver(s, 0)
	it, err := s.Item(context.Background(), remote.PathID("/media"))
	require.NoError(t, err)

	id, p, err := c.Resolve(context.Background(), it)
	require.NoError(t, err)
	assert.Equal(t, remote.PathID("/")+"/", id)
	assert.Equal(t, "/", p)
}

func TestChainCycleHitsMaxDepth(t *testing.T) {
	s := &cycleStore{}
	c := NewChainResolver(s, 5)
	_, _, err := c.Resolve(context.Background(), &remote.Item{ID: "a", Name: "a", ParentID: "a"})
	require.ErrorIs(t, err, ErrChainTooDeep)
	assert.Equal(t, 5, s.calls)
}

func TestChainDefaultDepth(t *testing.T) {
	c := NewChainResolver(nil, -1)
	assert.Equal(t, DefaultMaxDepth, c.maxDepth)
}

func TestChainPropagatesStoreErrors(t *testing.T) {
	c := NewChainResolver(brokenStore{}, 0)
	_, _, err := c.Resolve(context.Background(), &remote.Item{ID: "a", Name: "a", ParentID: "p"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrChainTooDeep)
}

func TestWithMaxDepthOption(t *testing.T) {
	s := &cycleStore{}
	m := New(s, nil, WithMaxDepth(3))
	_, err := m.hydrate(context.Background(), &remote.Item{ID: "a", Name: "a", ParentID: "a"})
	require.ErrorIs(t, err, ErrChainTooDeep)
	assert.Equal(t, 3, s.calls)
}
