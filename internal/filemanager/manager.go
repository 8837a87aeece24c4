// Package filemanager runs file-manager operations against a remote
// store, enforcing the access policy and reconciling the store's
// asynchronous writes into a single consistent result.
package filemanager

import (
	"context"
	"path"
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

// Publisher receives change events after successful mutations.
type Publisher interface {
	Publish(events.Event)
}

// Result is the outcome of a successful operation. Operations that fail
// part way may still return a Result alongside the error.
type Result struct {
	CWD     *models.DirectoryItem
	Files   []models.DirectoryItem
	Details *models.FileDetails
}

// Manager executes operations for one policy view. It holds no mutable
// state, so a single Manager serves concurrent requests.
type Manager struct {
	store     remote.Store
	policy    *access.Policy
	chain     *ChainResolver
	poll      retry.Config
	publisher Publisher
}

// Option configures a Manager.
type Option func(*Manager)

// WithPollConfig sets the backoff used while waiting for copies and moves.
func WithPollConfig(cfg retry.Config) Option {
	return func(m *Manager) { m.poll = cfg }
}

// WithMaxDepth bounds the parent walk.
func WithMaxDepth(depth int) Option {
	return func(m *Manager) { m.chain = NewChainResolver(m.store, depth) }
}

// WithPublisher sends change events to p.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// New creates a Manager. A nil policy restricts nothing.
func New(store remote.Store, policy *access.Policy, opts ...Option) *Manager {
	if policy == nil {
		policy = access.NewPolicy(nil, "")
	}
	m := &Manager{
		store:  store,
		policy: policy,
		chain:  NewChainResolver(store, DefaultMaxDepth),
		poll:   retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithPolicy returns a copy of m bound to p, typically p.WithRole(role)
// for the caller of one request.
func (m *Manager) WithPolicy(p *access.Policy) *Manager {
	cp := *m
	cp.policy = p
	return &cp
}

func (m *Manager) Policy() *access.Policy { return m.policy }

func (m *Manager) Store() remote.Store { return m.store }

// permission resolves the policy for an item described by the client.
func (m *Manager) permission(d models.DirectoryItem) *access.Permission {
	return m.policy.Resolve(d.PermissionKey(), d.IsFile)
}

// authorize checks caps against perm. The denial names the last
// capability, which is the one specific to the operation.
func (m *Manager) authorize(ctx context.Context, perm *access.Permission, name string, caps ...access.Capability) error {
	ok := perm.Allows(caps...)
	metrics.RecordPermissionCheck(ok)
	if ok {
		return nil
	}
	logging.WithContext(ctx).Info("access denied",
		zap.String("role", m.policy.Role()),
		zap.String("name", name),
		zap.Stringer("capability", caps[len(caps)-1]))
	return denial(perm, genericDenial(name, caps[len(caps)-1]))
}

// hydrate converts a store item into a DirectoryItem with its derived
// fields filled in.
func (m *Manager) hydrate(ctx context.Context, it *remote.Item) (models.DirectoryItem, error) {
	d := models.DirectoryItem{
		ID:           it.ID,
		Name:         it.Name,
		ParentID:     it.ParentID,
		Size:         it.Size,
		IsFile:       !it.IsFolder,
		DateCreated:  it.CreatedAt,
		DateModified: it.ModifiedAt,
		Type:         path.Ext(it.Name),
	}
	filterID, filterPath, err := m.chain.Resolve(ctx, it)
	if err != nil {
		return d, err
	}
	d.FilterID = filterID
	d.FilterPath = filterPath
	d.Permission = m.policy.Resolve(d.PermissionKey(), d.IsFile)

	if it.IsFolder && it.ChildCount != 0 {
		children, err := m.store.Children(ctx, it.ID)
		if err != nil {
			return d, err
		}
		for _, c := range children {
			if c.IsFolder {
				d.HasChild = true
				break
			}
		}
	}
	return d, nil
}

func (m *Manager) hydrateAll(ctx context.Context, items []remote.Item, showHidden bool) ([]models.DirectoryItem, error) {
	out := make([]models.DirectoryItem, 0, len(items))
	for i := range items {
		if !showHidden && hidden(items[i].Name) {
			continue
		}
		d, err := m.hydrate(ctx, &items[i])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func (m *Manager) publish(typ, logicalPath string, names ...string) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(events.Event{
		Type:  typ,
		Path:  logicalPath,
		Names: names,
		Role:  m.policy.Role(),
	})
}

// finish classifies err, records the outcome and logs it.
func (m *Manager) finish(ctx context.Context, action Action, start time.Time, res *Result, err error, failureCode int) (*Result, error) {
	elapsed := time.Since(start)
	if err == nil {
		metrics.RecordOperation(action.String(), "success", elapsed)
		logging.WithContext(ctx).Debug("operation completed",
			zap.Stringer("action", action),
			zap.Duration("duration", elapsed))
		return res, nil
	}

	fe := classify(err, failureCode)
	metrics.RecordOperation(action.String(), fe.Kind.String(), elapsed)
	if fe.Kind == KindRemoteFailure || fe.Kind == KindRemoteTimeout {
		logging.WithContext(ctx).Warn("operation failed",
			zap.Stringer("action", action),
			zap.Stringer("kind", fe.Kind),
			zap.Int("code", fe.Code),
			zap.Error(err))
	}
	return res, fe
}

// folderPath is the logical path of the folder d, used for events.
func folderPath(d models.DirectoryItem) string {
	if d.ParentID == "" && d.FilterPath == "" {
		return "/"
	}
	return d.FilterPath + d.Name + "/"
}

func names(items []models.DirectoryItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}
