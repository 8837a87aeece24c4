package filemanager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/drivegate/internal/access"
	"github.com/fruitsalade/drivegate/internal/events"
	"github.com/fruitsalade/drivegate/internal/models"
	"github.com/fruitsalade/drivegate/internal/remote"
	"github.com/fruitsalade/drivegate/internal/remote/fsstore"
	"github.com/fruitsalade/drivegate/internal/retry"
)

// fastPoll keeps poll-driven tests quick.
var fastPoll = retry.Config{
	MaxAttempts: 3,
	InitialWait: time.Millisecond,
	MaxWait:     2 * time.Millisecond,
	Multiplier:  1,
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) last(t *testing.T) events.Event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.events)
	return r.events[len(r.events)-1]
}

func seedStore(t *testing.T) *fsstore.Store {
	t.Helper()
	s := fsstore.NewMemory("Files")
	fs := s.Fs()
	require.NoError(t, fs.MkdirAll("/docs/reports", 0o755))
	require.NoError(t, fs.MkdirAll("/media", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/docs/readme.txt", []byte("hello"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/docs/reports/q1.pdf", []byte("pdf-bytes"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/docs/.secret", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/media/photo.png", pngBytes, 0o644))
	return s
}

func newTestManager(t *testing.T, rules []access.Rule, opts ...Option) (*Manager, *fsstore.Store, *recorder) {
	t.Helper()
	s := seedStore(t)
	rec := &recorder{}
	opts = append([]Option{WithPollConfig(fastPoll), WithPublisher(rec)}, opts...)
	return New(s, access.NewPolicy(rules, "editor"), opts...), s, rec
}

// lookup returns the hydrated item at p.
func lookup(t *testing.T, m *Manager, p string) models.DirectoryItem {
	t.Helper()
	it, err := m.store.Item(context.Background(), remote.PathID(p))
	require.NoError(t, err)
	d, err := m.hydrate(context.Background(), it)
	require.NoError(t, err)
	return d
}

func requireKind(t *testing.T, err error, kind Kind, code int) *Error {
	t.Helper()
	var fe *Error
	require.True(t, errors.As(err, &fe), "expected *Error, got %v", err)
	assert.Equal(t, kind, fe.Kind)
	assert.Equal(t, code, fe.Code)
	return fe
}

func TestHydrateDerivedFields(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	root := lookup(t, m, "/")
	assert.Empty(t, root.FilterID)
	assert.Empty(t, root.FilterPath)
	assert.True(t, root.HasChild)
	assert.Nil(t, root.Permission)

	docs := lookup(t, m, "/docs")
	assert.Equal(t, remote.PathID("/")+"/", docs.FilterID)
	assert.Equal(t, "/", docs.FilterPath)
	assert.True(t, docs.HasChild)
	assert.False(t, docs.IsFile)

	q1 := lookup(t, m, "/docs/reports/q1.pdf")
	assert.Equal(t, remote.PathID("/")+"/"+remote.PathID("/docs")+"/"+remote.PathID("/docs/reports")+"/", q1.FilterID)
	assert.Equal(t, "/docs/reports/", q1.FilterPath)
	assert.Equal(t, ".pdf", q1.Type)
	assert.Equal(t, "/docs/reports/q1.pdf", q1.PermissionKey())

	reports := lookup(t, m, "/docs/reports")
	assert.False(t, reports.HasChild)
}

func TestNewNilPolicyIsPermissive(t *testing.T) {
	m := New(seedStore(t), nil)
	assert.Nil(t, m.Policy().Resolve("/docs", false))
}

func TestWithPolicyCopies(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	p := access.NewPolicy([]access.Rule{}, "viewer")
	scoped := m.WithPolicy(p)
	assert.Same(t, p, scoped.Policy())
	assert.NotSame(t, m.Policy(), scoped.Policy())
	assert.Same(t, m.Store(), scoped.Store())
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{"read", ActionRead, false},
		{"delete", ActionDelete, false},
		{"copy", ActionCopy, false},
		{"move", ActionMove, false},
		{"details", ActionDetails, false},
		{"create", ActionCreate, false},
		{"search", ActionSearch, false},
		{"rename", ActionRename, false},
		{"upload", 0, true},
		{"Read", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseAction(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.in, got.String())
	}
	assert.Equal(t, "action(99)", Action(99).String())
}

func TestExecuteUnknownAction(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	_, err := m.Execute(context.Background(), Request{Action: Action(99)})
	require.Error(t, err)
}

func TestExecuteMissingArguments(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	ctx := context.Background()
	for _, a := range []Action{ActionCopy, ActionMove, ActionCreate, ActionSearch, ActionRename} {
		_, err := m.Execute(ctx, Request{Action: a})
		requireKind(t, err, KindNotFound, 404)
	}
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil, 417))

	fe := classify(errors.New("boom"), 417)
	assert.Equal(t, KindRemoteFailure, fe.Kind)
	assert.Equal(t, 417, fe.Code)
	assert.Equal(t, "boom", fe.Message)

	fe = classify(errors.New("boom"), 404)
	assert.Equal(t, 404, fe.Code)

	fe = classify(retry.ErrExhausted, 404)
	assert.Equal(t, KindRemoteTimeout, fe.Kind)
	assert.Equal(t, 504, fe.Code)

	fe = classify(context.DeadlineExceeded, 417)
	assert.Equal(t, KindRemoteTimeout, fe.Kind)

	orig := conflict("x", []string{"a"})
	assert.Same(t, orig, classify(orig, 417))
}

func TestDenialMessages(t *testing.T) {
	assert.Equal(t,
		"'a.txt' is not accessible. You need permission to perform the write action.",
		denial(&access.Permission{}, genericDenial("a.txt", access.Write)).Message)
	assert.Equal(t, "Ask an admin.",
		denial(&access.Permission{Message: "Ask an admin."}, genericDenial("a.txt", access.Write)).Message)
	assert.Equal(t, "'a.txt' is not accessible. Access is denied.", downloadDenial("a.txt"))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "access_denied", KindAccessDenied.String())
	assert.Equal(t, "name_conflict", KindNameConflict.String())
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, "remote_timeout", KindRemoteTimeout.String())
	assert.Equal(t, "remote_failure", KindRemoteFailure.String())
}
