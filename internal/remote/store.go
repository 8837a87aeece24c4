// Package remote defines the capability interface drivegate needs from a
// hierarchical object store, plus shared errors and decorators.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Item is the metadata a store returns for a file or folder.
type Item struct {
	ID         string
	Name       string
	ParentID   string // empty for the root
	Size       int64
	IsFolder   bool
	ChildCount int // folders only; -1 when the store does not report it
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Store is a remote hierarchical store. Writes may become visible
// asynchronously: Copy and Move in particular only guarantee the request
// was accepted, and callers poll Child until the result appears.
type Store interface {
	// Root returns the top-level folder.
	Root(ctx context.Context) (*Item, error)
	// Item fetches an item by id.
	Item(ctx context.Context, id string) (*Item, error)
	// Child fetches the direct child of parentID called name.
	Child(ctx context.Context, parentID, name string) (*Item, error)
	// Children lists the direct children of a folder.
	Children(ctx context.Context, id string) ([]Item, error)
	// CreateFolder creates name under parentID, failing with ErrConflict
	// when it already exists.
	CreateFolder(ctx context.Context, parentID, name string) (*Item, error)
	// Rename changes an item's name in place.
	Rename(ctx context.Context, id, newName string) error
	// Move reparents an item under parentID with the given name.
	Move(ctx context.Context, id, parentID, name string) error
	// Copy requests a copy of id under parentID with the given name.
	Copy(ctx context.Context, id, parentID, name string) error
	// Delete removes an item and, for folders, everything below it.
	Delete(ctx context.Context, id string) error
	// Content opens a file's bytes.
	Content(ctx context.Context, id string) (io.ReadCloser, error)
	// PutContent writes a file under parentID, replacing any existing file
	// of that name.
	PutContent(ctx context.Context, parentID, name string, body io.Reader, size int64) (*Item, error)
	// Search returns items below rootID whose names contain query.
	Search(ctx context.Context, rootID, query string) ([]Item, error)
	// Type names the backend ("local", "memory", "s3", "graph").
	Type() string
	Close() error
}

var (
	// ErrNotFound is returned when an item does not exist.
	ErrNotFound = errors.New("item not found")
	// ErrConflict is returned when a write collides with an existing item.
	ErrConflict = errors.New("item already exists")
)

// Error is a failed call against a networked store.
type Error struct {
	Op      string
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %d %s: %s", e.Op, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %d: %s", e.Op, e.Status, e.Message)
}

// Unwrap maps well-known statuses onto the package sentinels so callers
// can use errors.Is regardless of backend.
func (e *Error) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	}
	return nil
}

// IsNotFound reports whether err means the item does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// PathID turns a slash path into an item id that contains no "/", so path
// based stores produce ids that survive as single segments of a filterId
// chain or a request path.
func PathID(p string) string {
	return url.PathEscape(p)
}

// IDPath reverses PathID. Unescaped input is returned unchanged.
func IDPath(id string) string {
	if p, err := url.PathUnescape(id); err == nil {
		return p
	}
	return id
}
