package filemanager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fruitsalade/drivegate/internal/access"
	"github.com/fruitsalade/drivegate/internal/remote"
)

// sniffLen is how much of the content is read to detect its type.
const sniffLen = 3072

// Content is an opened file body with its detected type. The caller
// closes Body.
type Content struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// Image opens the file id for inline display. It requires read on the
// item.
func (m *Manager) Image(ctx context.Context, id string) (*Content, error) {
	start := time.Now()
	c, err := m.image(ctx, id)
	_, err = m.finish(ctx, ActionImage, start, nil, err, codeRemoteFailure)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (m *Manager) image(ctx context.Context, id string) (*Content, error) {
	item, err := m.store.Item(ctx, id)
	if err != nil {
		if remote.IsNotFound(err) {
			return nil, notFound(msgFileNotFound)
		}
		return nil, fmt.Errorf("lookup image %s: %w", id, err)
	}
	if item.IsFolder {
		return nil, notFound(msgFileNotFound)
	}

	_, filterPath, err := m.chain.Resolve(ctx, item)
	if err != nil {
		return nil, err
	}
	perm := m.policy.Resolve(filterPath+item.Name, true)
	if err := m.authorize(ctx, perm, item.Name, access.Read); err != nil {
		return nil, err
	}

	rc, err := m.store.Content(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", item.Name, err)
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		rc.Close()
		return nil, fmt.Errorf("read image %s: %w", item.Name, err)
	}
	head = head[:n]

	return &Content{
		Name:        item.Name,
		ContentType: mimetype.Detect(head).String(),
		Size:        item.Size,
		Body: struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(head), rc), rc},
	}, nil
}
