package filemanager

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/fruitsalade/drivegate/internal/access"
	"github.com/fruitsalade/drivegate/internal/metrics"
	"github.com/fruitsalade/drivegate/internal/models"
	"github.com/fruitsalade/drivegate/internal/remote"
)

const (
	archiveName         = "SelectedFiles.zip"
	downloadContentType = "application/octet-stream"
)

// Download is an authorized download waiting to be streamed.
type Download struct {
	Name        string
	ContentType string

	m     *Manager
	items []remote.Item
	// single is set when exactly one file is streamed as is.
	single bool
}

// Download authorizes items and looks them up. Nothing is streamed until
// WriteTo is called, so every check completes before the first byte.
func (m *Manager) Download(ctx context.Context, items []models.DirectoryItem) (*Download, error) {
	start := time.Now()
	d, err := m.download(ctx, items)
	_, err = m.finish(ctx, ActionDownload, start, nil, err, codeRemoteFailure)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (m *Manager) download(ctx context.Context, items []models.DirectoryItem) (*Download, error) {
	if len(items) == 0 {
		return nil, notFound(msgFileNotFound)
	}
	for _, it := range items {
		perm := m.permission(it)
		ok := perm.Allows(access.Read, access.Download)
		metrics.RecordPermissionCheck(ok)
		if !ok {
			return nil, denial(perm, downloadDenial(it.Name))
		}
	}

	resolved := make([]remote.Item, 0, len(items))
	for _, it := range items {
		item, err := m.store.Item(ctx, it.ID)
		if err != nil {
			if remote.IsNotFound(err) {
				return nil, notFound(msgFileNotFound)
			}
			return nil, fmt.Errorf("lookup %s: %w", it.Name, err)
		}
		resolved = append(resolved, *item)
	}

	d := &Download{Name: archiveName, ContentType: downloadContentType, m: m, items: resolved}
	if len(resolved) == 1 && !resolved[0].IsFolder {
		d.Name = resolved[0].Name
		d.single = true
	}
	return d, nil
}

// WriteTo streams the file or the zip archive to w.
func (d *Download) WriteTo(ctx context.Context, w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	var err error
	if d.single {
		err = d.m.copyContent(ctx, cw, d.items[0].ID)
	} else {
		err = d.writeArchive(ctx, cw)
	}
	metrics.RecordContentDownload(cw.n)
	return cw.n, err
}

func (d *Download) writeArchive(ctx context.Context, w io.Writer) error {
	zw := zip.NewWriter(w)
	for _, it := range d.items {
		var err error
		if it.IsFolder {
			err = d.addFolder(ctx, zw, it, it.Name)
		} else {
			err = d.addFile(ctx, zw, it, it.Name)
		}
		if err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func (d *Download) addFile(ctx context.Context, zw *zip.Writer, it remote.Item, name string) error {
	entry, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: it.ModifiedAt,
	})
	if err != nil {
		return fmt.Errorf("zip entry %s: %w", name, err)
	}
	return d.m.copyContent(ctx, entry, it.ID)
}

// addFolder writes a "name/" entry and then the folder's contents.
func (d *Download) addFolder(ctx context.Context, zw *zip.Writer, it remote.Item, name string) error {
	if _, err := zw.Create(name + "/"); err != nil {
		return fmt.Errorf("zip folder %s: %w", name, err)
	}
	children, err := d.m.store.Children(ctx, it.ID)
	if err != nil {
		return fmt.Errorf("list %s: %w", name, err)
	}
	for _, c := range children {
		childName := path.Join(name, c.Name)
		if c.IsFolder {
			err = d.addFolder(ctx, zw, c, childName)
		} else {
			err = d.addFile(ctx, zw, c, childName)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) copyContent(ctx context.Context, w io.Writer, id string) error {
	rc, err := m.store.Content(ctx, id)
	if err != nil {
		return fmt.Errorf("open content %s: %w", id, err)
	}
	defer rc.Close()
	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("copy content %s: %w", id, err)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
