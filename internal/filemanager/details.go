package filemanager

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fruitsalade/drivegate/internal/models"
)

var sizeUnits = [...]string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}

// Details summarizes the selected items. It needs no capability and makes
// no store calls; the permission is resolved from the policy rather than
// echoed back from the client.
func (m *Manager) Details(ctx context.Context, items []models.DirectoryItem) (*Result, error) {
	start := time.Now()
	res, err := m.details(items)
	return m.finish(ctx, ActionDetails, start, res, err, codeRemoteFailure)
}

func (m *Manager) details(items []models.DirectoryItem) (*Result, error) {
	if len(items) == 0 {
		return nil, notFound(msgFileNotFound)
	}

	first := items[0]
	if len(items) == 1 {
		return &Result{Details: &models.FileDetails{
			Name:       first.Name,
			Location:   location(first),
			IsFile:     first.IsFile,
			Size:       byteConversion(first.Size),
			Created:    first.DateCreated,
			Modified:   first.DateModified,
			Permission: m.permission(first),
		}}, nil
	}

	var total int64
	for _, it := range items {
		total += it.Size
	}
	return &Result{Details: &models.FileDetails{
		Name:          strings.Join(names(items), ", "),
		Location:      location(first),
		Size:          byteConversion(total),
		MultipleFiles: true,
	}}, nil
}

func location(d models.DirectoryItem) string {
	if d.ParentID == "" || d.ParentID == "/" {
		return "root"
	}
	return "root" + strings.TrimRight(d.FilterPath, "/")
}

// byteConversion renders size in 1024-based units with at most one
// decimal, e.g. "0 B", "1.5 KB", "1 MB".
func byteConversion(size int64) string {
	if size == 0 {
		return "0 " + sizeUnits[0]
	}
	sign := 1.0
	if size < 0 {
		sign = -1
	}
	v := math.Abs(float64(size))
	unit := 0
	for v >= 1024 && unit < len(sizeUnits)-1 {
		v /= 1024
		unit++
	}
	v = math.Round(v*10) / 10
	return strconv.FormatFloat(sign*v, 'f', -1, 64) + " " + sizeUnits[unit]
}
