// Package models contains the file-manager data types shared by the
// orchestrator and the HTTP layer.
package models

import (
	"time"

	"github.com/fruitsalade/drivegate/internal/access"
)

// DirectoryItem is a file or folder as the file-manager client sees it.
type DirectoryItem struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ParentID     string    `json:"parentId"`
	Size         int64     `json:"size"`
	IsFile       bool      `json:"isFile"`
	DateCreated  time.Time `json:"dateCreated"`
	DateModified time.Time `json:"dateModified"`
	HasChild     bool      `json:"hasChild"`
	Type         string    `json:"type"`
	// FilterID is the slash-joined ancestor ids, root first, with a
	// trailing slash. Empty for the root.
	FilterID string `json:"filterId"`
	// FilterPath is the slash-joined ancestor names below the root,
	// starting and ending with a slash. Empty for the root.
	FilterPath string             `json:"filterPath"`
	Permission *access.Permission `json:"permission"`
}

// PermissionKey is the logical path rules are matched against.
func (d DirectoryItem) PermissionKey() string {
	return d.FilterPath + d.Name
}

// FileDetails summarizes one or more selected items.
type FileDetails struct {
	Name          string             `json:"name"`
	Location      string             `json:"location"`
	IsFile        bool               `json:"isFile"`
	Size          string             `json:"size"`
	Created       time.Time          `json:"created"`
	Modified      time.Time          `json:"modified"`
	MultipleFiles bool               `json:"multipleFiles"`
	Permission    *access.Permission `json:"permission"`
}
