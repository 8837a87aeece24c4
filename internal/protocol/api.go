// Package protocol defines the API request/response types.
package protocol

import (
	"github.com/fruitsalade/drivegate/internal/models"
)

// FileOperationRequest is the body of POST /api/v1/filemanager/operations
// and the downloadInput form field of the download endpoint.
type FileOperationRequest struct {
	Action string `json:"action"`
	Path   string `json:"path"`
	// TargetPath is nil when the client omits it; the root guard relies
	// on telling absent from empty.
	TargetPath        *string                `json:"targetPath"`
	Name              string                 `json:"name"`
	NewName           string                 `json:"newName"`
	Names             []string               `json:"names"`
	Data              []models.DirectoryItem `json:"data"`
	TargetData        *models.DirectoryItem  `json:"targetData"`
	SearchString      string                 `json:"searchString"`
	ShowHiddenItems   bool                   `json:"showHiddenItems"`
	CaseSensitive     bool                   `json:"caseSensitive"`
	RenameFiles       []string               `json:"renameFiles"`
	ShowFileExtension bool                   `json:"showFileExtension"`
}

// Response is the envelope every file operation answers with.
type Response struct {
	CWD     *models.DirectoryItem  `json:"cwd"`
	Files   []models.DirectoryItem `json:"files"`
	Error   *ErrorDetails          `json:"error"`
	Details *models.FileDetails    `json:"details"`
}

// ErrorDetails describes a failed operation. Code is the decimal status.
type ErrorDetails struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	FileExists []string `json:"fileExists"`
}

// ErrorResponse is returned on API errors outside the envelope.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      int    `json:"code"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}
