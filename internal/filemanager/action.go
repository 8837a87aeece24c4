package filemanager

import (
	"context"
	"fmt"

	"github.com/fruitsalade/drivegate/internal/models"
)

// Action is a file-manager operation dispatched through Execute.
type Action int

const (
	ActionRead Action = iota + 1
	ActionDelete
	ActionCopy
	ActionMove
	ActionDetails
	ActionCreate
	ActionSearch
	ActionRename
	// Upload, download and image have their own endpoints and are only
	// used to label metrics and logs.
	ActionUpload
	ActionDownload
	ActionImage
)

var actionNames = map[Action]string{
	ActionRead:     "read",
	ActionDelete:   "delete",
	ActionCopy:     "copy",
	ActionMove:     "move",
	ActionDetails:  "details",
	ActionCreate:   "create",
	ActionSearch:   "search",
	ActionRename:   "rename",
	ActionUpload:   "upload",
	ActionDownload: "download",
	ActionImage:    "image",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction maps the wire token to an Action. Only the operations
// accepted by Execute parse.
func ParseAction(s string) (Action, error) {
	switch s {
	case "read":
		return ActionRead, nil
	case "delete":
		return ActionDelete, nil
	case "copy":
		return ActionCopy, nil
	case "move":
		return ActionMove, nil
	case "details":
		return ActionDetails, nil
	case "create":
		return ActionCreate, nil
	case "search":
		return ActionSearch, nil
	case "rename":
		return ActionRename, nil
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// Request carries the arguments of a dispatched operation.
type Request struct {
	Action          Action
	Path            string
	Name            string
	NewName         string
	Items           []models.DirectoryItem
	Target          *models.DirectoryItem
	SearchString    string
	ShowHiddenItems bool
	CaseSensitive   bool
	RenameFiles     []string
}

// Execute runs req.Action.
func (m *Manager) Execute(ctx context.Context, req Request) (*Result, error) {
	switch req.Action {
	case ActionRead:
		return m.Read(ctx, req.Path, req.ShowHiddenItems)
	case ActionDelete:
		return m.Delete(ctx, req.Items)
	case ActionCopy, ActionMove:
		if req.Target == nil {
			return nil, notFound("The target folder was not specified.")
		}
		if req.Action == ActionCopy {
			return m.Copy(ctx, req.Items, *req.Target, req.RenameFiles)
		}
		return m.Move(ctx, req.Items, *req.Target, req.RenameFiles)
	case ActionDetails:
		return m.Details(ctx, req.Items)
	case ActionCreate:
		if len(req.Items) == 0 {
			return nil, notFound("The parent folder was not specified.")
		}
		return m.Create(ctx, req.Items[0], req.Name)
	case ActionSearch:
		if len(req.Items) == 0 {
			return nil, notFound("The search folder was not specified.")
		}
		return m.Search(ctx, req.Items[0], req.SearchString, req.CaseSensitive, req.ShowHiddenItems)
	case ActionRename:
		if len(req.Items) == 0 {
			return nil, notFound("The item to rename was not specified.")
		}
		return m.Rename(ctx, req.Items[0], req.Name, req.NewName)
	}
	return nil, fmt.Errorf("unsupported action %s", req.Action)
}
