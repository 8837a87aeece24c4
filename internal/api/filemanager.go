package api

import (
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fruitsalade/drivegate/internal/filemanager"
	"github.com/fruitsalade/drivegate/internal/logging"
	"github.com/fruitsalade/drivegate/internal/models"
	"github.com/fruitsalade/drivegate/internal/protocol"
)

// handleOperations dispatches the JSON file operations. The envelope is
// always sent with 200; failures travel in its error field.
func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	var req protocol.FileOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if resp, blocked := rootGuard(req); blocked {
		s.sendJSON(w, http.StatusOK, resp)
		return
	}
	action, err := filemanager.ParseAction(req.Action)
	if err != nil {
		s.sendError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ctx, m := s.managerFor(r.Context())
	res, err := m.Execute(ctx, filemanager.Request{
		Action:          action,
		Path:            req.Path,
		Name:            req.Name,
		NewName:         req.NewName,
		Items:           req.Data,
		Target:          req.TargetData,
		SearchString:    req.SearchString,
		ShowHiddenItems: req.ShowHiddenItems,
		CaseSensitive:   req.CaseSensitive,
		RenameFiles:     req.RenameFiles,
	})
	s.sendJSON(w, http.StatusOK, assemble(res, err))
}

// handleUpload accepts multipart uploads. Success has an empty body; a
// failure uses the error code as the HTTP status.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.maxUploadMemory); err != nil {
		s.sendError(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	action, err := filemanager.ParseConflictAction(r.FormValue("action"))
	if err != nil {
		s.sendError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ctx, m := s.managerFor(r.Context())

	var dest models.DirectoryItem
	if data := r.FormValue("data"); data != "" {
		if err := json.Unmarshal([]byte(data), &dest); err != nil {
			s.sendError(w, r, http.StatusBadRequest, "invalid data field")
			return
		}
	} else {
		res, err := m.Read(ctx, r.FormValue("path"), true)
		if err != nil {
			s.sendJSON(w, filemanager.AsError(err).Code, assemble(res, err))
			return
		}
		dest = *res.CWD
	}

	headers := r.MultipartForm.File["uploadFiles"]
	files := make([]filemanager.UploadFile, 0, len(headers))
	for _, fh := range headers {
		files = append(files, filemanager.UploadFile{
			Name: uploadName(fh),
			Size: fh.Size,
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		})
	}

	res, err := m.Upload(ctx, dest, files, action)
	if err != nil {
		s.sendJSON(w, filemanager.AsError(err).Code, assembleUpload(res, err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// uploadName returns the client file name including any folder segments,
// which FileHeader.Filename strips.
func uploadName(fh *multipart.FileHeader) string {
	if _, params, err := mime.ParseMediaType(fh.Header.Get("Content-Disposition")); err == nil {
		if name := params["filename"]; name != "" {
			return name
		}
	}
	return fh.Filename
}

// handleDownload streams the items named in the downloadInput form field.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req protocol.FileOperationRequest
	if err := json.Unmarshal([]byte(r.FormValue("downloadInput")), &req); err != nil {
		s.sendError(w, r, http.StatusBadRequest, "invalid downloadInput")
		return
	}

	ctx, m := s.managerFor(r.Context())
	d, err := m.Download(ctx, req.Data)
	if err != nil {
		fe := filemanager.AsError(err)
		s.sendError(w, r, fe.Code, fe.Message)
		return
	}

	w.Header().Set("Content-Type", d.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.Name}))
	if _, err := d.WriteTo(ctx, w); err != nil {
		// Headers are already sent; the client sees a truncated body.
		logging.WithContext(ctx).Warn("download interrupted", zap.String("name", d.Name), zap.Error(err))
	}
}

// handleImage streams one file for inline display. id names the file;
// without it the last segment of path is used.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("id")
	if id == "" {
		p := strings.TrimRight(q.Get("path"), "/")
		id = p[strings.LastIndex(p, "/")+1:]
	}
	if id == "" {
		s.sendError(w, r, http.StatusBadRequest, "id is required")
		return
	}

	ctx, m := s.managerFor(r.Context())
	c, err := m.Image(ctx, id)
	if err != nil {
		fe := filemanager.AsError(err)
		s.sendError(w, r, fe.Code, fe.Message)
		return
	}
	defer c.Body.Close()

	w.Header().Set("Content-Type", c.ContentType)
	if c.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(c.Size, 10))
	}
	if _, err := io.Copy(w, c.Body); err != nil {
		logging.WithContext(ctx).Warn("image stream interrupted", zap.String("name", c.Name), zap.Error(err))
	}
}

// assemble projects an operation outcome onto the envelope. A failed
// operation keeps its cwd but never reports files or details.
func assemble(res *filemanager.Result, err error) protocol.Response {
	resp := assembleUpload(res, err)
	if err != nil {
		resp.Files = nil
		resp.Details = nil
	}
	return resp
}

// assembleUpload is assemble for uploads, whose error envelope also lists
// the files written before the failure.
func assembleUpload(res *filemanager.Result, err error) protocol.Response {
	var resp protocol.Response
	if res != nil {
		resp.CWD = res.CWD
		resp.Files = res.Files
		resp.Details = res.Details
	}
	if err != nil {
		fe := filemanager.AsError(err)
		resp.Error = &protocol.ErrorDetails{
			Code:       strconv.Itoa(fe.Code),
			Message:    fe.Message,
			FileExists: fe.FileExists,
		}
		return resp
	}
	if resp.Files == nil {
		resp.Files = []models.DirectoryItem{}
	}
	return resp
}

// rootGuard rejects delete and rename aimed at the root, which the client
// signals with an empty path and no target path.
func rootGuard(req protocol.FileOperationRequest) (protocol.Response, bool) {
	if (req.Action == "delete" || req.Action == "rename") && req.Path == "" && req.TargetPath == nil {
		return protocol.Response{Error: &protocol.ErrorDetails{
			Code:    strconv.Itoa(http.StatusUnauthorized),
			Message: filemanager.MsgRootRestricted,
		}}, true
	}
	return protocol.Response{}, false
}
