// Package graph implements remote.Store on a Microsoft Graph drive
// (OneDrive or a SharePoint document library) using app-only credentials.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/fruitsalade/drivegate/internal/logging"
	"github.com/fruitsalade/drivegate/internal/metrics"
	"github.com/fruitsalade/drivegate/internal/remote"
)

const (
	defaultBaseURL  = "https://graph.microsoft.com/v1.0"
	defaultScope    = "https://graph.microsoft.com/.default"
	tokenURLPattern = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	maxErrorBody    = 64 << 10
)

// Config holds Graph connection settings. Either DriveID or SiteID must be
// set; with only SiteID the site's default document library is used.
type Config struct {
	TenantID     string        `mapstructure:"tenant_id"`
	ClientID     string        `mapstructure:"client_id" validate:"required"`
	ClientSecret string        `mapstructure:"client_secret" validate:"required"`
	SiteID       string        `mapstructure:"site_id"`
	DriveID      string        `mapstructure:"drive_id"`
	BaseURL      string        `mapstructure:"base_url"`
	TokenURL     string        `mapstructure:"token_url"`
	Scopes       []string      `mapstructure:"scopes"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// Client implements remote.Store against a single drive.
type Client struct {
	http    *http.Client
	baseURL string
	driveID string
}

// New builds an authenticated client and resolves the drive.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.DriveID == "" && cfg.SiteID == "" {
		return nil, fmt.Errorf("graph: drive_id or site_id is required")
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		if cfg.TenantID == "" {
			return nil, fmt.Errorf("graph: tenant_id is required without token_url")
		}
		tokenURL = fmt.Sprintf(tokenURLPattern, cfg.TenantID)
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{defaultScope}
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	httpClient := cc.Client(context.WithoutCancel(ctx))
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	c := &Client{http: httpClient, baseURL: base, driveID: cfg.DriveID}

	if c.driveID == "" {
		var drive struct {
			ID string `json:"id"`
		}
		if err := c.do(ctx, "resolve_drive", http.MethodGet, base+"/sites/"+url.PathEscape(cfg.SiteID)+"/drive", nil, &drive); err != nil {
			return nil, fmt.Errorf("graph: resolve drive for site %s: %w", cfg.SiteID, err)
		}
		c.driveID = drive.ID
		logging.Info("resolved graph drive", zap.String("site", cfg.SiteID), zap.String("drive", drive.ID))
	}
	return c, nil
}

func (c *Client) Type() string { return "graph" }

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// DriveID returns the drive the client operates on.
func (c *Client) DriveID() string { return c.driveID }

type driveItem struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Size                 int64     `json:"size"`
	CreatedDateTime      time.Time `json:"createdDateTime"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
	ParentReference      *struct {
		ID      string `json:"id"`
		DriveID string `json:"driveId"`
	} `json:"parentReference,omitempty"`
	Folder *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder,omitempty"`
	Root *struct{} `json:"root,omitempty"`
}

func (d driveItem) item() remote.Item {
	it := remote.Item{
		ID:         d.ID,
		Name:       d.Name,
		Size:       d.Size,
		CreatedAt:  d.CreatedDateTime,
		ModifiedAt: d.LastModifiedDateTime,
	}
	if d.ParentReference != nil && d.Root == nil {
		it.ParentID = d.ParentReference.ID
	}
	if d.Folder != nil {
		it.IsFolder = true
		it.ChildCount = d.Folder.ChildCount
	}
	return it
}

type itemPage struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

type parentRef struct {
	DriveID string `json:"driveId,omitempty"`
	ID      string `json:"id"`
}

func (c *Client) drive() string {
	return c.baseURL + "/drives/" + url.PathEscape(c.driveID)
}

func (c *Client) itemURL(id string) string {
	return c.drive() + "/items/" + url.PathEscape(id)
}

func (c *Client) Root(ctx context.Context) (*remote.Item, error) {
	var d driveItem
	if err := c.do(ctx, "root", http.MethodGet, c.drive()+"/root", nil, &d); err != nil {
		return nil, err
	}
	it := d.item()
	return &it, nil
}

func (c *Client) Item(ctx context.Context, id string) (*remote.Item, error) {
	var d driveItem
	if err := c.do(ctx, "item", http.MethodGet, c.itemURL(id), nil, &d); err != nil {
		return nil, err
	}
	it := d.item()
	return &it, nil
}

func (c *Client) Child(ctx context.Context, parentID, name string) (*remote.Item, error) {
	var d driveItem
	u := c.itemURL(parentID) + ":/" + url.PathEscape(name) + ":"
	if err := c.do(ctx, "child", http.MethodGet, u, nil, &d); err != nil {
		return nil, err
	}
	it := d.item()
	return &it, nil
}

func (c *Client) Children(ctx context.Context, id string) ([]remote.Item, error) {
	return c.list(ctx, "children", c.itemURL(id)+"/children")
}

func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (*remote.Item, error) {
	body := map[string]any{
		"name":                              name,
		"folder":                            map[string]any{},
		"@microsoft.graph.conflictBehavior": "fail",
	}
	var d driveItem
	if err := c.do(ctx, "create_folder", http.MethodPost, c.itemURL(parentID)+"/children", body, &d); err != nil {
		return nil, err
	}
	it := d.item()
	return &it, nil
}

func (c *Client) Rename(ctx context.Context, id, newName string) error {
	return c.do(ctx, "rename", http.MethodPatch, c.itemURL(id), map[string]any{"name": newName}, nil)
}

func (c *Client) Move(ctx context.Context, id, parentID, name string) error {
	body := map[string]any{
		"parentReference": parentRef{ID: parentID},
		"name":            name,
	}
	return c.do(ctx, "move", http.MethodPatch, c.itemURL(id), body, nil)
}

// Copy starts a server-side copy. Graph answers 202 Accepted with a
// monitor URL; completion is observed by polling Child.
func (c *Client) Copy(ctx context.Context, id, parentID, name string) error {
	body := map[string]any{
		"parentReference": parentRef{DriveID: c.driveID, ID: parentID},
		"name":            name,
	}
	return c.do(ctx, "copy", http.MethodPost, c.itemURL(id)+"/copy", body, nil)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, "delete", http.MethodDelete, c.itemURL(id), nil, nil)
}

func (c *Client) Content(ctx context.Context, id string) (rc io.ReadCloser, err error) {
	start := time.Now()
	defer func() { metrics.RecordRemoteOperation("graph", "content", time.Since(start), err == nil) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.itemURL(id)+"/content", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content %s: %w", id, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeError("content", resp)
	}
	return resp.Body, nil
}

// PutContent uses the simple upload endpoint, which replaces an existing
// file of the same name.
func (c *Client) PutContent(ctx context.Context, parentID, name string, body io.Reader, size int64) (item *remote.Item, err error) {
	start := time.Now()
	defer func() { metrics.RecordRemoteOperation("graph", "put_content", time.Since(start), err == nil) }()

	u := c.itemURL(parentID) + ":/" + url.PathEscape(name) + ":/content"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, body)
	if err != nil {
		return nil, err
	}
	if size >= 0 {
		req.ContentLength = size
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("put %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, decodeError("put_content", resp)
	}
	var d driveItem
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode put %s: %w", name, err)
	}
	it := d.item()
	return &it, nil
}

func (c *Client) Search(ctx context.Context, rootID, query string) ([]remote.Item, error) {
	q := strings.ReplaceAll(query, "'", "''")
	u := c.itemURL(rootID) + "/search(q='" + url.PathEscape(q) + "')"
	return c.list(ctx, "search", u)
}

func (c *Client) list(ctx context.Context, op, u string) ([]remote.Item, error) {
	var items []remote.Item
	for u != "" {
		var page itemPage
		if err := c.do(ctx, op, http.MethodGet, u, nil, &page); err != nil {
			return nil, err
		}
		for _, d := range page.Value {
			items = append(items, d.item())
		}
		u = page.NextLink
	}
	return items, nil
}

// do sends a JSON request and decodes a JSON response into out when out
// is non-nil.
func (c *Client) do(ctx context.Context, op, method, u string, in, out any) (err error) {
	start := time.Now()
	defer func() { metrics.RecordRemoteOperation("graph", op, time.Since(start), err == nil) }()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(op, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusAccepted {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

func decodeError(op string, resp *http.Response) error {
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	e := &remote.Error{Op: op, Status: resp.StatusCode}
	if json.Unmarshal(data, &env) == nil && env.Error.Code != "" {
		e.Code = env.Error.Code
		e.Message = env.Error.Message
	} else {
		e.Message = strings.TrimSpace(string(data))
	}
	if resp.StatusCode >= 500 {
		logging.Warn("graph request failed", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.String("code", e.Code))
	}
	return e
}
