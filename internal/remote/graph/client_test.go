package graph

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/drivegate/internal/remote"
)

type fakeGraph struct {
	t       *testing.T
	srv     *httptest.Server
	handler map[string]http.HandlerFunc
	tokens  atomic.Int32
}

func newFakeGraph(t *testing.T) *fakeGraph {
	f := &fakeGraph{t: t, handler: make(map[string]http.HandlerFunc)}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGraph) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/token" {
		f.tokens.Add(1)
		assert.NoError(f.t, r.ParseForm())
		assert.Equal(f.t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
		return
	}
	assert.Equal(f.t, "Bearer tok", r.Header.Get("Authorization"))
	h, ok := f.handler[r.Method+" "+r.URL.Path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":"itemNotFound","message":"The resource could not be found."}}`)
		return
	}
	h(w, r)
}

func (f *fakeGraph) on(route string, h http.HandlerFunc) { f.handler[route] = h }

func (f *fakeGraph) client(t *testing.T, cfg Config) *Client {
	cfg.ClientID = "app"
	cfg.ClientSecret = "secret"
	cfg.TokenURL = f.srv.URL + "/token"
	cfg.BaseURL = f.srv.URL
	c, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestResolveDriveFromSite(t *testing.T) {
	f := newFakeGraph(t)
	f.on("GET /sites/site-1/drive", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]string{"id": "drive-9"})
	})
	c := f.client(t, Config{SiteID: "site-1"})
	assert.Equal(t, "drive-9", c.DriveID())
	assert.Equal(t, "graph", c.Type())
}

func TestNewRequiresDrive(t *testing.T) {
	_, err := New(context.Background(), Config{ClientID: "a", ClientSecret: "b", TenantID: "t"})
	assert.Error(t, err)
}

func TestItemMapping(t *testing.T) {
	f := newFakeGraph(t)
	f.on("GET /drives/d1/root", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"root-id","name":"root","root":{},"folder":{"childCount":3},"parentReference":{"driveId":"d1"}}`)
	})
	f.on("GET /drives/d1/items/f1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"f1","name":"a.txt","size":12,"parentReference":{"id":"root-id"},"file":{"mimeType":"text/plain"},
			"createdDateTime":"2024-01-02T03:04:05Z","lastModifiedDateTime":"2024-02-02T03:04:05Z"}`)
	})
	c := f.client(t, Config{DriveID: "d1"})
	ctx := context.Background()

	root, err := c.Root(ctx)
	require.NoError(t, err)
	assert.Empty(t, root.ParentID)
	assert.True(t, root.IsFolder)
	assert.Equal(t, 3, root.ChildCount)

	item, err := c.Item(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "root-id", item.ParentID)
	assert.False(t, item.IsFolder)
	assert.Equal(t, int64(12), item.Size)
	assert.Equal(t, 2024, item.CreatedAt.Year())

	_, err = c.Item(ctx, "missing")
	assert.True(t, remote.IsNotFound(err))
	var rerr *remote.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "itemNotFound", rerr.Code)
}

func TestChildrenFollowsNextLink(t *testing.T) {
	f := newFakeGraph(t)
	f.on("GET /drives/d1/items/p/children", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			_, _ = io.WriteString(w, `{"value":[{"id":"c2","name":"b","folder":{"childCount":0}}]}`)
			return
		}
		writeJSON(w, 200, map[string]any{
			"value":           []map[string]any{{"id": "c1", "name": "a.txt"}},
			"@odata.nextLink": f.srv.URL + "/drives/d1/items/p/children?page=2",
		})
	})
	c := f.client(t, Config{DriveID: "d1"})
	items, err := c.Children(context.Background(), "p")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a.txt", items[0].Name)
	assert.True(t, items[1].IsFolder)
}

func TestChildByName(t *testing.T) {
	f := newFakeGraph(t)
	f.on("GET /drives/d1/items/p:/q1 report.pdf:", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"x","name":"q1 report.pdf"}`)
	})
	c := f.client(t, Config{DriveID: "d1"})
	item, err := c.Child(context.Background(), "p", "q1 report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "x", item.ID)
}

func TestCreateFolderConflict(t *testing.T) {
	f := newFakeGraph(t)
	f.on("POST /drives/d1/items/p/children", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "fail", body["@microsoft.graph.conflictBehavior"])
		if body["name"] == "dup" {
			writeJSON(w, 409, map[string]any{"error": map[string]string{"code": "nameAlreadyExists", "message": "exists"}})
			return
		}
		writeJSON(w, 201, map[string]any{"id": "new", "name": body["name"], "folder": map[string]int{"childCount": 0}})
	})
	c := f.client(t, Config{DriveID: "d1"})
	ctx := context.Background()

	item, err := c.CreateFolder(ctx, "p", "fresh")
	require.NoError(t, err)
	assert.True(t, item.IsFolder)

	_, err = c.CreateFolder(ctx, "p", "dup")
	assert.ErrorIs(t, err, remote.ErrConflict)
}

func TestCopyAcceptedAndMovePatch(t *testing.T) {
	f := newFakeGraph(t)
	f.on("POST /drives/d1/items/s/copy", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ParentReference parentRef `json:"parentReference"`
			Name            string    `json:"name"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "d1", body.ParentReference.DriveID)
		assert.Equal(t, "t", body.ParentReference.ID)
		assert.Equal(t, "copy.txt", body.Name)
		w.Header().Set("Location", "https://monitor.example/op")
		w.WriteHeader(http.StatusAccepted)
	})
	f.on("PATCH /drives/d1/items/s", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(data), `"parentReference":{"id":"t"}`)
		_, _ = io.WriteString(w, `{"id":"s","name":"moved.txt"}`)
	})
	c := f.client(t, Config{DriveID: "d1"})
	ctx := context.Background()

	require.NoError(t, c.Copy(ctx, "s", "t", "copy.txt"))
	require.NoError(t, c.Move(ctx, "s", "t", "moved.txt"))
}

func TestContentAndPut(t *testing.T) {
	f := newFakeGraph(t)
	f.on("GET /drives/d1/items/f/content", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "payload")
	})
	f.on("PUT /drives/d1/items/p:/up.bin:/content", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		writeJSON(w, 201, map[string]any{"id": "up", "name": "up.bin", "size": len(data)})
	})
	f.on("DELETE /drives/d1/items/f", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := f.client(t, Config{DriveID: "d1"})
	ctx := context.Background()

	rc, err := c.Content(ctx, "f")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "payload", string(data))

	item, err := c.PutContent(ctx, "p", "up.bin", strings.NewReader("12345"), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), item.Size)

	require.NoError(t, c.Delete(ctx, "f"))

	_, err = c.Content(ctx, "gone")
	assert.True(t, remote.IsNotFound(err))
}

func TestSearchEscapesQuotes(t *testing.T) {
	f := newFakeGraph(t)
	f.on("GET /drives/d1/items/r/search(q='it''s')", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"value":[{"id":"1","name":"it's.txt"}]}`)
	})
	c := f.client(t, Config{DriveID: "d1"})
	items, err := c.Search(context.Background(), "r", "it's")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int32(1), f.tokens.Load(), "token is cached across calls")
}
