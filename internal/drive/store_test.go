package drive

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, cfg Config, handler http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := New(context.Background(), cfg,
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return store
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error": map[string]any{"code": 404, "message": "File not found"},
	})
}

func TestResolveRootByID(t *testing.T) {
	store := newTestStore(t, Config{DriveID: "d1"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/drives/d1", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"id": "d1", "name": "Deals"})
	})

	id, err := store.ResolveRoot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "d1", id)
}

func TestResolveRootByName(t *testing.T) {
	store := newTestStore(t, Config{DriveName: "Deal's docs"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/drives", r.URL.Path)
		assert.Equal(t, `name = 'Deal\'s docs'`, r.URL.Query().Get("q"))
		writeJSON(w, http.StatusOK, map[string]any{"drives": []map[string]any{
			{"id": "other", "name": "Deal's docs archive"},
			{"id": "d2", "name": "Deal's docs"},
		}})
	})

	id, err := store.ResolveRoot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "d2", id)
	assert.Equal(t, "d2", store.rootID())
}

func TestResolveRootFailure(t *testing.T) {
	store := newTestStore(t, Config{DriveID: "gone"}, func(w http.ResponseWriter, r *http.Request) {
		notFound(w)
	})

	_, err := store.ResolveRoot(context.Background())
	assert.Error(t, err)
}

func TestEnsureFolderReusesExisting(t *testing.T) {
	var creates atomic.Int32
	store := newTestStore(t, Config{DriveID: "d1"}, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			creates.Add(1)
		}
		q := r.URL.Query()
		assert.Equal(t, "drive", q.Get("corpora"))
		assert.Equal(t, "d1", q.Get("driveId"))
		assert.Equal(t, "name = 'Acme' and mimeType = 'application/vnd.google-apps.folder' and 'd1' in parents and trashed = false", q.Get("q"))
		writeJSON(w, http.StatusOK, map[string]any{"files": []map[string]any{{"id": "org-1", "name": "Acme"}}})
	})

	id, err := store.EnsureFolder(context.Background(), "d1", "", "Acme")
	require.NoError(t, err)
	assert.Equal(t, "org-1", id)
	assert.Zero(t, creates.Load())
}

func TestEnsureFolderCreatesMissing(t *testing.T) {
	store := newTestStore(t, Config{DriveID: "d1"}, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"files": []any{}})
		case http.MethodPost:
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "06-05-2024 - P-1 - Excel", body["name"])
			assert.Equal(t, folderMimeType, body["mimeType"])
			assert.Equal(t, []any{"org-1"}, body["parents"])
			assert.Equal(t, "true", r.URL.Query().Get("supportsAllDrives"))
			writeJSON(w, http.StatusOK, map[string]any{"id": "deal-1"})
		}
	})

	id, err := store.EnsureFolder(context.Background(), "d1", "org-1", "06-05-2024 - P-1 - Excel")
	require.NoError(t, err)
	assert.Equal(t, "deal-1", id)
}

func TestFindByAppProperties(t *testing.T) {
	store := newTestStore(t, Config{DriveID: "d1"}, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		assert.Equal(t, "appProperties has { key='dealId' and value='100' } and appProperties has { key='sourceFileId' and value='9' } and 'deal-1' in parents and trashed = false", q)
		writeJSON(w, http.StatusOK, map[string]any{"files": []map[string]any{{"id": "f1"}}})
	})

	id, err := store.FindByAppProperties(context.Background(), "deal-1", map[string]string{"dealId": "100", "sourceFileId": "9"})
	require.NoError(t, err)
	assert.Equal(t, "f1", id)
}

func TestFindByAppPropertiesNoMatch(t *testing.T) {
	store := newTestStore(t, Config{DriveID: "d1"}, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"files": []any{}})
	})

	id, err := store.FindByAppProperties(context.Background(), "deal-1", map[string]string{"dealId": "100"})
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestGetMetadata(t *testing.T) {
	store := newTestStore(t, Config{DriveID: "d1"}, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/f1":
			writeJSON(w, http.StatusOK, map[string]any{
				"id":            "f1",
				"name":          "invoice.PDF",
				"webViewLink":   "https://drive.google.com/file/d/f1/view",
				"appProperties": map[string]string{"dealId": "100", "sourceFileId": "9"},
			})
		case "/files/trashed":
			writeJSON(w, http.StatusOK, map[string]any{"id": "trashed", "trashed": true})
		case "/files/boom":
			writeJSON(w, http.StatusForbidden, map[string]any{
				"error": map[string]any{"code": 403, "message": "forbidden"},
			})
		default:
			notFound(w)
		}
	})
	ctx := context.Background()

	file, err := store.GetMetadata(ctx, "f1")
	require.NoError(t, err)
	require.NotNil(t, file)
	assert.Equal(t, "invoice.PDF", file.Name)
	assert.Equal(t, "https://drive.google.com/file/d/f1/view", file.WebViewLink)
	assert.Equal(t, "9", file.AppProperties["sourceFileId"])

	file, err = store.GetMetadata(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, file)

	file, err = store.GetMetadata(ctx, "trashed")
	require.NoError(t, err)
	assert.Nil(t, file)

	_, err = store.GetMetadata(ctx, "boom")
	assert.Error(t, err)
}

func TestGrantDomainPermission(t *testing.T) {
	store := newTestStore(t, Config{DriveID: "d1"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/files/f1/permissions", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "domain", body["type"])
		assert.Equal(t, "example.com", body["domain"])
		assert.Equal(t, "reader", body["role"])
		writeJSON(w, http.StatusOK, map[string]any{"id": "perm-1"})
	})

	require.NoError(t, store.GrantDomainPermission(context.Background(), "f1", "example.com", "reader"))
}

func TestUploadSendsPropertiesAndMedia(t *testing.T) {
	var meta map[string]any
	var media []byte
	var mediaType string
	store := newTestStore(t, Config{DriveID: "d1"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/files"), r.URL.Path)
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))
		assert.Equal(t, "true", r.URL.Query().Get("supportsAllDrives"))

		ct, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if !assert.NoError(t, err) || !assert.Equal(t, "multipart/related", ct) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		first, err := mr.NextPart()
		if assert.NoError(t, err) {
			assert.NoError(t, json.NewDecoder(first).Decode(&meta))
		}
		second, err := mr.NextPart()
		if assert.NoError(t, err) {
			mediaType = second.Header.Get("Content-Type")
			media, _ = io.ReadAll(second)
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":            "f9",
			"name":          "invoice.pdf",
			"webViewLink":   "https://drive.test/f9",
			"appProperties": map[string]string{"dealId": "100", "sourceFileId": "9"},
		})
	})

	props := map[string]string{"dealId": "100", "sourceFileId": "9"}
	file, err := store.Upload(context.Background(), "folder-7", "invoice.pdf", "application/pdf", []byte("%PDF-1.4"), props)
	require.NoError(t, err)

	assert.Equal(t, "f9", file.FileID)
	assert.Equal(t, "invoice.pdf", file.Name)
	assert.Equal(t, "https://drive.test/f9", file.WebViewLink)
	assert.Equal(t, props, file.AppProperties)

	require.NotNil(t, meta)
	assert.Equal(t, "invoice.pdf", meta["name"])
	assert.Equal(t, "application/pdf", meta["mimeType"])
	assert.Equal(t, []any{"folder-7"}, meta["parents"])
	assert.Equal(t, map[string]any{"dealId": "100", "sourceFileId": "9"}, meta["appProperties"])
	assert.Equal(t, "application/pdf", mediaType)
	assert.Equal(t, []byte("%PDF-1.4"), media)
}

func TestUploadFailure(t *testing.T) {
	store := newTestStore(t, Config{DriveID: "d1"}, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error": map[string]any{"code": 403, "message": "insufficient permissions"},
		})
	})

	_, err := store.Upload(context.Background(), "folder-7", "a.pdf", "application/pdf", []byte("x"), nil)
	assert.Error(t, err)
}

func TestNewRequiresDrive(t *testing.T) {
	_, err := New(context.Background(), Config{}, option.WithoutAuthentication())
	assert.Error(t, err)
}

func TestEscapeQuery(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain", input: "Acme", expected: "Acme"},
		{name: "quote", input: "O'Brien", expected: `O\'Brien`},
		{name: "backslash", input: `a\b`, expected: `a\\b`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, escapeQuery(tt.input))
		})
	}
}
