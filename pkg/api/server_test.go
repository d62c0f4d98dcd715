package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trovehq/trove/pkg/artifacts"
	"github.com/trovehq/trove/pkg/blob"
	"github.com/trovehq/trove/pkg/hierarchy"
	"github.com/trovehq/trove/pkg/middleware"
	"github.com/trovehq/trove/pkg/registry"
	"github.com/trovehq/trove/pkg/storage/memory"
	"github.com/trovehq/trove/pkg/webhooks"
)

// newTestServer builds a full server over in-memory storage.
func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()

	store := memory.NewStore()
	blobs, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)

	resolver := registry.NewResolver(store)
	registrySvc := registry.NewService(store, resolver)
	artifactSvc := artifacts.NewService(store, blobs, hierarchy.NewValidator(store), resolver)

	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	server := NewServer(registrySvc, artifactSvc, log).WithWebhooks(webhooks.NewManager())
	return server, server.Router()
}

// doJSON performs a request with the given principal and JSON body.
func doJSON(t *testing.T, handler http.Handler, method, path, user string, admin bool, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.Header.Set(middleware.HeaderUser, user)
	}
	if admin {
		req.Header.Set(middleware.HeaderAdmin, "true")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// seedHierarchy creates acme/rover/master with alice as org admin.
func seedHierarchy(t *testing.T, handler http.Handler) {
	t.Helper()

	rec := doJSON(t, handler, "POST", "/api/v1/orgs", "root", true, map[string]interface{}{
		"id": "acme", "name": "Acme Corp",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, "PUT", "/api/v1/orgs/acme/permissions/alice", "root", true, map[string]interface{}{
		"levels": []string{"admin"},
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, "POST", "/api/v1/orgs/acme/projects", "alice", false, map[string]interface{}{
		"id": "rover", "name": "Rover",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, "POST", "/api/v1/orgs/acme/projects/rover/branches", "alice", false, map[string]interface{}{
		"id": "master",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestAuthentication(t *testing.T) {
	_, handler := newTestServer(t)

	t.Run("missing user header is rejected", func(t *testing.T) {
		rec := doJSON(t, handler, "GET", "/api/v1/orgs", "", false, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("user header is accepted", func(t *testing.T) {
		rec := doJSON(t, handler, "GET", "/api/v1/orgs", "alice", false, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestOrgEndpoints(t *testing.T) {
	_, handler := newTestServer(t)

	t.Run("create requires global admin", func(t *testing.T) {
		rec := doJSON(t, handler, "POST", "/api/v1/orgs", "alice", false, map[string]interface{}{
			"id": "acme", "name": "Acme Corp",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("create as global admin", func(t *testing.T) {
		rec := doJSON(t, handler, "POST", "/api/v1/orgs", "root", true, map[string]interface{}{
			"id": "acme", "name": "Acme Corp",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var org registry.Organization
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &org))
		assert.Equal(t, "acme", org.ID)
	})

	t.Run("invalid id is a 400", func(t *testing.T) {
		rec := doJSON(t, handler, "POST", "/api/v1/orgs", "root", true, map[string]interface{}{
			"id": "bad:id", "name": "Bad",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get unknown org is a 404", func(t *testing.T) {
		rec := doJSON(t, handler, "GET", "/api/v1/orgs/ghost", "root", true, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("visibility filtering on list", func(t *testing.T) {
		rec := doJSON(t, handler, "GET", "/api/v1/orgs", "stranger", false, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var orgs []*registry.Organization
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orgs))
		assert.Empty(t, orgs)
	})

	t.Run("archive and double archive conflict", func(t *testing.T) {
		rec := doJSON(t, handler, "POST", "/api/v1/orgs/acme/archive", "root", true, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = doJSON(t, handler, "POST", "/api/v1/orgs/acme/archive", "root", true, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)

		rec = doJSON(t, handler, "POST", "/api/v1/orgs/acme/unarchive", "root", true, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestPermissionEndpoints(t *testing.T) {
	_, handler := newTestServer(t)
	seedHierarchy(t, handler)

	t.Run("grant read then read succeeds", func(t *testing.T) {
		rec := doJSON(t, handler, "GET", "/api/v1/orgs/acme/projects/rover", "bob", false, nil)
		require.Equal(t, http.StatusForbidden, rec.Code)

		rec = doJSON(t, handler, "PUT", "/api/v1/orgs/acme/permissions/bob", "alice", false, map[string]interface{}{
			"levels": []string{"read"},
		})
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		rec = doJSON(t, handler, "GET", "/api/v1/orgs/acme/projects/rover", "bob", false, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("empty level list revokes", func(t *testing.T) {
		rec := doJSON(t, handler, "PUT", "/api/v1/orgs/acme/permissions/bob", "alice", false, map[string]interface{}{
			"levels": []string{},
		})
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = doJSON(t, handler, "GET", "/api/v1/orgs/acme/projects/rover", "bob", false, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown level is a 400", func(t *testing.T) {
		rec := doJSON(t, handler, "PUT", "/api/v1/orgs/acme/permissions/bob", "alice", false, map[string]interface{}{
			"levels": []string{"owner"},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("non-admin cannot grant", func(t *testing.T) {
		rec := doJSON(t, handler, "PUT", "/api/v1/orgs/acme/permissions/carol", "bob", false, map[string]interface{}{
			"levels": []string{"read"},
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestArtifactEndpoints(t *testing.T) {
	_, handler := newTestServer(t)
	seedHierarchy(t, handler)

	base := "/api/v1/orgs/acme/projects/rover/branches/master/artifacts"
	content := []byte("telemetry capture v1")

	t.Run("create with blob", func(t *testing.T) {
		rec := doJSON(t, handler, "POST", base, "alice", false, map[string]interface{}{
			"id":           "a1",
			"filename":     "telemetry.bin",
			"content_type": "application/octet-stream",
			"data":         base64.StdEncoding.EncodeToString(content),
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var artifact registry.Artifact
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &artifact))
		assert.Equal(t, "telemetry.bin", artifact.Filename)
		assert.Len(t, artifact.History, 1)
	})

	t.Run("duplicate create conflicts", func(t *testing.T) {
		rec := doJSON(t, handler, "POST", base, "alice", false, map[string]interface{}{
			"id": "a1",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("invalid base64 is a 400", func(t *testing.T) {
		rec := doJSON(t, handler, "POST", base, "alice", false, map[string]interface{}{
			"id": "a2", "data": "not-base64!!!",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("download blob round-trips", func(t *testing.T) {
		rec := doJSON(t, handler, "GET", base+"/a1/blob", "alice", false, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, content, rec.Body.Bytes())
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "telemetry.bin")
	})

	t.Run("raw blob upload appends history", func(t *testing.T) {
		req := httptest.NewRequest("PUT", base+"/a1/blob", bytes.NewReader([]byte("telemetry capture v2")))
		req.Header.Set(middleware.HeaderUser, "alice")
		req.Header.Set("Content-Type", "application/octet-stream")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var artifact registry.Artifact
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &artifact))
		assert.Len(t, artifact.History, 2)
	})

	t.Run("update metadata", func(t *testing.T) {
		rec := doJSON(t, handler, "PATCH", base+"/a1", "alice", false, map[string]interface{}{
			"filename": "telemetry-v2.bin",
			"custom":   map[string]string{"mission": "rover-2026"},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var artifact registry.Artifact
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &artifact))
		assert.Equal(t, "telemetry-v2.bin", artifact.Filename)
		assert.Equal(t, "rover-2026", artifact.Custom["mission"])
	})

	t.Run("list with filename filter", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			rec := doJSON(t, handler, "POST", base, "alice", false, map[string]interface{}{
				"id": fmt.Sprintf("doc-%d", i), "filename": "report.txt",
			})
			require.Equal(t, http.StatusCreated, rec.Code)
		}

		rec := doJSON(t, handler, "GET", base+"?filename=report.txt", "alice", false, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var results []*registry.Artifact
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
		assert.Len(t, results, 3)
	})

	t.Run("bad pagination is a 400", func(t *testing.T) {
		rec := doJSON(t, handler, "GET", base+"?limit=banana", "alice", false, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("write requires write level", func(t *testing.T) {
		rec := doJSON(t, handler, "PUT", "/api/v1/orgs/acme/permissions/bob", "alice", false, map[string]interface{}{
			"levels": []string{"read"},
		})
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = doJSON(t, handler, "POST", base, "bob", false, map[string]interface{}{"id": "b1"})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = doJSON(t, handler, "GET", base+"/a1", "bob", false, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("delete then get is a 404", func(t *testing.T) {
		rec := doJSON(t, handler, "DELETE", base+"/a1", "alice", false, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = doJSON(t, handler, "GET", base+"/a1", "alice", false, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestTagBranchEndpoints(t *testing.T) {
	_, handler := newTestServer(t)
	seedHierarchy(t, handler)

	rec := doJSON(t, handler, "POST", "/api/v1/orgs/acme/projects/rover/branches", "alice", false, map[string]interface{}{
		"id": "v1.0", "is_tag": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var branch registry.Branch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &branch))
	assert.True(t, branch.IsTag)

	rec = doJSON(t, handler, "POST", "/api/v1/orgs/acme/projects/rover/branches/v1.0/artifacts", "alice", false, map[string]interface{}{
		"id": "frozen",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWebhookEndpoints(t *testing.T) {
	_, handler := newTestServer(t)

	t.Run("register and fetch", func(t *testing.T) {
		rec := doJSON(t, handler, "POST", "/api/v1/webhooks", "alice", false, map[string]interface{}{
			"url":    "https://example.com/hook",
			"events": []string{"artifact.created"},
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var webhook webhooks.Webhook
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &webhook))
		require.NotEmpty(t, webhook.ID)

		rec = doJSON(t, handler, "GET", "/api/v1/webhooks/"+webhook.ID, "alice", false, nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, handler, "GET", "/api/v1/webhooks/"+webhook.ID+"/deliveries", "alice", false, nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, handler, "POST", "/api/v1/webhooks/"+webhook.ID+"/deactivate", "alice", false, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &webhook))
		assert.False(t, webhook.Active)

		rec = doJSON(t, handler, "DELETE", "/api/v1/webhooks/"+webhook.ID, "alice", false, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = doJSON(t, handler, "GET", "/api/v1/webhooks/"+webhook.ID, "alice", false, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown event type is a 400", func(t *testing.T) {
		rec := doJSON(t, handler, "POST", "/api/v1/webhooks", "alice", false, map[string]interface{}{
			"url":    "https://example.com/hook",
			"events": []string{"artifact.exploded"},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
