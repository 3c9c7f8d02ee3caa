package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasew/mise-gettext-builder/internal/config"
	"github.com/lucasew/mise-gettext-builder/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init(logger.Config{
		Level:  "error",
		Format: "text",
		File:   filepath.Join(os.TempDir(), "gettext-builder-test.log"),
	})
	os.Exit(m.Run())
}

// fakeHost is an in-memory release hosting service
type fakeHost struct {
	mu       sync.Mutex
	releases map[string]*Release
	nextID   int64

	creates int
	uploads int
	deletes int
}

func newFakeHost() *fakeHost {
	return &fakeHost{releases: map[string]*Release{}, nextID: 1}
}

func (h *fakeHost) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("GET /repos/o/r/releases", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		defer h.mu.Unlock()
		out := make([]Release, 0, len(h.releases))
		for _, rel := range h.releases {
			out = append(out, *rel)
		}
		json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("GET /repos/o/r/releases/tags/{tag}", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		defer h.mu.Unlock()
		rel, ok := h.releases[r.PathValue("tag")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(rel)
	})

	mux.HandleFunc("POST /repos/o/r/releases", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		defer h.mu.Unlock()
		var payload struct {
			TagName string `json:"tag_name"`
			Name    string `json:"name"`
			Body    string `json:"body"`
			Draft   bool   `json:"draft"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rel := &Release{
			ID:      h.nextID,
			TagName: payload.TagName,
			Name:    payload.Name,
			Body:    payload.Body,
			Draft:   payload.Draft,
		}
		h.nextID++
		h.creates++
		h.releases[payload.TagName] = rel
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(rel)
	})

	mux.HandleFunc("POST /upload/repos/o/r/releases/{id}/assets", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		defer h.mu.Unlock()
		name := r.URL.Query().Get("name")
		for _, rel := range h.releases {
			if fmt.Sprint(rel.ID) != r.PathValue("id") {
				continue
			}
			asset := Asset{ID: h.nextID, Name: name}
			h.nextID++
			h.uploads++
			rel.Assets = append(rel.Assets, asset)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(asset)
			return
		}
		http.NotFound(w, r)
	})

	mux.HandleFunc("DELETE /repos/o/r/releases/assets/{id}", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, rel := range h.releases {
			for i, a := range rel.Assets {
				if fmt.Sprint(a.ID) != r.PathValue("id") {
					continue
				}
				rel.Assets = append(rel.Assets[:i], rel.Assets[i+1:]...)
				h.deletes++
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		http.NotFound(w, r)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testClient(t *testing.T, srv *httptest.Server, overwrite bool) *Client {
	t.Helper()
	return NewClient(config.ReleaseConfig{
		Owner:             "o",
		Repo:              "r",
		Token:             "test-token",
		APIURL:            srv.URL,
		UploadURL:         srv.URL + "/upload",
		Overwrite:         overwrite,
		RequestsPerSecond: 100,
	})
}

func testUploads(t *testing.T, version string) []Upload {
	t.Helper()
	dir := t.TempDir()
	names := []string{
		fmt.Sprintf("%s-linux-amd64.tar.gz", version),
		fmt.Sprintf("%s-src.tar.gz", version),
	}
	uploads := make([]Upload, 0, len(names))
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte("artifact"), 0644))
		uploads = append(uploads, Upload{Name: n, Path: p})
	}
	return uploads
}

func TestPublish_CreatesReleaseAndUploads(t *testing.T) {
	host := newFakeHost()
	srv := host.server(t)
	pub := NewPublisher(testClient(t, srv, false))

	rel, err := pub.Publish(context.Background(), "0.22.5", testUploads(t, "0.22.5"), "")
	require.NoError(t, err)

	assert.Equal(t, "0.22.5", rel.TagName)
	assert.Equal(t, 1, host.creates)
	assert.Equal(t, 2, host.uploads)
	assert.True(t, rel.HasAsset("0.22.5-linux-amd64.tar.gz"))
	assert.True(t, rel.HasAsset("0.22.5-src.tar.gz"))
}

func TestPublish_SecondRunReusesRelease(t *testing.T) {
	host := newFakeHost()
	srv := host.server(t)
	pub := NewPublisher(testClient(t, srv, false))

	uploads := testUploads(t, "0.22.5")

	_, err := pub.Publish(context.Background(), "0.22.5", uploads, "")
	require.NoError(t, err)

	_, err = pub.Publish(context.Background(), "0.22.5", uploads, "")
	require.NoError(t, err)

	assert.Equal(t, 1, host.creates, "publishing twice must not create a second release")
	assert.Equal(t, 2, host.uploads, "existing asset names are skipped by default")

	rel := host.releases["0.22.5"]
	assert.Len(t, rel.Assets, 2, "no duplicate assets after republish")
}

func TestPublish_OverwriteReplacesAssets(t *testing.T) {
	host := newFakeHost()
	srv := host.server(t)

	uploads := testUploads(t, "0.21.1")

	_, err := NewPublisher(testClient(t, srv, false)).Publish(context.Background(), "0.21.1", uploads, "")
	require.NoError(t, err)

	_, err = NewPublisher(testClient(t, srv, true)).Publish(context.Background(), "0.21.1", uploads, "")
	require.NoError(t, err)

	assert.Equal(t, 2, host.deletes)
	assert.Equal(t, 4, host.uploads)
	assert.Len(t, host.releases["0.21.1"].Assets, 2)
}

func TestPublish_NothingToPublish(t *testing.T) {
	host := newFakeHost()
	srv := host.server(t)
	pub := NewPublisher(testClient(t, srv, false))

	_, err := pub.Publish(context.Background(), "0.22.5", nil, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNothingToPublish))
	assert.Equal(t, 0, host.creates, "a version with zero artifacts must not create a release")
}

func TestPublish_MissingToken(t *testing.T) {
	host := newFakeHost()
	srv := host.server(t)

	client := NewClient(config.ReleaseConfig{
		Owner:             "o",
		Repo:              "r",
		APIURL:            srv.URL,
		UploadURL:         srv.URL + "/upload",
		RequestsPerSecond: 100,
	})

	_, err := NewPublisher(client).Publish(context.Background(), "0.22.5", testUploads(t, "0.22.5"), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPublishFailed))
}

func TestListTags(t *testing.T) {
	host := newFakeHost()
	srv := host.server(t)
	client := testClient(t, srv, false)

	_, err := client.CreateRelease(context.Background(), "0.22.4", "gettext 0.22.4", "")
	require.NoError(t, err)
	_, err = client.CreateRelease(context.Background(), "0.22.5", "gettext 0.22.5", "")
	require.NoError(t, err)

	tags, err := client.ListTags(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"0.22.4", "0.22.5"}, tags)
}

func TestGetReleaseByTag_NotFound(t *testing.T) {
	host := newFakeHost()
	srv := host.server(t)
	client := testClient(t, srv, false)

	rel, err := client.GetReleaseByTag(context.Background(), "9.9.9")
	require.NoError(t, err)
	assert.Nil(t, rel, "missing tag is nil release, not an error")
}

func TestClient_AuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]Release{})
	}))
	t.Cleanup(srv.Close)

	client := testClient(t, srv, false)
	_, err := client.ListTags(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(gotAuth, "Bearer "), "token must be sent as bearer auth")
}
