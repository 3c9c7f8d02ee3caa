package mirror

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
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

func testFetchConfig(mirrors ...string) config.FetchConfig {
	return config.FetchConfig{
		Mirrors:           mirrors,
		TimeoutSeconds:    5,
		Retries:           3,
		RetryDelaySeconds: 0,
	}
}

// tarballServer serves a fake release tarball and counts requests
func tarballServer(t *testing.T, version, body string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path == "/"+TarballName(version) {
			w.Write([]byte(body))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

// failingServer always responds with the given status and counts requests
func failingServer(t *testing.T, status int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetchTarball_FirstMirrorWins(t *testing.T) {
	primary, primaryHits := tarballServer(t, "0.22.5", "primary tarball")
	secondary, secondaryHits := tarballServer(t, "0.22.5", "secondary tarball")

	f := NewFetcher(testFetchConfig(primary.URL, secondary.URL), "")

	dest := t.TempDir()
	path, err := f.FetchTarball(context.Background(), "0.22.5", dest)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "primary tarball", string(data))

	assert.Equal(t, int32(1), atomic.LoadInt32(primaryHits))
	assert.Equal(t, int32(0), atomic.LoadInt32(secondaryHits), "later mirrors must not be contacted after a success")
}

func TestFetchTarball_FallsBackInOrder(t *testing.T) {
	broken, brokenHits := failingServer(t, http.StatusInternalServerError)
	working, _ := tarballServer(t, "0.22.5", "fallback tarball")

	cfg := testFetchConfig(broken.URL, working.URL)
	f := NewFetcher(cfg, "")

	path, err := f.FetchTarball(context.Background(), "0.22.5", t.TempDir())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fallback tarball", string(data))

	assert.Equal(t, int32(cfg.Retries), atomic.LoadInt32(brokenHits), "failing mirror gets the full retry budget before fallback")
}

func TestFetchTarball_Exhausted(t *testing.T) {
	first, _ := failingServer(t, http.StatusInternalServerError)
	second, _ := failingServer(t, http.StatusNotFound)

	f := NewFetcher(testFetchConfig(first.URL, second.URL), "")

	dest := t.TempDir()
	_, err := f.FetchTarball(context.Background(), "0.22.5", dest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDownloadExhausted))

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, TarballName("0.22.5"), exhausted.Filename)
	require.Len(t, exhausted.Mirrors, 2)
	assert.True(t, strings.HasPrefix(exhausted.Mirrors[0], first.URL))
	assert.True(t, strings.HasPrefix(exhausted.Mirrors[1], second.URL))

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed downloads must not leave partial files")
}

func TestFetchTarball_NoPartialFileOnSuccess(t *testing.T) {
	srv, _ := tarballServer(t, "0.21.1", "tarball bytes")
	f := NewFetcher(testFetchConfig(srv.URL), "")

	dest := t.TempDir()
	_, err := f.FetchTarball(context.Background(), "0.21.1", dest)
	require.NoError(t, err)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, TarballName("0.21.1"), entries[0].Name())
}

func TestFetchTarball_BreakerSkipsTrippedMirror(t *testing.T) {
	broken, brokenHits := failingServer(t, http.StatusInternalServerError)
	working, _ := tarballServer(t, "0.22.5", "data")

	cfg := testFetchConfig(broken.URL, working.URL)
	f := NewFetcher(cfg, "")

	dest := t.TempDir()

	// First fetch burns the retry budget on the broken mirror and trips
	// its breaker.
	_, err := f.FetchTarball(context.Background(), "0.22.5", dest)
	require.NoError(t, err)
	assert.Equal(t, int32(cfg.Retries), atomic.LoadInt32(brokenHits))

	// Second fetch must skip the tripped mirror without contacting it.
	_, err = f.FetchTarball(context.Background(), "0.22.4", dest)
	require.Error(t, err, "working mirror does not serve 0.22.4")
	assert.Equal(t, int32(cfg.Retries), atomic.LoadInt32(brokenHits), "tripped mirror must not be contacted again")
}

func TestFetchSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/"+SignatureName("0.22.5") {
			w.Write([]byte("sig bytes"))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(testFetchConfig(srv.URL), "")

	path, err := f.FetchSignature(context.Background(), "0.22.5", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, SignatureName("0.22.5"), filepath.Base(path))
}

func TestNewFetcher_MirrorNormalization(t *testing.T) {
	tests := []struct {
		name     string
		mirrors  []string
		override string
		want     []string
	}{
		{
			name:    "trailing slash added",
			mirrors: []string{"https://a.example/gnu/gettext"},
			want:    []string{"https://a.example/gnu/gettext/"},
		},
		{
			name:     "override prepended not replacing",
			mirrors:  []string{"https://a.example/"},
			override: "https://override.example/",
			want:     []string{"https://override.example/", "https://a.example/"},
		},
		{
			name:    "empty entries skipped",
			mirrors: []string{"", "  ", "https://a.example/"},
			want:    []string{"https://a.example/"},
		},
		{
			name:     "duplicates collapsed",
			mirrors:  []string{"https://a.example/", "https://a.example"},
			override: "https://a.example/",
			want:     []string{"https://a.example/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFetcher(testFetchConfig(tt.mirrors...), tt.override)
			assert.Equal(t, tt.want, f.Mirrors())
		})
	}
}

func TestFetchTarball_ContextCancelled(t *testing.T) {
	srv, _ := failingServer(t, http.StatusInternalServerError)
	f := NewFetcher(testFetchConfig(srv.URL), "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.FetchTarball(ctx, "0.22.5", t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
