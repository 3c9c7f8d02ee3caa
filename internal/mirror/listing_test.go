package mirror

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const indexPage = `<html><body><table>
<tr><td><a href="gettext-0.21.tar.gz">gettext-0.21.tar.gz</a></td></tr>
<tr><td><a href="gettext-0.21.tar.gz.sig">gettext-0.21.tar.gz.sig</a></td></tr>
<tr><td><a href="gettext-0.22.5.tar.gz">gettext-0.22.5.tar.gz</a></td></tr>
<tr><td><a href="gettext-0.22.5.tar.gz.sig">gettext-0.22.5.tar.gz.sig</a></td></tr>
<tr><td><a href="gettext-0.19.8.1.tar.gz">gettext-0.19.8.1.tar.gz</a></td></tr>
<tr><td><a href="gettext-0.22.5.tar.xz">gettext-0.22.5.tar.xz</a></td></tr>
<tr><td><a href="/gnu/gettext/gettext-0.21.tar.gz">absolute link duplicate</a></td></tr>
<tr><td><a href="archive/">archive/</a></td></tr>
</table></body></html>`

func indexServer(t *testing.T, page string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.Write([]byte(page))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestListVersions(t *testing.T) {
	srv := indexServer(t, indexPage)
	f := NewFetcher(testFetchConfig(srv.URL), "")

	got, err := f.ListVersions(context.Background())
	require.NoError(t, err)

	want := []string{"0.19.8.1", "0.21", "0.22.5"}
	assert.Equal(t, want, got, "versions must be deduplicated and sorted oldest first")
}

func TestListVersions_FallsBackToNextMirror(t *testing.T) {
	broken, _ := failingServer(t, http.StatusServiceUnavailable)
	working := indexServer(t, indexPage)

	f := NewFetcher(testFetchConfig(broken.URL, working.URL), "")

	got, err := f.ListVersions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0.19.8.1", "0.21", "0.22.5"}, got)
}

func TestListVersions_Unavailable(t *testing.T) {
	first, _ := failingServer(t, http.StatusInternalServerError)
	second, _ := failingServer(t, http.StatusNotFound)

	f := NewFetcher(testFetchConfig(first.URL, second.URL), "")

	_, err := f.ListVersions(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrListingUnavailable))
}

func TestListVersions_EmptyIndexIsUnavailable(t *testing.T) {
	// A page that parses fine but lists no tarballs must not be reported
	// as a successful empty listing.
	srv := indexServer(t, `<html><body><a href="README">README</a></body></html>`)
	f := NewFetcher(testFetchConfig(srv.URL), "")

	_, err := f.ListVersions(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrListingUnavailable))
}
