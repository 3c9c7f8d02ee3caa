package mirror

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"regexp"

	"golang.org/x/net/html"

	"github.com/lucasew/mise-gettext-builder/pkg/logger"
	"github.com/lucasew/mise-gettext-builder/pkg/versions"
)

// tarballPattern matches release tarball links in a mirror index page.
// Signature files do not match because of the trailing anchor.
var tarballPattern = regexp.MustCompile(`^gettext-(\d[^/]*)\.tar\.gz$`)

// ListVersions fetches the index page of each mirror in order and
// returns the versions parsed from the first mirror that yields any,
// sorted oldest first. Failure of every mirror is ErrListingUnavailable,
// which is never conflated with a successfully parsed empty index.
func (f *Fetcher) ListVersions(ctx context.Context) ([]string, error) {
	for _, m := range f.mirrors {
		vs, err := f.listMirror(ctx, m)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.logger.WithFields(logger.Fields{
				"mirror": m,
				"error":  err,
			}).Warn("Mirror index unavailable")
			continue
		}
		if len(vs) == 0 {
			f.logger.WithFields(logger.Fields{
				"mirror": m,
			}).Warn("Mirror index contained no release tarballs")
			continue
		}

		versions.Sort(vs)
		f.logger.WithFields(logger.Fields{
			"mirror": m,
			"count":  len(vs),
		}).Info("Fetched upstream version listing")
		return vs, nil
	}

	return nil, fmt.Errorf("no mirror produced a version index: %w", ErrListingUnavailable)
}

// listMirror downloads and parses one mirror's directory index
func (f *Fetcher) listMirror(ctx context.Context, mirror string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mirror, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create index request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("index returned status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse index html: %w", err)
	}

	seen := make(map[string]struct{})
	var found []string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				m := tarballPattern.FindStringSubmatch(path.Base(attr.Val))
				if m == nil {
					continue
				}
				if _, ok := seen[m[1]]; !ok {
					seen[m[1]] = struct{}{}
					found = append(found, m[1])
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return found, nil
}
