package mirror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/lucasew/mise-gettext-builder/internal/config"
	"github.com/lucasew/mise-gettext-builder/pkg/logger"
)

var (
	// ErrDownloadExhausted reports that every configured mirror was tried
	// with the full retry budget and none produced the file.
	ErrDownloadExhausted = errors.New("all mirrors exhausted")

	// ErrListingUnavailable reports that no mirror produced a parsable
	// version index. It is never used for an index that is merely empty
	// of new versions.
	ErrListingUnavailable = errors.New("version listing unavailable")
)

// ExhaustedError carries the mirrors attempted for a failed download
type ExhaustedError struct {
	Filename string
	Mirrors  []string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("download of %s failed on all mirrors: %s",
		e.Filename, strings.Join(e.Mirrors, ", "))
}

func (e *ExhaustedError) Unwrap() error {
	return ErrDownloadExhausted
}

// TarballName returns the upstream tarball filename for a version
func TarballName(version string) string {
	return fmt.Sprintf("gettext-%s.tar.gz", version)
}

// SignatureName returns the detached signature filename for a version
func SignatureName(version string) string {
	return TarballName(version) + ".sig"
}

// Fetcher downloads release files from an ordered list of mirrors.
// A circuit breaker per mirror skips hosts that keep failing across a
// multi-version run instead of burning the retry budget on each job.
type Fetcher struct {
	cfg        config.FetchConfig
	mirrors    []string
	httpClient *http.Client
	breakers   map[string]*gobreaker.CircuitBreaker
	logger     *logger.Logger
}

// NewFetcher builds a Fetcher from configuration. A non-empty override
// is consulted before the configured mirrors, it does not replace them.
func NewFetcher(cfg config.FetchConfig, override string) *Fetcher {
	raw := cfg.Mirrors
	if override != "" {
		raw = append([]string{override}, cfg.Mirrors...)
	}

	mirrors := normalizeMirrors(raw)

	breakers := make(map[string]*gobreaker.CircuitBreaker, len(mirrors))
	for _, m := range mirrors {
		breakers[m] = newMirrorBreaker(m, cfg.Retries)
	}

	return &Fetcher{
		cfg:        cfg,
		mirrors:    mirrors,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		breakers:   breakers,
		logger:     logger.NewLogger("mirror"),
	}
}

// Mirrors returns the effective mirror list in consultation order
func (f *Fetcher) Mirrors() []string {
	out := make([]string, len(f.mirrors))
	copy(out, f.mirrors)
	return out
}

// normalizeMirrors trims entries, drops empty ones, deduplicates and
// guarantees a trailing slash so URLs concatenate cleanly.
func normalizeMirrors(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	mirrors := make([]string, 0, len(raw))
	for _, m := range raw {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if !strings.HasSuffix(m, "/") {
			m += "/"
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		mirrors = append(mirrors, m)
	}
	return mirrors
}

func newMirrorBreaker(name string, retries int) *gobreaker.CircuitBreaker {
	minRequests := uint32(retries)
	if minRequests < 3 {
		minRequests = 3
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     120 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= 0.6
		},
	})
}
