package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sony/gobreaker"

	"github.com/lucasew/mise-gettext-builder/pkg/logger"
)

// FetchTarball downloads the source tarball for a version into destDir
// and returns the final path.
func (f *Fetcher) FetchTarball(ctx context.Context, version, destDir string) (string, error) {
	return f.fetch(ctx, TarballName(version), destDir)
}

// FetchSignature downloads the detached signature for a version into
// destDir and returns the final path.
func (f *Fetcher) FetchSignature(ctx context.Context, version, destDir string) (string, error) {
	return f.fetch(ctx, SignatureName(version), destDir)
}

// fetch walks the mirror list in order and returns on the first mirror
// that delivers the file. Every mirror gets the full retry budget before
// the next one is consulted.
func (f *Fetcher) fetch(ctx context.Context, filename, destDir string) (string, error) {
	dest := filepath.Join(destDir, filename)
	attempted := make([]string, 0, len(f.mirrors))

	for _, m := range f.mirrors {
		attempted = append(attempted, m)
		url := m + filename

		for attempt := 1; attempt <= f.cfg.Retries; attempt++ {
			if err := ctx.Err(); err != nil {
				return "", err
			}

			_, err := f.breakers[m].Execute(func() (any, error) {
				return nil, f.download(ctx, url, dest)
			})
			if err == nil {
				f.logger.WithFields(logger.Fields{
					"file":   filename,
					"mirror": m,
				}).Info("Download completed")
				return dest, nil
			}

			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				f.logger.WithFields(logger.Fields{
					"file":   filename,
					"mirror": m,
				}).Warn("Mirror skipped, circuit open")
				break
			}

			if ctx.Err() != nil {
				return "", ctx.Err()
			}

			f.logger.WithFields(logger.Fields{
				"file":    filename,
				"mirror":  m,
				"attempt": attempt,
				"error":   err,
			}).Warn("Download attempt failed")

			if attempt < f.cfg.Retries {
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(f.cfg.RetryDelay()):
				}
			}
		}
	}

	return "", &ExhaustedError{Filename: filename, Mirrors: attempted}
}

// download fetches a single URL into dest through a temp file so a
// failed or cancelled transfer never leaves a partial file behind.
func (f *Fetcher) download(ctx context.Context, url, dest string) error {
	tempFile, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".partial-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		tempFile.Close()
		os.Remove(tempFile.Name())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	written, err := io.Copy(tempFile, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to save file: %w", err)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		return fmt.Errorf("truncated download: got %d of %d bytes", written, resp.ContentLength)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := moveFile(tempFile.Name(), dest); err != nil {
		return fmt.Errorf("failed to move download to destination: %w", err)
	}

	return nil
}

// moveFile moves a file from src to dst, handling cross-device links
func moveFile(src, dst string) error {
	// First try rename (fast path)
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	// If rename fails, copy and delete
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to copy file: %w", err)
	}

	if err := dstFile.Sync(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to sync file: %w", err)
	}

	if err := os.Remove(src); err != nil {
		// File was copied successfully, leftover temp is harmless
		return nil
	}

	return nil
}
