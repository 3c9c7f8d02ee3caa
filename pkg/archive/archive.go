package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// Info summarizes the contents of a gzip compressed tar archive
type Info struct {
	Entries int
	Bytes   int64
}

// Inspect walks a .tar.gz archive and returns entry and byte counts.
// It is how build artifacts are checked to be real archives instead of
// trusting that a file with the right name exists.
func Inspect(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read gzip header of %s: %w", path, err)
	}
	defer gz.Close()

	info := &Info{}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry in %s: %w", path, err)
		}
		info.Entries++
		if hdr.Typeflag == tar.TypeReg {
			info.Bytes += hdr.Size
		}
	}

	if info.Entries == 0 {
		return nil, fmt.Errorf("archive %s contains no entries", path)
	}

	return info, nil
}
