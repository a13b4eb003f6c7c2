// Package archive bundles a run's artifacts (blog HTML, caption, hashtags,
// analysis JSON, rendered video) into a single zstd-compressed ZIP so a
// finished run can be downloaded as one object.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// zipMethodZstd is the ZIP compression method ID for Zstandard (APPNOTE 6.3.7).
const zipMethodZstd uint16 = 93

func init() {
	// Zstandard level 12 maps to SpeedBestCompression in klauspost/compress.
	zip.RegisterCompressor(zipMethodZstd, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(12)))
	})
	zip.RegisterDecompressor(zipMethodZstd, func(r io.Reader) io.ReadCloser {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return io.NopCloser(r)
		}
		return zr.IOReadCloser()
	})
}

// Entry is one file inside the archive.
type Entry struct {
	Name string
	Data []byte
}

// Build assembles the entries into a zstd-compressed ZIP in memory.
func Build(entries []Entry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no entries to archive")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	now := time.Now()

	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.Name,
			Method:   zipMethodZstd,
			Modified: now,
		})
		if err != nil {
			zw.Close()
			return nil, fmt.Errorf("create zip entry %s: %w", e.Name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			zw.Close()
			return nil, fmt.Errorf("write zip entry %s: %w", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize zip: %w", err)
	}
	return buf.Bytes(), nil
}

// BlobPutter is the slice of the media store the bundler needs. Both
// blob.Store and blob.FSStore satisfy it.
type BlobPutter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Bundler builds and uploads run archives.
type Bundler struct {
	store BlobPutter
}

// NewBundler creates a Bundler writing to the given media store.
func NewBundler(store BlobPutter) *Bundler {
	return &Bundler{store: store}
}

// Upload builds the archive and stores it under the run's archive key.
func (b *Bundler) Upload(ctx context.Context, runID string, entries []Entry) (string, error) {
	data, err := Build(entries)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s/artifacts.zip", runID)
	if err := b.store.Put(ctx, key, data, "application/zip"); err != nil {
		return "", err
	}

	log.Info().Str("runId", runID).Str("key", key).Int("entries", len(entries)).Int("bytes", len(data)).Msg("Artifact archive uploaded")
	return key, nil
}
