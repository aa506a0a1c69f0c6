// Package fetch implements the Fetcher: downloads objects from a
// BlobStore into a pipeline's scratch directory under a per-pipeline
// concurrent-download bound.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	parsepipe "github.com/quillhq/parsepipe"
)

// Fetcher downloads SourceObjects into a scratch directory.
type Fetcher struct {
	store  parsepipe.BlobStore
	logger *slog.Logger
	sem    *semaphore.Weighted
}

// New builds a Fetcher capped at maxConcurrent simultaneous downloads,
// to avoid saturating the object store.
func New(store parsepipe.BlobStore, maxConcurrent int, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{store: store, logger: logger, sem: semaphore.NewWeighted(int64(maxConcurrent))}
}

// ListPrefix lists every object under bucket/prefix — used by archive
// mode to discover the source archive(s).
func (f *Fetcher) ListPrefix(ctx context.Context, bucket, prefix string) ([]parsepipe.SourceObject, error) {
	return f.store.List(ctx, bucket, prefix)
}

// FetchAll downloads every SourceObject into destDir, naming each local
// file after the object's original name.
func (f *Fetcher) FetchAll(ctx context.Context, destDir string, objects []parsepipe.SourceObject) ([]parsepipe.ScratchFile, error) {
	out := make([]parsepipe.ScratchFile, len(objects))
	g, gctx := errgroup.WithContext(ctx)
	for i, obj := range objects {
		i, obj := i, obj
		g.Go(func() error {
			if err := f.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer f.sem.Release(1)
			sf, err := f.fetchOne(gctx, destDir, obj)
			if err != nil {
				return err
			}
			out[i] = sf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, destDir string, obj parsepipe.SourceObject) (parsepipe.ScratchFile, error) {
	rc, err := f.store.Download(ctx, obj.Bucket, obj.ObjectKey)
	if err != nil {
		return parsepipe.ScratchFile{}, fmt.Errorf("fetch: download %s/%s: %w", obj.Bucket, obj.ObjectKey, err)
	}
	defer rc.Close()

	localPath := filepath.Join(destDir, filepath.Base(obj.OriginalName))
	n, err := writeToFile(localPath, rc)
	if err != nil {
		return parsepipe.ScratchFile{}, fmt.Errorf("fetch: write %s: %w", localPath, err)
	}

	f.logger.Debug("fetch: downloaded", "bucket", obj.Bucket, "key", obj.ObjectKey, "bytes", n)
	return parsepipe.ScratchFile{
		LocalPath:    localPath,
		OriginalName: obj.OriginalName,
		Extension:    filepath.Ext(obj.OriginalName),
		Size:         n,
	}, nil
}
