package parsepipe

import (
	"context"
	"io"
)

// BlobStore abstracts the S3-compatible object store holding source
// resumes (fetched) and generated artifacts (published). Concrete
// implementations live in package blobstore.
type BlobStore interface {
	// Download streams the object's content. Callers are responsible for
	// closing the returned ReadCloser.
	Download(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// Upload writes size bytes read from body to bucket/key.
	Upload(ctx context.Context, bucket, key string, body io.Reader, size int64) error

	// Delete removes an object. A missing object is not an error.
	Delete(ctx context.Context, bucket, key string) error

	// List returns every object key under prefix, used to enumerate an
	// archive-mode task's source bucket when no explicit file list is
	// given.
	List(ctx context.Context, bucket, prefix string) ([]SourceObject, error)
}

// RegistryClient abstracts the external task-registry HTTP API. Concrete
// implementation lives in package registry.
type RegistryClient interface {
	// GetTask fetches the task's current snapshot
	// (GET {base}/parsing-task?taskId=…). Fatal if missing/HTTP-error
	// after bounded retries.
	GetTask(ctx context.Context, taskID string) (*Task, error)

	// GetExtractionPrompt fetches the task's extraction prompt
	// (GET {base}/parsing-task/extraction-prompt?taskId=…). Fatal on
	// persistent failure.
	GetExtractionPrompt(ctx context.Context, taskID string) (string, error)

	// GetParseableFiles lists the files a direct-mode task should
	// process (GET {base}/parseable-files?taskId=…). Retries up to 5x
	// with 2s spacing on an empty result; empty after all retries is
	// fatal.
	GetParseableFiles(ctx context.Context, taskID string) ([]ParseableFile, error)

	// UpdateFileCounts sets total/invalid counts once, after working-set
	// classification (PATCH {base}/parsing-task). Best-effort; non-fatal.
	UpdateFileCounts(ctx context.Context, taskID string, total, invalid int) error

	// UpdateProgress reports the processed-file count so far, throttled
	// by the caller to the progress batch size (PATCH
	// {base}/parsing-task). Best-effort; suppress repeated failures.
	UpdateProgress(ctx context.Context, taskID string, processed int) error

	// InsertParseableFiles records archive-mode materialization
	// (POST {base}/parseable-files). Best-effort.
	InsertParseableFiles(ctx context.Context, taskID string, files []ParseableFile) error

	// Complete marks a task completed and sets both artifact paths in
	// one atomic transition (PATCH {base}/parsing-task). Fatal if it
	// fails after bounded retries.
	Complete(ctx context.Context, taskID string, jsonPath, sheetPath string) error

	// Fail marks a task permanently failed with a one-line reason
	// (PATCH {base}/parsing-task). Best-effort.
	Fail(ctx context.Context, taskID string, reason string) error
}
