// Package pipeline implements the per-task orchestration: fetch ->
// classify -> convert -> extract -> aggregate -> publish, with a
// ResourceManager-scoped scratch directory and an idempotency check
// against the registry before doing any work.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	parsepipe "github.com/quillhq/parsepipe"
	"github.com/quillhq/parsepipe/aggregate"
	"github.com/quillhq/parsepipe/convert"
	"github.com/quillhq/parsepipe/extract"
	"github.com/quillhq/parsepipe/fetch"
	"github.com/quillhq/parsepipe/llm"
)

// errNoSourceFiles is the scenario-S4 failure reason: an archive-mode
// task whose source prefix has nothing under it. Its Error() text is
// written verbatim as the task's failure reason.
var errNoSourceFiles = errors.New("no source files")

// Pipeline wires every per-task collaborator. One Pipeline value is safe
// to reuse across tasks — it holds no per-task state; shared resources
// (the LLM client's semaphore, the Converter's semaphores) are
// process-wide by construction.
type Pipeline struct {
	Registry  parsepipe.RegistryClient
	Store     parsepipe.BlobStore
	Fetcher   *fetch.Fetcher
	Converter *convert.Converter
	LLM       *llm.Client
	Publisher *aggregate.Publisher

	WorkDir           string
	ArtifactBucket    string
	ProgressBatchSize int // config override; 0 means compute the batch formula per task
	Logger            *slog.Logger
}

// Run executes one task end to end. It never panics on a task-level
// failure: every error path marks the task failed in the registry and
// returns nil so the worker pool can move on to the next unit. A non-nil
// return means an unrecoverable, pipeline-infrastructure-level error (the
// registry itself is unreachable, disk is full) that the caller should
// treat as fatal to this worker.
func (p *Pipeline) Run(ctx context.Context, unit parsepipe.WorkUnit) error {
	logger := p.logger().With("task_id", unit.TaskID, "user_id", unit.UserID)

	task, err := p.Registry.GetTask(ctx, unit.TaskID)
	if err != nil {
		return fmt.Errorf("pipeline: fetch task: %w", err)
	}
	if task.Status == parsepipe.StatusCompleted {
		logger.Info("pipeline: task already completed, skipping")
		return nil
	}

	prompt, err := p.Registry.GetExtractionPrompt(ctx, unit.TaskID)
	if err != nil {
		return fmt.Errorf("pipeline: fetch extraction prompt: %w", err)
	}

	rm, err := parsepipe.NewResourceManager(p.WorkDir, unit.TaskID, logger)
	if err != nil {
		return fmt.Errorf("pipeline: create scratch dir: %w", err)
	}
	defer rm.Dispose()

	sources, artifacts, runErr := p.process(ctx, unit, task, prompt, rm, logger)
	if runErr != nil {
		reason := runErr.Error()
		logger.Error("pipeline: task failed", "err", runErr)
		if failErr := p.Registry.Fail(ctx, unit.TaskID, reason); failErr != nil {
			return fmt.Errorf("pipeline: mark failed after %q: %w", reason, failErr)
		}
		p.cleanupSources(ctx, sources, logger)
		return nil
	}

	jsonPath, sheetPath := artifactPaths(artifacts)
	if err := p.Registry.Complete(ctx, unit.TaskID, jsonPath, sheetPath); err != nil {
		return fmt.Errorf("pipeline: mark completed: %w", err)
	}

	p.cleanupSources(ctx, sources, logger)
	logger.Info("pipeline: task completed", "records", len(sources))
	return nil
}

// process runs the fetch-through-publish chain, returning the source
// objects fetched (for cleanup once the task is terminal) and the published artifacts.
// Any error here is a per-task failure, not a pipeline-infrastructure
// failure.
func (p *Pipeline) process(ctx context.Context, unit parsepipe.WorkUnit, task *parsepipe.Task, prompt string, rm *parsepipe.ResourceManager, logger *slog.Logger) ([]parsepipe.SourceObject, []parsepipe.Artifact, error) {
	destDir, err := rm.NewSubdir()
	if err != nil {
		return nil, nil, fmt.Errorf("create fetch dir: %w", err)
	}

	sources, scratch, err := p.materialize(ctx, unit, destDir)
	if err != nil {
		return sources, nil, err
	}
	if len(sources) == 0 {
		return sources, nil, errNoSourceFiles
	}

	extractDir, err := rm.NewSubdir()
	if err != nil {
		return sources, nil, fmt.Errorf("create extract dir: %w", err)
	}
	valid, invalid, err := extract.ExpandArchives(extractDir, scratch)
	if err != nil {
		return sources, nil, fmt.Errorf("expand archives: %w", err)
	}

	if unit.Mode == parsepipe.ModeArchive {
		p.recordMaterialization(ctx, unit.TaskID, valid, logger)
	}

	if err := p.Registry.UpdateFileCounts(ctx, unit.TaskID, len(valid), len(invalid)); err != nil {
		logger.Warn("pipeline: update file counts failed", "err", err)
	}

	docs, err := p.Converter.ConvertAll(ctx, valid)
	if err != nil {
		return sources, nil, fmt.Errorf("convert: %w", err)
	}

	texts := make([]string, len(docs))
	names := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
		names[i] = d.Source.OriginalName
	}

	progressCB := p.progressReporter(ctx, unit.TaskID, len(valid), logger)
	fields := p.LLM.ExtractBatch(ctx, prompt, task.FieldKeys, texts, progressCB)
	records := aggregate.BuildRecords(names, fields)

	artifacts, err := p.Publisher.Publish(ctx, p.ArtifactBucket, unit.UserID, unit.TaskID, task.Name, records)
	if err != nil {
		return sources, nil, fmt.Errorf("publish: %w", err)
	}

	return sources, artifacts, nil
}

// progressReporter builds the callback ExtractBatch fires after each
// completion, throttled to the batch size max(min(total/4, 150), 25) —
// an update fires only when processed is a multiple of the batch size or
// processed == total. p.ProgressBatchSize, when configured, overrides
// the computed size. Only the first failed update of a task is logged.
func (p *Pipeline) progressReporter(ctx context.Context, taskID string, total int, logger *slog.Logger) func(completed, total int) {
	batch := p.ProgressBatchSize
	if batch <= 0 {
		batch = progressBatchSize(total)
	}
	var warned atomic.Bool
	return func(completed, totalFiles int) {
		if completed%batch != 0 && completed != totalFiles {
			return
		}
		if err := p.Registry.UpdateProgress(ctx, taskID, completed); err != nil && !warned.Swap(true) {
			logger.Warn("pipeline: update progress failed; further progress failures for this task are not logged", "err", err)
		}
	}
}

// progressBatchSize bounds registry load proportional to batch size.
func progressBatchSize(total int) int {
	quarter := total / 4
	b := quarter
	if b > 150 {
		b = 150
	}
	if b < 25 {
		b = 25
	}
	return b
}

// recordMaterialization best-effort records an archive-mode task's
// enumerated files, so the registry has a durable record of what was
// expanded from the archive.
func (p *Pipeline) recordMaterialization(ctx context.Context, taskID string, scratch []parsepipe.ScratchFile, logger *slog.Logger) {
	if len(scratch) == 0 {
		return
	}
	files := make([]parsepipe.ParseableFile, len(scratch))
	for i, s := range scratch {
		files[i] = parsepipe.ParseableFile{OriginalName: s.OriginalName}
	}
	if err := p.Registry.InsertParseableFiles(ctx, taskID, files); err != nil {
		logger.Warn("pipeline: insert parseable files failed", "err", err)
	}
}

// materialize fetches the task's working set: for ModeDirect, the
// registry's pre-registered file list; for ModeArchive, every object
// under archive-files/{userId}/{taskId}/.
func (p *Pipeline) materialize(ctx context.Context, unit parsepipe.WorkUnit, destDir string) ([]parsepipe.SourceObject, []parsepipe.ScratchFile, error) {
	switch unit.Mode {
	case parsepipe.ModeDirect:
		files, err := p.Registry.GetParseableFiles(ctx, unit.TaskID)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch parseable files: %w", err)
		}
		sources := make([]parsepipe.SourceObject, len(files))
		for i, f := range files {
			sources[i] = parsepipe.SourceObject{Bucket: f.Bucket, ObjectKey: f.ObjectKey, OriginalName: f.OriginalName}
		}
		scratch, err := p.Fetcher.FetchAll(ctx, destDir, sources)
		return sources, scratch, err

	case parsepipe.ModeArchive:
		prefix := fmt.Sprintf("archive-files/%s/%s/", unit.UserID, unit.TaskID)
		sources, err := p.Fetcher.ListPrefix(ctx, p.ArtifactBucket, prefix)
		if err != nil {
			return nil, nil, fmt.Errorf("list source prefix: %w", err)
		}
		scratch, err := p.Fetcher.FetchAll(ctx, destDir, sources)
		return sources, scratch, err

	default:
		return nil, nil, fmt.Errorf("unknown mode %q", unit.Mode)
	}
}

// cleanupSources deletes every fetched source object from the BlobStore,
// best-effort, after the task reaches a terminal state — source objects
// are owned by the caller until the pipeline consumes them, then removed
// regardless of outcome.
func (p *Pipeline) cleanupSources(ctx context.Context, sources []parsepipe.SourceObject, logger *slog.Logger) {
	for _, s := range sources {
		if err := p.Store.Delete(ctx, s.Bucket, s.ObjectKey); err != nil {
			logger.Warn("pipeline: source cleanup failed", "bucket", s.Bucket, "key", s.ObjectKey, "err", err)
		}
	}
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// artifactPaths picks the json/sheet object keys out of a Publish result
// by each artifact's Kind, regardless of their order.
func artifactPaths(artifacts []parsepipe.Artifact) (jsonPath, sheetPath string) {
	for _, a := range artifacts {
		switch a.Kind {
		case parsepipe.ArtifactJSON:
			jsonPath = a.ObjectKey
		case parsepipe.ArtifactSheet:
			sheetPath = a.ObjectKey
		}
	}
	return jsonPath, sheetPath
}
