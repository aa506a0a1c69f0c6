// Package parsepipe is a distributed resume-extraction pipeline.
//
// Given a user-submitted batch of resume files (archived or individual), it
// produces one structured Record per file and aggregates those records into
// a JSON dataset and an accompanying spreadsheet stored in object storage,
// while reporting progress to an external task registry.
//
// # Core pipeline
//
// A Consumer subscribes to a work queue and places validated work units onto
// a bounded handoff channel. A fixed pool of TaskWorkers drains the channel;
// each worker runs one TaskPipeline end-to-end. The pipeline composes six
// stages: fetch → extract (archive) → convert → extract-with-LLM →
// aggregate → publish.
//
// # Core interfaces
//
//   - [BlobStore] — object storage (fetch source files, publish artifacts)
//   - [RegistryClient] — task-registry HTTP API (state/progress reporting)
//
// Concrete implementations live in subpackages: blobstore (S3-compatible),
// registry (HTTP task registry), llm/gemini (structured-extraction LLM),
// convert/{pdf,docx,doc,image,rtf,txt} (per-format text extractors),
// consumer (RabbitMQ work-unit source).
//
// See cmd/parseworker for a complete reference process.
package parsepipe
