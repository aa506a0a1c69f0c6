package parsepipe

import "encoding/json"

// --- Work unit / envelope ---

// Mode selects how a TaskPipeline materializes its working set.
type Mode string

const (
	ModeArchive Mode = "archive"
	ModeDirect  Mode = "direct"
)

// WorkUnit is one unit of input from the broker, binding a task to a user.
type WorkUnit struct {
	UserID string
	TaskID string
	Mode   Mode
}

// --- Task (owned by the external registry; the core reads/mutates a subset) ---

// TaskStatus is one of the closed set of statuses the registry recognizes.
// The core writes only StatusCompleted and StatusFailed.
type TaskStatus string

const (
	StatusCreated        TaskStatus = "created"
	StatusExtracting     TaskStatus = "extracting"
	StatusConverting     TaskStatus = "converting"
	StatusExtractingInfo TaskStatus = "extracting_info"
	StatusAggregating    TaskStatus = "aggregating"
	StatusCompleted      TaskStatus = "completed"
	StatusFailed         TaskStatus = "failed"
)

// Task is the registry's view of one extraction job. The extraction
// prompt is fetched separately (RegistryClient.GetExtractionPrompt) —
// it can be large and most task reads don't need it.
type Task struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Status         TaskStatus `json:"status"`
	TotalFiles     int        `json:"totalFiles"`
	ProcessedFiles int        `json:"processedFiles"`
	InvalidFiles   int        `json:"invalidFiles"`
	JSONPath       string     `json:"jsonPath"`
	SheetPath      string     `json:"sheetPath"`
	Error          string     `json:"error"`
	// FieldKeys declares the output schema the LLM must fill for this
	// task. Optional: when empty, records take whatever key set the
	// model returns and no response schema is enforced.
	FieldKeys []string `json:"fieldKeys"`
}

// ParseableFile is a pre-registered file reference for direct-mode tasks,
// or a record of one archive-mode file inserted after materialization.
type ParseableFile struct {
	Bucket       string `json:"bucket"`
	ObjectKey    string `json:"objectKey"`
	OriginalName string `json:"originalName"`
}

// --- Object storage references ---

// SourceObject is a blob referenced by the pipeline but never owned by it.
type SourceObject struct {
	Bucket       string
	ObjectKey    string
	OriginalName string
	Size         int64
}

// ScratchFile is a local, ResourceManager-owned file created during
// fetch/extract. Every ScratchFile created during a pipeline run is removed
// before the pipeline returns.
type ScratchFile struct {
	LocalPath    string
	OriginalName string
	Extension    string
	Size         int64
}

// TextDocument is the in-memory (never persisted) result of converting one
// ScratchFile to text.
type TextDocument struct {
	Source        ScratchFile
	Text          string
	ConverterUsed string
}

// --- Records / artifacts ---

// Record is one structured output row: the LLM's field map plus the
// reserved "_source_file" key. Field values are JSON scalars or null.
type Record struct {
	SourceFilename string
	Fields         map[string]any
}

const sourceFileKey = "_source_file"

// MarshalJSON flattens Record into a single JSON object whose keys are the
// LLM field keys plus "_source_file", matching the aggregated JSON array
// shape the Publisher writes.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	out[sourceFileKey] = r.SourceFilename
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON: it lifts "_source_file" back
// out of the flat object into SourceFilename and leaves the rest in Fields.
func (r *Record) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	if sf, ok := flat[sourceFileKey]; ok {
		if s, ok := sf.(string); ok {
			r.SourceFilename = s
		}
		delete(flat, sourceFileKey)
	}
	r.Fields = flat
	return nil
}

// ArtifactKind identifies the two artifact types the Publisher produces.
type ArtifactKind string

const (
	ArtifactJSON  ArtifactKind = "json"
	ArtifactSheet ArtifactKind = "sheet"
)

// Artifact is a published output; ownership transfers to the BlobStore on
// successful upload.
type Artifact struct {
	Kind      ArtifactKind
	ObjectKey string
	ByteSize  int64
}
