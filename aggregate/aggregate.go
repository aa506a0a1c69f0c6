// Package aggregate merges LLM output into sorted Records, then
// publishes a JSON array artifact and an .xlsx spreadsheet artifact to
// the BlobStore.
//
// JSON assembly streams line-delimited records to a scratch file, then
// re-reads and wraps them as a single well-formed array during upload,
// keeping memory flat for large batches. The spreadsheet is written
// with github.com/xuri/excelize/v2.
package aggregate

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/xuri/excelize/v2"

	parsepipe "github.com/quillhq/parsepipe"
)

// BuildRecords merges each field map with its source filename and sorts
// the result by source filename, so the published outputs are
// deterministic regardless of completion order.
func BuildRecords(sourceFilenames []string, fields []map[string]any) []parsepipe.Record {
	records := make([]parsepipe.Record, len(sourceFilenames))
	for i, name := range sourceFilenames {
		records[i] = parsepipe.Record{SourceFilename: name, Fields: fields[i]}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].SourceFilename < records[j].SourceFilename
	})
	return records
}

// Publisher uploads the aggregated JSON and spreadsheet artifacts to a
// BlobStore.
type Publisher struct {
	store      parsepipe.BlobStore
	scratchDir string
}

// NewPublisher builds a Publisher writing intermediate files under
// scratchDir before streaming them to store.
func NewPublisher(store parsepipe.BlobStore, scratchDir string) *Publisher {
	return &Publisher{store: store, scratchDir: scratchDir}
}

// Publish writes both artifacts and uploads them under
// aggregated-results/{userID}/{taskID}/{taskName}-result.{json,xlsx},
// returning the two Artifacts in JSON-then-sheet order.
func (p *Publisher) Publish(ctx context.Context, bucket, userID, taskID, taskName string, records []parsepipe.Record) ([]parsepipe.Artifact, error) {
	jsonArtifact, err := p.publishJSON(ctx, bucket, userID, taskID, taskName, records)
	if err != nil {
		return nil, fmt.Errorf("aggregate: publish json: %w", err)
	}
	sheetArtifact, err := p.publishSheet(ctx, bucket, userID, taskID, taskName, records)
	if err != nil {
		return nil, fmt.Errorf("aggregate: publish sheet: %w", err)
	}
	return []parsepipe.Artifact{jsonArtifact, sheetArtifact}, nil
}

func (p *Publisher) publishJSON(ctx context.Context, bucket, userID, taskID, taskName string, records []parsepipe.Record) (parsepipe.Artifact, error) {
	scratchPath := filepath.Join(p.scratchDir, taskID+"-result.ndjson")
	if err := writeLineDelimited(scratchPath, records); err != nil {
		return parsepipe.Artifact{}, err
	}
	defer os.Remove(scratchPath)

	arrayPath := filepath.Join(p.scratchDir, taskID+"-result.json")
	size, err := wrapAsJSONArray(scratchPath, arrayPath)
	if err != nil {
		return parsepipe.Artifact{}, err
	}
	defer os.Remove(arrayPath)

	key := fmt.Sprintf("aggregated-results/%s/%s/%s-result.json", userID, taskID, taskName)
	f, err := os.Open(arrayPath)
	if err != nil {
		return parsepipe.Artifact{}, err
	}
	defer f.Close()
	if err := p.store.Upload(ctx, bucket, key, f, size); err != nil {
		return parsepipe.Artifact{}, err
	}
	return parsepipe.Artifact{Kind: parsepipe.ArtifactJSON, ObjectKey: key, ByteSize: size}, nil
}

// writeLineDelimited streams one JSON object per line to path, the
// intermediate format the array wrapper re-reads during upload.
func writeLineDelimited(path string, records []parsepipe.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// wrapAsJSONArray re-reads the line-delimited intermediate and writes a
// single well-formed JSON array to outPath, returning its byte size.
func wrapAsJSONArray(inPath, outPath string) (int64, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	if _, err := w.WriteString("["); err != nil {
		return 0, err
	}

	dec := json.NewDecoder(in)
	first := true
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return 0, err
		}
		if !first {
			if _, err := w.WriteString(","); err != nil {
				return 0, err
			}
		}
		first = false
		if _, err := w.Write(raw); err != nil {
			return 0, err
		}
	}
	if _, err := w.WriteString("]"); err != nil {
		return 0, err
	}
	if err := w.Flush(); err != nil {
		return 0, err
	}

	info, err := out.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (p *Publisher) publishSheet(ctx context.Context, bucket, userID, taskID, taskName string, records []parsepipe.Record) (parsepipe.Artifact, error) {
	path := filepath.Join(p.scratchDir, taskID+"-result.xlsx")
	size, err := writeSpreadsheet(path, records)
	if err != nil {
		return parsepipe.Artifact{}, err
	}
	defer os.Remove(path)

	key := fmt.Sprintf("aggregated-results/%s/%s/%s-result.xlsx", userID, taskID, taskName)
	f, err := os.Open(path)
	if err != nil {
		return parsepipe.Artifact{}, err
	}
	defer f.Close()
	if err := p.store.Upload(ctx, bucket, key, f, size); err != nil {
		return parsepipe.Artifact{}, err
	}
	return parsepipe.Artifact{Kind: parsepipe.ArtifactSheet, ObjectKey: key, ByteSize: size}, nil
}

// writeSpreadsheet builds one sheet whose header row is the sorted union
// of all record keys, "_source_file" included, one data row per record,
// null values stringified as "".
func writeSpreadsheet(path string, records []parsepipe.Record) (int64, error) {
	keys := unionKeys(records)

	f := excelize.NewFile()
	const sheet = "Sheet1"

	for col, h := range keys {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	for row, r := range records {
		rowIdx := row + 2
		for col, k := range keys {
			cell, _ := excelize.CoordinatesToCellName(col+1, rowIdx)
			var v any = r.Fields[k]
			if k == "_source_file" {
				v = r.SourceFilename
			}
			if v == nil {
				f.SetCellValue(sheet, cell, "")
			} else {
				f.SetCellValue(sheet, cell, fmt.Sprintf("%v", v))
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// unionKeys returns the sorted union of every record's field keys plus
// "_source_file", the column ordering for the spreadsheet artifact.
func unionKeys(records []parsepipe.Record) []string {
	set := map[string]bool{"_source_file": true}
	for _, r := range records {
		for k := range r.Fields {
			set[k] = true
		}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
