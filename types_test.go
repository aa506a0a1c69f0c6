package parsepipe

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestRecordJSONRoundTrip(t *testing.T) {
	original := Record{
		SourceFilename: "resume.pdf",
		Fields: map[string]any{
			"name":  "Jane Doe",
			"email": nil,
			"phone": "+1 555 0100",
		},
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded Record
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if decoded.SourceFilename != original.SourceFilename {
		t.Errorf("SourceFilename = %q, want %q", decoded.SourceFilename, original.SourceFilename)
	}
	if !reflect.DeepEqual(decoded.Fields, original.Fields) {
		t.Errorf("Fields = %#v, want %#v", decoded.Fields, original.Fields)
	}
}

func TestRecordMarshalFlattensSourceFile(t *testing.T) {
	r := Record{SourceFilename: "a.docx", Fields: map[string]any{"name": "A"}}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatal(err)
	}
	if flat["_source_file"] != "a.docx" {
		t.Errorf("_source_file = %v, want a.docx", flat["_source_file"])
	}
	if flat["name"] != "A" {
		t.Errorf("name = %v, want A", flat["name"])
	}
}

func TestRecordUnmarshalWithoutSourceFileKey(t *testing.T) {
	var r Record
	if err := json.Unmarshal([]byte(`{"name":"B"}`), &r); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if r.SourceFilename != "" {
		t.Errorf("SourceFilename = %q, want empty", r.SourceFilename)
	}
	if r.Fields["name"] != "B" {
		t.Errorf("Fields[name] = %v, want B", r.Fields["name"])
	}
}
