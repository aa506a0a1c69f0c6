package consumer

import (
	"testing"

	parsepipe "github.com/quillhq/parsepipe"
)

func TestDecodeEnvelopeDefaultsToArchiveMode(t *testing.T) {
	unit, err := decodeEnvelope([]byte(`{"userId":"u1","taskId":"t1"}`))
	if err != nil {
		t.Fatalf("decodeEnvelope() error = %v", err)
	}
	if unit.Mode != parsepipe.ModeArchive {
		t.Errorf("Mode = %q, want %q (default)", unit.Mode, parsepipe.ModeArchive)
	}
	if unit.UserID != "u1" || unit.TaskID != "t1" {
		t.Errorf("unit = %+v", unit)
	}
}

func TestDecodeEnvelopeExplicitDirectMode(t *testing.T) {
	unit, err := decodeEnvelope([]byte(`{"userId":"u1","taskId":"t1","extractFromArchive":false}`))
	if err != nil {
		t.Fatalf("decodeEnvelope() error = %v", err)
	}
	if unit.Mode != parsepipe.ModeDirect {
		t.Errorf("Mode = %q, want %q", unit.Mode, parsepipe.ModeDirect)
	}
}

func TestDecodeEnvelopeExplicitTrueIsArchiveMode(t *testing.T) {
	unit, err := decodeEnvelope([]byte(`{"userId":"u1","taskId":"t1","extractFromArchive":true}`))
	if err != nil {
		t.Fatalf("decodeEnvelope() error = %v", err)
	}
	if unit.Mode != parsepipe.ModeArchive {
		t.Errorf("Mode = %q, want %q", unit.Mode, parsepipe.ModeArchive)
	}
}

func TestDecodeEnvelopeMissingUserID(t *testing.T) {
	_, err := decodeEnvelope([]byte(`{"taskId":"t1"}`))
	if err == nil {
		t.Fatal("expected error for missing userId")
	}
	if _, ok := err.(*parsepipe.ErrBadMessage); !ok {
		t.Errorf("error type = %T, want *parsepipe.ErrBadMessage", err)
	}
}

func TestDecodeEnvelopeMissingTaskID(t *testing.T) {
	_, err := decodeEnvelope([]byte(`{"userId":"u1"}`))
	if err == nil {
		t.Fatal("expected error for missing taskId")
	}
}

func TestDecodeEnvelopeInvalidJSON(t *testing.T) {
	_, err := decodeEnvelope([]byte(`not json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if _, ok := err.(*parsepipe.ErrBadMessage); !ok {
		t.Errorf("error type = %T, want *parsepipe.ErrBadMessage", err)
	}
}
