package txt

import "testing"

func TestExtractUTF8(t *testing.T) {
	e := NewExtractor()
	text, err := e.Extract([]byte("Jane Doe\nSoftware Engineer"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "Jane Doe\nSoftware Engineer" {
		t.Errorf("Extract() = %q", text)
	}
}

func TestExtractEmpty(t *testing.T) {
	e := NewExtractor()
	text, err := e.Extract([]byte(""))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "" {
		t.Errorf("Extract() = %q, want empty", text)
	}
}

func TestExtractWindows1252(t *testing.T) {
	e := NewExtractor()
	// 0x93/0x94 are Windows-1252 curly quotes with no UTF-8 meaning as raw bytes.
	text, err := e.Extract([]byte{0x93, 'h', 'i', 0x94})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text == "" {
		t.Error("Extract() returned empty text for a decodable Windows-1252 sequence")
	}
}
