package rtf

import "testing"

func TestExtractStripsControlWords(t *testing.T) {
	e := NewExtractor()
	input := `{\rtf1\ansi\deff0\f0\fs24 Jane Doe\par Senior Engineer}`
	text, err := e.Extract([]byte(input))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	want := "Jane Doe Senior Engineer"
	if text != want {
		t.Errorf("Extract() = %q, want %q", text, want)
	}
}

func TestExtractUnescapesLiteralBraces(t *testing.T) {
	e := NewExtractor()
	text, err := e.Extract([]byte(`{\rtf1 a \{b\} \\c}`))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != `a {b} \c` {
		t.Errorf("Extract() = %q", text)
	}
}

func TestExtractSkipsHexEscapes(t *testing.T) {
	e := NewExtractor()
	text, err := e.Extract([]byte(`{\rtf1 caf\'e9 bar}`))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "caf bar" {
		t.Errorf("Extract() = %q, want hex escape dropped", text)
	}
}

func TestExtractEmptyInput(t *testing.T) {
	e := NewExtractor()
	text, err := e.Extract(nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "" {
		t.Errorf("Extract() = %q, want empty", text)
	}
}
