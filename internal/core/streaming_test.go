package core

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestBOMReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"file with BOM", append([]byte{0xEF, 0xBB, 0xBF}, "case_id,dob"...), "case_id,dob"},
		{"file without BOM", []byte("case_id,dob"), "case_id,dob"},
		{"empty file", []byte{}, ""},
		{"only BOM", []byte{0xEF, 0xBB, 0xBF}, ""},
		{"short file", []byte("a"), "a"},
		{"partial BOM", []byte{0xEF, 0xBB, 'a'}, string([]byte{0xEF, 0xBB, 'a'})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(newBOMReader(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestUTF8Sanitizer(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"ascii", []byte("Asha Rao"), "Asha Rao"},
		{"valid multibyte", []byte("Zoë Ñúñez 日本"), "Zoë Ñúñez 日本"},
		{"invalid byte", []byte{'a', 0xFF, 'b'}, "a?b"},
		{"latin1 e-acute", []byte{'c', 'a', 'f', 0xE9}, "caf?"},
		{"truncated rune at EOF", []byte{'x', 0xE6, 0x97}, "x??"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(newUTF8Sanitizer(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestUTF8Sanitizer_RuneSplitAcrossReads(t *testing.T) {
	input := "name,日本語,Zoë"
	// OneByteReader hands over a single byte per Read, splitting every rune.
	got, err := io.ReadAll(newUTF8Sanitizer(iotest.OneByteReader(strings.NewReader(input))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != input {
		t.Errorf("got %q, want %q", got, input)
	}
}

func TestProgressReader(t *testing.T) {
	data := strings.Repeat("x", 1000)
	pr := newProgressReader(strings.NewReader(data), int64(len(data)))

	buf := make([]byte, 250)
	last := 0
	for {
		_, err := pr.Read(buf)
		pct := pr.Percent()
		if pct < last {
			t.Errorf("percent went backwards: %d < %d", pct, last)
		}
		if pct > 99 {
			t.Errorf("percent %d exceeds 99", pct)
		}
		last = pct
		if err == io.EOF {
			break
		}
	}
	if last != 99 {
		t.Errorf("final percent = %d, want 99", last)
	}
}

func TestProgressReader_UnknownTotal(t *testing.T) {
	pr := newProgressReader(strings.NewReader("abc"), 0)
	io.ReadAll(pr)
	if got := pr.Percent(); got != 0 {
		t.Errorf("Percent with unknown total = %d, want 0", got)
	}
}

func TestWrapForIngest(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte("case_id\nC-1\xff\n")...)
	pr := wrapForIngest(bytes.NewReader(input), int64(len(input)))

	got, err := io.ReadAll(pr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "case_id\nC-1?\n" {
		t.Errorf("got %q", got)
	}
	if pr.read != int64(len(got)) {
		t.Errorf("counted %d bytes, want %d", pr.read, len(got))
	}
}
