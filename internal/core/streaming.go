package core

// streaming.go holds the reader chain the ingestor parses through.
//
//   - bomReader drops a leading UTF-8 BOM written by spreadsheet exports
//   - utf8Sanitizer replaces invalid UTF-8 bytes with '?' without buffering the file
//   - progressReader counts bytes and reports a percentage that never reaches
//     100 until the ingestor declares completion
//
// wrapForIngest applies them in that order.

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type bomReader struct {
	br      *bufio.Reader
	checked bool
}

func newBOMReader(r io.Reader) *bomReader {
	return &bomReader{br: bufio.NewReader(r)}
}

func (r *bomReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true
		head, err := r.br.Peek(len(utf8BOM))
		if err == nil && bytes.Equal(head, utf8BOM) {
			if _, err := r.br.Discard(len(utf8BOM)); err != nil {
				return 0, err
			}
		}
	}
	return r.br.Read(p)
}

// utf8Sanitizer rewrites invalid UTF-8 in place. A multi-byte sequence split
// across two reads is carried over to the next call.
type utf8Sanitizer struct {
	r       io.Reader
	pending []byte
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{r: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	off := copy(p, s.pending)
	s.pending = s.pending[:0]

	n, err := s.r.Read(p[off:])
	n += off
	if n == 0 {
		return 0, err
	}

	data := p[:n]
	atEOF := err == io.EOF

	// A trailing partial rune is held back; if the held-back bytes are all
	// we have and the reader is not done, keep reading.
	if !atEOF {
		if tail := partialRuneSuffix(data); tail > 0 {
			s.pending = append(s.pending, data[n-tail:]...)
			data = data[:n-tail]
		}
	}

	if utf8.Valid(data) {
		return len(data), err
	}

	w := 0
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			data[w] = '?'
			w++
			i++
			continue
		}
		copy(data[w:], data[i:i+size])
		w += size
		i += size
	}
	return w, err
}

// partialRuneSuffix returns how many trailing bytes of b start a multi-byte
// rune that is not yet complete.
func partialRuneSuffix(b []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < utf8.RuneSelf {
			return 0
		}
		if utf8.RuneStart(c) {
			if need := leadLen(c); need > i {
				return i
			}
			return 0
		}
	}
	return 0
}

func leadLen(c byte) int {
	switch {
	case c >= 0xF0:
		return 4
	case c >= 0xE0:
		return 3
	case c >= 0xC0:
		return 2
	}
	return 1
}

// progressReader counts bytes read against a known total.
type progressReader struct {
	r     io.Reader
	read  int64
	total int64
	last  int
}

func newProgressReader(r io.Reader, total int64) *progressReader {
	return &progressReader{r: r, total: total}
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.read += int64(n)
	return n, err
}

// Percent returns read progress in [0, 99]. It never decreases between calls.
func (r *progressReader) Percent() int {
	if r.total <= 0 {
		return r.last
	}
	pct := int(r.read * 100 / r.total)
	if pct > 99 {
		pct = 99
	}
	if pct < r.last {
		pct = r.last
	}
	r.last = pct
	return pct
}

func wrapForIngest(r io.Reader, total int64) *progressReader {
	return newProgressReader(newUTF8Sanitizer(newBOMReader(r)), total)
}
