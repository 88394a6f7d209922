package core

// streaming.go reads CSV uploads as a Worksheet.
//
// Rows are decoded lazily from the upload bytes with encoding/csv, so only
// the requested chunk is materialized. Two artifacts of spreadsheet exports
// are handled on the way in:
//
//   - A UTF-8 BOM (0xEF 0xBB 0xBF) at the start of Windows files is dropped
//   - Invalid UTF-8 sequences become U+FFFD instead of failing the read

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type csvSheet struct {
	name string
	data []byte

	reader *csv.Reader
	cursor int
}

func newCSVSheet(name string, data []byte) *csvSheet {
	return &csvSheet{name: name, data: bytes.TrimPrefix(data, utf8BOM)}
}

func (s *csvSheet) Name() string { return s.name }

// RowCount is unknown without scanning the whole file.
func (s *csvSheet) RowCount() int { return -1 }

func (s *csvSheet) ReadRows(start, n int) ([][]any, error) {
	if n <= 0 {
		return nil, nil
	}
	if s.reader == nil || start < s.cursor {
		s.reset()
	}

	for s.cursor < start {
		if _, err := s.reader.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil
			}
			return nil, fmt.Errorf("invalid csv at row %d: %w", s.cursor+1, err)
		}
		s.cursor++
	}

	out := make([][]any, 0, n)
	for len(out) < n {
		rec, err := s.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("invalid csv at row %d: %w", s.cursor+1, err)
		}
		out = append(out, csvCells(rec))
		s.cursor++
	}
	return out, nil
}

func (s *csvSheet) reset() {
	r := csv.NewReader(bytes.NewReader(s.data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	s.reader = r
	s.cursor = 0
}

func csvCells(rec []string) []any {
	row := make([]any, len(rec))
	for i, c := range rec {
		c = strings.ToValidUTF8(c, "�")
		if strings.TrimSpace(c) == "" {
			continue
		}
		row[i] = c
	}
	return row
}
