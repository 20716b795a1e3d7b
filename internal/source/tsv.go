// Package source reads billing exports into raw rows.
package source

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/lvonguyen/finops-decomposer/internal/normalizer"
)

// maxLineSize bounds a single export line
const maxLineSize = 1024 * 1024

// ReadTSV parses a tab-separated export with a header row. A header lacking
// any required column fails with normalizer.ErrMissingRequiredColumn before
// any data row is read. Fields are split on tabs only; quotes are literal.
func ReadTSV(r io.Reader) ([]normalizer.RawRow, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read header: %w", err)
		}
		return nil, &normalizer.MissingColumnError{Column: normalizer.RequiredColumns[0]}
	}
	header := splitLine(scanner.Text())
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	var rows []normalizer.RawRow
	line := 1
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		fields := splitLine(text)

		row := make(normalizer.RawRow, len(header))
		for i, name := range header {
			if i < len(fields) {
				row[name] = fields[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read line %d: %w", line+1, err)
	}

	return rows, nil
}

func splitLine(line string) []string {
	return strings.Split(strings.TrimSuffix(line, "\r"), "\t")
}

func checkHeader(header []string) error {
	present := make(map[string]bool, len(header))
	for _, name := range header {
		present[name] = true
	}
	for _, col := range normalizer.RequiredColumns {
		if !present[col] {
			return &normalizer.MissingColumnError{Column: col}
		}
	}
	return nil
}
