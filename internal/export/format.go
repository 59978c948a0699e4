package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"dbconduit/internal/domain"
)

// Format is an export encoding.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatTable Format = "table"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON, FormatTable:
		return f, nil
	}
	return "", fmt.Errorf("unsupported format %q (want csv, json or table)", s)
}

// Write encodes rows under header in format.
func Write(w io.Writer, format Format, header domain.Header, rows []domain.Row) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, header, rows)
	case FormatJSON:
		return writeJSON(w, header, rows)
	case FormatTable:
		return writeTable(w, header, rows)
	}
	return fmt.Errorf("unsupported format %q", format)
}

// Encode is Write into a byte slice.
func Encode(format Format, header domain.Header, rows []domain.Row) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, format, header, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCSV(w io.Writer, header domain.Header, rows []domain.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, len(header))
	for _, row := range rows {
		for i := range record {
			record[i] = cell(row, i)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeJSON emits an array of objects whose keys keep column order.
func writeJSON(w io.Writer, header domain.Header, rows []domain.Row) error {
	keys := make([][]byte, len(header))
	for i, h := range header {
		k, err := json.Marshal(h)
		if err != nil {
			return err
		}
		keys[i] = k
	}

	var buf bytes.Buffer
	buf.WriteString("[")
	for r, row := range rows {
		if r > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  {")
		for i := range header {
			if i > 0 {
				buf.WriteString(", ")
			}
			var v any
			if i < len(row) {
				v = row[i]
			}
			val, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("row %d column %s: %w", r, header[i], err)
			}
			buf.Write(keys[i])
			buf.WriteString(": ")
			buf.Write(val)
		}
		buf.WriteString("}")
	}
	if len(rows) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("]\n")
	_, err := w.Write(buf.Bytes())
	return err
}

func writeTable(w io.Writer, header domain.Header, rows []domain.Row) error {
	cells := make([][]string, len(rows))
	for r, row := range rows {
		cells[r] = make([]string, len(header))
		for i := range header {
			cells[r][i] = cell(row, i)
		}
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(header...).
		Rows(cells...)
	_, err := io.WriteString(w, t.String()+"\n")
	return err
}

func cell(row domain.Row, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	switch v := row[i].(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
	}
	return fmt.Sprint(row[i])
}
