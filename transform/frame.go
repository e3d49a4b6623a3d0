package transform

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
)

// Record is one raw fetched record, keyed by field name.
type Record map[string]any

// Frame is a rectangular tabular snapshot: an ordered list of named columns
// and rows of string cells. Frames are written once and never mutated after
// export.
type Frame struct {
	Columns []string
	Rows    [][]string
}

// CSV encodes the frame as CSV with a header row.
func (f *Frame) CSV() ([]byte, error) {
	var buffer bytes.Buffer
	writer := csv.NewWriter(&buffer)

	if err := writer.Write(f.Columns); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, row := range f.Rows {
		if len(row) != len(f.Columns) {
			return nil, fmt.Errorf("row has %d cells, expected %d", len(row), len(f.Columns))
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV writer: %w", err)
	}

	return buffer.Bytes(), nil
}

// FrameFromCSV parses CSV data with a header row into a Frame. Short rows
// are padded with empty cells; the open-data portals this repo pulls from
// regularly serve ragged CSVs.
func FrameFromCSV(data []byte) (*Frame, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("received empty CSV data")
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	frame := &Frame{Columns: header}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}

		if len(record) > len(header) {
			record = record[:len(header)]
		}
		for len(record) < len(header) {
			record = append(record, "")
		}
		frame.Rows = append(frame.Rows, record)
	}

	return frame, nil
}

// Records converts the frame to one record per row, keyed by column name.
func (f *Frame) Records() []Record {
	records := make([]Record, len(f.Rows))
	for i, row := range f.Rows {
		record := make(Record, len(f.Columns))
		for j, col := range f.Columns {
			record[col] = row[j]
		}
		records[i] = record
	}
	return records
}

// Cell returns the value at (row, column), or "" if the column is unknown.
func (f *Frame) Cell(row int, column string) string {
	for j, col := range f.Columns {
		if col == column {
			return f.Rows[row][j]
		}
	}
	return ""
}
