package transform

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nickjwilliams1987/MscCompSci-Final-Project/config"
)

// CleanOptions configures the clean stage for one pipeline.
type CleanOptions struct {
	Schema []config.Column
	Range  *config.DateRange
	Mode   config.CleanMode
}

// CleanResult is the cleaned snapshot plus counts of records that did not
// make it: Dropped covers schema violations (per the lenient/strict mode),
// Filtered covers records outside the valid date range.
type CleanResult struct {
	Frame    *Frame
	Dropped  int
	Filtered int
}

// Clean transforms raw records into the declared schema:
//
//  1. project each record onto the schema columns, null-filling missing
//     fields (lenient) or excluding the record (strict);
//  2. coerce values to the declared types, canonicalizing dates to
//     YYYY-MM-DD and timestamps to "YYYY-MM-DD HH:MM:SS";
//  3. filter out records outside the configured valid range, if any;
//  4. deduplicate by the declared primary-key columns, the most recently
//     fetched record winning.
//
// In lenient mode a record that cannot be coerced is dropped and counted; in
// strict mode the first coercion failure fails the whole stage. Clean is
// idempotent: running it on an already-clean snapshot yields the same rows.
func Clean(records []Record, opts CleanOptions) (*CleanResult, error) {
	if opts.Mode == "" {
		opts.Mode = config.ModeLenient
	}

	result := &CleanResult{
		Frame: &Frame{Columns: columnNames(opts.Schema)},
	}

	pk := primaryKeyIndexes(opts.Schema)
	rangeIdx := -1
	if opts.Range != nil {
		for i, col := range opts.Schema {
			if col.Name == opts.Range.Column {
				rangeIdx = i
			}
		}
	}

	seen := make(map[string]int)

	for _, record := range records {
		row := make([]string, len(opts.Schema))
		keep := true

		for i, col := range opts.Schema {
			// An empty string is the null fill of an earlier pass; treat it
			// like a missing field so cleaning a cleaned snapshot is a no-op.
			value, ok := record[col.Name]
			if !ok || value == nil || value == "" {
				if opts.Mode == config.ModeStrict {
					result.Dropped++
					keep = false
					break
				}
				row[i] = ""
				continue
			}

			cell, err := coerce(value, col.Type)
			if err != nil {
				if opts.Mode == config.ModeStrict {
					return nil, fmt.Errorf("column %q: %w", col.Name, err)
				}
				result.Dropped++
				keep = false
				break
			}
			row[i] = cell
		}
		if !keep {
			continue
		}

		if rangeIdx >= 0 && row[rangeIdx] != "" {
			t, err := ParseTime(row[rangeIdx])
			if err == nil && !opts.Range.Contains(t) {
				result.Filtered++
				continue
			}
		}

		// Dedup keeps the latest fetched record at the position of the
		// first occurrence, so repeated cleaning is a no-op.
		key := dedupKey(row, pk)
		if at, ok := seen[key]; ok {
			result.Frame.Rows[at] = row
			continue
		}
		seen[key] = len(result.Frame.Rows)
		result.Frame.Rows = append(result.Frame.Rows, row)
	}

	return result, nil
}

func columnNames(schema []config.Column) []string {
	names := make([]string, len(schema))
	for i, col := range schema {
		names[i] = col.Name
	}
	return names
}

// primaryKeyIndexes returns the schema positions of the declared primary-key
// columns, or all positions when none are declared (whole-row dedup).
func primaryKeyIndexes(schema []config.Column) []int {
	var idx []int
	for i, col := range schema {
		if col.PrimaryKey {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		idx = make([]int, len(schema))
		for i := range schema {
			idx[i] = i
		}
	}
	return idx
}

func dedupKey(row []string, pk []int) string {
	parts := make([]string, len(pk))
	for i, j := range pk {
		parts[i] = row[j]
	}
	return strings.Join(parts, "\x00")
}

func coerce(value any, colType config.ColumnType) (string, error) {
	switch colType {
	case config.TypeString:
		return fmt.Sprintf("%v", value), nil

	case config.TypeInteger:
		switch v := value.(type) {
		case int:
			return strconv.Itoa(v), nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		case float64:
			if v != math.Trunc(v) {
				return "", fmt.Errorf("cannot coerce %v to integer", v)
			}
			return strconv.FormatInt(int64(v), 10), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return "", fmt.Errorf("cannot coerce %q to integer", v)
			}
			return strconv.FormatInt(n, 10), nil
		default:
			return "", fmt.Errorf("cannot coerce %T to integer", value)
		}

	case config.TypeFloat:
		switch v := value.(type) {
		case int:
			return strconv.FormatFloat(float64(v), 'f', -1, 64), nil
		case int64:
			return strconv.FormatFloat(float64(v), 'f', -1, 64), nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(v, ",", "")), 64)
			if err != nil {
				return "", fmt.Errorf("cannot coerce %q to float", v)
			}
			return strconv.FormatFloat(f, 'f', -1, 64), nil
		default:
			return "", fmt.Errorf("cannot coerce %T to float", value)
		}

	case config.TypeDate:
		t, err := toTime(value)
		if err != nil {
			return "", err
		}
		return t.Format(time.DateOnly), nil

	case config.TypeTimestamp:
		t, err := toTime(value)
		if err != nil {
			return "", err
		}
		return t.Format(time.DateTime), nil
	}

	return "", fmt.Errorf("unknown column type %q", colType)
}

func toTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case int:
		return time.Unix(int64(v), 0).UTC(), nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case float64:
		return time.Unix(int64(v), 0).UTC(), nil
	case string:
		return ParseTime(v)
	default:
		return time.Time{}, fmt.Errorf("cannot coerce %T to a time", value)
	}
}

// timeLayouts are the input formats the source APIs and open-data CSVs have
// been observed to use. UK-style day-first dates come before month-first.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.DateTime,
	time.DateOnly,
	"02/01/2006 15:04:05",
	"02/01/2006",
	"02-01-2006",
	"2/1/2006",
}

// ParseTime parses a date or timestamp string in any accepted layout.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date/timestamp %q", s)
}
