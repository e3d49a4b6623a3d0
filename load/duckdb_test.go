package load

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickjwilliams1987/MscCompSci-Final-Project/config"
	"github.com/nickjwilliams1987/MscCompSci-Final-Project/transform"
)

func newTestDB(t *testing.T) *DuckDB {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := NewDuckDB(&config.Config{}, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	return db
}

func holidaySchema() []config.Column {
	return []config.Column{
		{Name: "date", Type: config.TypeDate, PrimaryKey: true},
		{Name: "name", Type: config.TypeString, PrimaryKey: true},
	}
}

func holidayFrame() *transform.Frame {
	return &transform.Frame{
		Columns: []string{"date", "name"},
		Rows: [][]string{
			{"2024-12-25", "Christmas Day"},
			{"2024-12-26", "Boxing Day"},
		},
	}
}

func TestEnsureTableAndLoadSnapshot(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	require.NoError(t, db.EnsureTable(ctx, "holidays.holidays", holidaySchema()))

	rows, err := db.LoadSnapshot(ctx, holidayFrame(), "holidays.holidays", holidaySchema())
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows)

	results, err := db.GetQueryResults("SELECT name FROM holidays.holidays ORDER BY date")
	require.NoError(t, err)
	assert.Equal(t, []string{"Christmas Day", "Boxing Day"}, results["name"])
}

func TestLoadSnapshotReplacesOnPrimaryKey(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	require.NoError(t, db.EnsureTable(ctx, "holidays.holidays", holidaySchema()))

	_, err := db.LoadSnapshot(ctx, holidayFrame(), "holidays.holidays", holidaySchema())
	require.NoError(t, err)

	// Loading the same snapshot again must not duplicate rows.
	_, err = db.LoadSnapshot(ctx, holidayFrame(), "holidays.holidays", holidaySchema())
	require.NoError(t, err)

	results, err := db.GetQueryResults("SELECT count(*) AS n FROM holidays.holidays")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, results["n"])
}

func TestLoadSnapshotValidation(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	require.NoError(t, db.EnsureTable(ctx, "holidays.holidays", holidaySchema()))

	tests := []struct {
		name    string
		frame   *transform.Frame
		wantErr string
	}{
		{
			name: "wrong column count",
			frame: &transform.Frame{
				Columns: []string{"date"},
				Rows:    [][]string{{"2024-12-25"}},
			},
			wantErr: "schema declares 2",
		},
		{
			name: "wrong column order",
			frame: &transform.Frame{
				Columns: []string{"name", "date"},
				Rows:    [][]string{{"Christmas Day", "2024-12-25"}},
			},
			wantErr: `column 0 is "name"`,
		},
		{
			name: "bad cell type",
			frame: &transform.Frame{
				Columns: []string{"date", "name"},
				Rows:    [][]string{{"not-a-date", "Christmas Day"}},
			},
			wantErr: `column "date"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.LoadSnapshot(ctx, tt.frame, "holidays.holidays", holidaySchema())
			require.Error(t, err)

			var loadErr *LoadError
			require.ErrorAs(t, err, &loadErr)
			assert.Equal(t, KindValidation, loadErr.Kind)
			assert.Contains(t, err.Error(), tt.wantErr)

			// Nothing must have been transmitted.
			results, err := db.GetQueryResults("SELECT count(*) AS n FROM holidays.holidays")
			require.NoError(t, err)
			assert.Equal(t, []string{"0"}, results["n"])
		})
	}
}

func TestLoadSnapshotRejectsInexactNumericCells(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	schema := []config.Column{
		{Name: "city", Type: config.TypeString},
		{Name: "count", Type: config.TypeInteger},
		{Name: "rate", Type: config.TypeFloat},
	}
	require.NoError(t, db.EnsureTable(ctx, "cells", schema))

	tests := []struct {
		name string
		row  []string
	}{
		{"integer with trailing garbage", []string{"Leeds", "12abc", "1.5"}},
		{"float with trailing garbage", []string{"Leeds", "12", "1.5x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := &transform.Frame{
				Columns: []string{"city", "count", "rate"},
				Rows:    [][]string{tt.row},
			}

			_, err := db.LoadSnapshot(ctx, frame, "cells", schema)
			require.Error(t, err)

			var loadErr *LoadError
			require.ErrorAs(t, err, &loadErr)
			assert.Equal(t, KindValidation, loadErr.Kind)
		})
	}
}

func TestLoadSnapshotWithoutPrimaryKeyAppends(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	schema := []config.Column{
		{Name: "city", Type: config.TypeString},
		{Name: "value", Type: config.TypeInteger},
	}
	frame := &transform.Frame{
		Columns: []string{"city", "value"},
		Rows:    [][]string{{"Leeds", "1"}},
	}

	require.NoError(t, db.EnsureTable(ctx, "plain", schema))

	_, err := db.LoadSnapshot(ctx, frame, "plain", schema)
	require.NoError(t, err)
	_, err = db.LoadSnapshot(ctx, frame, "plain", schema)
	require.NoError(t, err)

	results, err := db.GetQueryResults("SELECT count(*) AS n FROM plain")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, results["n"])
}

func TestRunTemplatedQuery(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	require.NoError(t, db.EnsureTable(ctx, "holidays.holidays", holidaySchema()))
	_, err := db.LoadSnapshot(ctx, holidayFrame(), "holidays.holidays", holidaySchema())
	require.NoError(t, err)

	queryFile := filepath.Join(t.TempDir(), "copy.sql")
	query := "CREATE TABLE {{.Base}}_copy AS SELECT * FROM {{.Table}};"
	require.NoError(t, os.WriteFile(queryFile, []byte(query), 0o644))

	err = db.RunTemplatedQuery(ctx, queryFile, map[string]any{
		"Table": "holidays.holidays",
		"Base":  "holidays.holidays",
	})
	require.NoError(t, err)

	results, err := db.GetQueryResults("SELECT count(*) AS n FROM holidays.holidays_copy")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, results["n"])
}
