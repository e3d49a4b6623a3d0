package config

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/viper"
)

// ConfigError marks a fatal problem in a settings document, detected before
// any network or storage call is made.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid settings: %s: %s", e.Field, e.Reason)
}

// ColumnType enumerates the value types a settings schema may declare.
type ColumnType string

const (
	TypeString    ColumnType = "string"
	TypeInteger   ColumnType = "integer"
	TypeFloat     ColumnType = "float"
	TypeDate      ColumnType = "date"
	TypeTimestamp ColumnType = "timestamp"
)

// Column is one entry in the declared, ordered output schema.
type Column struct {
	Name       string     `mapstructure:"name"`
	Type       ColumnType `mapstructure:"type"`
	PrimaryKey bool       `mapstructure:"primary_key"`
}

// Endpoint describes the external API to fetch from. URL may contain
// {{name}} placeholders expanded from Params plus per-request values
// (year, lat, lon, etc.) supplied by the pipeline.
type Endpoint struct {
	URL string `mapstructure:"url"`
	// Params are static template values merged into every request.
	Params map[string]string `mapstructure:"params"`
	// APIKeyEnv names the environment variable holding the API key, if the
	// endpoint needs one. The key itself never appears in the document.
	APIKeyEnv string `mapstructure:"api_key_env"`
}

// Snapshots configures where raw and cleaned snapshots land inside the
// storage bucket.
type Snapshots struct {
	RawPrefix   string `mapstructure:"raw_prefix"`
	CleanPrefix string `mapstructure:"clean_prefix"`
}

// Warehouse names the target table for the cleaned row set.
type Warehouse struct {
	Table string `mapstructure:"table"`
	// ShardByDate appends _yyyymmdd to the table name, so a re-run for a
	// date replaces that date's shard instead of duplicating rows.
	ShardByDate bool `mapstructure:"shard_by_date"`
	// MergeQueryFile is an optional templated SQL file executed after the
	// load (used by the historic pipeline to refresh the complete table).
	MergeQueryFile string `mapstructure:"merge_query_file"`
}

// DateRange bounds the records the clean stage will keep. Bounds are
// inclusive and parsed as YYYY-MM-DD.
type DateRange struct {
	Column string `mapstructure:"column"`
	Start  string `mapstructure:"start"`
	End    string `mapstructure:"end"`

	start time.Time
	end   time.Time
}

// Parse validates the bounds and caches them for Contains.
func (r *DateRange) Parse() error {
	start, err := time.Parse(time.DateOnly, r.Start)
	if err != nil {
		return &ConfigError{Field: "valid_range.start", Reason: "expected YYYY-MM-DD"}
	}
	end, err := time.Parse(time.DateOnly, r.End)
	if err != nil {
		return &ConfigError{Field: "valid_range.end", Reason: "expected YYYY-MM-DD"}
	}
	if end.Before(start) {
		return &ConfigError{Field: "valid_range", Reason: "end is before start"}
	}
	r.start = start
	r.end = end
	return nil
}

// Contains reports whether t falls inside the range (date precision).
func (r *DateRange) Contains(t time.Time) bool {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return !day.Before(r.start) && !day.After(r.end)
}

// CleanMode selects how the clean stage treats records that do not match the
// declared schema.
type CleanMode string

const (
	// ModeLenient null-fills missing declared fields and drops records that
	// cannot be coerced, carrying a dropped count. This is the default.
	ModeLenient CleanMode = "lenient"
	// ModeStrict excludes records with missing declared fields and fails the
	// whole clean stage on the first coercion error.
	ModeStrict CleanMode = "strict"
)

// City is a named coordinate for the weather pipelines.
type City struct {
	Name string  `mapstructure:"city"`
	Lat  float64 `mapstructure:"lat"`
	Lon  float64 `mapstructure:"lon"`
}

// Settings is one pipeline's persisted settings document. It is immutable
// for the duration of a run.
type Settings struct {
	Pipeline  string     `mapstructure:"pipeline"`
	Endpoint  Endpoint   `mapstructure:"endpoint"`
	Schema    []Column   `mapstructure:"schema"`
	Snapshots Snapshots  `mapstructure:"snapshots"`
	Warehouse Warehouse  `mapstructure:"warehouse"`
	Range     *DateRange `mapstructure:"valid_range"`
	Mode      CleanMode  `mapstructure:"mode"`

	// Pipeline-specific parameters.
	StartYear    int      `mapstructure:"start_year"`    // holidays
	Cities       []City   `mapstructure:"cities"`        // forecast, historic
	City         string   `mapstructure:"city"`          // footfall
	DownloadURL  string   `mapstructure:"download_url"`  // footfall per-file template
	ExcludeFiles []string `mapstructure:"exclude_files"` // footfall

	// Footfall column resolution, in preferential order.
	PreferredFootfallColumns []string `mapstructure:"preferred_footfall_columns"`
	PreferredLocationColumns []string `mapstructure:"preferred_location_columns"`
}

// PrimaryKey returns the names of the declared primary-key columns, in
// schema order.
func (s *Settings) PrimaryKey() []string {
	var keys []string
	for _, col := range s.Schema {
		if col.PrimaryKey {
			keys = append(keys, col.Name)
		}
	}
	return keys
}

// ColumnNames returns the declared column names in schema order.
func (s *Settings) ColumnNames() []string {
	names := make([]string, len(s.Schema))
	for i, col := range s.Schema {
		names[i] = col.Name
	}
	return names
}

// NewSettings reads and validates a pipeline settings document (JSON).
// Any violation is a *ConfigError; nothing downstream runs on a bad document.
func NewSettings(r io.Reader) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("json")

	if err := v.ReadConfig(r); err != nil {
		return nil, &ConfigError{Field: "document", Reason: err.Error()}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, &ConfigError{Field: "document", Reason: err.Error()}
	}

	if err := settings.validate(); err != nil {
		return nil, err
	}

	return &settings, nil
}

func (s *Settings) validate() error {
	if s.Pipeline == "" {
		return &ConfigError{Field: "pipeline", Reason: "pipeline name is required"}
	}
	if s.Endpoint.URL == "" {
		return &ConfigError{Field: "endpoint.url", Reason: "endpoint URL is required"}
	}
	if len(s.Schema) == 0 {
		return &ConfigError{Field: "schema", Reason: "at least one column is required"}
	}
	seen := make(map[string]bool)
	for i, col := range s.Schema {
		if col.Name == "" {
			return &ConfigError{
				Field:  fmt.Sprintf("schema[%d].name", i),
				Reason: "column name is required",
			}
		}
		if seen[col.Name] {
			return &ConfigError{
				Field:  fmt.Sprintf("schema[%d].name", i),
				Reason: fmt.Sprintf("duplicate column %q", col.Name),
			}
		}
		seen[col.Name] = true
		switch col.Type {
		case TypeString, TypeInteger, TypeFloat, TypeDate, TypeTimestamp:
		default:
			return &ConfigError{
				Field:  fmt.Sprintf("schema[%d].type", i),
				Reason: fmt.Sprintf("unknown column type %q", col.Type),
			}
		}
	}
	if s.Warehouse.Table == "" {
		return &ConfigError{Field: "warehouse.table", Reason: "warehouse table is required"}
	}
	if s.Snapshots.RawPrefix == "" {
		s.Snapshots.RawPrefix = "raw"
	}
	if s.Snapshots.CleanPrefix == "" {
		s.Snapshots.CleanPrefix = "processed"
	}
	switch s.Mode {
	case "":
		s.Mode = ModeLenient
	case ModeLenient, ModeStrict:
	default:
		return &ConfigError{
			Field:  "mode",
			Reason: fmt.Sprintf("must be %q or %q", ModeLenient, ModeStrict),
		}
	}
	if s.Range != nil {
		if !seen[s.Range.Column] {
			return &ConfigError{
				Field:  "valid_range.column",
				Reason: fmt.Sprintf("column %q is not in the schema", s.Range.Column),
			}
		}
		if err := s.Range.Parse(); err != nil {
			return err
		}
	}
	return nil
}
