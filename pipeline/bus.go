package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nickjwilliams1987/MscCompSci-Final-Project/config"
	"github.com/nickjwilliams1987/MscCompSci-Final-Project/transform"
)

// Key identifies one field of the Bus for the stage contract. Stages declare
// which keys they require and which they provide; the runner checks the
// requirements against the bus before a stage runs.
type Key string

const (
	KeySettings Key = "settings"
	KeyAPIKey   Key = "api_key"
	// KeyRawPayload is the fetched payload as received: a single document
	// for the API pipelines, one payload per downloaded file for footfall.
	KeyRawPayload Key = "raw_payload"
	// KeyRecords is the fetched data decoded into records, one per output
	// row candidate.
	KeyRecords       Key = "records"
	KeyRawPaths      Key = "raw_paths"
	KeyCleanSnapshot Key = "clean_snapshot"
	KeyCleanPath     Key = "clean_path"
	KeyRowsLoaded    Key = "rows_loaded"
)

// MissingKeyError is a contract violation between stages: a stage was
// invoked on a bus lacking a key an earlier stage should have provided.
type MissingKeyError struct {
	Stage string
	Key   Key
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("stage %q requires key %q, which no earlier stage provided", e.Stage, e.Key)
}

// Payload is one fetched document with the name and content type it should
// be persisted under.
type Payload struct {
	Name        string
	ContentType string
	Data        []byte
}

// Bus carries the state of one pipeline run between stages. It is created
// from the settings document at run start, passed explicitly through every
// stage, and discarded at run end; only its snapshots are persisted.
//
// The original design used a free-form mapping here. Typing the record means
// a stage cannot read a field no stage writes, and the runner can still
// check the per-stage key contract at runtime via Has.
type Bus struct {
	RunID     string
	StartedAt time.Time
	// RunDate is the date the run is about, where that differs from the
	// wall clock (the historic pipeline backfills a specific day).
	RunDate time.Time

	Settings *config.Settings
	APIKey   string

	RawFiles []Payload
	Records  []transform.Record
	RawPaths []string

	Clean    *transform.Frame
	Dropped  int
	Filtered int

	CleanPath  string
	Loaded     bool
	RowsLoaded int64
}

func NewBus(settings *config.Settings, startedAt time.Time) *Bus {
	return &Bus{
		RunID:     uuid.NewString(),
		StartedAt: startedAt,
		Settings:  settings,
	}
}

// Has reports whether the given key has been provided on the bus.
func (b *Bus) Has(key Key) bool {
	switch key {
	case KeySettings:
		return b.Settings != nil
	case KeyAPIKey:
		return b.APIKey != ""
	case KeyRawPayload:
		return len(b.RawFiles) > 0
	case KeyRecords:
		return b.Records != nil
	case KeyRawPaths:
		return len(b.RawPaths) > 0
	case KeyCleanSnapshot:
		return b.Clean != nil
	case KeyCleanPath:
		return b.CleanPath != ""
	case KeyRowsLoaded:
		return b.Loaded
	}
	return false
}
