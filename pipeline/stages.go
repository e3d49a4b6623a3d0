package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/nickjwilliams1987/MscCompSci-Final-Project/sink"
	"github.com/nickjwilliams1987/MscCompSci-Final-Project/transform"
)

// The stages below are shared by every pipeline; only the download stage
// (and for footfall the reshaping inside it) differs per pipeline.

// apiKeyStage resolves the API key named in the settings document from the
// environment. Secret distribution itself is the deployment's concern.
func (p *Pipeline) apiKeyStage() Stage {
	return Stage{
		Name:     "get_api_key",
		Requires: []Key{KeySettings},
		Provides: []Key{KeyAPIKey},
		Run: func(ctx context.Context, bus *Bus) error {
			envVar := bus.Settings.Endpoint.APIKeyEnv
			key := os.Getenv(envVar)
			if key == "" {
				return fmt.Errorf("%s env variable is not set", envVar)
			}
			bus.APIKey = key
			return nil
		},
	}
}

// exportRawStage writes every fetched payload to the bucket as received,
// before any cleaning, so a bad run can be inspected afterwards.
func (p *Pipeline) exportRawStage() Stage {
	return Stage{
		Name:      "export_raw",
		Requires:  []Key{KeySettings, KeyRawPayload},
		Provides:  []Key{KeyRawPaths},
		Completes: StateRawPersisted,
		Run: func(ctx context.Context, bus *Bus) error {
			for _, payload := range bus.RawFiles {
				key := sink.ObjectKey(
					bus.Settings.Snapshots.RawPrefix,
					bus.Settings.Pipeline,
					bus.StartedAt,
					bus.RunID,
					payload.Name,
				)
				written, err := p.Store.Write(ctx, key, payload.Data, payload.ContentType)
				if err != nil {
					return err
				}
				bus.RawPaths = append(bus.RawPaths, written)
			}
			return nil
		},
	}
}

// cleanStage projects the fetched records onto the declared schema:
// null-fill or drop per the configured mode, canonical dates, valid-range
// filter, primary-key dedup.
func (p *Pipeline) cleanStage() Stage {
	return Stage{
		Name:     "clean",
		Requires: []Key{KeySettings, KeyRecords},
		Provides: []Key{KeyCleanSnapshot},
		Begins:   StateCleaning,
		Run: func(ctx context.Context, bus *Bus) error {
			result, err := transform.Clean(bus.Records, transform.CleanOptions{
				Schema: bus.Settings.Schema,
				Range:  bus.Settings.Range,
				Mode:   bus.Settings.Mode,
			})
			if err != nil {
				return err
			}

			bus.Clean = result.Frame
			bus.Dropped = result.Dropped
			bus.Filtered = result.Filtered

			if result.Dropped > 0 || result.Filtered > 0 {
				p.Logger.Warn("clean stage excluded records",
					"run_id", bus.RunID,
					"pipeline", bus.Settings.Pipeline,
					"dropped", result.Dropped,
					"filtered", result.Filtered)
			}
			return nil
		},
	}
}

// exportCleanStage writes the cleaned snapshot to the bucket as CSV.
func (p *Pipeline) exportCleanStage() Stage {
	return Stage{
		Name:      "export_clean",
		Requires:  []Key{KeySettings, KeyCleanSnapshot},
		Provides:  []Key{KeyCleanPath},
		Completes: StateCleanPersisted,
		Run: func(ctx context.Context, bus *Bus) error {
			csv, err := bus.Clean.CSV()
			if err != nil {
				return err
			}

			key := sink.ObjectKey(
				bus.Settings.Snapshots.CleanPrefix,
				bus.Settings.Pipeline,
				bus.StartedAt,
				bus.RunID,
				"snapshot.csv",
			)
			written, err := p.Store.Write(ctx, key, csv, "text/csv")
			if err != nil {
				return err
			}
			bus.CleanPath = written
			return nil
		},
	}
}

// loadWarehouseStage appends the cleaned snapshot to the declared table,
// creating it from the schema if needed. Date-sharded pipelines load into a
// _yyyymmdd shard and then run the configured merge query.
func (p *Pipeline) loadWarehouseStage() Stage {
	return Stage{
		Name:      "load_warehouse",
		Requires:  []Key{KeySettings, KeyCleanSnapshot},
		Provides:  []Key{KeyRowsLoaded},
		Completes: StateLoaded,
		Run: func(ctx context.Context, bus *Bus) error {
			table := bus.Settings.Warehouse.Table
			if bus.Settings.Warehouse.ShardByDate {
				shardDate := bus.RunDate
				if shardDate.IsZero() {
					shardDate = bus.StartedAt
				}
				table = fmt.Sprintf("%s_%s", table, shardDate.Format("20060102"))
			}

			if err := p.DuckDB.EnsureTable(ctx, table, bus.Settings.Schema); err != nil {
				return err
			}

			rows, err := p.DuckDB.LoadSnapshot(ctx, bus.Clean, table, bus.Settings.Schema)
			if err != nil {
				return err
			}
			bus.RowsLoaded = rows
			bus.Loaded = true

			if file := bus.Settings.Warehouse.MergeQueryFile; file != "" {
				params := map[string]any{
					"Table": table,
					"Base":  bus.Settings.Warehouse.Table,
				}
				if err := p.DuckDB.RunTemplatedQuery(ctx, file, params); err != nil {
					return fmt.Errorf("error merging shard %s: %w", table, err)
				}
			}
			return nil
		},
	}
}
