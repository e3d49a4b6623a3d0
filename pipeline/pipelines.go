package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nickjwilliams1987/MscCompSci-Final-Project/config"
	"github.com/nickjwilliams1987/MscCompSci-Final-Project/extract"
	"github.com/nickjwilliams1987/MscCompSci-Final-Project/load"
	"github.com/nickjwilliams1987/MscCompSci-Final-Project/sink"
	"github.com/nickjwilliams1987/MscCompSci-Final-Project/utils"
)

// Pipeline bundles the collaborators one run needs: the fetch client, the
// snapshot store and the warehouse connection, plus the run's settings.
type Pipeline struct {
	Config   *config.Config
	Settings *config.Settings
	Client   *extract.Client
	Store    *sink.Store
	DuckDB   *load.DuckDB
	Logger   *slog.Logger

	// RunDate overrides the date a run is about (historic backfills);
	// zero means "derive from the clock".
	RunDate time.Time

	timeProvider utils.TimeProvider
}

func New(ctx context.Context, cfg *config.Config, settings *config.Settings, logger *slog.Logger) (*Pipeline, error) {
	db, err := load.NewDuckDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("error connecting to warehouse: %w", err)
	}

	store, err := sink.NewStore(ctx, cfg.Storage.BucketURL, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error opening snapshot bucket: %w", err)
	}

	return &Pipeline{
		Config:       cfg,
		Settings:     settings,
		Client:       extract.NewClient(cfg, logger),
		Store:        store,
		DuckDB:       db,
		Logger:       logger,
		timeProvider: utils.RealTimeProvider{},
	}, nil
}

func (p *Pipeline) Close() {
	p.DuckDB.Close()
	p.Store.Close()
}

// Stages returns the stage sequence for the pipeline named in the settings
// document.
func (p *Pipeline) Stages() ([]Stage, error) {
	switch p.Settings.Pipeline {
	case "holidays":
		return p.holidaysStages(), nil
	case "forecast":
		return p.forecastStages(), nil
	case "historic":
		return p.historicStages(), nil
	case "footfall":
		return p.footfallStages(), nil
	default:
		return nil, fmt.Errorf("unknown pipeline %q", p.Settings.Pipeline)
	}
}

// Run executes the pipeline once. The error, if any, is the structured
// stage failure; run-level retries are the orchestrator's business.
func (p *Pipeline) Run(ctx context.Context) error {
	stages, err := p.Stages()
	if err != nil {
		return err
	}

	bus := NewBus(p.Settings, p.timeProvider.Now())
	bus.RunDate = p.RunDate

	runner := NewRunner(p.Logger, stages)
	if err := runner.Run(ctx, bus); err != nil {
		p.Logger.Error("pipeline failed",
			"run_id", bus.RunID,
			"pipeline", p.Settings.Pipeline,
			"state", string(runner.State()),
			"error", err.Error())
		return err
	}

	p.Logger.Info("pipeline complete",
		"run_id", bus.RunID,
		"pipeline", p.Settings.Pipeline,
		"rows_loaded", bus.RowsLoaded,
		"records_dropped", bus.Dropped,
		"records_filtered", bus.Filtered)
	return nil
}
