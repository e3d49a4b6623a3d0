package pipeline

import (
	"context"
	"fmt"
	"log/slog"
)

// State is the runner's position in the fixed stage sequence.
type State string

const (
	StateInit           State = "init"
	StateFetching       State = "fetching"
	StateRawPersisted   State = "raw_persisted"
	StateCleaning       State = "cleaning"
	StateCleanPersisted State = "clean_persisted"
	StateLoaded         State = "loaded"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// Stage is one transformation step over the Bus. Requires is checked by the
// runner before Run is invoked; Provides documents the keys Run adds or
// overwrites on success.
type Stage struct {
	Name     string
	Requires []Key
	Provides []Key
	// Begins is the state the runner enters when this stage starts;
	// Completes the state it enters when the stage succeeds. Either may be
	// empty for stages that do not move the run forward on their own.
	Begins    State
	Completes State
	Run       func(ctx context.Context, bus *Bus) error
}

// StageError wraps a stage failure with the stage's name; it is the
// structured failure a run surfaces to the orchestrator.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %q failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Runner executes the fixed stage sequence over a single bus. Stages run
// strictly in order; there are no retries across stages (run-level retry
// policy belongs to the external orchestrator). A failure in any stage moves
// the run to the Failed terminal state.
type Runner struct {
	Logger *slog.Logger
	Stages []Stage

	state State
}

func NewRunner(logger *slog.Logger, stages []Stage) *Runner {
	return &Runner{
		Logger: logger,
		Stages: stages,
		state:  StateInit,
	}
}

// State returns the runner's current state.
func (r *Runner) State() State {
	return r.state
}

// Run executes all stages in sequence. On failure the returned error is a
// *MissingKeyError for a contract violation, or a *StageError wrapping the
// stage's cause; the run aborts and already-written snapshots remain.
func (r *Runner) Run(ctx context.Context, bus *Bus) error {
	log := r.Logger.With("run_id", bus.RunID, "pipeline", bus.Settings.Pipeline)

	for _, stage := range r.Stages {
		if err := ctx.Err(); err != nil {
			r.state = StateFailed
			return &StageError{Stage: stage.Name, Err: err}
		}

		if stage.Begins != "" {
			r.state = stage.Begins
		}

		for _, key := range stage.Requires {
			if !bus.Has(key) {
				r.state = StateFailed
				return &MissingKeyError{Stage: stage.Name, Key: key}
			}
		}

		log.Info("running stage", "stage", stage.Name, "state", string(r.state))

		if err := stage.Run(ctx, bus); err != nil {
			r.state = StateFailed
			return &StageError{Stage: stage.Name, Err: err}
		}

		if stage.Completes != "" {
			r.state = stage.Completes
		}
	}

	r.state = StateDone
	return nil
}
