// Package pipeline sequences a publish run as an explicit state machine:
//
//	Split -> (signal?) -> Upload -> CloudIndex -> LocalIndex -> [Announce] -> Done
//
// Split always runs. When it raises no signal the run goes straight to Done.
// Any mandatory step failing moves the run to Aborted and nothing after it
// runs. Announce is best effort: its failure is logged and the run still
// completes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sanyyao/fontpub/publisher"
	"github.com/sanyyao/fontpub/telemetry"
)

// ErrAborted is wrapped by the error returned when a mandatory step failed
var ErrAborted = errors.New("pipeline aborted")

// State of the sequencer
type State string

const (
	StatePending    State = "PENDING"
	StateSplit      State = "SPLIT"
	StateUpload     State = "UPLOAD"
	StateCloudIndex State = "CLOUD_INDEX"
	StateLocalIndex State = "LOCAL_INDEX"
	StateAnnounce   State = "ANNOUNCE"
	StateDone       State = "DONE"
	StateAborted    State = "ABORTED"
)

// IsTerminal reports whether the sequencer stops in s
func IsTerminal(s State) bool {
	return s == StateDone || s == StateAborted
}

func isAllowedTransition(from, to State) bool {
	if to == StateAborted {
		return !IsTerminal(from) && from != StatePending
	}
	switch from {
	case StatePending:
		return to == StateSplit || to == StateUpload
	case StateSplit:
		return to == StateUpload || to == StateDone
	case StateUpload:
		return to == StateCloudIndex
	case StateCloudIndex:
		return to == StateLocalIndex
	case StateLocalIndex:
		return to == StateAnnounce || to == StateDone
	case StateAnnounce:
		return to == StateDone
	default:
		return false
	}
}

// Signal is the split step's verdict, threaded to the downstream steps
type Signal struct {
	Raised   bool
	RunID    string
	Releases []publisher.Release
}

// StepFunc runs one mandatory step
type StepFunc func(ctx context.Context) error

// Steps wires the sequencer to its collaborators. Announce and Clear may be
// nil.
type Steps struct {
	Split      func(ctx context.Context) (Signal, error)
	Upload     StepFunc
	CloudIndex StepFunc
	LocalIndex StepFunc
	Announce   func(ctx context.Context, releases []publisher.Release) error

	// Clear consumes a persisted signal once the downstream steps finished
	Clear func() error
}

// StepResult records one executed step
type StepResult struct {
	State    State
	Duration time.Duration
	Err      error
}

// Report is the result of a sequencer run
type Report struct {
	State  State
	Signal Signal
	Path   []State
	Steps  []StepResult
}

// Failed returns the step that aborted the run, if any
func (r Report) Failed() (StepResult, bool) {
	if r.State != StateAborted {
		return StepResult{}, false
	}
	for _, s := range r.Steps {
		if s.Err != nil && s.State != StateAnnounce {
			return s, true
		}
	}
	return StepResult{}, false
}

// Sequencer runs the steps in order
type Sequencer struct {
	steps Steps
}

// New validates the mandatory steps and creates a sequencer
func New(steps Steps) (*Sequencer, error) {
	if steps.Split == nil {
		return nil, errors.New("split step is required")
	}
	if steps.Upload == nil || steps.CloudIndex == nil || steps.LocalIndex == nil {
		return nil, errors.New("upload and index steps are required")
	}
	return &Sequencer{steps: steps}, nil
}

type run struct {
	report Report
}

func (r *run) transition(to State) error {
	from := r.report.State
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition: %s -> %s", from, to)
	}
	r.report.State = to
	r.report.Path = append(r.report.Path, to)
	log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("Pipeline transition")
	return nil
}

func (r *run) step(ctx context.Context, state State, fn StepFunc) error {
	if err := r.transition(state); err != nil {
		return err
	}
	start := time.Now()
	err := ctx.Err()
	if err == nil {
		err = fn(ctx)
	}
	elapsed := time.Since(start)
	r.report.Steps = append(r.report.Steps, StepResult{State: state, Duration: elapsed, Err: err})

	result := "success"
	if err != nil {
		result = "failed"
	}
	telemetry.StepSeconds.With(string(state), result).Observe(elapsed.Seconds())

	if err != nil {
		log.Error().Err(err).Str("step", string(state)).Dur("elapsed", elapsed).Msg("Step failed")
		return err
	}
	log.Info().Str("step", string(state)).Dur("elapsed", elapsed).Msg("Step finished")
	return nil
}

func (r *run) abort(state State, err error) (Report, error) {
	if terr := r.transition(StateAborted); terr != nil {
		return r.report, terr
	}
	return r.report, fmt.Errorf("%w at %s: %w", ErrAborted, state, err)
}

// Run executes the full sequence starting with Split
func (s *Sequencer) Run(ctx context.Context) (Report, error) {
	r := &run{report: Report{State: StatePending}}

	err := r.step(ctx, StateSplit, func(ctx context.Context) error {
		sig, err := s.steps.Split(ctx)
		r.report.Signal = sig
		return err
	})
	if err != nil {
		return r.abort(StateSplit, err)
	}

	if !r.report.Signal.Raised {
		log.Info().Msg("No new artifacts, skipping upload and index rebuilds")
		return r.report, r.transition(StateDone)
	}
	return s.downstream(ctx, r)
}

// Resume runs the downstream steps for a signal raised by an earlier
// invocation. A signal that is not raised finishes immediately.
func (s *Sequencer) Resume(ctx context.Context, sig Signal) (Report, error) {
	r := &run{report: Report{State: StatePending, Signal: sig}}
	if !sig.Raised {
		log.Info().Msg("No pending signal, nothing to deploy")
		r.report.State = StateDone
		r.report.Path = append(r.report.Path, StateDone)
		return r.report, nil
	}
	return s.downstream(ctx, r)
}

func (s *Sequencer) downstream(ctx context.Context, r *run) (Report, error) {
	mandatory := []struct {
		state State
		fn    StepFunc
	}{
		{StateUpload, s.steps.Upload},
		{StateCloudIndex, s.steps.CloudIndex},
		{StateLocalIndex, s.steps.LocalIndex},
	}
	for _, m := range mandatory {
		if err := r.step(ctx, m.state, m.fn); err != nil {
			return r.abort(m.state, err)
		}
	}

	if s.steps.Announce != nil && len(r.report.Signal.Releases) > 0 {
		releases := r.report.Signal.Releases
		err := r.step(ctx, StateAnnounce, func(ctx context.Context) error {
			return s.steps.Announce(ctx, releases)
		})
		if err != nil {
			log.Warn().Err(err).Msg("Announcements incomplete, will retry on the next run")
		}
	}

	if s.steps.Clear != nil {
		if err := s.steps.Clear(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear publish signal")
		}
	}
	return r.report, r.transition(StateDone)
}
