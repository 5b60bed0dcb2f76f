package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/sanyyao/fontpub/publisher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls    []string
	failAt   string
	signal   Signal
	cleared  int
	announce []publisher.Release
}

func (r *recorder) step(name string) StepFunc {
	return func(context.Context) error {
		r.calls = append(r.calls, name)
		if r.failAt == name {
			return errors.New(name + " failed")
		}
		return nil
	}
}

func (r *recorder) steps() Steps {
	return Steps{
		Split: func(ctx context.Context) (Signal, error) {
			r.calls = append(r.calls, "split")
			if r.failAt == "split" {
				return Signal{}, errors.New("split failed")
			}
			return r.signal, nil
		},
		Upload:     r.step("upload"),
		CloudIndex: r.step("cloud-index"),
		LocalIndex: r.step("local-index"),
		Announce: func(_ context.Context, releases []publisher.Release) error {
			r.calls = append(r.calls, "announce")
			r.announce = releases
			if r.failAt == "announce" {
				return errors.New("broker down")
			}
			return nil
		},
		Clear: func() error {
			r.cleared++
			return nil
		},
	}
}

func raised() Signal {
	return Signal{Raised: true, RunID: "run-1", Releases: []publisher.Release{{Family: "Dymon", Version: "v2.2"}}}
}

func TestRunSkipsDownstreamWithoutSignal(t *testing.T) {
	r := &recorder{}
	seq, err := New(r.steps())
	require.NoError(t, err)

	report, err := seq.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, []string{"split"}, r.calls)
	assert.Equal(t, []State{StateSplit, StateDone}, report.Path)
	assert.Equal(t, 0, r.cleared)
}

func TestRunExecutesDownstreamInOrder(t *testing.T) {
	r := &recorder{signal: raised()}
	seq, err := New(r.steps())
	require.NoError(t, err)

	report, err := seq.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, []string{"split", "upload", "cloud-index", "local-index", "announce"}, r.calls)
	assert.Equal(t, []State{StateSplit, StateUpload, StateCloudIndex, StateLocalIndex, StateAnnounce, StateDone}, report.Path)
	assert.Len(t, r.announce, 1)
	assert.Equal(t, 1, r.cleared)
	assert.Len(t, report.Steps, 5)
}

func TestRunAbortsOnSplitFailure(t *testing.T) {
	r := &recorder{failAt: "split", signal: raised()}
	seq, _ := New(r.steps())

	report, err := seq.Run(context.Background())
	require.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, StateAborted, report.State)
	assert.Equal(t, []string{"split"}, r.calls)

	failed, ok := report.Failed()
	require.True(t, ok)
	assert.Equal(t, StateSplit, failed.State)
}

func TestRunAbortsOnUploadFailure(t *testing.T) {
	r := &recorder{failAt: "upload", signal: raised()}
	seq, _ := New(r.steps())

	report, err := seq.Run(context.Background())
	require.ErrorIs(t, err, ErrAborted)
	assert.ErrorContains(t, err, "upload failed")
	assert.Equal(t, []string{"split", "upload"}, r.calls)
	assert.Equal(t, StateAborted, report.State)
	assert.Equal(t, 0, r.cleared, "signal survives an aborted run")
}

func TestRunAbortsOnCloudIndexFailure(t *testing.T) {
	r := &recorder{failAt: "cloud-index", signal: raised()}
	seq, _ := New(r.steps())

	_, err := seq.Run(context.Background())
	require.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, []string{"split", "upload", "cloud-index"}, r.calls)
}

func TestRunAnnounceFailureIsNotFatal(t *testing.T) {
	r := &recorder{failAt: "announce", signal: raised()}
	seq, _ := New(r.steps())

	report, err := seq.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, 1, r.cleared)
	_, failed := report.Failed()
	assert.False(t, failed)
}

func TestRunWithoutAnnounce(t *testing.T) {
	r := &recorder{signal: raised()}
	steps := r.steps()
	steps.Announce = nil
	steps.Clear = nil
	seq, _ := New(steps)

	report, err := seq.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []State{StateSplit, StateUpload, StateCloudIndex, StateLocalIndex, StateDone}, report.Path)
}

func TestRunCancelledContextAborts(t *testing.T) {
	r := &recorder{signal: raised()}
	seq, _ := New(r.steps())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := seq.Run(ctx)
	require.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, r.calls)
	assert.Equal(t, StateAborted, report.State)
}

func TestResume(t *testing.T) {
	r := &recorder{}
	seq, _ := New(r.steps())

	report, err := seq.Resume(context.Background(), raised())
	require.NoError(t, err)
	assert.Equal(t, []string{"upload", "cloud-index", "local-index", "announce"}, r.calls)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, 1, r.cleared)
}

func TestResumeWithoutSignal(t *testing.T) {
	r := &recorder{}
	seq, _ := New(r.steps())

	report, err := seq.Resume(context.Background(), Signal{})
	require.NoError(t, err)
	assert.Empty(t, r.calls)
	assert.Equal(t, StateDone, report.State)
}

func TestNewRequiresSteps(t *testing.T) {
	_, err := New(Steps{})
	assert.Error(t, err)

	r := &recorder{}
	steps := r.steps()
	steps.LocalIndex = nil
	_, err = New(steps)
	assert.Error(t, err)
}

func TestTransitions(t *testing.T) {
	assert.True(t, isAllowedTransition(StateSplit, StateDone))
	assert.True(t, isAllowedTransition(StateUpload, StateAborted))
	assert.False(t, isAllowedTransition(StateSplit, StateCloudIndex))
	assert.False(t, isAllowedTransition(StateUpload, StateDone))
	assert.False(t, isAllowedTransition(StateDone, StateAborted))
	assert.False(t, isAllowedTransition(StateAborted, StateDone))
	assert.True(t, IsTerminal(StateAborted))
	assert.False(t, IsTerminal(StateLocalIndex))
}
