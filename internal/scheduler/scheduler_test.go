package scheduler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs chan struct{}
	err  error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run() error {
	j.runs <- struct{}{}
	return j.err
}

func TestAddJobRunsOnSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "every-second", runs: make(chan struct{}, 1)}

	err := s.AddJob("* * * * * *", job)
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	select {
	case <-job.runs:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run within the expected schedule window")
	}
}

func TestAddJobInvalidScheduleErrors(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "bad", runs: make(chan struct{}, 1)}

	err := s.AddJob("not a cron schedule", job)
	assert.Error(t, err)
}

func TestRunNowExecutesImmediately(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "manual", runs: make(chan struct{}, 1)}

	err := s.RunNow(job)
	require.NoError(t, err)
	select {
	case <-job.runs:
	default:
		t.Fatal("expected job to have run")
	}
}

func TestRunNowPropagatesError(t *testing.T) {
	s := New(zerolog.Nop())
	boom := assert.AnError
	job := &countingJob{name: "failing", runs: make(chan struct{}, 1), err: boom}

	err := s.RunNow(job)
	assert.ErrorIs(t, err, boom)
}

var _ Job = (*countingJob)(nil)
