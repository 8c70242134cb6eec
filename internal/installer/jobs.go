package installer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"github.com/skiff-browser/exthost/internal/shared/faults"
	"github.com/skiff-browser/exthost/internal/shared/id"
	"github.com/skiff-browser/exthost/internal/shared/types"
)

// JobState tracks an install job through its lifecycle.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobInstalled JobState = "installed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobInstalled || s == JobFailed || s == JobCancelled
}

// Job is one asynchronous install. ExtensionID is set on success, Code
// and Error on failure.
type Job struct {
	ID          string     `json:"id"`
	Path        string     `json:"path"`
	State       JobState   `json:"state"`
	ExtensionID string     `json:"extension_id,omitempty"`
	Code        string     `json:"code,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`

	cancel context.CancelFunc
}

type jobTable struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newJobTable() jobTable {
	return jobTable{jobs: make(map[string]*Job)}
}

// Start gates the package synchronously, then runs the pipeline in the
// background under a fresh job. Gate failures surface immediately so a
// bad upload never earns a job id.
func (i *Installer) Start(path, mimeHint string) (Job, error) {
	if err := Gate(path, mimeHint); err != nil {
		if i.metrics != nil {
			i.metrics.RecordArchiveRejection("gate")
		}
		return Job{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        id.NewJobID().String(),
		Path:      path,
		State:     JobPending,
		CreatedAt: time.Now().UTC(),
		cancel:    cancel,
	}

	i.jobs.mu.Lock()
	i.jobs.jobs[job.ID] = job
	i.jobs.mu.Unlock()

	i.publish(types.Event{Type: types.EventInstallStarted, JobID: job.ID, At: time.Now().UTC()})
	i.log.Info("install job started", zap.String("job_id", job.ID), zap.String("path", path))

	// Snapshot before the goroutine starts mutating the entry.
	snap := *job
	go i.runJob(ctx, job.ID, path, mimeHint)
	return snap, nil
}

func (i *Installer) runJob(ctx context.Context, jobID, path, mimeHint string) {
	log := i.log.WithJob(jobID)
	i.setState(jobID, JobRunning)

	ext, err := i.Run(ctx, jobID, path, mimeHint)
	now := time.Now().UTC()

	i.jobs.mu.Lock()
	job, ok := i.jobs.jobs[jobID]
	if !ok {
		i.jobs.mu.Unlock()
		return
	}
	job.FinishedAt = &now
	switch {
	case err == nil:
		job.State = JobInstalled
		job.ExtensionID = ext.ID
	case faults.Is(err, faults.InstallCancelled):
		job.State = JobCancelled
		job.Code = string(faults.InstallCancelled)
		job.Error = err.Error()
	default:
		job.State = JobFailed
		job.Code = string(errors.GetCode(err))
		job.Error = err.Error()
	}
	done := *job
	i.jobs.mu.Unlock()

	switch done.State {
	case JobInstalled:
		i.publish(types.Event{
			Type:        types.EventInstalled,
			JobID:       jobID,
			ExtensionID: done.ExtensionID,
			At:          now,
		})
	case JobCancelled:
		i.publish(types.Event{
			Type:    types.EventInstallFailed,
			JobID:   jobID,
			Code:    done.Code,
			Message: done.Error,
			At:      now,
		})
		log.Info("install job cancelled")
	default:
		i.publish(types.Event{
			Type:    types.EventInstallFailed,
			JobID:   jobID,
			Code:    done.Code,
			Message: done.Error,
			At:      now,
		})
		log.Warn("install job failed",
			zap.String("code", done.Code),
			zap.String("error", done.Error))
	}
}

func (i *Installer) setState(jobID string, state JobState) {
	i.jobs.mu.Lock()
	if job, ok := i.jobs.jobs[jobID]; ok && !job.State.Terminal() {
		job.State = state
	}
	i.jobs.mu.Unlock()
}

// Job returns a snapshot of one job.
func (i *Installer) Job(jobID string) (Job, error) {
	i.jobs.mu.Lock()
	defer i.jobs.mu.Unlock()
	job, ok := i.jobs.jobs[jobID]
	if !ok {
		return Job{}, errors.WithContext(
			errors.New(errors.CodeNotFound, "unknown install job"),
			"job_id", jobID)
	}
	return *job, nil
}

// Jobs returns snapshots of all jobs, newest first.
func (i *Installer) Jobs() []Job {
	i.jobs.mu.Lock()
	out := make([]Job, 0, len(i.jobs.jobs))
	for _, job := range i.jobs.jobs {
		out = append(out, *job)
	}
	i.jobs.mu.Unlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID > out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out
}

// Cancel requests cancellation of a running job. Cancellation only
// takes effect before the persistence phase; a job past that point
// finishes as installed.
func (i *Installer) Cancel(jobID string) (Job, error) {
	i.jobs.mu.Lock()
	job, ok := i.jobs.jobs[jobID]
	if !ok {
		i.jobs.mu.Unlock()
		return Job{}, errors.WithContext(
			errors.New(errors.CodeNotFound, "unknown install job"),
			"job_id", jobID)
	}
	if job.State.Terminal() {
		state := job.State
		i.jobs.mu.Unlock()
		return Job{}, errors.WithContext(
			errors.New(errors.CodeConflict, "install job already finished"),
			"state", string(state))
	}
	cancel := job.cancel
	snap := *job
	i.jobs.mu.Unlock()

	cancel()
	return snap, nil
}
