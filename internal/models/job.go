package models

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job represents an async operation (convert, migrate, rollback).
type Job struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"` // "convert", "migrate", "rollback"
	MigrationID string     `json:"migration_id"`
	Status      string     `json:"status"` // "running", "completed", "failed", "canceled"
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Output      []string   `json:"output"`
	mu          sync.Mutex
	cancel      func()
}

// AppendLog adds a log line to the job output.
func (j *Job) AppendLog(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Output = append(j.Output, line)
}

// LogsSince returns log lines starting from the given index.
func (j *Job) LogsSince(offset int) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if offset >= len(j.Output) {
		return nil
	}
	lines := make([]string, len(j.Output)-offset)
	copy(lines, j.Output[offset:])
	return lines
}

// Complete marks the job as completed.
func (j *Job) Complete() {
	j.finish("completed", "")
}

// Fail marks the job as failed with an error message.
func (j *Job) Fail(err string) {
	j.finish("failed", err)
}

// Cancel stops the job's work via its context and marks it canceled.
// A no-op once the job has finished.
func (j *Job) Cancel() {
	j.mu.Lock()
	cancel := j.cancel
	done := j.FinishedAt != nil
	j.mu.Unlock()
	if done {
		return
	}
	if cancel != nil {
		cancel()
	}
	j.finish("canceled", "")
}

// Running reports whether the job has not finished yet.
func (j *Job) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.FinishedAt == nil
}

func (j *Job) finish(status, errMsg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.FinishedAt != nil {
		return
	}
	j.Status = status
	j.Error = errMsg
	now := time.Now()
	j.FinishedAt = &now
}

// JobStore is an in-memory thread-safe store for jobs.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobStore creates an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

// Create adds a new job, assigning it a UUID. cancel, when non-nil,
// lets Cancel interrupt the job's work.
func (s *JobStore) Create(jobType, migrationID string, cancel func()) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		MigrationID: migrationID,
		Status:      "running",
		StartedAt:   time.Now(),
		Output:      []string{},
		cancel:      cancel,
	}
	s.jobs[j.ID] = j
	return j
}

// Get returns a job by ID.
func (s *JobStore) Get(id string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

// List returns all jobs, most recent first.
func (s *JobStore) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, j)
	}
	for i := 0; i < len(result); i++ {
		for k := i + 1; k < len(result); k++ {
			if result[k].StartedAt.After(result[i].StartedAt) {
				result[i], result[k] = result[k], result[i]
			}
		}
	}
	return result
}
