package models

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MigrationStatus is the lifecycle state of one migration run.
type MigrationStatus string

const (
	StatusPending        MigrationStatus = "PENDING"
	StatusInProgress     MigrationStatus = "IN_PROGRESS"
	StatusConverted      MigrationStatus = "CONVERTED"
	StatusValidated      MigrationStatus = "VALIDATED"
	StatusDeployed       MigrationStatus = "DEPLOYED"
	StatusFailed         MigrationStatus = "FAILED"
	StatusPartialSuccess MigrationStatus = "PARTIAL_SUCCESS"
	StatusRolledBack     MigrationStatus = "ROLLED_BACK"
)

// validTransitions encodes the migration state machine. Terminal states
// have no outgoing entries except the rollback edges.
var validTransitions = map[MigrationStatus][]MigrationStatus{
	StatusPending:        {StatusInProgress},
	StatusInProgress:     {StatusConverted, StatusFailed, StatusPartialSuccess},
	StatusConverted:      {StatusValidated, StatusFailed},
	StatusValidated:      {StatusDeployed, StatusFailed},
	StatusDeployed:       {StatusRolledBack},
	StatusPartialSuccess: {StatusValidated, StatusRolledBack},
}

// CanTransition reports whether moving from one status to another is a
// legal state-machine step.
func CanTransition(from, to MigrationStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status ends the run (rollback aside).
func (s MigrationStatus) Terminal() bool {
	switch s {
	case StatusDeployed, StatusFailed, StatusRolledBack:
		return true
	}
	return false
}

// ConversionMetrics counts resource conversion outcomes. Every parsed
// resource lands in exactly one of the three buckets.
type ConversionMetrics struct {
	TotalResources int            `json:"total_resources"`
	Converted      int            `json:"converted"`
	Failed         int            `json:"failed"`
	ManualReview   int            `json:"manual_review"`
	ByType         map[string]int `json:"by_type,omitempty"`
}

// Consistent reports whether the buckets add up to the total.
func (m *ConversionMetrics) Consistent() bool {
	return m.Converted+m.Failed+m.ManualReview == m.TotalResources
}

// Rate returns the converted fraction in [0,1]. Zero resources counts
// as fully converted.
func (m *ConversionMetrics) Rate() float64 {
	if m.TotalResources == 0 {
		return 1.0
	}
	return float64(m.Converted) / float64(m.TotalResources)
}

// CountType increments the per-type counter.
func (m *ConversionMetrics) CountType(resourceType string) {
	if m.ByType == nil {
		m.ByType = make(map[string]int)
	}
	m.ByType[resourceType]++
}

// CreationRecord remembers one object created on the destination
// platform, in creation order, so a rollback can delete in reverse.
type CreationRecord struct {
	Kind string `json:"kind"` // "inventory", "host", "project", "job_template", ...
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ManualReviewItem is a resource the converter handed to a human.
type ManualReviewItem struct {
	Unit       string `json:"unit"`
	ResourceID string `json:"resource_id"`
	Reason     string `json:"reason"`
}

// MigrationResult is the persisted record of one migration run.
type MigrationResult struct {
	ID         string            `json:"id"`
	Cookbooks  []string          `json:"cookbooks"`
	Status     MigrationStatus   `json:"status"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Metrics    ConversionMetrics `json:"metrics"`
	// Playbooks maps unit name to rendered YAML.
	Playbooks map[string]string  `json:"playbooks,omitempty"`
	Manual    []ManualReviewItem `json:"manual_review,omitempty"`
	Created   []CreationRecord   `json:"created,omitempty"`
	Errors    []string           `json:"errors,omitempty"`
	Warnings  []string           `json:"warnings,omitempty"`
}

// NewMigrationResult starts a PENDING result with a fresh UUID.
func NewMigrationResult(cookbooks []string) *MigrationResult {
	sorted := append([]string(nil), cookbooks...)
	sort.Strings(sorted)
	return &MigrationResult{
		ID:        uuid.New().String(),
		Cookbooks: sorted,
		Status:    StatusPending,
		StartedAt: time.Now(),
	}
}

// Transition moves the result to a new status, rejecting illegal steps.
func (r *MigrationResult) Transition(to MigrationStatus) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("models: illegal migration transition %s -> %s", r.Status, to)
	}
	r.Status = to
	if to.Terminal() {
		now := time.Now()
		r.FinishedAt = &now
	}
	return nil
}

// RecordCreation appends a creation record. Order matters: rollback
// walks this slice backwards.
func (r *MigrationResult) RecordCreation(kind string, id int, name string) {
	r.Created = append(r.Created, CreationRecord{Kind: kind, ID: id, Name: name})
}

// MigrationStore is an in-memory thread-safe store for migration
// results, keyed by UUID.
type MigrationStore struct {
	mu      sync.RWMutex
	results map[string]*MigrationResult
}

// NewMigrationStore creates an empty migration store.
func NewMigrationStore() *MigrationStore {
	return &MigrationStore{results: make(map[string]*MigrationResult)}
}

// Put inserts or replaces a result.
func (s *MigrationStore) Put(r *MigrationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.ID] = r
}

// Get returns a result by ID, or nil if not found.
func (s *MigrationStore) Get(id string) *MigrationResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.results[id]
}

// List returns all results, most recent first.
func (s *MigrationStore) List() []*MigrationResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*MigrationResult, 0, len(s.results))
	for _, r := range s.results {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result
}
