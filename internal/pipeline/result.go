package pipeline

import (
	"errors"
	"time"

	"github.com/couchcryptid/hml-forecast-producer/internal/domain"
)

// Status is the outcome of one pipeline run.
type Status string

const (
	// StatusSuccess means every valid, unseen product was delivered.
	StatusSuccess Status = "success"
	// StatusPartial means the run completed but some listings failed
	// validation or delivery.
	StatusPartial Status = "partial"
	// StatusFatal means the run aborted: feed, store, or broker unreachable.
	StatusFatal Status = "fatal"
)

// Failure stages.
const (
	StageValidate = "validate"
	StagePublish  = "publish"
	StageCommit   = "commit"
)

// RecordFailure is one listing that was not delivered, or delivered without
// a delivery record.
type RecordFailure struct {
	ID     string `json:"id,omitempty"`
	Stage  string `json:"stage"`
	Reason string `json:"error"`
	Err    error  `json:"-"`
}

// Result summarizes one run.
type Result struct {
	Status     Status          `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration_ns"`
	Fetched    int             `json:"fetched"`
	Invalid    int             `json:"invalid"`
	Duplicates int             `json:"duplicates"`
	Published  int             `json:"published"`
	Failures   []RecordFailure `json:"failures,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func newFailure(id, stage string, err error) RecordFailure {
	return RecordFailure{ID: id, Stage: stage, Reason: err.Error(), Err: err}
}

// failureReason maps a delivery error to its metric label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnroutable):
		return "unroutable"
	case errors.Is(err, domain.ErrRejected):
		return "rejected"
	case errors.Is(err, domain.ErrConnectionLost):
		return "connection_lost"
	case errors.Is(err, domain.ErrReservationLost):
		return "reservation_lost"
	default:
		return "other"
	}
}
