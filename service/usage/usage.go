// Package usage records the lifecycle of reservations for later analytics:
// submission, assignment, session start and finish. Recording is optional and
// best-effort; the scheduling path never fails because a usage write failed.
package usage

import (
	"context"

	"github.com/viant/labq/model"
)

// Recorder persists reservation usage records.
type Recorder interface {
	// RecordSubmission is called once when a reservation enters the store.
	RecordSubmission(ctx context.Context, request *model.ReservationRequest) error

	// RecordAssignment is called when a resource claims the reservation.
	RecordAssignment(ctx context.Context, reservationID, resourceID string) error

	// RecordSessionStart is called when the remote session is established.
	RecordSessionStart(ctx context.Context, reservationID, url string) error

	// RecordFinish is called once with the terminal status.
	RecordFinish(ctx context.Context, reservationID string, status model.Status) error

	// Close releases the underlying storage.
	Close() error
}

// Nop discards all records; used when usage persistence is disabled.
type Nop struct{}

func (Nop) RecordSubmission(ctx context.Context, request *model.ReservationRequest) error {
	return nil
}

func (Nop) RecordAssignment(ctx context.Context, reservationID, resourceID string) error {
	return nil
}

func (Nop) RecordSessionStart(ctx context.Context, reservationID, url string) error {
	return nil
}

func (Nop) RecordFinish(ctx context.Context, reservationID string, status model.Status) error {
	return nil
}

func (Nop) Close() error { return nil }

// ensure Nop implements the contract
var _ Recorder = Nop{}
