// Package store defines the shared atomic store contract of the reservation
// engine. All cross-process coordination goes through a Store: the three
// atomic scheduling operations (store, assign, status projection), the
// per-reservation mutations published together with their state writes, and
// topic-based notification. Implementations must guarantee that each method
// is a single atomic round-trip with no partial visibility.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/viant/labq/model"
)

// ErrNotFound indicates that the reservation is not present in the store.
var ErrNotFound = errors.New("reservation not found")

// Subscription represents an open subscription to a notification channel.
type Subscription interface {
	// Wait blocks until a notification arrives, the timeout elapses or the
	// context is cancelled. It returns true when a notification arrived.
	// Notifications carry no payload contract: a wake-up only means the
	// subscriber has to re-read the state it cares about.
	Wait(ctx context.Context, timeout time.Duration) (bool, error)

	// Close terminates the subscription.
	Close() error
}

// Store is the single shared mutable resource of the engine. Any number of
// processes may operate on the same store concurrently; mutual exclusion for
// reservation assignment is enforced by AssignReservation, not by callers.
type Store interface {
	// StoreReservation records the serialized request, sets the initial
	// status (pending, or queued when a candidate resource is busy), enqueues
	// the reservation onto every candidate resource's pending queue and onto
	// the submitting user's reservation set, and wakes the candidate resource
	// channels - all in one transaction. Requests without candidate resources
	// are rejected before the transaction: such a reservation could never be
	// claimed or cancelled through the queue.
	StoreReservation(ctx context.Context, request *model.ReservationRequest) error

	// AssignReservation atomically pops the most eligible not-yet-assigned
	// reservation from the resource's pending queue (priority ascending, then
	// submission order) whose status is still claimable, marks it exclusively
	// assigned to the resource and returns its identifier. It returns "" when
	// no reservation is eligible. Cancelled entries encountered during the
	// scan are finished in place without ever recording an assignment.
	AssignReservation(ctx context.Context, resourceID string) (string, error)

	// ReservationStatus returns the read projection of a reservation,
	// including the computed queue position while it is queued.
	ReservationStatus(ctx context.Context, reservationID string) (*model.ReservationStatus, error)

	// CurrentStatus returns the bare stored status.
	CurrentStatus(ctx context.Context, reservationID string) (model.Status, error)

	// CancelReservation flips the reservation to cancelling and publishes the
	// change, but only when the current status still allows cancellation.
	// It reports whether the cancel request took effect.
	CancelReservation(ctx context.Context, reservationID string) (bool, error)

	// SetReservationStatus writes a new status and publishes it on the
	// reservation channel in the same transaction.
	SetReservationStatus(ctx context.Context, reservationID string, status model.Status) error

	// MarkReservationReady records the assigned resource, session URL and
	// session identifier, moves the status to ready and publishes it, in one
	// transaction.
	MarkReservationReady(ctx context.Context, reservationID, resourceID, url, sessionID string) error

	// ReservationMetadata returns the immutable reservation request stored at
	// submission time, or ErrNotFound.
	ReservationMetadata(ctx context.Context, reservationID string) (*model.ReservationRequest, error)

	// ReservationSession returns the remote session identifier, or "" when no
	// session has been established.
	ReservationSession(ctx context.Context, reservationID string) (string, error)

	// AssignedReservation returns the reservation currently assigned to the
	// resource, or "" when the resource is free.
	AssignedReservation(ctx context.Context, resourceID string) (string, error)

	// DeassignResource removes the assignment fact so the resource becomes
	// claimable again. Idempotent.
	DeassignResource(ctx context.Context, resourceID string) error

	// UserOwnsReservation reports whether the reservation belongs to the user.
	UserOwnsReservation(ctx context.Context, userID, reservationID string) (bool, error)

	// SubscribeReservation opens a subscription to reservation status-change
	// notifications.
	SubscribeReservation(ctx context.Context, reservationID string) (Subscription, error)

	// SubscribeResource opens a subscription to the resource wake channel.
	SubscribeResource(ctx context.Context, resourceID string) (Subscription, error)

	// Running reports whether the store-wide liveness sentinel written at
	// startup is still present. A false result means the store lost its state
	// (e.g. it was restarted) and in-memory assumptions are no longer valid.
	Running(ctx context.Context) (bool, error)

	// Close releases the store client.
	Close() error
}
