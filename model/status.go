package model

// Status represents the scheduling state of a reservation.
type Status string

const (
	StatusPending      Status = "pending"
	StatusQueued       Status = "queued"
	StatusCancelling   Status = "cancelling"
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusFinishing    Status = "finishing"
	StatusFinished     Status = "finished"
	StatusBroken       Status = "broken"
	StatusUnavailable  Status = "unavailable"
)

// statusRank orders statuses along the transition graph. A reservation never
// moves to a status with a lower rank.
var statusRank = map[Status]int{
	StatusPending:      0,
	StatusQueued:       0,
	StatusCancelling:   1,
	StatusInitializing: 1,
	StatusReady:        2,
	StatusFinishing:    3,
	StatusFinished:     4,
	StatusBroken:       4,
	StatusUnavailable:  4,
}

// Known reports whether s is one of the defined statuses.
func (s Status) Known() bool {
	_, ok := statusRank[s]
	return ok
}

// IsTerminal reports whether the reservation reached a final state and will
// never be claimed or modified again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFinished, StatusBroken, StatusUnavailable:
		return true
	}
	return false
}

// IsClaimable reports whether a worker may still assign the reservation to a
// resource.
func (s Status) IsClaimable() bool {
	return s == StatusPending || s == StatusQueued
}

// IsCancellable reports whether a user cancel request may still take effect.
func (s Status) IsCancellable() bool {
	switch s {
	case StatusPending, StatusQueued, StatusInitializing, StatusReady:
		return true
	}
	return false
}

// Rank returns the position of s along the transition graph. Statuses that
// are alternatives of each other (pending/queued, finished/broken) share a
// rank.
func (s Status) Rank() int {
	return statusRank[s]
}

// ReservationStatus is a read projection over the stored reservation state.
// Position is meaningful only while the status is queued; URL and SessionID
// only once a resource has been assigned.
type ReservationStatus struct {
	ReservationID string `json:"reservationId"`
	Status        Status `json:"status"`
	SessionID     string `json:"sessionId,omitempty"`
	URL           string `json:"url,omitempty"`
	Position      int    `json:"position"`
}

// HasChangedFrom reports whether the projection differs from a previously
// observed one. Used by the long-poll facade to decide when to return.
func (r *ReservationStatus) HasChangedFrom(previous *ReservationStatus) bool {
	if previous == nil {
		return true
	}
	return r.Status != previous.Status ||
		r.Position != previous.Position ||
		r.URL != previous.URL ||
		r.SessionID != previous.SessionID
}
