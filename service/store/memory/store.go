// Package memory provides an in-process Store implementation with the same
// transactional semantics as the redis vendor. It backs unit tests and
// single-process deployments that do not need horizontal scale-out.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/viant/labq/model"
	"github.com/viant/labq/service/store"
)

type reservationRecord struct {
	status    model.Status
	metadata  string
	request   *model.ReservationRequest
	resource  string
	url       string
	sessionID string
	priority  int
	seq       int64
}

type resourceRecord struct {
	queue    []string
	assigned string
}

// Store implements store.Store guarded by a single mutex; every exported
// method is one critical section, which is what makes each operation atomic.
type Store struct {
	mux          sync.Mutex
	reservations map[string]*reservationRecord
	resources    map[string]*resourceRecord
	users        map[string]map[string]bool
	subscribers  map[string]map[chan struct{}]bool
	seq          int64
	running      bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		reservations: make(map[string]*reservationRecord),
		resources:    make(map[string]*resourceRecord),
		users:        make(map[string]map[string]bool),
		subscribers:  make(map[string]map[chan struct{}]bool),
		running:      true,
	}
}

func reservationChannel(reservationID string) string { return "reservations:" + reservationID }
func resourceChannel(resourceID string) string       { return "resources:" + resourceID }

func (s *Store) resource(resourceID string) *resourceRecord {
	ret, ok := s.resources[resourceID]
	if !ok {
		ret = &resourceRecord{}
		s.resources[resourceID] = ret
	}
	return ret
}

// publish wakes every subscriber of the channel. Slow subscribers do not
// block publication; they will observe the state on their next re-read.
func (s *Store) publish(channel string) {
	for subscriber := range s.subscribers[channel] {
		select {
		case subscriber <- struct{}{}:
		default:
		}
	}
}

// StoreReservation records the request and enqueues it onto every candidate
// resource queue in one critical section.
func (s *Store) StoreReservation(ctx context.Context, request *model.ReservationRequest) error {
	if len(request.Resources) == 0 {
		return fmt.Errorf("reservation %v has no candidate resources", request.Identifier)
	}
	metadata, err := request.EncodeMetadata()
	if err != nil {
		return err
	}
	s.mux.Lock()
	defer s.mux.Unlock()

	s.seq++
	status := model.StatusPending
	for _, resourceID := range request.Resources {
		if s.resource(resourceID).assigned != "" {
			status = model.StatusQueued
			break
		}
	}
	s.reservations[request.Identifier] = &reservationRecord{
		status:   status,
		metadata: metadata,
		request:  request,
		priority: request.Priority,
		seq:      s.seq,
	}
	for _, resourceID := range request.Resources {
		resource := s.resource(resourceID)
		resource.queue = append(resource.queue, request.Identifier)
	}
	userReservations, ok := s.users[request.UserIdentifier]
	if !ok {
		userReservations = make(map[string]bool)
		s.users[request.UserIdentifier] = userReservations
	}
	userReservations[request.Identifier] = true

	for _, resourceID := range request.Resources {
		s.publish(resourceChannel(resourceID))
	}
	return nil
}

// AssignReservation scans the resource queue for the most eligible claimable
// reservation (priority ascending, then submission order), marks it assigned
// and returns it. Entries that were cancelled before being claimed are
// finished in place without recording an assignment; entries that are no
// longer claimable are dropped from the queue.
func (s *Store) AssignReservation(ctx context.Context, resourceID string) (string, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	resource := s.resource(resourceID)
	if resource.assigned != "" {
		return "", nil
	}

	var remaining []string
	var best *reservationRecord
	bestID := ""
	for _, reservationID := range resource.queue {
		record, ok := s.reservations[reservationID]
		if !ok {
			continue
		}
		if record.status == model.StatusCancelling && record.resource == "" {
			record.status = model.StatusFinished
			s.publish(reservationChannel(reservationID))
			continue
		}
		if !record.status.IsClaimable() {
			continue
		}
		remaining = append(remaining, reservationID)
		if best == nil || record.priority < best.priority ||
			(record.priority == best.priority && record.seq < best.seq) {
			best = record
			bestID = reservationID
		}
	}
	if best == nil {
		resource.queue = remaining
		return "", nil
	}

	queue := remaining[:0]
	for _, reservationID := range remaining {
		if reservationID != bestID {
			queue = append(queue, reservationID)
		}
	}
	resource.queue = queue
	resource.assigned = bestID
	best.resource = resourceID
	best.status = model.StatusInitializing
	s.publish(reservationChannel(bestID))
	return bestID, nil
}

// ReservationStatus returns the read projection, computing the queue position
// on demand while the reservation is queued.
func (s *Store) ReservationStatus(ctx context.Context, reservationID string) (*model.ReservationStatus, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	record, ok := s.reservations[reservationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	ret := &model.ReservationStatus{
		ReservationID: reservationID,
		Status:        record.status,
		URL:           record.url,
		SessionID:     record.sessionID,
	}
	if record.status.IsClaimable() {
		ret.Position = s.queuePosition(record)
	}
	return ret, nil
}

// queuePosition ranks the reservation among still-claimable entries of its
// candidate queues, taking the best rank across candidates.
func (s *Store) queuePosition(record *reservationRecord) int {
	best := -1
	for _, resourceID := range record.request.Resources {
		resource, ok := s.resources[resourceID]
		if !ok {
			continue
		}
		found := false
		ahead := 0
		for _, otherID := range resource.queue {
			other, ok := s.reservations[otherID]
			if !ok || !other.status.IsClaimable() {
				continue
			}
			if other == record {
				found = true
				continue
			}
			if other.priority < record.priority ||
				(other.priority == record.priority && other.seq < record.seq) {
				ahead++
			}
		}
		if found && (best == -1 || ahead < best) {
			best = ahead
		}
	}
	if best == -1 {
		return 0
	}
	return best
}

func (s *Store) CurrentStatus(ctx context.Context, reservationID string) (model.Status, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	record, ok := s.reservations[reservationID]
	if !ok {
		return "", store.ErrNotFound
	}
	return record.status, nil
}

// CancelReservation moves the reservation to cancelling only when it is still
// cancellable, keeping the status strictly forward-moving.
func (s *Store) CancelReservation(ctx context.Context, reservationID string) (bool, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	record, ok := s.reservations[reservationID]
	if !ok {
		return false, store.ErrNotFound
	}
	if !record.status.IsCancellable() {
		return false, nil
	}
	record.status = model.StatusCancelling
	s.publish(reservationChannel(reservationID))
	return true, nil
}

func (s *Store) SetReservationStatus(ctx context.Context, reservationID string, status model.Status) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	record, ok := s.reservations[reservationID]
	if !ok {
		return store.ErrNotFound
	}
	record.status = status
	s.publish(reservationChannel(reservationID))
	return nil
}

func (s *Store) MarkReservationReady(ctx context.Context, reservationID, resourceID, url, sessionID string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	record, ok := s.reservations[reservationID]
	if !ok {
		return store.ErrNotFound
	}
	record.resource = resourceID
	record.url = url
	record.sessionID = sessionID
	record.status = model.StatusReady
	s.publish(reservationChannel(reservationID))
	return nil
}

func (s *Store) ReservationMetadata(ctx context.Context, reservationID string) (*model.ReservationRequest, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	record, ok := s.reservations[reservationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return model.DecodeMetadata(record.metadata)
}

func (s *Store) ReservationSession(ctx context.Context, reservationID string) (string, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	record, ok := s.reservations[reservationID]
	if !ok {
		return "", store.ErrNotFound
	}
	return record.sessionID, nil
}

func (s *Store) AssignedReservation(ctx context.Context, resourceID string) (string, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.resource(resourceID).assigned, nil
}

func (s *Store) DeassignResource(ctx context.Context, resourceID string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.resource(resourceID).assigned = ""
	return nil
}

func (s *Store) UserOwnsReservation(ctx context.Context, userID, reservationID string) (bool, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.users[userID][reservationID], nil
}

func (s *Store) SubscribeReservation(ctx context.Context, reservationID string) (store.Subscription, error) {
	return s.subscribe(reservationChannel(reservationID)), nil
}

func (s *Store) SubscribeResource(ctx context.Context, resourceID string) (store.Subscription, error) {
	return s.subscribe(resourceChannel(resourceID)), nil
}

func (s *Store) subscribe(channel string) *subscription {
	s.mux.Lock()
	defer s.mux.Unlock()
	subscribers, ok := s.subscribers[channel]
	if !ok {
		subscribers = make(map[chan struct{}]bool)
		s.subscribers[channel] = subscribers
	}
	notifications := make(chan struct{}, 16)
	subscribers[notifications] = true
	return &subscription{store: s, channel: channel, notifications: notifications}
}

func (s *Store) Running(ctx context.Context) (bool, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.running, nil
}

// Reset drops the liveness sentinel, simulating a store that lost its state.
func (s *Store) Reset() {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.running = false
}

func (s *Store) Close() error { return nil }

type subscription struct {
	store         *Store
	channel       string
	notifications chan struct{}
	closed        bool
}

func (s *subscription) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.notifications:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *subscription) Close() error {
	s.store.mux.Lock()
	defer s.store.mux.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	delete(s.store.subscribers[s.channel], s.notifications)
	return nil
}

// ensure Store implements the contract
var _ store.Store = (*Store)(nil)
