package labq

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/viant/labq/internal/idgen"
	"github.com/viant/labq/model"
	"github.com/viant/labq/service/aggregator"
	"github.com/viant/labq/service/catalog"
	"github.com/viant/labq/service/store"
	"github.com/viant/labq/service/store/memory"
	redisstore "github.com/viant/labq/service/store/redis"
	"github.com/viant/labq/service/usage"
	"github.com/viant/labq/service/usage/sqlite"
	"github.com/viant/labq/tracing"
)

// SubmissionError marks an invalid reservation request; the reservation never
// entered the store.
type SubmissionError struct {
	msg string
}

func (e *SubmissionError) Error() string { return e.msg }

func submissionError(format string, args ...interface{}) error {
	return &SubmissionError{msg: fmt.Sprintf(format, args...)}
}

// Service is the scheduling facade consumed by the request layer, plus the
// engine side supervised by Run. Both sides can live in one process or in
// separate ones sharing the same store.
type Service struct {
	config     *Config
	store      store.Store
	catalog    *catalog.Service
	recorder   usage.Recorder
	aggregator *aggregator.Service
	httpClient *http.Client
	logger     *zap.Logger
	ownsStore  bool
}

// New builds the engine from configuration. Options override the components
// derived from it.
func New(ctx context.Context, config *Config, options ...Option) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	service := &Service{config: config}
	for _, option := range options {
		option(service)
	}
	if service.logger == nil {
		service.logger = zap.NewNop()
	}
	if service.store == nil {
		service.ownsStore = true
		if config.Redis != nil {
			aStore, err := redisstore.New(ctx, *config.Redis, service.logger)
			if err != nil {
				return nil, err
			}
			service.store = aStore
		} else {
			service.store = memory.New()
		}
	}
	if service.recorder == nil {
		if config.UsageDB != "" {
			recorder, err := sqlite.New(config.UsageDB)
			if err != nil {
				return nil, err
			}
			service.recorder = recorder
		} else {
			service.recorder = usage.Nop{}
		}
	}
	aCatalog, err := catalog.New(config.ConfigURL)
	if err != nil {
		return nil, err
	}
	service.catalog = aCatalog
	service.aggregator, err = aggregator.New(config.Aggregator, aCatalog, service.store, service.recorder, service.httpClient, service.logger)
	if err != nil {
		return nil, err
	}
	return service, nil
}

// Run supervises the resource workers until the context is cancelled or the
// store reports a reset.
func (s *Service) Run(ctx context.Context) error {
	return s.aggregator.Run(ctx)
}

// Submit validates the request against the current catalog, fixes its
// candidate resources and records it in the store, making it visible to the
// workers. It returns the initial status projection.
func (s *Service) Submit(ctx context.Context, request *model.ReservationRequest) (*model.ReservationStatus, error) {
	ctx, span := tracing.StartSpan(ctx, "labq.Submit", "internal")
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	if request == nil {
		return nil, submissionError("request was nil")
	}
	if request.Identifier == "" {
		request.Identifier = idgen.New()
	}
	if request.Priority == 0 {
		request.Priority = model.DefaultPriority
	}
	if err = request.Validate(); err != nil {
		return nil, submissionError("%v", err)
	}
	snapshot, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	laboratory := snapshot.Laboratory(request.Laboratory)
	if laboratory == nil {
		return nil, submissionError("unknown laboratory: %q", request.Laboratory)
	}
	candidates, err := snapshot.CandidateResources(request.Laboratory, request.Features)
	if err != nil {
		return nil, submissionError("%v", err)
	}
	if len(candidates) == 0 {
		return nil, submissionError("no resource of laboratory %q offers features %v", request.Laboratory, request.Features)
	}
	request.Resources = candidates
	if request.MaxTime <= 0 || request.MaxTime > laboratory.MaxTime {
		request.MaxTime = laboratory.MaxTime
	}
	if err = s.store.StoreReservation(ctx, request); err != nil {
		return nil, err
	}
	if recordErr := s.recorder.RecordSubmission(ctx, request); recordErr != nil {
		s.logger.Warn("failed to record submission", zap.Error(recordErr))
	}
	s.logger.Info("reservation submitted",
		zap.String("reservation", request.Identifier),
		zap.String("laboratory", request.Laboratory),
		zap.String("user", request.UserIdentifier))
	return s.store.ReservationStatus(ctx, request.Identifier)
}

// Status returns the reservation's status projection on behalf of the user.
// When previous is given and still current, Status long-polls on the
// reservation channel up to maxWait, clamped to the configured ceiling.
// Reservations not owned by the user are reported as not found.
func (s *Service) Status(ctx context.Context, userID, reservationID string, previous *model.ReservationStatus, maxWait time.Duration) (*model.ReservationStatus, error) {
	if err := s.checkOwnership(ctx, userID, reservationID); err != nil {
		return nil, err
	}
	current, err := s.store.ReservationStatus(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if maxWait <= 0 || current.HasChangedFrom(previous) {
		return current, nil
	}
	if maxWait > s.config.StatusWaitCeiling {
		maxWait = s.config.StatusWaitCeiling
	}
	subscription, err := s.store.SubscribeReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	defer subscription.Close()
	deadline := time.Now().Add(maxWait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return current, nil
		}
		if _, err := subscription.Wait(ctx, remaining); err != nil {
			return nil, err
		}
		if current, err = s.store.ReservationStatus(ctx, reservationID); err != nil {
			return nil, err
		}
		if current.HasChangedFrom(previous) {
			return current, nil
		}
	}
}

// Cancel requests cancellation of the user's reservation. It reports whether
// the request took effect; a reservation already past cancellation is left
// untouched. The actual teardown happens asynchronously in the owning worker.
func (s *Service) Cancel(ctx context.Context, userID, reservationID string) (bool, error) {
	if err := s.checkOwnership(ctx, userID, reservationID); err != nil {
		return false, err
	}
	cancelled, err := s.store.CancelReservation(ctx, reservationID)
	if err != nil {
		return false, err
	}
	if cancelled {
		s.logger.Info("reservation cancelled by user",
			zap.String("reservation", reservationID),
			zap.String("user", userID))
	}
	return cancelled, nil
}

// checkOwnership hides other users' reservations behind ErrNotFound.
func (s *Service) checkOwnership(ctx context.Context, userID, reservationID string) error {
	owns, err := s.store.UserOwnsReservation(ctx, userID, reservationID)
	if err != nil {
		return err
	}
	if !owns {
		return store.ErrNotFound
	}
	return nil
}

// Store exposes the underlying atomic store.
func (s *Service) Store() store.Store { return s.store }

// Catalog exposes the inventory service.
func (s *Service) Catalog() *catalog.Service { return s.catalog }

// Close releases the components the service created itself.
func (s *Service) Close() error {
	var err error
	if closeErr := s.recorder.Close(); closeErr != nil {
		err = closeErr
	}
	if s.ownsStore {
		if closeErr := s.store.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
