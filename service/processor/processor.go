// Package processor drives a single assigned reservation through its life
// cycle: initializing the remote session, keeping it alive while the user
// works, and tearing it down. One Processor instance handles exactly one
// assignment; the owning resource worker creates a fresh one per claim.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/viant/labq/model"
	"github.com/viant/labq/service/client"
	"github.com/viant/labq/service/store"
	"github.com/viant/labq/service/usage"
	"github.com/viant/labq/tracing"
)

// Config represents processor configuration
type Config struct {
	// StatusPollCeiling caps the wait between session keep-alive polls even
	// when the remote server asks for a longer interval
	StatusPollCeiling time.Duration `yaml:"statusPollCeiling" json:"statusPollCeiling"`

	// DisposeMaxAttempts is the maximum number of dispose round-trips before
	// the resource is declared broken
	DisposeMaxAttempts int `yaml:"disposeMaxAttempts" json:"disposeMaxAttempts"`

	// DisposeDelayCeiling caps the retry delay requested by the remote server
	// between dispose attempts
	DisposeDelayCeiling time.Duration `yaml:"disposeDelayCeiling" json:"disposeDelayCeiling"`

	// PollMaxFailures is the number of consecutive failed session polls
	// tolerated before the remote laboratory is declared unreachable
	PollMaxFailures int `yaml:"pollMaxFailures" json:"pollMaxFailures"`
}

// DefaultConfig returns the default processor configuration
func DefaultConfig() Config {
	return Config{
		StatusPollCeiling:   10 * time.Second,
		DisposeMaxAttempts:  10,
		DisposeDelayCeiling: 30 * time.Second,
		PollMaxFailures:     10,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.StatusPollCeiling <= 0 {
		return fmt.Errorf("statusPollCeiling must be positive")
	}
	if c.DisposeMaxAttempts <= 0 {
		return fmt.Errorf("disposeMaxAttempts must be positive")
	}
	if c.DisposeDelayCeiling <= 0 {
		return fmt.Errorf("disposeDelayCeiling must be positive")
	}
	if c.PollMaxFailures <= 0 {
		return fmt.Errorf("pollMaxFailures must be positive")
	}
	return nil
}

// errSessionUnreachable marks a session whose remote laboratory stopped
// answering status polls.
var errSessionUnreachable = errors.New("remote session unreachable")

// Processor owns one reservation from assignment to terminal state.
type Processor struct {
	config        Config
	resource      *model.Resource
	reservationID string
	store         store.Store
	client        client.Client
	recorder      usage.Recorder
	logger        *zap.Logger
}

// New creates a processor for one assigned reservation.
func New(config Config, resource *model.Resource, reservationID string, aStore store.Store, aClient client.Client, recorder usage.Recorder, logger *zap.Logger) (*Processor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if resource == nil {
		return nil, fmt.Errorf("resource was nil")
	}
	if reservationID == "" {
		return nil, fmt.Errorf("reservationID was empty")
	}
	if aStore == nil {
		return nil, fmt.Errorf("store was nil")
	}
	if aClient == nil {
		return nil, fmt.Errorf("client was nil")
	}
	if recorder == nil {
		recorder = usage.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		config:        config,
		resource:      resource,
		reservationID: reservationID,
		store:         aStore,
		client:        aClient,
		recorder:      recorder,
		logger: logger.With(
			zap.String("resource", resource.Identifier),
			zap.String("reservation", reservationID)),
	}, nil
}

// Process runs the reservation to a terminal status. The resource is always
// deassigned before Process returns, whatever path the reservation took.
// Process is safe to call again for the same reservation after a crash: work
// already done is detected from the stored state and not repeated.
func (p *Processor) Process(ctx context.Context) (err error) {
	ctx, span := tracing.StartSpan(ctx, "processor.Process", "internal")
	span.WithAttributes(map[string]string{
		"resource":    p.resource.Identifier,
		"reservation": p.reservationID,
	})
	defer func() { tracing.EndSpan(span, err) }()

	status, err := p.store.CurrentStatus(ctx, p.reservationID)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Warn("assigned reservation no longer in store, releasing resource")
		return p.store.DeassignResource(ctx, p.resource.Identifier)
	}
	if err != nil {
		return err
	}
	if status.IsTerminal() {
		return p.store.DeassignResource(ctx, p.resource.Identifier)
	}
	if err := p.recorder.RecordAssignment(ctx, p.reservationID, p.resource.Identifier); err != nil {
		p.logger.Warn("failed to record assignment", zap.Error(err))
	}
	if status == model.StatusCancelling {
		return p.finish(ctx)
	}

	if status.IsClaimable() || status == model.StatusInitializing {
		status, err = p.initialize(ctx)
		if err != nil {
			return err
		}
		if status.IsTerminal() {
			return nil
		}
		// Re-read: a cancel may have landed while the session was starting.
		if status, err = p.store.CurrentStatus(ctx, p.reservationID); err != nil {
			return err
		}
	}
	if status == model.StatusCancelling {
		return p.finish(ctx)
	}

	if status == model.StatusReady {
		if waitErr := p.waitForSessionOver(ctx); waitErr != nil {
			// A lab that stopped answering cannot be disposed either; break
			// the reservation and free the resource.
			if errors.Is(waitErr, errSessionUnreachable) {
				p.logger.Error("lost contact with remote session", zap.Error(waitErr))
				return p.fail(ctx)
			}
			return waitErr
		}
	}
	return p.finish(ctx)
}

// initialize starts the remote session and moves the reservation to ready.
// A start failure breaks the reservation: the remote server is presumed
// unhealthy and retrying on the same resource would only burn queue time.
func (p *Processor) initialize(ctx context.Context) (model.Status, error) {
	request, err := p.store.ReservationMetadata(ctx, p.reservationID)
	if err != nil {
		p.logger.Error("reservation metadata unavailable", zap.Error(err))
		return model.StatusBroken, p.fail(ctx)
	}
	if err := p.store.SetReservationStatus(ctx, p.reservationID, model.StatusInitializing); err != nil {
		return "", err
	}
	url, sessionID, err := p.client.Start(ctx, request)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		p.logger.Error("failed to start remote session", zap.Error(err))
		return model.StatusBroken, p.fail(ctx)
	}
	if err := p.store.MarkReservationReady(ctx, p.reservationID, p.resource.Identifier, url, sessionID); err != nil {
		return "", err
	}
	if err := p.recorder.RecordSessionStart(ctx, p.reservationID, url); err != nil {
		p.logger.Warn("failed to record session start", zap.Error(err))
	}
	p.logger.Info("session ready", zap.String("url", url))
	return model.StatusReady, nil
}

// waitForSessionOver keeps the session alive until the remote server reports
// it over or the reservation gets cancelled. Between polls it blocks on the
// reservation channel so a cancel wakes it immediately.
func (p *Processor) waitForSessionOver(ctx context.Context) error {
	sessionID, err := p.store.ReservationSession(ctx, p.reservationID)
	if err != nil {
		return err
	}
	subscription, err := p.store.SubscribeReservation(ctx, p.reservationID)
	if err != nil {
		return err
	}
	defer subscription.Close()

	failures := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		secondsLeft, err := p.client.ShouldFinish(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if failures >= p.config.PollMaxFailures {
				return fmt.Errorf("%w after %d failed polls: %v", errSessionUnreachable, failures, err)
			}
			p.logger.Warn("session poll failed", zap.Error(err))
			secondsLeft = p.config.StatusPollCeiling.Seconds()
		} else {
			failures = 0
		}
		if secondsLeft <= 0 {
			return nil
		}
		delay := time.Duration(secondsLeft * float64(time.Second))
		if delay > p.config.StatusPollCeiling {
			delay = p.config.StatusPollCeiling
		}
		if _, err := subscription.Wait(ctx, delay); err != nil {
			return err
		}
		status, err := p.store.CurrentStatus(ctx, p.reservationID)
		if err != nil {
			return err
		}
		if status != model.StatusReady {
			return nil
		}
	}
}

// finish tears the session down and settles the reservation on a terminal
// status. It is idempotent: a reservation already terminal only gets its
// resource released, with no further remote calls.
func (p *Processor) finish(ctx context.Context) error {
	status, err := p.store.CurrentStatus(ctx, p.reservationID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err == nil && status.IsTerminal() {
		return p.store.DeassignResource(ctx, p.resource.Identifier)
	}
	if setErr := p.store.SetReservationStatus(ctx, p.reservationID, model.StatusFinishing); setErr != nil {
		return setErr
	}

	final := model.StatusFinished
	sessionID, err := p.store.ReservationSession(ctx, p.reservationID)
	if err != nil {
		return err
	}
	if sessionID != "" {
		if err := p.dispose(ctx, sessionID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("failed to dispose remote session", zap.Error(err))
			final = model.StatusBroken
		}
	}

	if err := p.store.SetReservationStatus(ctx, p.reservationID, final); err != nil {
		return err
	}
	if err := p.recorder.RecordFinish(ctx, p.reservationID, final); err != nil {
		p.logger.Warn("failed to record finish", zap.Error(err))
	}
	p.logger.Info("reservation settled", zap.String("status", string(final)))
	return p.store.DeassignResource(ctx, p.resource.Identifier)
}

// fail settles the reservation as broken without touching the remote server.
func (p *Processor) fail(ctx context.Context) error {
	if err := p.store.SetReservationStatus(ctx, p.reservationID, model.StatusBroken); err != nil {
		return err
	}
	if err := p.recorder.RecordFinish(ctx, p.reservationID, model.StatusBroken); err != nil {
		p.logger.Warn("failed to record finish", zap.Error(err))
	}
	return p.store.DeassignResource(ctx, p.resource.Identifier)
}

// dispose retries teardown while the remote server asks for more time, up to
// the configured attempt budget.
func (p *Processor) dispose(ctx context.Context, sessionID string) error {
	var lastErr error
	for attempt := 1; attempt <= p.config.DisposeMaxAttempts; attempt++ {
		retryIn, err := p.client.Dispose(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			retryIn = p.config.DisposeDelayCeiling.Seconds()
		} else if retryIn <= 0 {
			return nil
		} else {
			lastErr = fmt.Errorf("remote session still disposing")
		}
		if attempt == p.config.DisposeMaxAttempts {
			break
		}
		delay := time.Duration(retryIn * float64(time.Second))
		if delay > p.config.DisposeDelayCeiling {
			delay = p.config.DisposeDelayCeiling
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("gave up disposing session %v after %d attempts: %w", sessionID, p.config.DisposeMaxAttempts, lastErr)
}
