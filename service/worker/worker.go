// Package worker runs the per-resource scheduling loop. Each Worker owns one
// physical resource: it claims reservations from the resource queue one at a
// time and hands each claim to a processor. Only one worker per resource may
// run inside a deployment; cross-process exclusivity is still guaranteed by
// the store's atomic assignment.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/viant/labq/model"
	"github.com/viant/labq/service/client"
	"github.com/viant/labq/service/processor"
	"github.com/viant/labq/service/store"
	"github.com/viant/labq/service/usage"
)

// Config represents worker configuration
type Config struct {
	// WaitTimeout bounds how long the worker blocks on the resource wake
	// channel before re-checking the queue anyway
	WaitTimeout time.Duration `yaml:"waitTimeout" json:"waitTimeout"`

	// Processor configures the per-claim session driver
	Processor processor.Config `yaml:"processor" json:"processor"`
}

// DefaultConfig returns the default worker configuration
func DefaultConfig() Config {
	return Config{
		WaitTimeout: 10 * time.Second,
		Processor:   processor.DefaultConfig(),
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.WaitTimeout <= 0 {
		return fmt.Errorf("waitTimeout must be positive")
	}
	return c.Processor.Validate()
}

// Worker drives one resource.
type Worker struct {
	config   Config
	resource *model.Resource
	store    store.Store
	client   client.Client
	recorder usage.Recorder
	logger   *zap.Logger
	done     chan struct{}
}

// New creates a worker for the resource. The protocol client is built once
// from the resource's API variant.
func New(config Config, resource *model.Resource, aStore store.Store, recorder usage.Recorder, httpClient *http.Client, logger *zap.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if resource == nil {
		return nil, fmt.Errorf("resource was nil")
	}
	if aStore == nil {
		return nil, fmt.Errorf("store was nil")
	}
	if recorder == nil {
		recorder = usage.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	aClient, err := client.New(resource, httpClient)
	if err != nil {
		return nil, err
	}
	return &Worker{
		config:   config,
		resource: resource,
		store:    aStore,
		client:   aClient,
		recorder: recorder,
		logger:   logger.With(zap.String("resource", resource.Identifier)),
		done:     make(chan struct{}),
	}, nil
}

// Resource returns the resource this worker drives.
func (w *Worker) Resource() *model.Resource { return w.resource }

// Done is closed when Run has returned.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Run loops until the context is cancelled. Errors in a scheduling pass are
// logged, never fatal; the next pass resumes whatever the failed one left
// behind.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	w.logger.Info("worker started")
	defer w.logger.Info("worker stopped")

	subscription, err := w.store.SubscribeResource(ctx, w.resource.Identifier)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("failed to subscribe to resource channel", zap.Error(err))
		}
		return
	}
	defer subscription.Close()

	for ctx.Err() == nil {
		claimed, err := w.drain(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Fall through to the bounded wait so a persistent failure does
			// not spin; the next pass resumes whatever this one left behind.
			w.logger.Error("scheduling pass failed", zap.Error(err))
		} else if claimed {
			continue
		}
		if _, err := subscription.Wait(ctx, w.config.WaitTimeout); err != nil && ctx.Err() == nil {
			w.logger.Error("wait on resource channel failed", zap.Error(err))
		}
	}
}

// drain resumes any reservation already assigned to the resource, then
// claims and processes reservations until the queue has no eligible entry.
// It reports whether at least one reservation was handled. A reservation may
// be left assigned by a crashed predecessor or by an earlier pass that
// failed mid-processing; resuming it first keeps the resource serviceable.
func (w *Worker) drain(ctx context.Context) (bool, error) {
	claimed := false
	reservationID, err := w.store.AssignedReservation(ctx, w.resource.Identifier)
	if err != nil {
		return false, err
	}
	if reservationID != "" {
		claimed = true
		w.logger.Info("resuming assigned reservation",
			zap.String("reservation", reservationID))
		if err := w.process(ctx, reservationID); err != nil {
			return claimed, err
		}
	}
	for ctx.Err() == nil {
		reservationID, err := w.store.AssignReservation(ctx, w.resource.Identifier)
		if err != nil {
			return claimed, err
		}
		if reservationID == "" {
			return claimed, nil
		}
		claimed = true
		if err := w.process(ctx, reservationID); err != nil {
			return claimed, err
		}
	}
	return claimed, ctx.Err()
}

func (w *Worker) process(ctx context.Context, reservationID string) error {
	aProcessor, err := processor.New(w.config.Processor, w.resource, reservationID, w.store, w.client, w.recorder, w.logger)
	if err != nil {
		return err
	}
	return aProcessor.Process(ctx)
}
